// USB Audio Class 2.0 staging buffer
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package audio

import "github.com/usbarmory/tamago-audio/dma"

// BufferState is the lifecycle state of a UMBuffer.
type BufferState int

const (
	// StateInit is the state immediately after construction: no node
	// has ever been claimed by hardware.
	StateInit BufferState = iota
	// StateReady follows a pause(): nodes are all INITIAL again but the
	// buffer has previously played at least once.
	StateReady
	// StatePlay is the steady streaming state: the DMA engine is
	// actively consuming from, or producing into, the hardware cursor.
	StatePlay
)

func (s BufferState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReady:
		return "ready"
	case StatePlay:
		return "play"
	default:
		return "invalid"
	}
}

// PlayFunc arms the underlying DMA engine to begin transferring buf in a
// loop; it is invoked exactly once, on the INIT->PLAY transition.
type PlayFunc func(buf []byte)

// PauseResumeFunc pauses (resume=false) or resumes (resume=true) the
// underlying DMA engine on buf; invoked on PLAY->READY (pause) and
// READY->PLAY (resume).
type PauseResumeFunc func(resume bool, buf []byte)

// Config carries the construction-time parameters for a UMBuffer,
// grounded on um_handle_init's parameter list.
type Config struct {
	// Region is the DMA-capable allocator the node pool and CA bucket
	// are reserved from.
	Region *dma.Region
	// PacketSize is the initial bytes-per-microframe packet size.
	PacketSize uint32
	// MaxPacketSize bounds PacketSize for the lifetime of the buffer,
	// including later SetDriver calls.
	MaxPacketSize uint32
	// FramesPerNode is the number of USB microframes aggregated into
	// one ring node.
	FramesPerNode uint32
	// NodeCount is the number of nodes in the ring.
	NodeCount int
	// Policy selects the congestion-avoidance strategy.
	Policy Policy
	// Play and PauseResume are the initial hardware driver callbacks;
	// SetDriver rebinds them later (terminal switch, §4.4).
	Play        PlayFunc
	PauseResume PauseResumeFunc
}

// UMBuffer is the audio staging buffer bridging a host-clocked USB
// isochronous stream to a hardware MCLK-clocked DMA engine. See package
// doc for the full contract.
type UMBuffer struct {
	region     *dma.Region
	regionAddr uint
	backing    []byte
	caBucket   []byte

	ring *ring

	start     int
	cursorUSB int
	cursorHW  int

	packetSize          uint32
	maxPacketSize       uint32
	framesPerNode       uint32
	nodeCount           int
	bufferSizeInOneNode uint32
	totalBufferSize     uint32
	halfRegionBytes     uint32

	absOffset uint32

	state            BufferState
	caActive         bool
	halfFramePending bool

	policy   Policy
	producer producer

	play        PlayFunc
	pauseResume PauseResumeFunc

	listeners listenerTable
}

// NewUMBuffer constructs a UMBuffer per spec.md §4.1: one contiguous region
// is reserved from cfg.Region sized to hold every node's slab plus, for
// DROP-HALF and FEEDBACK only, one packet-sized CA bucket. The ring is built
// with a loop, not the original's recursive allocator (spec.md Design Note
// §9).
func NewUMBuffer(cfg Config) (*UMBuffer, error) {
	if cfg.Region == nil || cfg.Play == nil || cfg.PauseResume == nil {
		return nil, ErrArgs
	}

	if !cfg.Policy.valid() {
		return nil, ErrArgs
	}

	if cfg.PacketSize == 0 || cfg.PacketSize > cfg.MaxPacketSize {
		return nil, ErrArgs
	}

	if cfg.FramesPerNode == 0 || cfg.NodeCount == 0 {
		return nil, ErrArgs
	}

	b := &UMBuffer{
		region:        cfg.Region,
		packetSize:    cfg.PacketSize,
		maxPacketSize: cfg.MaxPacketSize,
		framesPerNode: cfg.FramesPerNode,
		nodeCount:     cfg.NodeCount,
		policy:        cfg.Policy,
		producer:      newProducer(cfg.Policy),
		play:          cfg.Play,
		pauseResume:   cfg.PauseResume,
		state:         StateInit,
	}

	nodeByteSize := cfg.FramesPerNode * cfg.PacketSize
	nodeRegionBytes := nodeByteSize * uint32(cfg.NodeCount)

	if cfg.Policy == PolicyFeedback {
		b.bufferSizeInOneNode = nodeByteSize
	} else {
		b.bufferSizeInOneNode = cfg.FramesPerNode
	}
	b.totalBufferSize = b.bufferSizeInOneNode * uint32(cfg.NodeCount)
	b.halfRegionBytes = nodeRegionBytes / 2

	// um_handle_init only grows the allocation by one packet, for the CA
	// bucket, when the policy needs one; NONE gets exactly the node slabs.
	totalReserve := int(nodeRegionBytes)
	if cfg.Policy != PolicyNone {
		totalReserve += int(cfg.PacketSize)
	}

	addr, buf := cfg.Region.Reserve(totalReserve, 0)
	if buf == nil {
		return nil, ErrNoMem
	}
	b.regionAddr = addr

	b.backing = buf[:nodeRegionBytes]
	for i := range b.backing {
		b.backing[i] = 0
	}

	if cfg.Policy != PolicyNone {
		b.caBucket = buf[nodeRegionBytes : nodeRegionBytes+cfg.PacketSize]
		for i := range b.caBucket {
			b.caBucket[i] = 0
		}
	}

	slabs := make([][]byte, cfg.NodeCount)
	for i := 0; i < cfg.NodeCount; i++ {
		slabs[i] = b.backing[uint32(i)*nodeByteSize : uint32(i+1)*nodeByteSize]
	}
	b.ring = newRing(slabs)

	return b, nil
}

// region is exposed as a byte slice via frameSlot for NONE/DROP-HALF's
// frame-wise addressing and directly via node.buf for FEEDBACK's
// byte-wise addressing.
func (b *UMBuffer) frameSlot(idx int) []byte {
	n := b.ring.at(idx)
	off := int(n.offset) * int(b.packetSize)
	return n.buf[off : off+int(b.packetSize)]
}

// Enqueue is the producer-side operation (spec.md §4.2), called from the
// USB packet RX-done context for OUT (playback) streams.
func (b *UMBuffer) Enqueue(pktSize int) ([]byte, error) {
	result, err := b.producer.enqueue(b, pktSize)
	if err != nil {
		return nil, err
	}

	if b.state != StatePlay && b.absOffset >= b.totalBufferSize/2 {
		start := b.ring.at(b.start)
		start.setState(NodeUnderHW)

		if b.state == StateInit {
			b.play(b.backing[:b.halfRegionBytes])
		} else {
			b.pauseResume(true, b.backing[:b.halfRegionBytes])
		}

		b.state = StatePlay
	}

	if b.state == StatePlay {
		b.dispatchCA()
	}

	return result, nil
}

// Dequeue is the consumer-side operation (spec.md §4.2), called from the
// USB TX pre-load context for IN (capture) streams. Before PLAY it dispatches
// on the state of the node two slots past start ("threshold"): this is the
// node the DMA-capture side (AudioDMACompleteCB) will have reached by the
// time a full node of real capture data is ready to hand to the host, so its
// state tracks capture warm-up without any separate fill-level counter.
// Until capture catches up, the buffers handed back are whatever the ring's
// backing memory holds — zeroed at construction, so effectively silence.
func (b *UMBuffer) Dequeue(pktSize int) ([]byte, error) {
	if b.state != StatePlay {
		thresholdIdx := b.ring.next(b.ring.next(b.start))
		threshold := b.ring.at(thresholdIdx)

		switch threshold.State() {
		case NodeInitial:
			threshold.setState(NodeUSBFinished)
			if b.state == StateInit {
				b.play(b.backing[:b.halfRegionBytes])
			} else {
				b.pauseResume(true, b.backing[:b.halfRegionBytes])
			}
			return b.ring.at(b.ring.next(thresholdIdx)).buf, nil

		case NodeUnderHW:
			b.state = StatePlay

			cur := b.ring.at(b.cursorUSB)
			cur.setState(NodeUnderUSB)
			cur.offset += uint32(pktSize)

			return cur.buf, nil

		case NodeUSBFinished:
			return b.ring.at(b.ring.next(thresholdIdx)).buf, nil

		default: // HW_FINISHED, UNDER_USB: not yet reachable from here
			return nil, ErrUnderflow
		}
	}

	cur := b.ring.at(b.cursorUSB)

	if cur.State() != NodeUnderUSB {
		return nil, ErrUnderflow
	}

	nodeBytes := b.framesPerNode * b.packetSize

	if cur.offset >= nodeBytes {
		nextIdx := b.ring.next(b.cursorUSB)
		next := b.ring.at(nextIdx)

		if next.State() != NodeHWFinished {
			return nil, ErrUnderflow
		}

		next.offset = cur.offset % nodeBytes
		cur.offset = 0
		cur.setState(NodeUSBFinished)
		b.cursorUSB = nextIdx
		next.setState(NodeUnderUSB)
		cur = next
	}

	result := cur.buf[cur.offset:]
	cur.offset += uint32(pktSize)

	return result, nil
}

// Pause implements spec.md §4.2's pause(): it invokes the pause-resume
// callback with resume=false, resets every node to INITIAL and rewinds
// both cursors to start, and transitions to READY.
func (b *UMBuffer) Pause() {
	b.pauseResume(false, nil)

	b.ring.resetAll()
	b.cursorHW = b.start
	b.cursorUSB = b.start
	b.absOffset = 0
	b.caActive = false
	b.halfFramePending = false
	b.state = StateReady
}

// AudioDMACompleteCB is the DMA half-complete/complete interrupt handler
// (spec.md §4.2). It must only be called from that ISR context.
func (b *UMBuffer) AudioDMACompleteCB() {
	cur := b.ring.at(b.cursorHW)

	if cur.State() != NodeUnderHW && cur.State() != NodeInitial {
		fatal("DMA completion into a node hardware does not own")
	}

	cur.setState(NodeHWFinished)
	b.cursorHW = b.ring.next(b.cursorHW)

	next := b.ring.at(b.cursorHW)

	switch next.State() {
	case NodeUnderUSB:
		if b.cursorHW != b.cursorUSB {
			fatal("DMA completion caught up mid-node with cursors disagreeing")
		}
		b.Pause()
	case NodeHWFinished:
		b.Pause()
	case NodeInitial, NodeUSBFinished:
		next.setState(NodeUnderHW)
	default:
		fatal("DMA completion found an impossible node state")
	}
}

// SetDriver implements the terminal switch's set_driver (spec.md §4.4): it
// atomically rebinds the buffer's packet size and hardware callbacks,
// pausing first if the buffer is in PLAY. Listener registrations survive.
func (b *UMBuffer) SetDriver(packetSize uint32, play PlayFunc, pauseResume PauseResumeFunc) error {
	if packetSize == 0 || packetSize > b.maxPacketSize || play == nil || pauseResume == nil {
		return ErrArgs
	}

	if b.state == StatePlay {
		b.Pause()
	}

	b.packetSize = packetSize
	b.play = play
	b.pauseResume = pauseResume

	return nil
}

// RegisterListener installs fn as a CA listener; see listenerTable.Register.
// Must be externally serialized with respect to Enqueue/Dequeue (spec.md §5).
func (b *UMBuffer) RegisterListener(typ ListenerType, fn CAListener) (int, error) {
	return b.listeners.Register(typ, fn)
}

// UnregisterListener removes a previously registered listener.
// Must be externally serialized with respect to Enqueue/Dequeue (spec.md §5).
func (b *UMBuffer) UnregisterListener(typ ListenerType, id int) {
	b.listeners.Unregister(typ, id)
}

// State returns the buffer's current lifecycle state.
func (b *UMBuffer) State() BufferState {
	return b.state
}

// Release releases the backing DMA region. It is the UMBuffer-lifetime
// equivalent of the original's free_um_buffer_handle, but it does not wait
// for PLAY to exit: if the buffer is still in PLAY it returns ErrArgs
// immediately and releases nothing.
func (b *UMBuffer) Release() error {
	if b.state == StatePlay {
		return ErrArgs
	}

	b.region.Release(b.regionAddr)
	return nil
}

func (b *UMBuffer) dispatchCA() {
	notUnderHW := b.ring.countNot(NodeUnderHW)
	freePercent := notUnderHW * 100 / b.nodeCount
	b.listeners.dispatch(ListenerCA, freePercent)
}
