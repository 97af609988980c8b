// USB Audio Class 2.0 staging buffer
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package audio implements the staging buffer ("UM buffer") and isochronous
// rate-control subsystem that bridge a USB Audio Class 2.0 isochronous
// stream, clocked by the host's Start-Of-Frame cadence, to an on-chip audio
// peripheral clocked by a hardware MCLK-derived rate.
//
// This package only implements the core: the node ring, the three
// congestion-avoidance producer/consumer policies, the listener dispatch,
// the feedback calculator, and the congestion controller. USB descriptor
// and control-request surfaces, peripheral register programming, and codec
// configuration are external collaborators driven through the narrow
// interfaces this package exposes.
package audio

import "sync/atomic"

// Congestion-window bounds from spec.md §4.2: CW reaching cwLowerBound
// means the producer has almost caught up with hardware (enter CA);
// cwUpperBound means hardware has regained enough of a lead to leave CA.
const (
	cwLowerBound = 1
	cwUpperBound = 3
)

// NodeState is the state of a single ring node. Exactly one context ever
// writes a given transition: the producer (USB endpoint context) drives
// Initial->UnderUSB->USBFinished, the consumer (DMA ISR context) drives
// Initial->UnderHW->HWFinished. A node's state is therefore a plain
// word-atomic uint32, the same discipline the teacher runtime applies to
// every hardware register it touches (internal/reg), applied here to RAM
// shared between a USB context and a DMA interrupt context.
type NodeState uint32

const (
	// NodeHWFinished means the hardware side has drained or filled the
	// node and it is available for the producer to reclaim.
	NodeHWFinished NodeState = iota
	// NodeUnderUSB means the producer (USB context) is actively writing
	// (OUT) or has claimed (IN) this node.
	NodeUnderUSB
	// NodeUSBFinished means the producer has finished with the node and
	// it is available for the hardware side to reclaim.
	NodeUSBFinished
	// NodeUnderHW means the DMA engine is actively consuming from, or
	// producing into, this node.
	NodeUnderHW
	// NodeInitial is the only state outside the steady transition cycle;
	// it means the node has never been claimed by either side since the
	// buffer last entered INIT/READY.
	NodeInitial NodeState = 0xff
)

func (s NodeState) String() string {
	switch s {
	case NodeHWFinished:
		return "hw-finished"
	case NodeUnderUSB:
		return "under-usb"
	case NodeUSBFinished:
		return "usb-finished"
	case NodeUnderHW:
		return "under-hw"
	case NodeInitial:
		return "initial"
	default:
		return "invalid"
	}
}

// Node is a single slab of the ring. Its buf is a slice over the owning
// UMBuffer's single DMA-backed backing region — nodes are never
// individually allocated or freed, they are carved once at Init and live
// for the buffer's entire lifetime.
type Node struct {
	buf   []byte
	state uint32
	// offset is bytes (FEEDBACK policy) or microframes (NONE, DROP-HALF)
	// written since the node last entered UnderUSB.
	offset uint32
}

func (n *Node) State() NodeState {
	return NodeState(atomic.LoadUint32(&n.state))
}

func (n *Node) setState(s NodeState) {
	atomic.StoreUint32(&n.state, uint32(s))
}

// ring is the fixed-length cyclic array of nodes backing a UMBuffer. It
// replaces the original's heap-allocated, pointer-linked list (closed into
// a ring via the last node's next pointer) with a single owning array
// indexed by position, per the size/serialization rationale in the design
// notes: "next" becomes (i+1) % len(nodes), and bounds checking is trivial.
type ring struct {
	nodes []Node
}

func newRing(slabs [][]byte) *ring {
	r := &ring{nodes: make([]Node, len(slabs))}
	for i := range slabs {
		r.nodes[i].buf = slabs[i]
		r.nodes[i].setState(NodeInitial)
	}
	return r
}

func (r *ring) next(i int) int {
	return (i + 1) % len(r.nodes)
}

func (r *ring) at(i int) *Node {
	return &r.nodes[i]
}

func (r *ring) resetAll() {
	for i := range r.nodes {
		r.nodes[i].offset = 0
		r.nodes[i].setState(NodeInitial)
	}
}

// countNot returns the number of nodes whose state is not s, used to
// compute the free-space percentage reported to CA listeners.
func (r *ring) countNot(s NodeState) int {
	n := 0
	for i := range r.nodes {
		if r.nodes[i].State() != s {
			n++
		}
	}
	return n
}

// congestionWindow walks forward from start counting consecutive
// HWFinished nodes (nodes hardware has already reclaimed), plus one for
// the first non-finished node that terminates the run — i.e. how far the
// hardware cursor has advanced ahead of the producer. A low value (the
// first node ahead is still occupied) means little free space; a high
// value means hardware has freed several nodes in a row. The original
// computes this recursively (get_congestion_window); this is the
// iterative equivalent, per the "replace recursion with a loop" design
// note.
func (r *ring) congestionWindow(start int) int {
	n := len(r.nodes)
	i := start

	for cw := 1; ; cw++ {
		if r.nodes[i].State() != NodeHWFinished || cw > n {
			return cw
		}
		i = r.next(i)
	}
}
