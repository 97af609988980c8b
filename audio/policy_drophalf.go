// USB Audio Class 2.0 staging buffer
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package audio

// dropHalfPolicy implements PolicyDropHalf: same frame-wise offset
// bookkeeping as nonePolicy, but when the congestion window (the count of
// consecutive ring nodes hardware has already reclaimed) narrows to
// cwLowerBound, subsequent packets are diverted through the CA bucket and
// interleaved into the target node as alternating 4-byte half-frames —
// coarsely dropping every other stereo frame — until the window widens
// back out to cwUpperBound.
type dropHalfPolicy struct{}

func (dropHalfPolicy) enqueue(b *UMBuffer, pktSize int) ([]byte, error) {
	cur := b.ring.at(b.cursorUSB)

	if cur.offset == 0 && !b.halfFramePending {
		if cur.State() != NodeHWFinished && cur.State() != NodeInitial {
			fatal("producer overflow under DROP-HALF policy")
		}
		cur.setState(NodeUnderUSB)
	}

	var result []byte

	if !b.caActive {
		b.absOffset = (b.absOffset + 1) % b.totalBufferSize

		cur.offset++
		if cur.offset == b.framesPerNode {
			cur.offset = 0
			cur.setState(NodeUSBFinished)
			b.cursorUSB = b.ring.next(b.cursorUSB)
		}

		result = b.frameSlot(b.cursorUSB)
	} else {
		half := int(b.packetSize) / 2
		base := int(b.absOffset)*int(b.packetSize) + halfFrameBias(b.halfFramePending, half)

		for i, j := 0, 0; i < int(b.packetSize); i, j = i+8, j+4 {
			copy(b.backing[base+j:base+j+4], b.caBucket[i:i+4])
		}

		if b.halfFramePending {
			b.absOffset = (b.absOffset + 1) % b.totalBufferSize

			cur.offset++
			if cur.offset == b.framesPerNode {
				cur.offset = 0
				cur.setState(NodeUSBFinished)
				b.cursorUSB = b.ring.next(b.cursorUSB)
			}
		}

		b.halfFramePending = !b.halfFramePending
		result = b.caBucket
	}

	cw := b.ring.congestionWindow(b.ring.next(b.cursorUSB))

	if b.caActive {
		if cw == cwUpperBound && !b.halfFramePending {
			b.caActive = false
			result = b.frameSlot(b.cursorUSB)
		}
	} else {
		if cw == cwLowerBound {
			b.caActive = true
			result = b.caBucket
		}
	}

	return result, nil
}

func halfFrameBias(pending bool, half int) int {
	if pending {
		return half
	}
	return 0
}
