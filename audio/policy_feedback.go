// USB Audio Class 2.0 staging buffer
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package audio

// feedbackPolicy implements PolicyFeedback: offset counts bytes, not
// frames, and pkt_size is whatever the host's feedback-adjusted packet
// happened to carry. Overflow rolls back the just-applied offsets and
// returns ErrOverflow so the caller drops the packet rather than treating
// it as fatal; a congestion-window toggle is still tracked here for
// parity with the reference firmware, but it is a debug witness only (see
// the Open Question decision in DESIGN.md) — it never changes what this
// function returns.
type feedbackPolicy struct{}

func (feedbackPolicy) enqueue(b *UMBuffer, pktSize int) ([]byte, error) {
	cur := b.ring.at(b.cursorUSB)

	cur.offset += uint32(pktSize)
	b.absOffset += uint32(pktSize)

	if cur.offset >= b.bufferSizeInOneNode {
		nextIdx := b.ring.next(b.cursorUSB)
		next := b.ring.at(nextIdx)

		if next.State() != NodeHWFinished && next.State() != NodeInitial {
			cur.offset -= uint32(pktSize)
			b.absOffset -= uint32(pktSize)
			return nil, ErrOverflow
		}

		next.offset = cur.offset % b.bufferSizeInOneNode
		cur.offset = 0
		cur.setState(NodeUSBFinished)
		b.cursorUSB = nextIdx
		next.setState(NodeUnderUSB)
		cur = next
	}

	if b.absOffset > b.totalBufferSize {
		overshoot := int(b.absOffset - b.totalBufferSize)
		copy(cur.buf[:overshoot], b.caBucket[:overshoot])
	}

	b.absOffset %= b.totalBufferSize

	result := cur.buf[cur.offset:]

	if b.state != StatePlay {
		b.caActive = false
		return result, nil
	}

	cw := b.ring.congestionWindow(b.ring.next(b.cursorUSB))

	if b.caActive {
		if cw == cwLowerBound {
			b.caActive = false
		}
	} else {
		if cw == cwUpperBound {
			b.caActive = true
		}
	}

	return result, nil
}
