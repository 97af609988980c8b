// USB Audio Class 2.0 staging buffer
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package audio

// nonePolicy implements PolicyNone: offset counts whole USB microframes
// and any overflow (the producer catching up with a node hardware has not
// reclaimed) is a programmer error, not a recoverable condition.
type nonePolicy struct{}

func (nonePolicy) enqueue(b *UMBuffer, pktSize int) ([]byte, error) {
	cur := b.ring.at(b.cursorUSB)

	if cur.offset == 0 {
		if cur.State() != NodeHWFinished && cur.State() != NodeInitial {
			fatal("producer overflow under NONE policy")
		}
		cur.setState(NodeUnderUSB)
	}

	b.absOffset = (b.absOffset + 1) % b.totalBufferSize

	cur.offset++
	if cur.offset == b.framesPerNode {
		cur.offset = 0
		cur.setState(NodeUSBFinished)
		b.cursorUSB = b.ring.next(b.cursorUSB)
	}

	return b.frameSlot(b.cursorUSB), nil
}
