// USB Audio Class 2.0 staging buffer
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package audio

// Policy selects the congestion-avoidance strategy a UMBuffer's producer
// side falls back to when the consumer side falls behind. The three
// variants differ enough in their offset semantics (frame-wise for NONE
// and DROP-HALF, byte-wise for FEEDBACK) that they are modeled as separate
// implementations of a common producer trait rather than a tag switched on
// inside one enqueue body.
type Policy int

const (
	// PolicyNone treats overflow as fatal: the producer never yields to
	// a slow consumer.
	PolicyNone Policy = iota
	// PolicyDropHalf absorbs overflow by interleaving half-packets
	// through a scratch bucket, discarding every other stereo frame
	// while the congestion window is narrow.
	PolicyDropHalf
	// PolicyFeedback absorbs overflow by reporting a rate back to the
	// host so it slows its packet rate; enqueue itself refuses
	// (ErrOverflow) and rolls back when the ring has no room.
	PolicyFeedback
)

func (p Policy) String() string {
	switch p {
	case PolicyNone:
		return "none"
	case PolicyDropHalf:
		return "drop-half"
	case PolicyFeedback:
		return "feedback"
	default:
		return "invalid"
	}
}

func (p Policy) valid() bool {
	return p == PolicyNone || p == PolicyDropHalf || p == PolicyFeedback
}

// producer is the per-policy enqueue strategy.
type producer interface {
	enqueue(b *UMBuffer, pktSize int) ([]byte, error)
}

func newProducer(p Policy) producer {
	switch p {
	case PolicyDropHalf:
		return dropHalfPolicy{}
	case PolicyFeedback:
		return feedbackPolicy{}
	default:
		return nonePolicy{}
	}
}
