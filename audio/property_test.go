// USB Audio Class 2.0 staging buffer
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package audio

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Under FEEDBACK policy, overflow is a recoverable ErrOverflow rather than a
// fatal state-machine violation, so an arbitrary interleaving of Enqueue and
// AudioDMACompleteCB calls is always a legal sequence to replay: nothing
// should ever panic, and abs_offset must stay within [0, totalBufferSize)
// after every successful Enqueue.
func TestFeedbackNeverPanicsUnderArbitraryInterleaving(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		region, _ := newTestRegion(1 << 20)

		nodeCount := rapid.IntRange(2, 6).Draw(rt, "nodeCount")
		framesPerNode := rapid.IntRange(1, 8).Draw(rt, "framesPerNode")
		packetSize := rapid.IntRange(4, 64).Draw(rt, "packetSize")

		b, err := NewUMBuffer(Config{
			Region:        region,
			PacketSize:    uint32(packetSize),
			MaxPacketSize: uint32(packetSize),
			FramesPerNode: uint32(framesPerNode),
			NodeCount:     nodeCount,
			Policy:        PolicyFeedback,
			Play:          noopPlay,
			PauseResume:   noopPauseResume,
		})
		require.NoError(rt, err)

		steps := rapid.IntRange(1, 200).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			// AudioDMACompleteCB's precondition (mirrored from the
			// original's own UM_ASSERT) is that hardware only raises this
			// interrupt for a node it actually owns (UNDER_HW) or has
			// never touched (INITIAL); driving it outside that window is
			// a caller contract violation, not a state-machine bug, so
			// the random schedule only fires it when legal.
			st := b.ring.at(b.cursorHW).State()
			if rapid.Bool().Draw(rt, "isDMAComplete") && (st == NodeUnderHW || st == NodeInitial) {
				b.AudioDMACompleteCB()
			} else {
				_, err := b.Enqueue(packetSize)
				if err != nil && err != ErrOverflow {
					rt.Fatalf("unexpected Enqueue error: %v", err)
				}
			}

			if b.absOffset >= b.totalBufferSize {
				rt.Fatalf("abs_offset %d escaped [0, %d)", b.absOffset, b.totalBufferSize)
			}
		}
	})
}

// congestionWindow must always return a value in [1, len(nodes)+1] no
// matter the node states thrown at it, and a ring where every node is
// HW_FINISHED must report the maximal window.
func TestCongestionWindowBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "n")
		slabs := make([][]byte, n)
		for i := range slabs {
			slabs[i] = make([]byte, 4)
		}
		r := newRing(slabs)

		states := []NodeState{NodeHWFinished, NodeUnderUSB, NodeUSBFinished, NodeUnderHW, NodeInitial}
		for i := range r.nodes {
			s := states[rapid.IntRange(0, len(states)-1).Draw(rt, "state")]
			r.at(i).setState(s)
		}

		start := rapid.IntRange(0, n-1).Draw(rt, "start")
		cw := r.congestionWindow(start)

		if cw < 1 || cw > n+1 {
			rt.Fatalf("congestionWindow(%d) = %d out of bounds for n=%d", start, cw, n)
		}

		for i := range r.nodes {
			r.at(i).setState(NodeHWFinished)
		}

		if full := r.congestionWindow(start); full != n+1 {
			rt.Fatalf("congestionWindow(%d) = %d on an all-HW_FINISHED ring, want %d", start, full, n+1)
		}
	})
}

// DROP-HALF must always hand back a packet-sized result, and never panic,
// as long as traffic stays inside the first node's capacity — like NONE,
// DROP-HALF's own overflow check is fatal (spec.md §4.2: the CA interleave
// relieves downstream bandwidth, it does not widen the ring), so this
// property intentionally stays within one node's frame budget rather than
// exercising the overflow boundary (covered deterministically elsewhere).
func TestDropHalfResultAlwaysPacketSized(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		region, _ := newTestRegion(1 << 20)

		framesPerNode := rapid.IntRange(2, 16).Draw(rt, "framesPerNode")
		packetSize := rapid.IntRange(1, 8).Draw(rt, "halfPacketUnits") * 8 // keep the 8-byte stride exact

		b, err := NewUMBuffer(Config{
			Region:        region,
			PacketSize:    uint32(packetSize),
			MaxPacketSize: uint32(packetSize),
			FramesPerNode: uint32(framesPerNode),
			NodeCount:     4,
			Policy:        PolicyDropHalf,
			Play:          noopPlay,
			PauseResume:   noopPauseResume,
		})
		require.NoError(rt, err)

		steps := rapid.IntRange(1, framesPerNode).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			result, err := b.Enqueue(packetSize)
			require.NoError(rt, err)
			if len(result) != packetSize {
				rt.Fatalf("enqueue result length %d != packet size %d", len(result), packetSize)
			}
		}
	})
}
