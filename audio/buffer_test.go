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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 1 (spec.md §8, Startup): eight 192-byte enqueues into a
// 4-frame/4-node FEEDBACK buffer cross abs_offset==total/2 exactly on the
// eighth, triggering the one-time INIT->PLAY transition and a single
// play_cb call over half the node region.
func TestStartupScenario(t *testing.T) {
	region, _ := newTestRegion(1 << 20)

	var playCount int
	var playedLen int

	b, err := NewUMBuffer(Config{
		Region:        region,
		PacketSize:    192,
		MaxPacketSize: 192,
		FramesPerNode: 4,
		NodeCount:     4,
		Policy:        PolicyFeedback,
		Play: func(buf []byte) {
			playCount++
			playedLen = len(buf)
		},
		PauseResume: noopPauseResume,
	})
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		_, err := b.Enqueue(192)
		require.NoError(t, err)
	}

	assert.Equal(t, uint32(1536), b.absOffset)
	assert.Equal(t, StatePlay, b.state)
	assert.Equal(t, 1, playCount)
	assert.Equal(t, 1536, playedLen)

	// A ninth enqueue must not re-trigger play_cb.
	_, err = b.Enqueue(192)
	require.NoError(t, err)
	assert.Equal(t, 1, playCount)
}

// Scenario 2 (spec.md §8, Ring wrap, NONE policy): one full lap of the ring
// (node_count*frames_per_node enqueues) must bring cursor_usb back to its
// starting index, and must not panic — the two full laps of producer and
// consumer exercise every node boundary transition at least once.
func TestRingWrapNoPanic(t *testing.T) {
	region, _ := newTestRegion(1 << 20)

	b, err := NewUMBuffer(Config{
		Region:        region,
		PacketSize:    48,
		MaxPacketSize: 48,
		FramesPerNode: 4,
		NodeCount:     4,
		Policy:        PolicyNone,
		Play:          noopPlay,
		PauseResume:   noopPauseResume,
	})
	require.NoError(t, err)

	for i := 0; i < 16; i++ {
		_, err := b.Enqueue(48)
		require.NoError(t, err)
	}

	assert.Equal(t, b.start, b.cursorUSB, "one full lap must return cursor_usb to start")

	for i := 0; i < 4; i++ {
		assert.NotPanics(t, func() { b.AudioDMACompleteCB() })
	}
}

// Scenario 3 (spec.md §8, Overflow, FEEDBACK policy): filling the ring
// without ever calling AudioDMACompleteCB eventually overflows (ErrOverflow,
// not a panic), and a single DMA completion reopens room for at least one
// more enqueue.
func TestOverflowFeedbackRecoversAfterDMAComplete(t *testing.T) {
	region, _ := newTestRegion(1 << 20)

	b, err := NewUMBuffer(Config{
		Region:        region,
		PacketSize:    192,
		MaxPacketSize: 192,
		FramesPerNode: 4,
		NodeCount:     4,
		Policy:        PolicyFeedback,
		Play:          noopPlay,
		PauseResume:   noopPauseResume,
	})
	require.NoError(t, err)

	var overflowAt int
	for i := 1; i <= 32; i++ {
		_, err := b.Enqueue(192)
		if err == ErrOverflow {
			overflowAt = i
			break
		}
		require.NoError(t, err)
	}

	require.NotZero(t, overflowAt, "expected an overflow once the ring filled with no consumer progress")
	assert.LessOrEqual(t, overflowAt, 17, "the ring holds exactly 16 192-byte packets (4 nodes * 768 bytes)")

	b.AudioDMACompleteCB()

	_, err = b.Enqueue(192)
	assert.NoError(t, err, "one DMA completion must free at least one more enqueue slot")
}

// Scenario 4 (spec.md §8, Underflow, IN/capture direction): before the
// producer-side DMA capture has progressed, repeated Dequeue calls must
// keep returning legitimate (zero-filled) node buffers without error or
// state corruption, advancing the threshold dispatch one step at a time.
func TestDequeueWarmupSequence(t *testing.T) {
	region, _ := newTestRegion(1 << 20)

	var playCount int

	b, err := NewUMBuffer(Config{
		Region:        region,
		PacketSize:    48,
		MaxPacketSize: 48,
		FramesPerNode: 4,
		NodeCount:     4,
		Policy:        PolicyNone,
		Play:          func([]byte) { playCount++ },
		PauseResume:   noopPauseResume,
	})
	require.NoError(t, err)

	// First call: threshold node (start+2) is INITIAL -> play_cb fires
	// once and the node right after it (start+3) is handed back.
	buf1, err := b.Dequeue(48)
	require.NoError(t, err)
	assert.Len(t, buf1, 192)
	for _, v := range buf1 {
		assert.Zero(t, v)
	}
	assert.Equal(t, 1, playCount)
	assert.Equal(t, StateInit, b.state, "threshold dispatch alone does not flip state to PLAY")

	// Second call: threshold is now USB_FINISHED -> same buffer handed
	// back again, still silent, still no panic or corrupted state.
	buf2, err := b.Dequeue(48)
	require.NoError(t, err)
	assert.Len(t, buf2, 192)
	assert.Equal(t, 1, playCount, "play_cb must only fire once")
	assert.Equal(t, StateInit, b.state)
}

// Scenario 5 (spec.md §8, Terminal switch): Select rebinds the buffer's
// driver only on success, and the persisted selector value does not
// advance on a rejected SetDriver (the buffer's MaxPacketSize bounds it).
func TestTerminalSwitch(t *testing.T) {
	region, _ := newTestRegion(1 << 20)

	b, err := NewUMBuffer(Config{
		Region:        region,
		PacketSize:    96,
		MaxPacketSize: 96,
		FramesPerNode: 4,
		NodeCount:     4,
		Policy:        PolicyNone,
		Play:          noopPlay,
		PauseResume:   noopPauseResume,
	})
	require.NoError(t, err)

	var secondSelected bool

	ts := NewTerminalSwitch(b, []TerminalEntry{
		{PacketSize: 96, Play: noopPlay, PauseResume: noopPauseResume},
		{PacketSize: 48, Play: func([]byte) { secondSelected = true }, PauseResume: noopPauseResume},
		{PacketSize: 200, Play: noopPlay, PauseResume: noopPauseResume}, // exceeds MaxPacketSize
	})

	assert.Equal(t, 1, ts.Current())

	require.NoError(t, ts.Select(2))
	assert.Equal(t, 2, ts.Current())
	assert.Equal(t, uint32(48), b.packetSize)

	err = ts.Select(3)
	assert.ErrorIs(t, err, ErrArgs)
	assert.Equal(t, 2, ts.Current(), "a rejected SetDriver must not advance the persisted selector")
	assert.Equal(t, uint32(48), b.packetSize, "a rejected SetDriver must not touch the buffer either")
	assert.False(t, secondSelected)

	assert.ErrorIs(t, ts.Select(0), ErrArgs)
	assert.ErrorIs(t, ts.Select(4), ErrArgs)
}

// Scenario 6 (spec.md §8, Feedback hysteresis): AdjustBitrate must hold its
// decision inside the deadband and only flip at the documented bounds.
func TestFeedbackHysteresis(t *testing.T) {
	ctl := NewFeedbackController(1000)
	assert.True(t, ctl.useMeasured())

	ctl.AdjustBitrate(40) // inside the deadband: no change
	assert.True(t, ctl.useMeasured())

	ctl.AdjustBitrate(56) // crosses the upper bound: force ideal
	assert.False(t, ctl.useMeasured())

	ctl.AdjustBitrate(30) // back inside the deadband: holds
	assert.False(t, ctl.useMeasured())

	ctl.AdjustBitrate(25) // crosses the lower bound: revert to measured
	assert.True(t, ctl.useMeasured())

	ctl.AdjustBitrate(-1) // out of range: ignored
	assert.True(t, ctl.useMeasured())
	ctl.AdjustBitrate(101) // out of range: ignored
	assert.True(t, ctl.useMeasured())

	var sunk uint32
	calc := NewFeedbackCalculator(2, func(rate uint32) { sunk = rate }, ctl)
	calc.Capture(0, 7)
	calc.Capture(1, 9)
	calc.HalfComplete()
	assert.Equal(t, uint32(16), sunk, "measured mode sums the window, it does not average it")

	ctl.AdjustBitrate(56)
	calc.HalfComplete()
	assert.Equal(t, uint32(1000), sunk, "forced-ideal mode reports idealBitrate regardless of captures")
}

func TestNewUMBufferValidatesArgs(t *testing.T) {
	region, _ := newTestRegion(1 << 20)

	_, err := NewUMBuffer(Config{})
	assert.ErrorIs(t, err, ErrArgs)

	_, err = NewUMBuffer(Config{
		Region: region, Play: noopPlay, PauseResume: noopPauseResume,
		PacketSize: 48, MaxPacketSize: 48, FramesPerNode: 4, NodeCount: 4,
		Policy: Policy(99),
	})
	assert.ErrorIs(t, err, ErrArgs)

	_, err = NewUMBuffer(Config{
		Region: region, Play: noopPlay, PauseResume: noopPauseResume,
		PacketSize: 100, MaxPacketSize: 48, FramesPerNode: 4, NodeCount: 4,
	})
	assert.ErrorIs(t, err, ErrArgs)
}

func TestReleaseRefusesDuringPlay(t *testing.T) {
	region, _ := newTestRegion(1 << 20)

	b, err := NewUMBuffer(Config{
		Region: region, Play: noopPlay, PauseResume: noopPauseResume,
		PacketSize: 192, MaxPacketSize: 192, FramesPerNode: 4, NodeCount: 4,
		Policy: PolicyFeedback,
	})
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		_, err := b.Enqueue(192)
		require.NoError(t, err)
	}
	require.Equal(t, StatePlay, b.state)

	assert.ErrorIs(t, b.Release(), ErrArgs)

	b.Pause()
	assert.NoError(t, b.Release())
}
