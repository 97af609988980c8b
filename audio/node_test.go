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
)

func TestRingNextWraps(t *testing.T) {
	r := newRing([][]byte{make([]byte, 4), make([]byte, 4), make([]byte, 4)})
	assert.Equal(t, 1, r.next(0))
	assert.Equal(t, 2, r.next(1))
	assert.Equal(t, 0, r.next(2))
}

func TestCongestionWindowCountsConsecutiveHWFinished(t *testing.T) {
	r := newRing([][]byte{make([]byte, 4), make([]byte, 4), make([]byte, 4), make([]byte, 4)})

	// All nodes start INITIAL: the window at any start immediately
	// terminates (cw=1), since INITIAL != HW_FINISHED.
	assert.Equal(t, 1, r.congestionWindow(0))

	r.at(0).setState(NodeHWFinished)
	r.at(1).setState(NodeHWFinished)
	r.at(2).setState(NodeUnderUSB)

	// Two consecutive HW_FINISHED nodes starting at 0, terminated by the
	// third (non-HW_FINISHED) node: cw == 3.
	assert.Equal(t, 3, r.congestionWindow(0))

	// Starting at the non-finished node itself: cw == 1 immediately.
	assert.Equal(t, 1, r.congestionWindow(2))
}

func TestResetAllClearsEveryNode(t *testing.T) {
	r := newRing([][]byte{make([]byte, 4), make([]byte, 4)})
	r.at(0).setState(NodeUnderHW)
	r.at(0).offset = 3
	r.at(1).setState(NodeUSBFinished)

	r.resetAll()

	for i := range r.nodes {
		assert.Equal(t, NodeInitial, r.at(i).State())
		assert.Zero(t, r.at(i).offset)
	}
}

func TestCountNot(t *testing.T) {
	r := newRing([][]byte{make([]byte, 4), make([]byte, 4), make([]byte, 4)})
	r.at(0).setState(NodeUnderHW)
	r.at(1).setState(NodeUnderHW)
	r.at(2).setState(NodeHWFinished)

	assert.Equal(t, 1, r.countNot(NodeUnderHW))
	assert.Equal(t, 3, r.countNot(NodeInitial))
}
