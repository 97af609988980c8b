// USB Audio Class 2.0 staging buffer
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package audio

// Free-space deadband bounds (spec.md §4.3).
const (
	freeSpaceUpperBound = 56
	freeSpaceLowerBound = 25
)

// FeedbackController implements the deadband hysteresis of spec.md §4.3:
// AdjustBitrate(free_pct) sets an internal decision that FeedbackCalculator
// consults on every window. free_pct >= freeSpaceUpperBound forces the
// reported rate to idealBitrate (slow the host down); free_pct <=
// freeSpaceLowerBound reverts to the MCLK-derived measured rate (let the
// host catch up); between the bounds the previous decision is preserved.
// Register AdjustBitrate as a UMBuffer CA listener on the OUT (speaker)
// buffer to drive it.
type FeedbackController struct {
	idealBitrate uint32
	// measured mirrors the reference firmware's g_is_feedback_calculated:
	// true selects the summed/measured rate, false forces idealBitrate.
	// The original's name is inverted from what it sounds like — it is
	// not "is a calculation available" but "should one be used" — so
	// this field is named for the decision it makes instead.
	measured bool
}

// NewFeedbackController builds a controller that reports the measured
// rate until the first AdjustBitrate call crosses a bound.
func NewFeedbackController(idealBitrate uint32) *FeedbackController {
	return &FeedbackController{idealBitrate: idealBitrate, measured: true}
}

// AdjustBitrate is the CAListener callback consuming a free-space
// percentage in [0, 100]. Out-of-range values are ignored.
func (c *FeedbackController) AdjustBitrate(freePercent int) {
	if freePercent < 0 || freePercent > 100 {
		return
	}

	switch {
	case freePercent >= freeSpaceUpperBound:
		c.measured = false
	case freePercent <= freeSpaceLowerBound:
		c.measured = true
	}
}

func (c *FeedbackController) useMeasured() bool {
	return c.measured
}
