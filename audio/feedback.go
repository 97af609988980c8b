// USB Audio Class 2.0 staging buffer
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package audio

// FeedbackSink receives a computed MCLK-per-SOF rate estimate, ready to be
// written into the feedback endpoint's next IN packet.
type FeedbackSink func(rate uint32)

// FeedbackCalculator captures one MCLK-per-SOF tick count per USB
// Start-Of-Frame into a circular window of 2*K samples. The half-complete
// DMA interrupt sums samples [0, K); the complete interrupt sums samples
// [K, 2K); each result is forwarded to a FeedbackSink. Spec.md §8 calls
// this a window average, but per the reference firmware it is a plain sum
// — fed a constant v, a window of K samples produces K·v.
type FeedbackCalculator struct {
	k       int
	samples []uint32
	sink    FeedbackSink
	ctl     *FeedbackController
}

// NewFeedbackCalculator builds a calculator with a 2*k sample window. k is
// the number of consecutive captures summed per half window (8 on the
// reference firmware's configuration; spec.md §6 allows K=2 or other
// values depending on the target MCLK ratio). ctl, if non-nil, is
// consulted for the ideal-vs-measured deadband decision (spec.md §4.3);
// passing nil always reports the measured (summed) value.
func NewFeedbackCalculator(k int, sink FeedbackSink, ctl *FeedbackController) *FeedbackCalculator {
	return &FeedbackCalculator{
		k:       k,
		samples: make([]uint32, 2*k),
		sink:    sink,
		ctl:     ctl,
	}
}

// Capture records one MCLK-per-SOF tick count at window position idx
// (0..2k-1), as written by the input-capture DMA engine on every SOF.
func (f *FeedbackCalculator) Capture(idx int, value uint32) {
	f.samples[idx] = value
}

// HalfComplete is the half-complete DMA interrupt handler.
func (f *FeedbackCalculator) HalfComplete() {
	f.sink(f.window(0))
}

// Complete is the complete DMA interrupt handler.
func (f *FeedbackCalculator) Complete() {
	f.sink(f.window(f.k))
}

func (f *FeedbackCalculator) window(start int) uint32 {
	if f.ctl != nil && !f.ctl.useMeasured() {
		return f.ctl.idealBitrate
	}

	var sum uint32
	for i := 0; i < f.k; i++ {
		sum += f.samples[start+i]
	}
	return sum
}
