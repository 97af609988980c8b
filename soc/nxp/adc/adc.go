// NXP ADC driver
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package adc implements a driver for the NXP 12-bit SAR ADC, adopting the
// following reference specification:
//   - IMX6ULLRM - i.MX 6ULL Applications Processor Reference Manual - Rev 1 2017/11
//
// The converter supports an analog electret microphone input path: a single
// channel, free-running conversion feeding a sample buffer by timer-gated
// polling rather than DMA, since the ADC has no streaming FIFO of its own
// (p1009, 12.1 Overview, IMX6ULLRM).
//
// This package is only meant to be used with `GOOS=tamago GOARCH=arm` as
// supported by the TamaGo framework for bare metal Go on ARM SoCs, see
// https://github.com/usbarmory/tamago.
package adc

import (
	"errors"
	"sync"
	"time"

	"github.com/usbarmory/tamago-audio/internal/reg"
)

// ADC registers
// (p1023, 12.6 ADC Memory Map/Register Description, IMX6ULLRM)
const (
	ADC_HC0  = 0x0000
	HC_ADCH  = 0
	HC_AIEN  = 7

	ADC_HS     = 0x0008
	HS_COCO0   = 0

	ADC_R0 = 0x000c

	ADC_CFG    = 0x0014
	CFG_ADTRG  = 13
	CFG_REFSEL = 11
	CFG_ADSTS  = 8
	CFG_ADICLK = 0
	CFG_MODE   = 2

	ADC_GC   = 0x0018
	GC_ADCO  = 6
	GC_CAL   = 7

	ADC_GS    = 0x001c
	GS_ADACT  = 0
)

// Configuration constants
const (
	// Timeout is the default timeout for a single conversion.
	Timeout = 10 * time.Millisecond
)

// ADC represents an ADC controller instance.
type ADC struct {
	sync.Mutex

	// Base register
	Base uint32
	// Clock gate register
	CCGR uint32
	// Clock gate
	CG int
	// Channel selects the input channel wired to the microphone's analog
	// output (p1025, HC_ADCH, IMX6ULLRM).
	Channel uint32
	// Timeout for a single conversion.
	Timeout time.Duration

	hc0 uint32
	hs  uint32
	r0  uint32
	cfg uint32
	gc  uint32
}

// Init initializes the ADC controller for single-channel, software-triggered
// 12-bit conversions (p1012, 12.3.2 Conversion Control, IMX6ULLRM).
func (hw *ADC) Init() {
	hw.Lock()
	defer hw.Unlock()

	if hw.Base == 0 || hw.CCGR == 0 {
		panic("invalid ADC controller instance")
	}

	if hw.Timeout == 0 {
		hw.Timeout = Timeout
	}

	hw.hc0 = hw.Base + ADC_HC0
	hw.hs = hw.Base + ADC_HS
	hw.r0 = hw.Base + ADC_R0
	hw.cfg = hw.Base + ADC_CFG
	hw.gc = hw.Base + ADC_GC

	reg.SetN(hw.CCGR, hw.CG, 0b11, 0b11)

	// software (ADTRG=0), 12-bit (MODE=10b), default sample time
	reg.Clear(hw.cfg, CFG_ADTRG)
	reg.SetN(hw.cfg, CFG_MODE, 0b11, 0b10)

	// continuous conversion, so each Sample() reads the latest result
	// without re-triggering
	reg.Set(hw.gc, GC_ADCO)

	hw.trigger()
}

func (hw *ADC) trigger() {
	reg.SetN(hw.hc0, HC_ADCH, 0x1f, hw.Channel)
}

// Sample returns the most recent 12-bit conversion result for the configured
// channel, waiting for completion if one is in flight.
func (hw *ADC) Sample() (v uint16, err error) {
	hw.Lock()
	defer hw.Unlock()

	if !reg.WaitFor(hw.Timeout, hw.hs, HS_COCO0, 1, 1) {
		return 0, errors.New("timeout waiting for conversion")
	}

	v = uint16(reg.Read(hw.r0) & 0xfff)

	return
}

// Stop disables free-running conversion.
func (hw *ADC) Stop() {
	hw.Lock()
	defer hw.Unlock()

	reg.Clear(hw.gc, GC_ADCO)
}
