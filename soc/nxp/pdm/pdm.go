// NXP PDM microphone interface driver
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pdm implements a driver for the NXP Pulse Density Modulation
// microphone interface, adopting the following reference specification:
//   - IMX6ULLRM - i.MX 6ULL Applications Processor Reference Manual - Rev 1 2017/11
//
// PDM microphones stream a single-bit oversampled bitstream per channel; the
// interface's CIC decimation filter converts this to linear PCM before
// handing samples to DMA, the same double-buffered handoff soc/nxp/sai uses
// for I2S.
//
// This package is only meant to be used with `GOOS=tamago GOARCH=arm` as
// supported by the TamaGo framework for bare metal Go on ARM SoCs, see
// https://github.com/usbarmory/tamago.
package pdm

import (
	"sync"

	"github.com/usbarmory/tamago-audio/bits"
	"github.com/usbarmory/tamago-audio/dma"
	"github.com/usbarmory/tamago-audio/internal/reg"
)

// PDM registers
// (p2040, 44.6 PDM Memory Map/Register Definition, IMX6ULLRM)
const (
	PDM_CTRL_1 = 0x0000
	CTRL1_PDMIEN = 31
	CTRL1_DBG    = 28
	CTRL1_SRES   = 18
	CTRL1_DISEL  = 4

	PDM_CTRL_2 = 0x0004
	CTRL2_CLKDIV = 0
	CTRL2_CICOSR = 16

	PDM_STAT = 0x0008
	STAT_FIR_RDY = 24
	STAT_LOWFREQF = 0

	PDM_OUT_CTRL = 0x000c

	PDM_FIFO_CTRL = 0x0010
	FIFOCTRL_FIFOWMK = 0

	PDM_FIFO_STAT = 0x0014
	FIFOSTAT_FIFOOVR = 16

	// PDM_DATAn (n = channel index) holds the most recent CIC/FIR output
	// sample for that channel; DMA consumes it directly as the per-channel
	// FIFO read port.
	PDM_DATA0 = 0x0024
)

// Channel selects which PDM microphone input (of up to 8 digital mic pairs
// wired to the interface) a Capture session reads.
type Channel int

// CompleteFunc mirrors soc/nxp/sai's half/full buffer-flip callback.
type CompleteFunc func()

// PDM represents a PDM controller instance.
type PDM struct {
	sync.Mutex

	// Base register
	Base uint32
	// Clock gate register
	CCGR uint32
	// Clock gate
	CG int
	// ClockDiv sets the PDM clock divider deriving the bit clock from the
	// audio root clock (p2046, CTRL2_CLKDIV, IMX6ULLRM).
	ClockDiv uint32
	// DecimationRate sets the CIC oversampling ratio (p2046, CTRL2_CICOSR,
	// IMX6ULLRM), trading input bit clock rate for output sample rate.
	DecimationRate uint32
	// Channels lists which of the interface's microphone inputs to
	// enable, in FIFO read order.
	Channels []Channel

	region *dma.Region
	bufA   uint
	bufB   uint
	active uint

	onHalf CompleteFunc
	onFull CompleteFunc
}

// Init initializes the PDM controller and resets its CIC/FIR decimation
// pipeline (p2036, 44.5.1 Reset, IMX6ULLRM).
func (hw *PDM) Init() {
	if hw.Base == 0 || hw.CCGR == 0 {
		panic("invalid PDM controller instance")
	}

	if hw.DecimationRate == 0 {
		hw.DecimationRate = 16
	}

	if len(hw.Channels) == 0 {
		hw.Channels = []Channel{0}
	}

	reg.SetN(hw.CCGR, hw.CG, 0b11, 0b11)

	reg.Set(hw.Base+PDM_CTRL_1, CTRL1_SRES)
	reg.WaitFor(0, hw.Base+PDM_CTRL_1, CTRL1_SRES, 1, 0)

	c := reg.Read(hw.Base + PDM_CTRL_2)
	bits.SetN(&c, CTRL2_CLKDIV, 0xff, hw.ClockDiv)
	bits.SetN(&c, CTRL2_CICOSR, 0xf, hw.DecimationRate)
	reg.Write(hw.Base+PDM_CTRL_2, c)

	var disel uint32
	for _, ch := range hw.Channels {
		disel |= 1 << uint(ch)
	}

	reg.SetN(hw.Base+PDM_CTRL_1, CTRL1_DISEL, 0xff, disel)
}

// StartCapture arms the decimation pipeline and enables the interface,
// double-buffering over a caller-owned buf as soc/nxp/sai.StartCapture
// does (buf[:len(buf)/2] and buf[len(buf)/2:] are the two halves the
// hardware alternately fills), invoking onHalf/onFull as each half fills.
func (hw *PDM) StartCapture(region *dma.Region, buf []byte, onHalf, onFull CompleteFunc) (err error) {
	hw.Lock()
	defer hw.Unlock()

	hw.region = region
	hw.onHalf = onHalf
	hw.onFull = onFull

	addr := region.Alloc(buf, 0)
	hw.bufA = addr
	hw.bufB = addr + uint(len(buf)/2)

	reg.Set(hw.Base+PDM_CTRL_1, CTRL1_PDMIEN)

	return
}

// Stop disables the interface. The double buffer passed to StartCapture is
// owned by the caller (typically an audio.UMBuffer), so Stop only tears
// down the hardware register state.
func (hw *PDM) Stop() {
	hw.Lock()
	defer hw.Unlock()

	if hw.region == nil {
		return
	}

	reg.Clear(hw.Base+PDM_CTRL_1, CTRL1_PDMIEN)
	hw.region = nil
}

// HandleInterrupt services the FIFO watermark interrupt, flipping the active
// half of the double buffer. Board bring-up code registers this as the PDM
// IRQ handler.
func (hw *PDM) HandleInterrupt() {
	hw.Lock()
	defer hw.Unlock()

	if hw.region == nil {
		return
	}

	if reg.Get(hw.Base+PDM_FIFO_STAT, FIFOSTAT_FIFOOVR, 0xff) != 0 {
		reg.SetN(hw.Base+PDM_FIFO_STAT, FIFOSTAT_FIFOOVR, 0xff, 0xff)
	}

	hw.active ^= 1

	if hw.active == 0 {
		if hw.onFull != nil {
			hw.onFull()
		}
	} else {
		if hw.onHalf != nil {
			hw.onHalf()
		}
	}
}
