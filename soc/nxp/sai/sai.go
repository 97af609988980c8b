// NXP SAI driver
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sai implements a driver for the NXP Synchronous Audio Interface
// (I2S-compatible), adopting the following reference specification:
//   - IMX6ULLRM - i.MX 6ULL Applications Processor Reference Manual - Rev 1 2017/11
//
// This package is only meant to be used with `GOOS=tamago GOARCH=arm` as
// supported by the TamaGo framework for bare metal Go on ARM SoCs, see
// https://github.com/usbarmory/tamago.
package sai

import (
	"sync"

	"github.com/usbarmory/tamago-audio/bits"
	"github.com/usbarmory/tamago-audio/dma"
	"github.com/usbarmory/tamago-audio/internal/reg"
)

// SAI registers
// (p2145, 45.7 SAI Memory Map/Register Definition, IMX6ULLRM)
const (
	SAI_TCSR = 0x0000
	CSR_TERE = 31
	CSR_FR   = 25
	CSR_SR   = 24
	CSR_FWDE = 18
	CSR_FWIE = 10

	SAI_TCR2  = 0x0008
	TCR2_DIV  = 0
	TCR2_BCD  = 24
	TCR2_MSEL = 26

	SAI_TCR3 = 0x000c
	SAI_TCR4 = 0x0010
	TCR4_SYWD = 8
	TCR4_FRSZ = 16
	TCR4_MF   = 4
	TCR4_FSE  = 3
	TCR4_FSP  = 1

	SAI_TCR5    = 0x0014
	TCR5_WNW    = 24
	TCR5_W0W    = 16
	TCR5_FBT    = 8

	SAI_TDR0 = 0x0020
	SAI_TFR0 = 0x0040
	TFR_WFP  = 0
	SAI_TMR  = 0x0060

	SAI_RCSR = 0x0080
	SAI_RCR2 = 0x0088
	SAI_RCR3 = 0x008c
	SAI_RCR4 = 0x0090
	SAI_RCR5 = 0x0094
	SAI_RDR0 = 0x00a0
	SAI_RFR0 = 0x00c0
	SAI_RMR  = 0x00e0
)

// Direction selects which half-duplex datapath (transmit or receive) a
// Channel drives.
type Direction int

const (
	Transmit Direction = iota
	Receive
)

// CompleteFunc mirrors the teacher's event-driven register completion
// callbacks (c.f. soc/nxp/usb's reg.WaitSignal rendezvous) adapted to the
// DMA half/full interrupt pair a double-buffered audio ring depends on; the
// same type serves as both the half and the full callback.
type CompleteFunc func()

// Channel represents one direction (playback or capture) of a SAI
// instance, double-buffered over a dma.Region so the ISR side can flip
// buffers without allocating.
type Channel struct {
	sync.Mutex

	dir    Direction
	base   uint32
	csr    uint32
	region *dma.Region

	bufA   uint
	bufB   uint
	active uint

	onHalf CompleteFunc
	onFull CompleteFunc
}

// SAI represents a SAI controller instance.
type SAI struct {
	// Base register
	Base uint32
	// Clock gate register
	CCGR uint32
	// Clock gate
	CG int
	// MasterClockDiv sets the bit clock divider (p2156, TCR2_DIV,
	// IMX6ULLRM), derived from the desired sample rate by the board
	// bring-up code.
	MasterClockDiv uint32
	// FrameSize is the number of words (channels) per audio frame.
	FrameSize uint32
	// WordWidth is the number of bits per sample word.
	WordWidth uint32

	tx Channel
	rx Channel
}

// Init initializes the SAI controller for I2S-compatible master mode
// framing, as described in p2131, 45.5.3.1 I2S mode, IMX6ULLRM.
func (hw *SAI) Init() {
	if hw.Base == 0 || hw.CCGR == 0 {
		panic("invalid SAI controller instance")
	}

	if hw.FrameSize == 0 {
		hw.FrameSize = 2
	}

	if hw.WordWidth == 0 {
		hw.WordWidth = 16
	}

	reg.SetN(hw.CCGR, hw.CG, 0b11, 0b11)

	hw.tx = Channel{dir: Transmit, base: hw.Base, csr: hw.Base + SAI_TCSR}
	hw.rx = Channel{dir: Receive, base: hw.Base, csr: hw.Base + SAI_RCSR}

	hw.configure(hw.Base+SAI_TCR2, hw.Base+SAI_TCR4, hw.Base+SAI_TCR5)
	hw.configure(hw.Base+SAI_RCR2, hw.Base+SAI_RCR4, hw.Base+SAI_RCR5)

	// enable the transmit FIFO warning interrupt serviced by
	// HandleInterrupt
	reg.Set(hw.Base+SAI_TCSR, CSR_FWIE)
}

func (hw *SAI) configure(cr2, cr4, cr5 uint32) {
	v := reg.Read(cr2)
	bits.SetN(&v, TCR2_DIV, 0xff, hw.MasterClockDiv)
	bits.SetN(&v, TCR2_BCD, 1, 1)
	reg.Write(cr2, v)

	f := reg.Read(cr4)
	bits.SetN(&f, TCR4_FRSZ, 0x1f, hw.FrameSize-1)
	bits.SetN(&f, TCR4_SYWD, 0x1f, hw.WordWidth-1)
	bits.SetN(&f, TCR4_MF, 1, 1)
	bits.SetN(&f, TCR4_FSE, 1, 1)
	reg.Write(cr4, f)

	w := reg.Read(cr5)
	bits.SetN(&w, TCR5_WNW, 0x1f, hw.WordWidth-1)
	bits.SetN(&w, TCR5_W0W, 0x1f, hw.WordWidth-1)
	bits.SetN(&w, TCR5_FBT, 0x1f, hw.WordWidth-1)
	reg.Write(cr5, w)
}

// StartPlayback arms the transmit DMA path over buf, a caller-owned
// double-length buffer previously reserved from region (e.g. an
// audio.UMBuffer's own backing slab): buf[:len(buf)/2] and
// buf[len(buf)/2:] form the two halves the hardware alternately drains,
// invoking onHalf/onFull as it crosses each boundary — the same division
// of labor as audio.UMBuffer's AudioDMACompleteCB expects from its
// MCLK-clocked producer. buf is not copied or re-allocated: Region.Alloc
// on an already-reserved slice returns its existing DMA address, so the
// hardware path and audio.UMBuffer's cursor bookkeeping share one memory
// range.
func (hw *SAI) StartPlayback(region *dma.Region, buf []byte, onHalf, onFull CompleteFunc) (err error) {
	hw.tx.Lock()
	defer hw.tx.Unlock()

	hw.tx.region = region
	hw.tx.onHalf = onHalf
	hw.tx.onFull = onFull

	addr := region.Alloc(buf, 0)
	hw.tx.bufA = addr
	hw.tx.bufB = addr + uint(len(buf)/2)

	reg.Set(hw.tx.csr, CSR_TERE)

	return
}

// StartCapture arms the receive DMA path symmetrically to StartPlayback.
func (hw *SAI) StartCapture(region *dma.Region, buf []byte, onHalf, onFull CompleteFunc) (err error) {
	hw.rx.Lock()
	defer hw.rx.Unlock()

	hw.rx.region = region
	hw.rx.onHalf = onHalf
	hw.rx.onFull = onFull

	addr := region.Alloc(buf, 0)
	hw.rx.bufA = addr
	hw.rx.bufB = addr + uint(len(buf)/2)

	reg.Set(hw.rx.csr, CSR_TERE)

	return
}

// Stop disables both transmit and receive data paths. The double buffer
// passed to StartPlayback/StartCapture is owned by the caller (typically
// an audio.UMBuffer), so Stop only tears down the hardware register state,
// mirroring audio.UMBuffer.Release's refusal to tear down an active stream
// being left to the caller (board bring-up code pauses the UMBuffer before
// calling Stop).
func (hw *SAI) Stop() {
	hw.tx.Lock()
	if hw.tx.region != nil {
		reg.Clear(hw.tx.csr, CSR_TERE)
		hw.tx.region = nil
	}
	hw.tx.Unlock()

	hw.rx.Lock()
	if hw.rx.region != nil {
		reg.Clear(hw.rx.csr, CSR_TERE)
		hw.rx.region = nil
	}
	hw.rx.Unlock()
}

// HandleInterrupt services the FIFO warning/error interrupt, flipping the
// active half of the double buffer and invoking the half/full callback for
// whichever of transmit or receive is enabled. Board bring-up code registers
// this as the SAI IRQ handler.
func (hw *SAI) HandleInterrupt() {
	hw.tx.handleInterrupt()
	hw.rx.handleInterrupt()
}

func (ch *Channel) handleInterrupt() {
	ch.Lock()
	defer ch.Unlock()

	if ch.region == nil {
		return
	}

	ch.active ^= 1

	if ch.active == 0 {
		if ch.onFull != nil {
			ch.onFull()
		}
	} else {
		if ch.onHalf != nil {
			ch.onHalf()
		}
	}
}
