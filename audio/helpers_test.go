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
	"unsafe"

	"github.com/usbarmory/tamago-audio/dma"
)

// newTestRegion returns a dma.Region backed by a real Go byte slice, for
// host-side tests. Bare-metal bring-up instead points Region.Init at a
// physical DRAM range reserved from the boot allocator; the unsafe.Pointer
// arithmetic in dma.Region is identical either way.
func newTestRegion(size int) (*dma.Region, []byte) {
	mem := make([]byte, size)
	r := &dma.Region{}
	r.Init(uint(uintptr(unsafe.Pointer(&mem[0]))), uint(size))
	return r, mem
}

func noopPlay([]byte)             {}
func noopPauseResume(bool, []byte) {}
