// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/usbarmory/tamago-audio/audio"
)

// hwDriver stands in for soc/nxp/sai: it implements audio.PlayFunc/
// audio.PauseResumeFunc by running a goroutine that moves PCM between a
// UMBuffer's backing halves and a real portaudio stream at the stream's own
// clock, invoking AudioDMACompleteCB on each half exactly as sai.Channel's
// interrupt handler does.
type hwDriver struct {
	sync.Mutex

	name   string
	logger *log.Logger
	buf    *audio.UMBuffer

	stop chan struct{}
	done chan struct{}

	// pull, for a capture driver, supplies one period's worth of PCM
	// captured from the host microphone; push, for a playback driver,
	// delivers one period's worth of PCM to the host speaker. Exactly
	// one of the two is set.
	pull func([]byte)
	push func([]byte)

	period time.Duration
}

func newHWDriver(name string, logger *log.Logger, period time.Duration) *hwDriver {
	return &hwDriver{name: name, logger: logger, period: period}
}

// Play implements audio.PlayFunc: the INIT->PLAY transition.
func (d *hwDriver) Play(buf []byte) {
	d.arm(buf)
}

// PauseResume implements audio.PauseResumeFunc: PLAY->READY on pause,
// READY->PLAY on resume.
func (d *hwDriver) PauseResume(resume bool, buf []byte) {
	if resume {
		d.arm(buf)
		return
	}

	d.Lock()
	stop := d.stop
	done := d.done
	d.Unlock()

	if stop == nil {
		return
	}

	close(stop)
	<-done

	d.Lock()
	d.stop = nil
	d.Unlock()
}

func (d *hwDriver) arm(buf []byte) {
	d.Lock()
	if d.stop != nil {
		d.Unlock()
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	d.stop = stop
	d.done = done
	d.Unlock()

	half := len(buf) / 2

	go func() {
		defer close(done)

		ticker := time.NewTicker(d.period)
		defer ticker.Stop()

		cur := 0

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			half0 := buf[cur*half : (cur+1)*half]

			switch {
			case d.pull != nil:
				d.pull(half0)
			case d.push != nil:
				d.push(half0)
			}

			cur ^= 1
			d.callback()
		}
	}()
}

func (d *hwDriver) callback() {
	d.Lock()
	buf := d.buf
	d.Unlock()

	if buf == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("buffer fault", "driver", d.name, "cause", r)
		}
	}()

	buf.AudioDMACompleteCB()
}

func (d *hwDriver) bind(buf *audio.UMBuffer) {
	d.Lock()
	d.buf = buf
	d.Unlock()
}
