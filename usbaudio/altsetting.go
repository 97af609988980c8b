// USB Audio Class 2.0 alternate-setting glue
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usbaudio

import (
	"github.com/usbarmory/tamago-audio/audio"
	"github.com/usbarmory/tamago-audio/soc/nxp/usb"
)

// StreamDirection selects which side of a UAC2 streaming interface a Stream
// drives.
type StreamDirection int

const (
	// StreamOut is a speaker (host-to-device, isochronous OUT) stream.
	StreamOut StreamDirection = iota
	// StreamIn is a microphone (device-to-host, isochronous IN) stream.
	StreamIn
)

// Stream binds one UAC2 streaming interface's alternate-setting lifecycle
// (spec.md §4.5) to the audio.UMBuffer it arms and pauses.
type Stream struct {
	// Interface is the streaming interface number this Stream answers
	// GET_INTERFACE/SET_INTERFACE for.
	Interface uint8
	Direction StreamDirection
	Buffer    *audio.UMBuffer

	// DequeuePacketSize is passed to the buffer's first Dequeue call on
	// arming an IN stream, triggering Dequeue's startup dance
	// (spec.md §4.2). Unused for StreamOut.
	DequeuePacketSize int

	// ArmFeedback arms the feedback generator when a StreamOut stream
	// moves to an operational alt setting (spec.md §4.5). May be nil.
	ArmFeedback func()

	alt uint8
}

// setAlt transitions the bound buffer for a newly selected alternate
// setting: alt 0 is the zero-bandwidth setting and pauses the stream, any
// other alt opens it.
func (s *Stream) setAlt(alt uint8) error {
	switch {
	case alt == 0:
		s.Buffer.Pause()
	case s.Direction == StreamIn:
		if _, err := s.Buffer.Dequeue(s.DequeuePacketSize); err != nil && err != audio.ErrUnderflow {
			return err
		}
	default:
		if s.ArmFeedback != nil {
			s.ArmFeedback()
		}
	}

	s.alt = alt

	return nil
}

// AltSettingSwitch intercepts GET_INTERFACE/SET_INTERFACE for a set of UAC2
// streaming interfaces, persisting the last-set alternate setting per
// interface (spec.md §4.5) in place of usb.Device's single, device-wide
// AlternateSetting field, which cannot represent a composite device's
// several independently-switched interfaces.
type AltSettingSwitch struct {
	streams map[uint8]*Stream
}

// NewAltSettingSwitch builds a switch over the given streams, keyed by
// Stream.Interface.
func NewAltSettingSwitch(streams ...*Stream) *AltSettingSwitch {
	a := &AltSettingSwitch{streams: make(map[uint8]*Stream, len(streams))}

	for _, s := range streams {
		a.streams[s.Interface] = s
	}

	return a
}

// Setup implements usb.SetupFunction. Requests for interfaces this switch
// does not own fall through (done=false) to the standard GET_INTERFACE/
// SET_INTERFACE handling in soc/nxp/usb/setup.go.
func (a *AltSettingSwitch) Setup(setup *usb.SetupData, out []byte) (in []byte, ack bool, done bool, err error) {
	if setup.Request != usb.GET_INTERFACE && setup.Request != usb.SET_INTERFACE {
		return nil, false, false, nil
	}

	s, ok := a.streams[uint8(setup.Index&0xff)]
	if !ok {
		return nil, false, false, nil
	}

	if setup.Request == usb.GET_INTERFACE {
		return []byte{s.alt}, false, true, nil
	}

	alt := uint8(setup.Value >> 8)

	if err := s.setAlt(alt); err != nil {
		return nil, false, true, err
	}

	return nil, true, true, nil
}

// Chain composes a sequence of usb.SetupFunction handlers into one: each is
// tried in order, the first to report done=true (or a non-nil error) wins.
// It lets a composite UAC2 device install both *Control and
// *AltSettingSwitch (or a board's own handlers) on the single
// usb.Device.Setup field the teacher's setup.go exposes.
func Chain(fns ...usb.SetupFunction) usb.SetupFunction {
	return func(setup *usb.SetupData, out []byte) (in []byte, ack bool, done bool, err error) {
		for _, fn := range fns {
			if fn == nil {
				continue
			}

			if in, ack, done, err = fn(setup, out); done || err != nil {
				return
			}
		}

		return nil, false, false, nil
	}
}
