// USB Audio Class 2.0 class request dispatch
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usbaudio

import (
	"bytes"
	"encoding/binary"

	"github.com/usbarmory/tamago-audio/audio"
	"github.com/usbarmory/tamago-audio/soc/nxp/usb"
)

// Fixed feature unit volume range (UAC2 Table 5-5 dB_FS units): -50 dB to
// 0 dB in 1 dB (256 unit, 8.8 fixed-point) steps (spec.md §6).
const (
	VolumeMin = -50 * 256
	VolumeMax = 0
	VolumeRes = 256
)

// ClockSource answers class requests addressed to one Clock Source entity
// (UAC2 4.7.2.1): a fixed-frequency internal clock, so SAM_FREQ's RANGE
// reply collapses to a single [f, f, 0] subrange and CUR is read-only.
type ClockSource struct {
	// EntityID must match the ClockID of the corresponding
	// ClockSourceDescriptor.
	EntityID uint8
	// SampleRate is the fixed sampling frequency, in Hz.
	SampleRate uint32
	// Valid reflects CLK_VALID; boards clear this while the codec/PLL is
	// still settling.
	Valid bool
}

func (c *ClockSource) entity() uint8 { return c.EntityID }

func (c *ClockSource) handle(setup *usb.SetupData) (in []byte, handled bool, err error) {
	cs := uint8(setup.Value >> 8)

	switch cs {
	case CS_SAM_FREQ_CONTROL:
		switch setup.Request {
		case REQ_CUR:
			return u32(c.SampleRate), true, nil
		case REQ_RANGE:
			return rangeU32(c.SampleRate, c.SampleRate, 0), true, nil
		}
	case CS_CLOCK_VALID_CONTROL:
		if setup.Request == REQ_CUR {
			return []byte{boolByte(c.Valid)}, true, nil
		}
	}

	return nil, false, nil
}

// FeatureUnit answers class requests addressed to one Feature Unit entity
// (UAC2 4.7.2.8), master channel only (channel number 0 in wValue's low
// byte; per-channel controls are not implemented, matching the single
// bmaControls(0) entry FeatureUnitDescriptor.SetDefaults installs).
type FeatureUnit struct {
	// EntityID must match the UnitID of the corresponding
	// FeatureUnitDescriptor.
	EntityID uint8
	Mute     bool
	// Volume is in 1/256 dB units, clamped to [VolumeMin, VolumeMax].
	Volume int16
}

func (f *FeatureUnit) entity() uint8 { return f.EntityID }

func (f *FeatureUnit) handle(setup *usb.SetupData) (in []byte, handled bool, err error) {
	cs := uint8(setup.Value >> 8)

	switch cs {
	case FU_MUTE_CONTROL:
		if setup.Request == REQ_CUR {
			return []byte{boolByte(f.Mute)}, true, nil
		}
	case FU_VOLUME_CONTROL:
		switch setup.Request {
		case REQ_CUR:
			return i16(f.Volume), true, nil
		case REQ_RANGE:
			return rangeI16(VolumeMin, VolumeMax, VolumeRes), true, nil
		}
	}

	return nil, false, nil
}

// set applies a SET_CUR payload decoded by the dispatcher, clamping volume
// to the advertised range rather than rejecting an out-of-range write, as
// UAC2 5.2.1.1 leaves host rounding behavior unspecified.
func (f *FeatureUnit) set(cs uint8, data []byte) error {
	switch cs {
	case FU_MUTE_CONTROL:
		if len(data) < 1 {
			return audio.ErrArgs
		}
		f.Mute = data[0] != 0
	case FU_VOLUME_CONTROL:
		if len(data) < 2 {
			return audio.ErrArgs
		}
		v := int16(binary.LittleEndian.Uint16(data))
		if v < VolumeMin {
			v = VolumeMin
		} else if v > VolumeMax {
			v = VolumeMax
		}
		f.Volume = v
	default:
		return audio.ErrArgs
	}

	return nil
}

// Selector answers class requests addressed to one Selector Unit entity
// (UAC2 4.7.2.7), delegating SET_CUR/GET_CUR to an audio.TerminalSwitch so
// the persisted index only advances when audio.UMBuffer.SetDriver succeeds
// (spec.md §4.4).
type Selector struct {
	// EntityID must match the UnitID of the corresponding
	// SelectorUnitDescriptor.
	EntityID uint8
	Switch   *audio.TerminalSwitch
}

func (s *Selector) entity() uint8 { return s.EntityID }

func (s *Selector) handle(setup *usb.SetupData) (in []byte, handled bool, err error) {
	if uint8(setup.Value>>8) != SU_SELECTOR_CONTROL {
		return nil, false, nil
	}

	if setup.Request == REQ_CUR {
		return []byte{uint8(s.Switch.Current())}, true, nil
	}

	return nil, false, nil
}

func (s *Selector) set(cs uint8, data []byte) error {
	if cs != SU_SELECTOR_CONTROL {
		return audio.ErrArgs
	}

	if len(data) < 1 {
		return audio.ErrArgs
	}

	return s.Switch.Select(int(data[0]))
}

// entityControl is the subset of entity behavior the dispatcher needs:
// answer GET-direction requests, and accept a decoded SET_CUR payload.
type entityControl interface {
	entity() uint8
	handle(setup *usb.SetupData) (in []byte, handled bool, err error)
}

type settableControl interface {
	entityControl
	set(cs uint8, data []byte) error
}

// Control dispatches UAC2 class-specific requests addressed to the Audio
// Control interface's entities (clock source, feature unit, selector unit)
// to the matching registered entity, per wIndex's high byte (bEntityId,
// UAC2 5.2.1.1/5.2.1.2).
//
// Control implements the `usb.SetupFunction` signature directly via Setup,
// so it can be installed on `usb.Device.Setup` on its own, or composed with
// an *AltSettingSwitch through Chain (altsetting.go) for a complete UAC2
// composite device.
type Control struct {
	// Interface is the Audio Control interface number entities in this
	// dispatcher are addressed under (wIndex low byte).
	Interface uint8

	entities map[uint8]entityControl
}

// AddClockSource registers a Clock Source entity with the dispatcher.
func (c *Control) AddClockSource(e *ClockSource) { c.add(e) }

// AddFeatureUnit registers a Feature Unit entity with the dispatcher.
func (c *Control) AddFeatureUnit(e *FeatureUnit) { c.add(e) }

// AddSelector registers a Selector Unit entity with the dispatcher.
func (c *Control) AddSelector(e *Selector) { c.add(e) }

func (c *Control) add(e entityControl) {
	if c.entities == nil {
		c.entities = make(map[uint8]entityControl)
	}
	c.entities[e.entity()] = e
}

// Setup implements usb.SetupFunction: UAC2 class requests not addressed to
// an interface this Control owns, or to an entity it has no registration
// for, fall through (done=false) to the caller's next handler and
// eventually to the standard request switch.
func (c *Control) Setup(setup *usb.SetupData, out []byte) (in []byte, ack bool, done bool, err error) {
	if setup.Request != REQ_CUR && setup.Request != REQ_RANGE {
		return nil, false, false, nil
	}

	iface := uint8(setup.Index & 0xff)
	if iface != c.Interface {
		return nil, false, false, nil
	}

	entityID := uint8(setup.Index >> 8)
	e, ok := c.entities[entityID]
	if !ok {
		return nil, false, false, nil
	}

	dir := (setup.RequestType >> usb.REQUEST_TYPE_DIR) & 1

	if dir == usb.IN {
		in, handled, err := e.handle(setup)
		if !handled {
			return nil, false, false, nil
		}
		return in, false, true, err
	}

	sc, ok := e.(settableControl)
	if !ok {
		return nil, false, true, audio.ErrArgs
	}

	cs := uint8(setup.Value >> 8)
	if err := sc.set(cs, out); err != nil {
		return nil, false, true, err
	}

	return nil, true, true, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func u32(v uint32) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func i16(v int16) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

// rangeU32 encodes a single-subrange UAC2 RANGE parameter block (UAC2
// 5.2.1.2, Table 5-3) for a 4-byte (dCUR-sized) control such as SAM_FREQ.
func rangeU32(min, max, res uint32) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, min)
	binary.Write(buf, binary.LittleEndian, max)
	binary.Write(buf, binary.LittleEndian, res)
	return buf.Bytes()
}

// rangeI16 encodes a single-subrange UAC2 RANGE parameter block for a
// 2-byte (wCUR-sized) control such as VOLUME.
func rangeI16(min, max, res int16) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, min)
	binary.Write(buf, binary.LittleEndian, max)
	binary.Write(buf, binary.LittleEndian, res)
	return buf.Bytes()
}
