// USB Audio Class 2.0 class-specific descriptors
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package usbaudio renders a USB Audio Class 2.0 composite device on top of
// the standard descriptor and endpoint machinery of soc/nxp/usb: it supplies
// the class-specific Audio Control and Audio Streaming descriptors, the
// class request dispatch (clock source, feature unit and selector unit
// entities; terminal entities are not dispatched) and the alternate-setting
// glue that starts and stops an audio/UMBuffer stream.
package usbaudio

import (
	"bytes"
	"encoding/binary"

	"github.com/usbarmory/tamago-audio/bits"
	"github.com/usbarmory/tamago-audio/soc/nxp/usb"
)

// Audio Function Class Codes (UAC2 3.2, Table 3-1)
const (
	AUDIO_DEVICE_CLASS    = 0x01
	AUDIO_FUNCTION_SUBCLASS = 0x00
	IP_VERSION_02_00      = 0x20
)

// Audio Interface Subclass Codes (UAC2 4.3, Table 4-1)
const (
	AUDIO_CONTROL_SUBCLASS   = 0x01
	AUDIO_STREAMING_SUBCLASS = 0x02
)

// Audio Class-Specific descriptor type (UAC2 4.5, Table 4-4)
const CS_INTERFACE = 0x24
const CS_ENDPOINT = 0x25

// Audio Control Interface Descriptor Subtypes (UAC2 4.7.2, Table 4-5)
const (
	AC_HEADER         = 0x01
	AC_INPUT_TERMINAL = 0x02
	AC_OUTPUT_TERMINAL = 0x03
	AC_SELECTOR_UNIT  = 0x05
	AC_FEATURE_UNIT   = 0x06
	AC_CLOCK_SOURCE   = 0x0a
)

// Audio Streaming Interface Descriptor Subtypes (UAC2 4.9.2, Table 4-19)
const (
	AS_GENERAL     = 0x01
	AS_FORMAT_TYPE = 0x02
)

// Audio Streaming Isochronous Audio Data Endpoint Descriptor Subtype
// (UAC2 4.10.1.1, Table 4-20)
const EP_GENERAL = 0x01

// Terminal types (UAC2 Terminal Types spec, Table 2-1/2-3)
const (
	TERMINAL_USB_STREAMING  = 0x0101
	TERMINAL_MICROPHONE     = 0x0201
	TERMINAL_SPEAKER        = 0x0301
)

// Format Type Codes (UAC2 Format Type spec, A.1)
const FORMAT_TYPE_I = 0x01

// Audio Data Format Type I (UAC2 Format Type spec, A.2.1)
const PCM = 0x00000001

// Class-specific Request Codes (UAC2 5.2.1.1 Table A-9 / A-14)
const (
	REQ_CUR   = 0x01
	REQ_RANGE = 0x02
)

// Clock Source Control Selectors (UAC2 A.17.1)
const (
	CS_SAM_FREQ_CONTROL   = 0x01
	CS_CLOCK_VALID_CONTROL = 0x02
)

// Feature Unit Control Selectors (UAC2 A.17.7)
const (
	FU_MUTE_CONTROL   = 0x01
	FU_VOLUME_CONTROL = 0x02
)

// Selector Unit Control Selectors (UAC2 A.17.4)
const SU_SELECTOR_CONTROL = 0x01

// Terminal Control Selectors (UAC2 A.17.2/A.17.3)
const TE_CONNECTOR_CONTROL = 0x02

// Endpoint Control Selectors (UAC2 A.17.8)
const EP_PITCH_CONTROL = 0x01
const EP_DATA_OVERRUN_CONTROL = 0x02
const EP_DATA_UNDERRUN_CONTROL = 0x03

// Interface Association + AC Interface headers carry the same repeated
// bytes.Buffer pattern as soc/nxp/usb/descriptor_cdc.go: a fixed struct
// marshalled with binary.Write, with SetDefaults() filling protocol
// constants.

// ACHeaderDescriptor implements
// UAC2 4.7.2, Table 4-5: Class-Specific AC Interface Header Descriptor.
//
// Bytes() appends a bInCollection count byte and one baInterfaceNr byte per
// streaming interface associated with this audio function, and sets bLength
// to cover them. TotalLength is written as the caller set it; Bytes() does
// not compute it.
type ACHeaderDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	DescriptorSubtype uint8
	bcdADC            uint16
	Category          uint8
	TotalLength       uint16
	Controls          uint8

	// StreamingInterfaces lists the interface numbers of every AS
	// interface belonging to this audio function (bInCollection +
	// baInterfaceNr).
	StreamingInterfaces []uint8
}

// SetDefaults initializes default values for the Class-Specific AC Interface
// Header Descriptor.
func (d *ACHeaderDescriptor) SetDefaults() {
	d.Length = 9
	d.DescriptorType = CS_INTERFACE
	d.DescriptorSubtype = AC_HEADER
	d.bcdADC = 0x0200
	// Category: pro audio I/O (UAC2 Audio Function Category Codes, A.7)
	d.Category = 0x0a
}

// Bytes converts the descriptor structure to byte array format.
func (d *ACHeaderDescriptor) Bytes() []byte {
	d.Length = 10 + uint8(len(d.StreamingInterfaces))

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d.Length)
	binary.Write(buf, binary.LittleEndian, d.DescriptorType)
	binary.Write(buf, binary.LittleEndian, d.DescriptorSubtype)
	binary.Write(buf, binary.LittleEndian, d.bcdADC)
	binary.Write(buf, binary.LittleEndian, d.Category)
	binary.Write(buf, binary.LittleEndian, d.TotalLength)
	binary.Write(buf, binary.LittleEndian, d.Controls)
	binary.Write(buf, binary.LittleEndian, uint8(len(d.StreamingInterfaces)))
	buf.Write(d.StreamingInterfaces)

	return buf.Bytes()
}

// ClockSourceDescriptor implements
// UAC2 4.7.2.1, Table 4-6: Clock Source Descriptor.
type ClockSourceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	DescriptorSubtype uint8
	ClockID           uint8
	Attributes        uint8
	Controls          uint8
	AssocTerminal     uint8
	ClockSourceStr    uint8
}

// SetDefaults initializes default values for the Clock Source Descriptor:
// internal fixed clock, host-readable frequency and validity controls.
func (d *ClockSourceDescriptor) SetDefaults() {
	d.Length = 8
	d.DescriptorType = CS_INTERFACE
	d.DescriptorSubtype = AC_CLOCK_SOURCE
	// bmAttributes: D[1:0] = 0b01, internal fixed clock (0b11 would be
	// internal programmable; this core exposes a fixed internal clock).
	d.Attributes = 0x01
	// bmControls: clock frequency control is host read-only, clock valid
	// control is host read-only (UAC2 Table 4-6 D[1:0]=0b01, D[3:2]=0b01).
	d.Controls = 0x05
}

// Bytes converts the descriptor structure to byte array format.
func (d *ClockSourceDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// InputTerminalDescriptor implements
// UAC2 4.7.2.4, Table 4-9: Input Terminal Descriptor.
type InputTerminalDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	DescriptorSubtype uint8
	TerminalID        uint8
	TerminalType      uint16
	AssocTerminal     uint8
	CSourceID         uint8
	NrChannels        uint8
	ChannelConfig     uint32
	ChannelNamesStr   uint8
	Controls          uint16
	TerminalStr       uint8
}

// SetDefaults initializes default values for the Input Terminal Descriptor.
func (d *InputTerminalDescriptor) SetDefaults() {
	d.Length = 17
	d.DescriptorType = CS_INTERFACE
	d.DescriptorSubtype = AC_INPUT_TERMINAL
	d.NrChannels = 1
}

// Bytes converts the descriptor structure to byte array format.
func (d *InputTerminalDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// OutputTerminalDescriptor implements
// UAC2 4.7.2.5, Table 4-10: Output Terminal Descriptor.
type OutputTerminalDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	DescriptorSubtype uint8
	TerminalID        uint8
	TerminalType      uint16
	AssocTerminal     uint8
	SourceID          uint8
	CSourceID         uint8
	Controls          uint16
	TerminalStr       uint8
}

// SetDefaults initializes default values for the Output Terminal Descriptor.
func (d *OutputTerminalDescriptor) SetDefaults() {
	d.Length = 12
	d.DescriptorType = CS_INTERFACE
	d.DescriptorSubtype = AC_OUTPUT_TERMINAL
}

// Bytes converts the descriptor structure to byte array format.
func (d *OutputTerminalDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// FeatureUnitDescriptor implements
// UAC2 4.7.2.8, Table 4-13: Feature Unit Descriptor.
//
// Controls holds one bmaControls(ch) uint32 per channel, index 0 being the
// master channel (ch0); Bytes() marshals the slice in place of a fixed-size
// field, matching how soc/nxp/usb/descriptor.go's InterfaceDescriptor
// appends its variable-length ClassDescriptors.
type FeatureUnitDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	DescriptorSubtype uint8
	UnitID            uint8
	SourceID          uint8
	Controls          []uint32
	FeatureStr        uint8
}

// SetDefaults initializes default values for the Feature Unit Descriptor:
// master-channel mute and volume, both host read/write.
func (d *FeatureUnitDescriptor) SetDefaults() {
	d.DescriptorType = CS_INTERFACE
	d.DescriptorSubtype = AC_FEATURE_UNIT

	if len(d.Controls) == 0 {
		// bmaControls(0): mute (D[1:0]) + volume (D[3:2]), both
		// read/write (0b11).
		d.Controls = []uint32{0x0f}
	}
}

// Bytes converts the descriptor structure to byte array format.
func (d *FeatureUnitDescriptor) Bytes() []byte {
	d.Length = 6 + uint8(4*len(d.Controls))

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d.Length)
	binary.Write(buf, binary.LittleEndian, d.DescriptorType)
	binary.Write(buf, binary.LittleEndian, d.DescriptorSubtype)
	binary.Write(buf, binary.LittleEndian, d.UnitID)
	binary.Write(buf, binary.LittleEndian, d.SourceID)

	for _, c := range d.Controls {
		binary.Write(buf, binary.LittleEndian, c)
	}

	binary.Write(buf, binary.LittleEndian, d.FeatureStr)

	return buf.Bytes()
}

// SelectorUnitDescriptor implements
// UAC2 4.7.2.7, Table 4-12: Selector Unit Descriptor.
//
// Sources lists the upstream unit/terminal IDs in selector order;
// audio.TerminalSwitch.Select(n), which control.go's Selector calls, indexes
// this same 1-based ordering.
type SelectorUnitDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	DescriptorSubtype uint8
	UnitID            uint8
	Sources           []uint8
	Controls          uint8
	SelectorStr       uint8
}

// SetDefaults initializes default values for the Selector Unit Descriptor:
// host read/write selector control.
func (d *SelectorUnitDescriptor) SetDefaults() {
	d.DescriptorType = CS_INTERFACE
	d.DescriptorSubtype = AC_SELECTOR_UNIT
	d.Controls = 0x03
}

// Bytes converts the descriptor structure to byte array format.
func (d *SelectorUnitDescriptor) Bytes() []byte {
	d.Length = 7 + uint8(len(d.Sources))

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d.Length)
	binary.Write(buf, binary.LittleEndian, d.DescriptorType)
	binary.Write(buf, binary.LittleEndian, d.DescriptorSubtype)
	binary.Write(buf, binary.LittleEndian, d.UnitID)
	binary.Write(buf, binary.LittleEndian, uint8(len(d.Sources)))
	buf.Write(d.Sources)
	binary.Write(buf, binary.LittleEndian, d.Controls)
	binary.Write(buf, binary.LittleEndian, d.SelectorStr)

	return buf.Bytes()
}

// ASGeneralDescriptor implements
// UAC2 4.9.2, Table 4-27: Class-Specific AS Interface Descriptor.
type ASGeneralDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	DescriptorSubtype uint8
	TerminalLink      uint8
	Controls          uint8
	FormatType        uint8
	Formats           uint32
	NrChannels        uint8
	ChannelConfig     uint32
	ChannelNamesStr   uint8
}

// SetDefaults initializes default values for the Class-Specific AS Interface
// Descriptor.
func (d *ASGeneralDescriptor) SetDefaults() {
	d.Length = 16
	d.DescriptorType = CS_INTERFACE
	d.DescriptorSubtype = AS_GENERAL
	d.FormatType = FORMAT_TYPE_I
	d.Formats = PCM
	d.NrChannels = 1
}

// Bytes converts the descriptor structure to byte array format.
func (d *ASGeneralDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// FormatTypeIDescriptor implements
// UAC2 Format Type spec, 2.3.1.6, Table 2-1: Type I Format Type Descriptor.
type FormatTypeIDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	DescriptorSubtype uint8
	FormatType        uint8
	SubslotSize       uint8
	BitResolution     uint8
}

// SetDefaults initializes default values for the Type I Format Type
// Descriptor: 16-bit samples packed in 2-byte subslots.
func (d *FormatTypeIDescriptor) SetDefaults() {
	d.Length = 6
	d.DescriptorType = CS_INTERFACE
	d.DescriptorSubtype = AS_FORMAT_TYPE
	d.FormatType = FORMAT_TYPE_I
	d.SubslotSize = 2
	d.BitResolution = 16
}

// Bytes converts the descriptor structure to byte array format.
func (d *FormatTypeIDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// ASEndpointDescriptor implements
// UAC2 4.10.1.1, Table 4-34: Class-Specific AS Isochronous Audio Data
// Endpoint Descriptor.
type ASEndpointDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	DescriptorSubtype uint8
	Attributes        uint8
	Controls          uint8
	LockDelayUnits    uint8
	LockDelay         uint16
}

// SetDefaults initializes default values for the Class-Specific AS
// Isochronous Audio Data Endpoint Descriptor.
func (d *ASEndpointDescriptor) SetDefaults() {
	d.Length = 8
	d.DescriptorType = CS_ENDPOINT
	d.DescriptorSubtype = EP_GENERAL
}

// Bytes converts the descriptor structure to byte array format.
func (d *ASEndpointDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// NewIsochronousEndpoint builds a standard Endpoint Descriptor for an audio
// streaming data endpoint, with bmAttributes assembled through bits.SetN in
// the same style soc/nxp/usb/endpoint.go uses for register fields, rather
// than hand ORing the sync/usage bit positions together.
func NewIsochronousEndpoint(address uint8, maxPacketSize uint16, interval uint8, sync int, usage int) *usb.EndpointDescriptor {
	ep := &usb.EndpointDescriptor{}
	ep.SetDefaults()

	ep.EndpointAddress = address
	ep.MaxPacketSize = maxPacketSize
	ep.Interval = interval
	ep.Zero = false

	var attr uint32
	bits.SetN(&attr, 0, 0b11, usb.ISOCHRONOUS)
	bits.SetN(&attr, 2, 0b11, uint32(sync))
	bits.SetN(&attr, 4, 0b11, uint32(usage))
	ep.Attributes = uint8(attr)

	return ep
}
