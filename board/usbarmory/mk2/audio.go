// USB armory Mk II UAC2 audio gadget
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mk2

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/usbarmory/tamago-audio/audio"
	"github.com/usbarmory/tamago-audio/dma"
	"github.com/usbarmory/tamago-audio/soc/nxp/usb"
	"github.com/usbarmory/tamago-audio/usbaudio"
)

// Audio format: fixed 48kHz, 16-bit little-endian PCM. The speaker path is
// stereo, the microphone path (PDM or ADC1, selectable) is mono.
const (
	sampleRate      = 48000
	bytesPerSample  = 2
	speakerChannels = 2
	micChannels     = 1

	// framesPerPacket is one USB high-speed microframe (125us) worth of
	// samples at sampleRate.
	framesPerPacket = sampleRate / 8000

	nodeCount = 8
)

func speakerPacketSize() uint32 { return framesPerPacket * speakerChannels * bytesPerSample }
func micPacketSize() uint32     { return framesPerPacket * micChannels * bytesPerSample }

// UAC2 interface numbers, assigned by usb.ConfigurationDescriptor.AddInterface
// in the order interfaces are added below (AC first, then each streaming
// interface's alt 0).
const (
	acInterface        = 0
	speakerASInterface = 1
	micASInterface     = 2
)

// UAC2 Audio Control entity IDs.
const (
	clockSourceID = 0x01

	speakerInputTerminalID  = 0x02
	speakerFeatureUnitID    = 0x03
	speakerOutputTerminalID = 0x04

	pdmInputTerminalID  = 0x05
	adcInputTerminalID  = 0x06
	micSelectorID       = 0x07
	micOutputTerminalID = 0x08
)

// Endpoint addresses.
const (
	epSpeakerOut      = 0x01 // isochronous OUT
	epSpeakerFeedback = 0x81 // isochronous IN, companion to epSpeakerOut
	epMicIn           = 0x82 // isochronous IN
)

// region is the SoC's global OCRAM-backed DMA allocator, bound in
// ConfigureUSBAudio once imx6ul.Init() has set it up: both UMBuffers' node
// pools and the SAI/PDM double buffers share it with every other DMA
// consumer, the same arrangement soc/nxp/usb's descriptor and transfer
// buffers use.
var region *dma.Region

var (
	playback *audio.UMBuffer
	capture  *audio.UMBuffer

	micSwitch *audio.TerminalSwitch
)

// feedbackRate holds the most recently computed speaker feedback value, in
// UAC2's 16.16 high-speed fixed-point format (UAC2 3.16.3.1). SAI1 is
// configured as a fixed-ratio master clock, so the value never drifts from
// its nominal setting; a board with a measurable MCLK/SOF relationship
// would instead feed audio.FeedbackCalculator from an input-capture timer.
var feedbackRate uint32

func nominalFeedbackRate() uint32 {
	// sampleRate/8000 frames per microframe, Q16.16.
	return uint32((uint64(sampleRate) << 16) / 8000)
}

// ConfigureUSBAudio builds a UAC2 composite device exposing one speaker
// (stereo, isochronous OUT with asynchronous feedback) and one microphone
// (mono, isochronous IN, sourced from either the PDM digital microphone or
// ADC1's analog input) and installs it as device.Setup, ready for
// usb.USB.Start(device).
func ConfigureUSBAudio(device *usb.Device) error {
	SAI1.Init()
	PDM1.Init()
	ADC1.Init()

	region = dma.Default()

	if err := configureBuffers(); err != nil {
		return err
	}

	configureDescriptors(device)

	ctl := &usbaudio.Control{Interface: acInterface}

	ctl.AddClockSource(&usbaudio.ClockSource{
		EntityID:   clockSourceID,
		SampleRate: sampleRate,
		Valid:      true,
	})

	ctl.AddFeatureUnit(&usbaudio.FeatureUnit{
		EntityID: speakerFeatureUnitID,
	})

	ctl.AddSelector(&usbaudio.Selector{
		EntityID: micSelectorID,
		Switch:   micSwitch,
	})

	speakerStream := &usbaudio.Stream{
		Interface:   speakerASInterface,
		Direction:   usbaudio.StreamOut,
		Buffer:      playback,
		ArmFeedback: armFeedback,
	}

	micStream := &usbaudio.Stream{
		Interface:         micASInterface,
		Direction:         usbaudio.StreamIn,
		Buffer:            capture,
		DequeuePacketSize: int(micPacketSize()),
	}

	altSwitch := usbaudio.NewAltSettingSwitch(speakerStream, micStream)

	device.Setup = usbaudio.Chain(ctl.Setup, altSwitch.Setup)

	return nil
}

func armFeedback() {
	atomic.StoreUint32(&feedbackRate, nominalFeedbackRate())
}

// configureBuffers builds the playback and capture staging buffers and the
// microphone source selector, wiring audio.UMBuffer's Play/PauseResume
// callbacks directly onto SAI1/PDM1 (and, as the selector's alternate
// entry, a software driver polling ADC1).
func configureBuffers() (err error) {
	playback, err = audio.NewUMBuffer(audio.Config{
		Region:        region,
		PacketSize:    speakerPacketSize(),
		MaxPacketSize: speakerPacketSize(),
		FramesPerNode: framesPerPacket,
		NodeCount:     nodeCount,
		Policy:        audio.PolicyFeedback,
		Play:          saiPlay,
		PauseResume:   saiPauseResume,
	})
	if err != nil {
		return err
	}

	capture, err = audio.NewUMBuffer(audio.Config{
		Region:        region,
		PacketSize:    micPacketSize(),
		MaxPacketSize: micPacketSize(),
		FramesPerNode: framesPerPacket,
		NodeCount:     nodeCount,
		Policy:        audio.PolicyDropHalf,
		Play:          pdmPlay,
		PauseResume:   pdmPauseResume,
	})
	if err != nil {
		return err
	}

	adc := &adcDriver{}

	micSwitch = audio.NewTerminalSwitch(capture, []audio.TerminalEntry{
		{PacketSize: micPacketSize(), Play: pdmPlay, PauseResume: pdmPauseResume},
		{PacketSize: micPacketSize(), Play: adc.Play, PauseResume: adc.PauseResume},
	})

	return nil
}

func saiPlay(buf []byte) {
	SAI1.StartPlayback(region, buf, playback.AudioDMACompleteCB, playback.AudioDMACompleteCB)
}

func saiPauseResume(resume bool, buf []byte) {
	if resume {
		saiPlay(buf)
		return
	}

	SAI1.Stop()
}

func pdmPlay(buf []byte) {
	PDM1.StartCapture(region, buf, capture.AudioDMACompleteCB, capture.AudioDMACompleteCB)
}

func pdmPauseResume(resume bool, buf []byte) {
	if resume {
		pdmPlay(buf)
		return
	}

	PDM1.Stop()
}

// adcDriver stands in for a DMA engine over ADC1, which this SoC generation
// only exposes as a single-conversion polled peripheral (soc/nxp/adc has no
// double-buffered DMA path): a goroutine samples ADC1 at sampleRate and
// writes each sample into the UMBuffer's own backing double-buffer,
// invoking AudioDMACompleteCB on every half exactly as PDM1.HandleInterrupt
// would.
type adcDriver struct {
	stop chan struct{}
	done chan struct{}
}

func (d *adcDriver) Play(buf []byte) {
	d.arm(buf)
}

func (d *adcDriver) PauseResume(resume bool, buf []byte) {
	if resume {
		d.arm(buf)
		return
	}

	if d.stop == nil {
		return
	}

	close(d.stop)
	<-d.done
	d.stop = nil
}

func (d *adcDriver) arm(buf []byte) {
	stop := make(chan struct{})
	done := make(chan struct{})
	d.stop = stop
	d.done = done

	half := len(buf) / 2
	samplesPerHalf := half / bytesPerSample
	period := time.Second / time.Duration(sampleRate)

	go func() {
		defer close(done)

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		cur := 0
		n := 0

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			v, err := ADC1.Sample()
			if err != nil {
				continue
			}

			off := cur*half + n*bytesPerSample
			binary.LittleEndian.PutUint16(buf[off:], v)
			n++

			if n >= samplesPerHalf {
				n = 0
				cur ^= 1
				capture.AudioDMACompleteCB()
			}
		}
	}()
}

// feedbackFunction implements usb.EndpointFunction for epSpeakerFeedback:
// it reports feedbackRate as a UAC2 high-speed 16.16 fixed-point value
// (UAC2 3.16.3.1).
func feedbackFunction(_ []byte, _ error) (res []byte, err error) {
	res = make([]byte, 4)
	binary.LittleEndian.PutUint32(res, atomic.LoadUint32(&feedbackRate))
	return
}

func configureDescriptors(device *usb.Device) {
	device.SetLanguageCodes([]uint16{0x0409})

	device.Descriptor = &usb.DeviceDescriptor{}
	device.Descriptor.SetDefaults()
	device.Descriptor.DeviceClass = usbaudio.AUDIO_DEVICE_CLASS
	device.Descriptor.DeviceSubClass = usbaudio.AUDIO_FUNCTION_SUBCLASS
	device.Descriptor.DeviceProtocol = usbaudio.IP_VERSION_02_00
	device.Descriptor.VendorId = 0x1d50
	device.Descriptor.ProductId = 0x6141
	device.Descriptor.Device = 0x0001

	iManufacturer, _ := device.AddString(`WithSecure`)
	device.Descriptor.Manufacturer = iManufacturer

	iProduct, _ := device.AddString(`USB armory Mk II UAC2 Audio`)
	device.Descriptor.Product = iProduct

	iSerial, _ := device.AddString(`0.1`)
	device.Descriptor.SerialNumber = iSerial

	conf := &usb.ConfigurationDescriptor{}
	conf.SetDefaults()
	conf.ConfigurationValue = 1

	iConfiguration, _ := device.AddString(`UAC2 speaker and microphone`)
	conf.Configuration = iConfiguration

	acIface := &usb.InterfaceDescriptor{}
	acIface.SetDefaults()
	acIface.NumEndpoints = 0
	acIface.InterfaceClass = usbaudio.AUDIO_DEVICE_CLASS
	acIface.InterfaceSubClass = usbaudio.AUDIO_CONTROL_SUBCLASS
	acIface.InterfaceProtocol = usbaudio.IP_VERSION_02_00

	iad := &usb.InterfaceAssociationDescriptor{}
	iad.SetDefaults()
	iad.InterfaceCount = 3
	iad.FunctionClass = usbaudio.AUDIO_DEVICE_CLASS
	iad.FunctionSubClass = usbaudio.AUDIO_FUNCTION_SUBCLASS
	iad.FunctionProtocol = usbaudio.IP_VERSION_02_00
	acIface.IAD = iad

	clockSource := &usbaudio.ClockSourceDescriptor{}
	clockSource.SetDefaults()
	clockSource.ClockID = clockSourceID

	speakerIT := &usbaudio.InputTerminalDescriptor{}
	speakerIT.SetDefaults()
	speakerIT.TerminalID = speakerInputTerminalID
	speakerIT.TerminalType = usbaudio.TERMINAL_USB_STREAMING
	speakerIT.CSourceID = clockSourceID
	speakerIT.NrChannels = speakerChannels

	speakerFU := &usbaudio.FeatureUnitDescriptor{}
	speakerFU.UnitID = speakerFeatureUnitID
	speakerFU.SourceID = speakerInputTerminalID
	speakerFU.SetDefaults()

	speakerOT := &usbaudio.OutputTerminalDescriptor{}
	speakerOT.SetDefaults()
	speakerOT.TerminalID = speakerOutputTerminalID
	speakerOT.TerminalType = usbaudio.TERMINAL_SPEAKER
	speakerOT.SourceID = speakerFeatureUnitID
	speakerOT.CSourceID = clockSourceID

	pdmIT := &usbaudio.InputTerminalDescriptor{}
	pdmIT.SetDefaults()
	pdmIT.TerminalID = pdmInputTerminalID
	pdmIT.TerminalType = usbaudio.TERMINAL_MICROPHONE
	pdmIT.CSourceID = clockSourceID

	adcIT := &usbaudio.InputTerminalDescriptor{}
	adcIT.SetDefaults()
	adcIT.TerminalID = adcInputTerminalID
	adcIT.TerminalType = usbaudio.TERMINAL_MICROPHONE
	adcIT.CSourceID = clockSourceID

	micSelector := &usbaudio.SelectorUnitDescriptor{}
	micSelector.SetDefaults()
	micSelector.UnitID = micSelectorID
	micSelector.Sources = []uint8{pdmInputTerminalID, adcInputTerminalID}

	micOT := &usbaudio.OutputTerminalDescriptor{}
	micOT.SetDefaults()
	micOT.TerminalID = micOutputTerminalID
	micOT.TerminalType = usbaudio.TERMINAL_USB_STREAMING
	micOT.SourceID = micSelectorID
	micOT.CSourceID = clockSourceID

	acHeader := &usbaudio.ACHeaderDescriptor{}
	acHeader.SetDefaults()
	acHeader.StreamingInterfaces = []uint8{speakerASInterface, micASInterface}

	acIface.ClassDescriptors = [][]byte{
		acHeader.Bytes(),
		clockSource.Bytes(),
		speakerIT.Bytes(),
		speakerFU.Bytes(),
		speakerOT.Bytes(),
		pdmIT.Bytes(),
		adcIT.Bytes(),
		micSelector.Bytes(),
		micOT.Bytes(),
	}

	conf.AddInterface(acIface)

	// Speaker streaming interface: alt 0 (zero-bandwidth), alt 1 (active).
	speakerAlt0 := &usb.InterfaceDescriptor{}
	speakerAlt0.SetDefaults()
	speakerAlt0.NumEndpoints = 0
	speakerAlt0.InterfaceClass = usbaudio.AUDIO_DEVICE_CLASS
	speakerAlt0.InterfaceSubClass = usbaudio.AUDIO_STREAMING_SUBCLASS
	speakerAlt0.InterfaceProtocol = usbaudio.IP_VERSION_02_00
	conf.AddInterface(speakerAlt0)

	speakerGeneral := &usbaudio.ASGeneralDescriptor{}
	speakerGeneral.SetDefaults()
	speakerGeneral.TerminalLink = speakerInputTerminalID
	speakerGeneral.NrChannels = speakerChannels

	speakerFormat := &usbaudio.FormatTypeIDescriptor{}
	speakerFormat.SetDefaults()

	speakerAlt1 := &usb.InterfaceDescriptor{}
	speakerAlt1.SetDefaults()
	speakerAlt1.AlternateSetting = 1
	speakerAlt1.NumEndpoints = 2
	speakerAlt1.InterfaceClass = usbaudio.AUDIO_DEVICE_CLASS
	speakerAlt1.InterfaceSubClass = usbaudio.AUDIO_STREAMING_SUBCLASS
	speakerAlt1.InterfaceProtocol = usbaudio.IP_VERSION_02_00
	speakerAlt1.ClassDescriptors = [][]byte{speakerGeneral.Bytes(), speakerFormat.Bytes()}

	speakerASEP := &usbaudio.ASEndpointDescriptor{}
	speakerASEP.SetDefaults()

	speakerData := usbaudio.NewIsochronousEndpoint(
		epSpeakerOut, uint16(speakerPacketSize()), 1, usb.SYNC_ASYNC, usb.USAGE_DATA,
	)
	speakerData.SynchAddress = epSpeakerFeedback
	speakerData.ClassDescriptor = speakerASEP.Bytes()
	speakerData.Function = speakerOutFunction

	speakerFeedback := usbaudio.NewIsochronousEndpoint(
		epSpeakerFeedback, 4, 1, usb.SYNC_NONE, usb.USAGE_FEEDBACK,
	)
	speakerFeedback.Function = feedbackFunction

	speakerAlt1.Endpoints = []*usb.EndpointDescriptor{speakerData, speakerFeedback}
	conf.AddInterface(speakerAlt1)

	// Microphone streaming interface: alt 0 (zero-bandwidth), alt 1 (active).
	micAlt0 := &usb.InterfaceDescriptor{}
	micAlt0.SetDefaults()
	micAlt0.NumEndpoints = 0
	micAlt0.InterfaceClass = usbaudio.AUDIO_DEVICE_CLASS
	micAlt0.InterfaceSubClass = usbaudio.AUDIO_STREAMING_SUBCLASS
	micAlt0.InterfaceProtocol = usbaudio.IP_VERSION_02_00
	conf.AddInterface(micAlt0)

	micGeneral := &usbaudio.ASGeneralDescriptor{}
	micGeneral.SetDefaults()
	micGeneral.TerminalLink = micOutputTerminalID
	micGeneral.NrChannels = micChannels

	micFormat := &usbaudio.FormatTypeIDescriptor{}
	micFormat.SetDefaults()

	micAlt1 := &usb.InterfaceDescriptor{}
	micAlt1.SetDefaults()
	micAlt1.AlternateSetting = 1
	micAlt1.NumEndpoints = 1
	micAlt1.InterfaceClass = usbaudio.AUDIO_DEVICE_CLASS
	micAlt1.InterfaceSubClass = usbaudio.AUDIO_STREAMING_SUBCLASS
	micAlt1.InterfaceProtocol = usbaudio.IP_VERSION_02_00
	micAlt1.ClassDescriptors = [][]byte{micGeneral.Bytes(), micFormat.Bytes()}

	micASEP := &usbaudio.ASEndpointDescriptor{}
	micASEP.SetDefaults()

	micData := usbaudio.NewIsochronousEndpoint(
		epMicIn, uint16(micPacketSize()), 1, usb.SYNC_ASYNC, usb.USAGE_DATA,
	)
	micData.ClassDescriptor = micASEP.Bytes()
	micData.Function = micInFunction

	micAlt1.Endpoints = []*usb.EndpointDescriptor{micData}
	conf.AddInterface(micAlt1)

	device.AddConfiguration(conf)
}

// speakerOutFunction receives host-transmitted speaker data and stages it
// in playback, per usb.EndpointFunction's OUT contract.
func speakerOutFunction(out []byte, _ error) (res []byte, err error) {
	if len(out) == 0 {
		return nil, nil
	}

	dst, err := playback.Enqueue(len(out))
	if err != nil {
		return nil, nil
	}

	copy(dst, out)

	return nil, nil
}

// micInFunction supplies the next capture packet for transmission to the
// host, per usb.EndpointFunction's IN contract.
func micInFunction(_ []byte, _ error) (res []byte, err error) {
	res, err = capture.Dequeue(int(micPacketSize()))
	if err == audio.ErrUnderflow {
		return make([]byte, micPacketSize()), nil
	}

	return res, err
}
