// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"
	"unsafe"

	"github.com/gordonklaus/portaudio"
	"golang.org/x/time/rate"

	"github.com/charmbracelet/log"

	"github.com/usbarmory/tamago-audio/audio"
	"github.com/usbarmory/tamago-audio/dma"
)

// Config carries the command-line-derived simulation parameters.
type Config struct {
	SampleRate   int
	Channels     int
	PacketFrames int
	NodeCount    int
}

const bytesPerSample = 2 // int16 PCM, matching portaudio's default sample format

func (c Config) packetBytes() int {
	return c.PacketFrames * c.Channels * bytesPerSample
}

// Loopback wires a host microphone, through a capture audio.UMBuffer and a
// playback audio.UMBuffer, back out to a host speaker. The two UMBuffers
// never talk to each other directly: a rate.Limiter-paced goroutine stands
// in for the USB host, calling Dequeue on the capture buffer and Enqueue on
// the playback buffer once per simulated microframe, exactly as
// soc/nxp/usb's endpoint handlers would from RX-done/TX-preload context.
type Loopback struct {
	cfg    Config
	logger *log.Logger

	region *dma.Region

	capture  *audio.UMBuffer
	playback *audio.UMBuffer

	captureDriver  *hwDriver
	playbackDriver *hwDriver

	inStream  *portaudio.Stream
	outStream *portaudio.Stream

	captureCh  chan []byte
	playbackCh chan []byte

	limiter *rate.Limiter
	stop    chan struct{}
	done    chan struct{}
}

// NewLoopback constructs the staging buffers and opens the host audio
// streams, but does not yet start the SOF pacer or arm any DMA.
func NewLoopback(cfg Config, logger *log.Logger) (*Loopback, error) {
	l := &Loopback{cfg: cfg, logger: logger}

	nodeBytes := cfg.packetBytes() * cfg.PacketFrames * cfg.NodeCount
	// one region backs both buffers' node pools plus their CA buckets,
	// sized generously since host memory, unlike the target's SRAM, is
	// not a scarce resource here.
	regionSize := 4 * nodeBytes

	backing := make([]byte, regionSize)
	start := uint(uintptr(unsafe.Pointer(&backing[0])))

	l.region = &dma.Region{}
	l.region.Init(start, uint(regionSize))

	period := time.Duration(cfg.PacketFrames) * time.Second / time.Duration(cfg.SampleRate)

	l.captureDriver = newHWDriver("capture", logger, period)
	l.playbackDriver = newHWDriver("playback", logger, period)

	l.captureCh = make(chan []byte, cfg.NodeCount)
	l.playbackCh = make(chan []byte, cfg.NodeCount)

	l.captureDriver.pull = func(buf []byte) {
		select {
		case samples := <-l.captureCh:
			copy(buf, samples)
		default:
			for i := range buf {
				buf[i] = 0
			}
		}
	}

	l.playbackDriver.push = func(buf []byte) {
		cp := make([]byte, len(buf))
		copy(cp, buf)

		select {
		case l.playbackCh <- cp:
		default:
			// host speaker feeder fell behind; drop this half rather
			// than block the simulated DMA completion.
		}
	}

	capBuf, err := audio.NewUMBuffer(audio.Config{
		Region:        l.region,
		PacketSize:    uint32(cfg.packetBytes()),
		MaxPacketSize: uint32(cfg.packetBytes()),
		FramesPerNode: uint32(cfg.PacketFrames),
		NodeCount:     cfg.NodeCount,
		Policy:        audio.PolicyDropHalf,
		Play:          l.captureDriver.Play,
		PauseResume:   l.captureDriver.PauseResume,
	})
	if err != nil {
		return nil, fmt.Errorf("capture buffer: %w", err)
	}
	l.capture = capBuf
	l.captureDriver.bind(capBuf)

	playBuf, err := audio.NewUMBuffer(audio.Config{
		Region:        l.region,
		PacketSize:    uint32(cfg.packetBytes()),
		MaxPacketSize: uint32(cfg.packetBytes()),
		FramesPerNode: uint32(cfg.PacketFrames),
		NodeCount:     cfg.NodeCount,
		Policy:        audio.PolicyDropHalf,
		Play:          l.playbackDriver.Play,
		PauseResume:   l.playbackDriver.PauseResume,
	})
	if err != nil {
		return nil, fmt.Errorf("playback buffer: %w", err)
	}
	l.playback = playBuf
	l.playbackDriver.bind(playBuf)

	if err := l.openStreams(); err != nil {
		return nil, err
	}

	l.limiter = rate.NewLimiter(rate.Every(period), 1)
	l.stop = make(chan struct{})
	l.done = make(chan struct{})

	return l, nil
}

func (l *Loopback) openStreams() (err error) {
	inDevice, err := portaudio.DefaultInputDevice()
	if err != nil {
		return fmt.Errorf("default input device: %w", err)
	}

	outDevice, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return fmt.Errorf("default output device: %w", err)
	}

	inBuf := make([]int16, l.cfg.PacketFrames*l.cfg.Channels)

	inParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inDevice,
			Channels: l.cfg.Channels,
			Latency:  inDevice.DefaultLowInputLatency,
		},
		SampleRate:      float64(l.cfg.SampleRate),
		FramesPerBuffer: l.cfg.PacketFrames,
	}

	l.inStream, err = portaudio.OpenStream(inParams, inBuf)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}

	outBuf := make([]int16, l.cfg.PacketFrames*l.cfg.Channels)

	outParams := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outDevice,
			Channels: l.cfg.Channels,
			Latency:  outDevice.DefaultLowOutputLatency,
		},
		SampleRate:      float64(l.cfg.SampleRate),
		FramesPerBuffer: l.cfg.PacketFrames,
	}

	l.outStream, err = portaudio.OpenStream(outParams, outBuf)
	if err != nil {
		l.inStream.Close()
		return fmt.Errorf("open output stream: %w", err)
	}

	go l.captureFeeder(inBuf)
	go l.playbackFeeder(outBuf)

	return nil
}

// captureFeeder reads host microphone samples and converts them into the
// little-endian byte stream the UMBuffer ring expects, handing each period
// to the capture driver's pull closure via captureCh.
func (l *Loopback) captureFeeder(buf []int16) {
	for {
		if err := l.inStream.Read(); err != nil {
			return
		}

		raw := make([]byte, len(buf)*bytesPerSample)
		for i, s := range buf {
			binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
		}

		select {
		case l.captureCh <- raw:
		case <-l.stop:
			return
		}
	}
}

// playbackFeeder drains bytes handed to it by the playback driver's push
// closure and writes them to the host speaker.
func (l *Loopback) playbackFeeder(buf []int16) {
	for {
		select {
		case raw := <-l.playbackCh:
			for i := range buf {
				if i*2+1 < len(raw) {
					buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
				} else {
					buf[i] = 0
				}
			}
		case <-l.stop:
			return
		default:
			for i := range buf {
				buf[i] = 0
			}
		}

		if err := l.outStream.Write(); err != nil {
			return
		}
	}
}

// Start starts the host audio streams opened by NewLoopback and begins the
// SOF pacer.
func (l *Loopback) Start() error {
	if err := l.inStream.Start(); err != nil {
		return fmt.Errorf("start input stream: %w", err)
	}

	if err := l.outStream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}

	go l.run()

	return nil
}

// run is the simulated USB host: once per microframe period it dequeues a
// packet from the capture buffer and enqueues the same payload into the
// playback buffer, exactly as a real host would echo a UAC2 IN transfer
// back out an OUT transfer.
func (l *Loopback) run() {
	defer close(l.done)

	for {
		if err := l.limiter.Wait(context.Background()); err != nil {
			return
		}

		select {
		case <-l.stop:
			return
		default:
		}

		in, err := l.capture.Dequeue(l.cfg.packetBytes())
		if err != nil && err != audio.ErrUnderflow {
			l.logger.Warn("capture dequeue error", "err", err)
			continue
		}

		out, err := l.playback.Enqueue(l.cfg.packetBytes())
		if err != nil {
			l.logger.Debug("playback enqueue dropped", "err", err)
			continue
		}

		copy(out, in)
	}
}

// Stop halts the SOF pacer and both staging buffers.
func (l *Loopback) Stop() {
	close(l.stop)
	<-l.done

	l.capture.Pause()
	l.playback.Pause()
}

// Close releases the host audio streams and the staging buffers' backing
// region.
func (l *Loopback) Close() {
	if l.inStream != nil {
		l.inStream.Close()
	}
	if l.outStream != nil {
		l.outStream.Close()
	}

	l.capture.Release()
	l.playback.Release()
}
