// audiosim runs the UAC2 staging buffer core against real host audio
// hardware, without a USB controller or DMA engine in the loop.
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// audiosim wires a host microphone, through audio.UMBuffer's capture and
// playback paths, back out to a host speaker — a loopback exercising the
// core's producer/consumer/congestion logic with real audio hardware
// standing in for the SAI/PDM/ADC drivers and a rate.Limiter standing in
// for USB Start-of-Frame pacing. It builds and runs on any host portaudio
// supports; it is not part of the bare-metal target.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gordonklaus/portaudio"
	"github.com/spf13/pflag"

	"github.com/charmbracelet/log"
)

func main() {
	var (
		sampleRate   = pflag.IntP("rate", "r", 48000, "Sample rate in Hz.")
		channels     = pflag.IntP("channels", "c", 2, "Channel count.")
		packetFrames = pflag.IntP("packet-frames", "f", 48, "PCM frames per simulated isochronous packet.")
		nodeCount    = pflag.IntP("nodes", "n", 4, "Ring node count per staging buffer.")
		verbose      = pflag.BoolP("verbose", "v", false, "Enable debug logging.")
		help         = pflag.Bool("help", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: audiosim [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Loops host microphone input back to host speaker output through the\n")
		fmt.Fprintf(os.Stderr, "UAC2 staging buffer core (audio.UMBuffer), for development off-target.\n\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		return
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           log.InfoLevel,
	})

	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	cfg := Config{
		SampleRate:   *sampleRate,
		Channels:     *channels,
		PacketFrames: *packetFrames,
		NodeCount:    *nodeCount,
	}

	if err := portaudio.Initialize(); err != nil {
		logger.Fatal("portaudio init failed", "err", err)
	}
	defer portaudio.Terminate()

	sim, err := NewLoopback(cfg, logger)
	if err != nil {
		logger.Fatal("loopback setup failed", "err", err)
	}
	defer sim.Close()

	if err := sim.Start(); err != nil {
		logger.Fatal("loopback start failed", "err", err)
	}
	defer sim.Stop()

	logger.Info("audiosim running",
		"rate", cfg.SampleRate, "channels", cfg.Channels,
		"packet_frames", cfg.PacketFrames, "nodes", cfg.NodeCount)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
}
