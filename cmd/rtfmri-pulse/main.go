// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// rtfmri-pulse broadcasts scanner acquisition pulses to rtfmri-client.
// It reads trigger digits from the scanner's serial trigger box, or,
// with --interval, emits pulses on a fixed cadence for bench testing.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rtfmri-foundation/rtfmri/lib/clock"
	"github.com/rtfmri-foundation/rtfmri/lib/config"
	"github.com/rtfmri-foundation/rtfmri/lib/process"
	"github.com/rtfmri-foundation/rtfmri/lib/version"
	"github.com/rtfmri-foundation/rtfmri/pulse"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		target      string
		device      string
		interval    time.Duration
		count       int
		retryDelay  time.Duration
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("rtfmri-pulse", pflag.ContinueOnError)
	flagSet.StringVar(&target, "target", fmt.Sprintf("255.255.255.255:%d", pulse.DefaultPort), "broadcast address pulses are sent to")
	flagSet.StringVar(&device, "device", "/dev/ttyUSB0", "trigger device to read from")
	flagSet.DurationVar(&interval, "interval", 0, "send simulated pulses at this cadence instead of reading --device")
	flagSet.IntVar(&count, "count", 0, "stop after this many simulated pulses (0 = unlimited)")
	flagSet.DurationVar(&retryDelay, "retry-delay", pulse.DefaultRetryDelay, "wait before reopening a failed device")
	flagSet.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("rtfmri-pulse")
		return nil
	}

	level, err := config.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := process.NewLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broadcaster, err := pulse.NewBroadcaster(ctx, target)
	if err != nil {
		return err
	}
	defer broadcaster.Close()

	if interval > 0 {
		logger.Info("sending simulated pulses", "target", target, "interval", interval, "count", count)
		return pulse.Simulate(ctx, broadcaster, clock.Real(), interval, count)
	}

	logger.Info("relaying trigger pulses", "device", device, "target", target)
	relay := &pulse.Relay{
		Open: func() (io.ReadCloser, error) {
			return os.Open(device)
		},
		Sender:     broadcaster,
		RetryDelay: retryDelay,
		Logger:     logger,
	}
	return relay.Run(ctx)
}
