// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// rtfmri-client drives one real-time fMRI session from the scanner
// side: it walks the experiment structure, streams each trial volume
// to rtfmri-server and prints a summary of the replies.
//
// Configuration comes from the file named by --config or RTFMRI_CONFIG;
// the flags below override individual fields.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rtfmri-foundation/rtfmri/lib/codeid"
	"github.com/rtfmri-foundation/rtfmri/lib/config"
	"github.com/rtfmri-foundation/rtfmri/lib/process"
	"github.com/rtfmri-foundation/rtfmri/lib/version"
	"github.com/rtfmri-foundation/rtfmri/pulse"
	"github.com/rtfmri-foundation/rtfmri/session"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath      string
		address         string
		experimentPath  string
		modelName       string
		realTime        bool
		trInterval      time.Duration
		retrieve        []string
		outputDir       string
		collectDeferred bool
		shutdown        bool
		acceptWarnings  bool
		pulseListen     string
		logLevel        string
		showVersion     bool
	)
	flagSet := pflag.NewFlagSet("rtfmri-client", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to rtfmri.yaml (default: $"+config.EnvVar+")")
	flagSet.StringVar(&address, "address", "", "server address, host:port")
	flagSet.StringVar(&experimentPath, "experiment", "", "experiment structure file (YAML or JSONC)")
	flagSet.StringVar(&modelName, "model", "", "model type requested from the server")
	flagSet.BoolVar(&realTime, "real-time", false, "attach deadlines to trial commands")
	flagSet.DurationVar(&trInterval, "tr-interval", 0, "acquisition cadence")
	flagSet.StringSliceVar(&retrieve, "retrieve", nil, "data files to fetch before the session ends")
	flagSet.StringVar(&outputDir, "output", "", "directory to write retrieved files to")
	flagSet.BoolVar(&collectDeferred, "collect-deferred", false, "fetch late trial results before the session ends")
	flagSet.BoolVar(&shutdown, "shutdown", false, "stop the server after the session")
	flagSet.BoolVar(&acceptWarnings, "accept-warnings", false, "continue past warnings without asking")
	flagSet.StringVar(&pulseListen, "pulse-listen", "", "UDP address to receive scanner pulses on")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("rtfmri-client")
		return nil
	}

	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	client := &cfg.Client
	if flagSet.Changed("address") {
		client.Address = address
	}
	if flagSet.Changed("experiment") {
		client.Experiment = experimentPath
	}
	if flagSet.Changed("model") {
		client.Model = modelName
	}
	if flagSet.Changed("real-time") {
		client.RealTime = realTime
	}
	if flagSet.Changed("tr-interval") {
		client.TRInterval = trInterval
	}
	if flagSet.Changed("retrieve") {
		client.Retrieve = retrieve
	}
	if flagSet.Changed("shutdown") {
		client.Shutdown = shutdown
	}
	if flagSet.Changed("accept-warnings") {
		client.AcceptWarnings = acceptWarnings
	}
	if flagSet.Changed("pulse-listen") {
		client.Pulse.Listen = pulseListen
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.ValidateClient(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	experiment, err := config.LoadExperiment(client.Experiment)
	if err != nil {
		return err
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := process.NewLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tlsConfig, err := client.TLS.ClientTLS()
	if err != nil {
		return err
	}

	codeID, err := codeid.Self()
	if err != nil {
		logger.Warn("code identity unavailable", "error", err)
	}

	options := session.Options{
		Experiment:      experiment,
		Model:           client.Model,
		CodeID:          codeID,
		RealTime:        client.RealTime,
		TRInterval:      client.TRInterval,
		SyncIterations:  client.SyncIterations,
		Retrieve:        client.Retrieve,
		CollectDeferred: collectDeferred,
		Shutdown:        client.Shutdown,
		Decider:         newDecider(client.AcceptWarnings, logger),
		Logger:          logger,
	}

	if client.Pulse.Listen != "" {
		cell := &pulse.Cell{}
		listener, err := pulse.Listen(ctx, pulse.ListenerConfig{
			Address: client.Pulse.Listen,
			Cell:    cell,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := listener.Run(ctx); err != nil {
				logger.Error("pulse listener stopped", "error", err)
			}
		}()
		watchdog := &pulse.Watchdog{Cell: cell, TRInterval: client.TRInterval, Logger: logger}
		go watchdog.Run(ctx)
		logger.Info("listening for scanner pulses", "address", listener.Address())
		options.Pulses = cell
	}

	logger.Info("starting session",
		"version", version.Info(),
		"address", client.Address,
		"experiment", experiment.ID,
		"session", experiment.Session,
		"trials", experiment.TrialCount(),
		"real_time", client.RealTime,
	)

	report, sessionErr := session.RunSession(ctx, client.Address, tlsConfig, options)
	if report != nil {
		renderReport(os.Stdout, report, sessionErr)
		if outputDir != "" {
			if err := writeFiles(outputDir, report.Files); err != nil {
				return errors.Join(sessionErr, err)
			}
		}
	}
	return sessionErr
}

// writeFiles stores retrieved files under dir, keeping their relative
// names.
func writeFiles(dir string, files map[string][]byte) error {
	for name, data := range files {
		if !filepath.IsLocal(name) {
			return fmt.Errorf("refusing to write retrieved file %q outside %s", name, dir)
		}
		target := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", name, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}
