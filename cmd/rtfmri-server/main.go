// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// rtfmri-server is the processing side of a real-time fMRI session. It
// accepts one scanner client at a time, tracks the experiment
// hierarchy, runs trials against their deadlines and keeps late trial
// results for later retrieval.
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

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/rtfmri-foundation/rtfmri/datafiles"
	"github.com/rtfmri-foundation/rtfmri/lib/clock"
	"github.com/rtfmri-foundation/rtfmri/lib/codeid"
	"github.com/rtfmri-foundation/rtfmri/lib/config"
	"github.com/rtfmri-foundation/rtfmri/lib/process"
	"github.com/rtfmri-foundation/rtfmri/lib/version"
	"github.com/rtfmri-foundation/rtfmri/model"
	"github.com/rtfmri-foundation/rtfmri/resultstore"
	"github.com/rtfmri-foundation/rtfmri/server"
	"github.com/rtfmri-foundation/rtfmri/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		listen      string
		dataDir     string
		resultsDB   string
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("rtfmri-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to rtfmri.yaml (default: $"+config.EnvVar+")")
	flagSet.StringVar(&listen, "listen", "", "TCP address to accept the client on")
	flagSet.StringVar(&dataDir, "data-dir", "", "directory for session data files")
	flagSet.StringVar(&resultsDB, "results-db", "", "SQLite file for late trial results")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("rtfmri-server")
		return nil
	}

	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("listen") {
		cfg.Server.Listen = listen
	}
	if flagSet.Changed("data-dir") {
		cfg.Server.DataDir = dataDir
	}
	if flagSet.Changed("results-db") {
		cfg.Server.ResultsDB = resultsDB
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	if _, err := model.Lookup(cfg.Server.DefaultModel); err != nil {
		return fmt.Errorf("server.default_model: %w", err)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := process.NewLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tlsConfig, err := cfg.Server.TLS.ServerTLS()
	if err != nil {
		return err
	}

	files, err := datafiles.Open(cfg.Server.DataDir)
	if err != nil {
		return err
	}
	defer files.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.Server.ResultsDB), 0o755); err != nil {
		return fmt.Errorf("creating results directory: %w", err)
	}
	results, err := resultstore.Open(resultstore.Config{Path: cfg.Server.ResultsDB, Logger: logger})
	if err != nil {
		return err
	}
	defer results.Close()

	codeID, err := codeid.Self()
	if err != nil {
		logger.Warn("code identity unavailable, version check disabled", "error", err)
	}

	listener, err := transport.Listen(cfg.Server.Listen, tlsConfig, logger)
	if err != nil {
		return err
	}
	defer listener.Close()

	logger.Info("rtfmri-server starting",
		"version", version.Info(),
		"listen", listener.Address(),
		"tls", tlsConfig != nil,
		"data_dir", files.Dir(),
		"results_db", cfg.Server.ResultsDB,
		"max_transfer", humanize.IBytes(uint64(cfg.Server.MaxTransfer)),
	)

	srv := server.New(server.Config{
		Listener:     listener,
		DefaultModel: cfg.Server.DefaultModel,
		Files:        files,
		Results:      results,
		MaxTransfer:  cfg.Server.MaxTransfer,
		CodeID:       codeID,
		Clock:        clock.Real(),
		Logger:       logger,
	})
	err = srv.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted, shutting down")
		return nil
	}
	return err
}
