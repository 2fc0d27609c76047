// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", name, err)
	}
	return path
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv(EnvVar, "")
	_, err := Load()
	if err == nil {
		t.Fatal("Load succeeded without RTFMRI_CONFIG")
	}
	if !strings.HasPrefix(err.Error(), "RTFMRI_CONFIG environment variable not set") {
		t.Errorf("error = %q", err)
	}
}

func TestLoadFileMergesDefaultsAndResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RTFMRI_TEST_ROOT", "/srv/rtfmri")
	path := writeFile(t, dir, "rtfmri.yaml", `
log_level: debug
server:
  listen: "127.0.0.1:6000"
  data_dir: "${RTFMRI_TEST_ROOT}/data"
  results_db: results/deferred.db
client:
  experiment: study.yaml
  real_time: true
  tr_interval: 1500ms
  retrieve: [summary.txt]
`)
	t.Setenv(EnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:6000" {
		t.Errorf("server.listen = %q", cfg.Server.Listen)
	}
	if cfg.Server.DataDir != "/srv/rtfmri/data" {
		t.Errorf("server.data_dir = %q, want expanded variable", cfg.Server.DataDir)
	}
	if want := filepath.Join(dir, "results", "deferred.db"); cfg.Server.ResultsDB != want {
		t.Errorf("server.results_db = %q, want %q", cfg.Server.ResultsDB, want)
	}
	if cfg.Server.MaxTransfer != DefaultMaxTransfer {
		t.Errorf("server.max_transfer = %d, want default", cfg.Server.MaxTransfer)
	}
	if cfg.Client.TRInterval != 1500*time.Millisecond {
		t.Errorf("client.tr_interval = %v", cfg.Client.TRInterval)
	}
	if cfg.Client.SyncIterations != 30 {
		t.Errorf("client.sync_iterations = %d, want default 30", cfg.Client.SyncIterations)
	}
	if want := filepath.Join(dir, "study.yaml"); cfg.Client.Experiment != want {
		t.Errorf("client.experiment = %q, want %q", cfg.Client.Experiment, want)
	}
	if err := cfg.ValidateServer(); err != nil {
		t.Errorf("ValidateServer: %v", err)
	}
	if err := cfg.ValidateClient(); err != nil {
		t.Errorf("ValidateClient: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.Client.TRInterval = 0
	cfg.Client.TLS.Cert = "client.pem"

	err := cfg.ValidateClient()
	if err == nil {
		t.Fatal("ValidateClient accepted an invalid config")
	}
	for _, fragment := range []string{"client.experiment", "client.tr_interval", "cert and key", "log_level"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q does not mention %q", err, fragment)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, want := range tests {
		got, err := ParseLevel(name)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
}

func TestTLSDisabledReturnsNil(t *testing.T) {
	server, err := TLSConfig{}.ServerTLS()
	if err != nil || server != nil {
		t.Errorf("ServerTLS() = %v, %v; want nil, nil", server, err)
	}
	client, err := TLSConfig{}.ClientTLS()
	if err != nil || client != nil {
		t.Errorf("ClientTLS() = %v, %v; want nil, nil", client, err)
	}
}

func TestTLSBadCABundle(t *testing.T) {
	ca := writeFile(t, t.TempDir(), "ca.pem", "not a certificate")
	if _, err := (TLSConfig{CA: ca}).ClientTLS(); err == nil {
		t.Error("ClientTLS accepted a CA bundle without certificates")
	}
}
