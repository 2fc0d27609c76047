// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rtfmri-foundation/rtfmri/lib/fault"
	"github.com/rtfmri-foundation/rtfmri/session"
	"github.com/rtfmri-foundation/rtfmri/wire"
)

func TestRenderReport(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	path := wire.IDPath{}.With(wire.LevelExperiment, wire.NewID(1)).With(wire.LevelSession, wire.NewID(1))
	report := &session.Report{
		Model:    "base",
		Misses:   1,
		Started:  started,
		Finished: started.Add(1500 * time.Millisecond),
		Replies: []session.ReplyRecord{
			{Event: wire.EventStartSession, Result: wire.ResultSuccess, Path: path, Lines: []string{"Start session 1"}},
			{Event: wire.EventTRData, Result: wire.ResultSuccess, Path: path, Prediction: &wire.Prediction{Volume: 1}},
			{Event: wire.EventTRData, Result: wire.ResultWarning, Path: path, MissedDeadline: true,
				RecoveryHandle: "handle-1", Code: fault.CodeMissedDeadline},
		},
		Files:    map[string][]byte{"trial-1.txt": []byte("vol 1\n")},
		Deferred: map[string]*wire.Prediction{"handle-1": nil},
	}

	var output strings.Builder
	renderReport(&output, report, errors.New("aborted on warning"))
	text := output.String()

	for _, want := range []string{
		"aborted: aborted on warning",
		"base",
		"1.5s",
		"StartSession",
		"Start session 1",
		"vol 1 catsep 0.0000",
		"missed deadline, handle handle-1",
		"trial-1.txt",
		"6 B",
		"handle-1 pending",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report lacks %q:\n%s", want, text)
		}
	}
	if countEvent(report, wire.EventTRData) != 2 {
		t.Errorf("countEvent(TRData) = %d, want 2", countEvent(report, wire.EventTRData))
	}
}

func TestWriteFiles(t *testing.T) {
	dir := t.TempDir()
	err := writeFiles(dir, map[string][]byte{
		"experiment-1/session-1/run-1/trial-1.txt": []byte("vol 1\n"),
	})
	if err != nil {
		t.Fatalf("writeFiles: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "experiment-1", "session-1", "run-1", "trial-1.txt"))
	if err != nil || string(data) != "vol 1\n" {
		t.Errorf("written file = %q, %v", data, err)
	}

	if err := writeFiles(dir, map[string][]byte{"../escape.txt": nil}); err == nil {
		t.Error("writeFiles accepted a name outside the output directory")
	}
}
