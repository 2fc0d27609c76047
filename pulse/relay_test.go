// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package pulse

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rtfmri-foundation/rtfmri/lib/clock"
)

type recordingSender struct {
	sent chan time.Time
	fail error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(chan time.Time, 16)}
}

func (s *recordingSender) Send(t time.Time) error {
	if s.fail != nil {
		return s.fail
	}
	s.sent <- t
	return nil
}

func (s *recordingSender) expect(t *testing.T, want time.Time) {
	t.Helper()
	select {
	case got := <-s.sent:
		if !got.Equal(want) {
			t.Errorf("pulse at %v, want %v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no pulse sent")
	}
}

var relayEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestRelaySendsDigitTriggers(t *testing.T) {
	clk := clock.Fake(relayEpoch)
	sender := newRecordingSender()
	reader, writer := io.Pipe()
	relay := &Relay{
		Open:   func() (io.ReadCloser, error) { return reader, nil },
		Sender: sender,
		Clock:  clk,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	if _, err := writer.Write([]byte("5\r\n7")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	sender.expect(t, relayEpoch)
	sender.expect(t, relayEpoch)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil after cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	select {
	case extra := <-sender.sent:
		t.Errorf("unexpected pulse at %v for a non-digit byte", extra)
	default:
	}
}

func TestRelayReopensFailedSource(t *testing.T) {
	clk := clock.Fake(relayEpoch)
	sender := newRecordingSender()
	opens := 0
	relay := &Relay{
		Open: func() (io.ReadCloser, error) {
			opens++
			if opens == 1 {
				return nil, errors.New("no such device")
			}
			return io.NopCloser(strings.NewReader("3")), nil
		},
		Sender:     sender,
		RetryDelay: time.Second,
		Clock:      clk,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	clk.WaitForTimers(1)
	clk.Advance(time.Second)
	sender.expect(t, relayEpoch.Add(time.Second))

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestRelayStopsWhenSendFails(t *testing.T) {
	sender := newRecordingSender()
	sender.fail = errors.New("network unreachable")
	relay := &Relay{
		Open:   func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("1")), nil },
		Sender: sender,
		Clock:  clock.Fake(relayEpoch),
	}
	if err := relay.Run(context.Background()); !errors.Is(err, sender.fail) {
		t.Errorf("Run = %v, want the send failure", err)
	}
}

func TestSimulate(t *testing.T) {
	clk := clock.Fake(relayEpoch)
	sender := newRecordingSender()
	done := make(chan error, 1)
	go func() { done <- Simulate(context.Background(), sender, clk, 2*time.Second, 3) }()

	for i := 1; i <= 3; i++ {
		clk.WaitForTimers(1)
		clk.Advance(2 * time.Second)
		sender.expect(t, relayEpoch.Add(time.Duration(i)*2*time.Second))
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Simulate = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Simulate did not stop after its count")
	}
}
