// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package pulse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rtfmri-foundation/rtfmri/lib/clock"
)

// DefaultRetryDelay is how long Relay waits before reopening a trigger
// device that failed.
const DefaultRetryDelay = 30 * time.Second

// Sender publishes one pulse. *Broadcaster implements it.
type Sender interface {
	Send(t time.Time) error
}

// Relay turns scanner trigger bytes into pulse broadcasts. The trigger
// box writes one ASCII digit per acquisition; every other byte is
// ignored.
type Relay struct {
	// Open returns a fresh stream of trigger bytes, typically a serial
	// device.
	Open   func() (io.ReadCloser, error)
	Sender Sender

	// RetryDelay defaults to DefaultRetryDelay.
	RetryDelay time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Run relays triggers until ctx ends, reopening the source after a
// failure. It returns nil on cancellation and an error only when a
// pulse cannot be sent.
func (r *Relay) Run(ctx context.Context) error {
	clk := r.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	retry := r.RetryDelay
	if retry <= 0 {
		retry = DefaultRetryDelay
	}

	for {
		source, err := r.Open()
		if err == nil {
			err = r.relay(ctx, source, clk, logger)
			source.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		var sendErr *sendError
		if errors.As(err, &sendErr) {
			return sendErr.err
		}
		logger.Warn("trigger source failed, retrying", "error", err, "retry_in", retry)
		select {
		case <-ctx.Done():
			return nil
		case <-clk.After(retry):
		}
	}
}

type sendError struct{ err error }

func (e *sendError) Error() string { return e.err.Error() }

func (r *Relay) relay(ctx context.Context, source io.ReadCloser, clk clock.Clock, logger *slog.Logger) error {
	stop := context.AfterFunc(ctx, func() { source.Close() })
	defer stop()

	reader := bufio.NewReader(source)
	for {
		b, err := reader.ReadByte()
		if err != nil {
			if err == io.EOF {
				return errors.New("trigger source closed")
			}
			return fmt.Errorf("reading trigger: %w", err)
		}
		if b < '0' || b > '9' {
			continue
		}
		now := clk.Now()
		if err := r.Sender.Send(now); err != nil {
			return &sendError{err: err}
		}
		logger.Debug("pulse sent", "trigger", string(b), "timestamp", now)
	}
}

// Simulate sends a pulse every interval until ctx ends or count pulses
// have gone out. A count of zero means no limit.
func Simulate(ctx context.Context, sender Sender, clk clock.Clock, interval time.Duration, count int) error {
	if clk == nil {
		clk = clock.Real()
	}
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	for sent := 0; count == 0 || sent < count; sent++ {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := sender.Send(now); err != nil {
				return err
			}
		}
	}
	return nil
}
