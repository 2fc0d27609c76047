// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package pulse

import (
	"context"
	"log/slog"
	"time"

	"github.com/rtfmri-foundation/rtfmri/lib/clock"
)

// StaleFactor times the TR interval is how long a pulse stays usable.
const StaleFactor = 1.5

// Watchdog clears a Cell whose reading is older than StaleFactor TR
// intervals.
type Watchdog struct {
	Cell       *Cell
	TRInterval time.Duration
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Run checks the cell four times per TR interval until ctx ends.
func (w *Watchdog) Run(ctx context.Context) {
	clk := w.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limit := time.Duration(StaleFactor * float64(w.TRInterval))
	ticker := clk.NewTicker(w.TRInterval / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if w.check(now, limit) {
				logger.Warn("pulses stopped, clearing last pulse", "stale_after", limit)
			}
		}
	}
}

// check clears the cell if its reading is older than limit at now and
// reports whether it did.
func (w *Watchdog) check(now time.Time, limit time.Duration) bool {
	reading := w.Cell.latest.Load()
	if reading == nil || now.Sub(reading.ReceivedAt) <= limit {
		return false
	}
	return w.Cell.clearIfUnchanged(reading)
}
