// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package clocksync estimates the offset between the client's clock and
// the server's from a series of timestamped round trips.
//
// Each round records the local send time t1, the server's clock S when
// it built the reply, and the local receive time t2. With a = S-t1 and
// b = S-t2, the round trip is a-b and the offset estimate is (a+b)/2,
// exact when the two legs take equal time. The estimate from the
// fastest round is kept, since queuing delay is what makes the legs
// unequal.
package clocksync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rtfmri-foundation/rtfmri/lib/clock"
)

// DefaultIterations is the number of rounds in a normal run.
const DefaultIterations = 30

// Exchanger performs one synchronization round trip and returns the
// server's clock reading.
type Exchanger interface {
	SyncClock(ctx context.Context) (time.Time, error)
}

// Estimate is the result of a run. Skew is server time minus client
// time. It is computed once per session and not modified afterwards.
type Estimate struct {
	Skew   time.Duration
	MinRTT time.Duration
	MaxRTT time.Duration
}

// ServerTime converts a client clock reading to the server's clock.
func (e Estimate) ServerTime(local time.Time) time.Time {
	return local.Add(e.Skew)
}

// Sample is one round's observations.
type Sample struct {
	Sent     time.Time
	Server   time.Time
	Received time.Time
}

// RTT is the round trip time of the sample.
func (s Sample) RTT() time.Duration { return s.Received.Sub(s.Sent) }

// Skew is the offset estimate of the sample.
func (s Sample) Skew() time.Duration {
	a := s.Server.Sub(s.Sent)
	b := s.Server.Sub(s.Received)
	return (a + b) / 2
}

// Run performs iterations rounds over exchanger and combines them.
// Any failed round fails the run.
func Run(ctx context.Context, exchanger Exchanger, clk clock.Clock, iterations int) (Estimate, error) {
	if iterations <= 0 {
		return Estimate{}, fmt.Errorf("clock sync: iterations must be positive, got %d", iterations)
	}
	samples := make([]Sample, 0, iterations)
	for round := range iterations {
		sent := clk.Now()
		server, err := exchanger.SyncClock(ctx)
		if err != nil {
			return Estimate{}, fmt.Errorf("clock sync round %d: %w", round+1, err)
		}
		samples = append(samples, Sample{Sent: sent, Server: server, Received: clk.Now()})
	}
	return Combine(samples)
}

// Combine reduces samples to an estimate: skew from the minimum-RTT
// sample (the first one on ties), plus the RTT range.
func Combine(samples []Sample) (Estimate, error) {
	if len(samples) == 0 {
		return Estimate{}, errors.New("clock sync: no samples")
	}
	best := samples[0]
	maxRTT := best.RTT()
	for _, sample := range samples[1:] {
		rtt := sample.RTT()
		if rtt < best.RTT() {
			best = sample
		}
		maxRTT = max(maxRTT, rtt)
	}
	if best.RTT() < 0 {
		return Estimate{}, fmt.Errorf("clock sync: negative round trip %v; local clock went backwards", best.RTT())
	}
	return Estimate{Skew: best.Skew(), MinRTT: best.RTT(), MaxRTT: maxRTT}, nil
}
