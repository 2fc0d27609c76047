// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package clocksync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rtfmri-foundation/rtfmri/lib/clock"
)

// simulatedLink advances the client's fake clock by the request delay,
// reads the server clock (client time plus a true offset), then
// advances by the reply delay. Per-round jitter is added to the
// request leg.
type simulatedLink struct {
	clock    *clock.FakeClock
	offset   time.Duration
	request  time.Duration
	reply    time.Duration
	jitter   []time.Duration
	round    int
	failAt   int
	failWith error
}

func (l *simulatedLink) SyncClock(context.Context) (time.Time, error) {
	l.round++
	if l.failAt == l.round {
		return time.Time{}, l.failWith
	}
	extra := time.Duration(0)
	if len(l.jitter) > 0 {
		extra = l.jitter[(l.round-1)%len(l.jitter)]
	}
	l.clock.Advance(l.request + extra)
	server := l.clock.Now().Add(l.offset)
	l.clock.Advance(l.reply)
	return server, nil
}

func TestRunRecoversSymmetricOffset(t *testing.T) {
	fake := clock.Fake(time.Unix(5000, 0))
	link := &simulatedLink{
		clock:   fake,
		offset:  250 * time.Millisecond,
		request: 3 * time.Millisecond,
		reply:   3 * time.Millisecond,
		jitter:  []time.Duration{4 * time.Millisecond, 0, 9 * time.Millisecond, 1 * time.Millisecond},
	}

	estimate, err := Run(context.Background(), link, fake, DefaultIterations)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if link.round != DefaultIterations {
		t.Errorf("performed %d rounds, want %d", link.round, DefaultIterations)
	}
	if estimate.Skew != 250*time.Millisecond {
		t.Errorf("Skew = %v, want 250ms", estimate.Skew)
	}
	if estimate.MinRTT != 6*time.Millisecond {
		t.Errorf("MinRTT = %v, want 6ms", estimate.MinRTT)
	}
	if estimate.MaxRTT != 15*time.Millisecond {
		t.Errorf("MaxRTT = %v, want 15ms", estimate.MaxRTT)
	}
}

func TestRunAsymmetricDelayBoundsError(t *testing.T) {
	fake := clock.Fake(time.Unix(5000, 0))
	link := &simulatedLink{
		clock:   fake,
		offset:  -2 * time.Second,
		request: 8 * time.Millisecond,
		reply:   2 * time.Millisecond,
	}
	estimate, err := Run(context.Background(), link, fake, 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The estimator is off by half the leg difference.
	want := -2*time.Second + 3*time.Millisecond
	if estimate.Skew != want {
		t.Errorf("Skew = %v, want %v", estimate.Skew, want)
	}
	if estimate.MinRTT != 10*time.Millisecond || estimate.MaxRTT != 10*time.Millisecond {
		t.Errorf("RTT range = [%v, %v], want [10ms, 10ms]", estimate.MinRTT, estimate.MaxRTT)
	}
}

func TestCombineTakesSkewFromFastestRound(t *testing.T) {
	base := time.Unix(100, 0)
	samples := []Sample{
		// rtt 40ms, skew 1s+10ms
		{Sent: base, Server: base.Add(time.Second + 30*time.Millisecond), Received: base.Add(40 * time.Millisecond)},
		// rtt 10ms, skew exactly 1s
		{Sent: base, Server: base.Add(time.Second + 5*time.Millisecond), Received: base.Add(10 * time.Millisecond)},
		// rtt 10ms again, later: the first minimum wins
		{Sent: base, Server: base.Add(2 * time.Second), Received: base.Add(10 * time.Millisecond)},
	}
	estimate, err := Combine(samples)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if estimate.Skew != time.Second {
		t.Errorf("Skew = %v, want 1s", estimate.Skew)
	}
	if estimate.MinRTT != 10*time.Millisecond || estimate.MaxRTT != 40*time.Millisecond {
		t.Errorf("RTT range = [%v, %v], want [10ms, 40ms]", estimate.MinRTT, estimate.MaxRTT)
	}
}

func TestRunPropagatesExchangeFailure(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	lost := errors.New("connection lost")
	link := &simulatedLink{clock: fake, request: time.Millisecond, reply: time.Millisecond, failAt: 3, failWith: lost}

	_, err := Run(context.Background(), link, fake, DefaultIterations)
	if !errors.Is(err, lost) {
		t.Fatalf("Run: err = %v, want wrapped %v", err, lost)
	}
}

func TestRunRejectsNoIterations(t *testing.T) {
	if _, err := Run(context.Background(), &simulatedLink{}, clock.Fake(time.Unix(0, 0)), 0); err == nil {
		t.Error("Run accepted zero iterations")
	}
	if _, err := Combine(nil); err == nil {
		t.Error("Combine accepted no samples")
	}
}

func TestServerTime(t *testing.T) {
	estimate := Estimate{Skew: -300 * time.Millisecond}
	local := time.Unix(10, 0)
	if got := estimate.ServerTime(local); !got.Equal(time.Unix(9, 700_000_000)) {
		t.Errorf("ServerTime = %v", got)
	}
}
