// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package pulse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rtfmri-foundation/rtfmri/lib/clock"
	"github.com/rtfmri-foundation/rtfmri/lib/testutil"
)

func TestEncodeDecode(t *testing.T) {
	sent := time.Unix(1_700_000_123, 250_000_000)
	got, err := Decode(Encode(sent))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := got.Sub(sent); diff < -time.Microsecond || diff > time.Microsecond {
		t.Errorf("Decode(Encode(%v)) = %v, off by %v", sent, got, diff)
	}
}

func TestDecodeRejects(t *testing.T) {
	for name, datagram := range map[string][]byte{
		"short":    {1, 2, 3},
		"negative": Encode(time.Unix(-5, 0)),
		"nan":      {0x7f, 0xf8, 0, 0, 0, 0, 0, 1},
	} {
		if _, err := Decode(datagram); err == nil {
			t.Errorf("%s: Decode accepted %x", name, datagram)
		}
	}
}

func TestCell(t *testing.T) {
	var cell Cell
	if !cell.Latest().IsZero() {
		t.Fatal("new cell is not empty")
	}
	reading := Reading{Timestamp: time.Unix(10, 0), ReceivedAt: time.Unix(11, 0)}
	cell.Store(reading)
	if got := cell.Latest(); got != reading {
		t.Errorf("Latest = %+v, want %+v", got, reading)
	}
	cell.Clear()
	if !cell.Latest().IsZero() {
		t.Error("Clear left a reading")
	}
}

func TestCellConcurrentAccess(t *testing.T) {
	var cell Cell
	var group sync.WaitGroup
	for writer := range 4 {
		group.Add(1)
		go func() {
			defer group.Done()
			for i := range 1000 {
				cell.Store(Reading{Timestamp: time.Unix(int64(writer*1000+i+1), 0)})
				_ = cell.Latest()
			}
		}()
	}
	group.Add(1)
	go func() {
		defer group.Done()
		for range 1000 {
			cell.Clear()
		}
	}()
	group.Wait()
}

func TestWatchdogClearsStalePulse(t *testing.T) {
	fake := clock.Fake(time.Unix(100, 0))
	cell := &Cell{}
	cell.Store(Reading{Timestamp: time.Unix(100, 0), ReceivedAt: fake.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		(&Watchdog{Cell: cell, TRInterval: 2 * time.Second, Clock: fake, Logger: testutil.Logger(t)}).Run(ctx)
	}()
	fake.WaitForTimers(1)

	// Ticks up to 3s are within 1.5 TR and never clear the pulse.
	for range 6 {
		fake.Advance(500 * time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	if cell.Latest().IsZero() {
		t.Fatal("pulse cleared within 1.5 TR")
	}

	// A tick can be dropped if the watchdog is slow to read, so keep
	// advancing until one lands past the limit.
	deadline := time.Now().Add(5 * time.Second)
	for !cell.Latest().IsZero() {
		if time.Now().After(deadline) {
			t.Fatal("stale pulse never cleared")
		}
		fake.Advance(500 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}

	cancel()
	testutil.RequireClosed(t, done, 5*time.Second, "watchdog stopping")
}

func TestWatchdogKeepsFreshPulse(t *testing.T) {
	cell := &Cell{}
	stale := Reading{Timestamp: time.Unix(1, 0), ReceivedAt: time.Unix(1, 0)}
	cell.Store(stale)
	watchdog := &Watchdog{Cell: cell}

	snapshot := cell.latest.Load()
	cell.Store(Reading{Timestamp: time.Unix(9, 0), ReceivedAt: time.Unix(9, 0)})
	// A check that saw the old reading must not drop the new one.
	if cell.clearIfUnchanged(snapshot) {
		t.Error("cleared a reading stored after the stale one was observed")
	}
	if watchdog.check(time.Unix(10, 0), 3*time.Second) {
		t.Error("fresh reading cleared")
	}
}

// waitFor polls condition because delivery happens on another
// goroutine.
func waitFor(t *testing.T, condition func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestListenerReceivesBroadcast(t *testing.T) {
	fake := clock.Fake(time.Unix(500, 0))
	cell := &Cell{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener, err := Listen(ctx, ListenerConfig{Address: "127.0.0.1:0", Cell: cell, Clock: fake, Logger: testutil.Logger(t)})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	broadcaster, err := NewBroadcaster(ctx, listener.Address())
	if err != nil {
		t.Fatalf("NewBroadcaster: %v", err)
	}
	defer broadcaster.Close()

	sent := time.Unix(499, 750_000_000)
	if err := broadcaster.Send(sent); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, func() bool { return !cell.Latest().IsZero() }, "pulse delivery")
	reading := cell.Latest()
	if diff := reading.Timestamp.Sub(sent); diff < -time.Microsecond || diff > time.Microsecond {
		t.Errorf("Timestamp = %v, want %v", reading.Timestamp, sent)
	}
	if !reading.ReceivedAt.Equal(fake.Now()) {
		t.Errorf("ReceivedAt = %v, want listener clock %v", reading.ReceivedAt, fake.Now())
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "listener stopping"); err != nil {
		t.Errorf("Run = %v", err)
	}
}
