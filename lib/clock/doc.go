// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the injectable time source used by everything that
// measures or waits: clock synchronization, deadline enforcement, the
// pulse watchdog and reply timestamps.
//
// Production code holds a [Clock] and receives [Real]. Tests construct
// a [FakeClock], start the code under test, call WaitForTimers until the
// goroutine has parked on a timer, then Advance:
//
//	fake := clock.Fake(time.Unix(1000, 0))
//	go watchdog.Run(ctx)
//	fake.WaitForTimers(1)
//	fake.Advance(3 * time.Second)
package clock
