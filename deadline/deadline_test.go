// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package deadline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rtfmri-foundation/rtfmri/clocksync"
	"github.com/rtfmri-foundation/rtfmri/lib/clock"
	"github.com/rtfmri-foundation/rtfmri/lib/fault"
	"github.com/rtfmri-foundation/rtfmri/lib/testutil"
)

const testTimeout = 5 * time.Second

func TestCompute(t *testing.T) {
	estimate := clocksync.Estimate{
		Skew:   200 * time.Millisecond,
		MinRTT: 50 * time.Millisecond,
		MaxRTT: 100 * time.Millisecond,
	}
	got := Compute(time.Unix(1000, 0), estimate, 2*time.Second)
	want := time.Unix(1002, 100_000_000)
	if !got.Equal(want) {
		t.Errorf("Compute = %v, want %v (1002.1s)", got, want)
	}
}

func TestTRStart(t *testing.T) {
	now := time.Unix(50, 0)
	pulse := time.Unix(49, 250_000_000)
	if got := TRStart(pulse, now); !got.Equal(pulse) {
		t.Errorf("TRStart(pulse) = %v, want %v", got, pulse)
	}
	if got := TRStart(time.Time{}, now); !got.Equal(time.Unix(49, 500_000_000)) {
		t.Errorf("TRStart(no pulse) = %v, want now-500ms", got)
	}
}

type harness struct {
	t         *testing.T
	clock     *clock.FakeClock
	scheduler *Scheduler[string]
	handles   int

	mu       sync.Mutex
	finished []Late[string]
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, clock: clock.Fake(time.Unix(1000, 0))}
	h.scheduler = NewScheduler[string](Config{
		Clock:  h.clock,
		Logger: testutil.Logger(t),
		NewHandle: func() string {
			h.handles++
			return fmt.Sprintf("handle-%d", h.handles)
		},
	})
	return h
}

func (h *harness) onTime(result string) (Outcome[string], error) {
	h.t.Helper()
	return h.scheduler.Dispatch(context.Background(), Job[string]{
		Deadline: h.clock.Now().Add(time.Second),
		Run:      func(context.Context) (string, error) { return result, nil },
	})
}

type dispatchResult struct {
	outcome Outcome[string]
	err     error
}

// late dispatches work that blocks until the deadline has passed, then
// releases it so the detached goroutine completes.
func (h *harness) late(result string) (Outcome[string], error) {
	h.t.Helper()
	release := make(chan struct{})
	var detachedHandle string
	pending := h.clock.Pending()

	returned := make(chan dispatchResult, 1)
	go func() {
		outcome, err := h.scheduler.Dispatch(context.Background(), Job[string]{
			Deadline: h.clock.Now().Add(time.Second),
			Run: func(context.Context) (string, error) {
				<-release
				return result, nil
			},
			Detached: func(handle string) { detachedHandle = handle },
			Finished: func(late Late[string]) {
				h.mu.Lock()
				h.finished = append(h.finished, late)
				h.mu.Unlock()
			},
		})
		returned <- dispatchResult{outcome, err}
	}()

	h.clock.WaitForTimers(pending + 1)
	h.clock.Advance(time.Second)
	got := testutil.RequireReceive(h.t, returned, testTimeout, "late dispatch returning at the deadline")
	close(release)

	if got.outcome.RecoveryHandle != detachedHandle {
		h.t.Errorf("RecoveryHandle = %q, Detached saw %q", got.outcome.RecoveryHandle, detachedHandle)
	}
	return got.outcome, got.err
}

func TestNoDeadlineRunsSynchronously(t *testing.T) {
	h := newHarness(t)
	if _, err := h.late("slow"); err != nil {
		t.Fatalf("late: %v", err)
	}

	outcome, err := h.scheduler.Dispatch(context.Background(), Job[string]{
		Run: func(context.Context) (string, error) { return "done", nil },
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !outcome.OnTime || outcome.Result != "done" {
		t.Errorf("outcome = %+v, want on time with result", outcome)
	}
	if h.scheduler.Misses() != 1 {
		t.Errorf("Misses() = %d, want 1 (untouched without a deadline)", h.scheduler.Misses())
	}
	h.scheduler.Wait()
}

func TestLateTrialDetachesAndDelivers(t *testing.T) {
	h := newHarness(t)
	outcome, err := h.late("volume 7")
	if err != nil {
		t.Fatalf("late: %v", err)
	}
	if outcome.OnTime {
		t.Error("late trial reported on time")
	}
	if outcome.RecoveryHandle != "handle-1" {
		t.Errorf("RecoveryHandle = %q, want handle-1", outcome.RecoveryHandle)
	}

	h.scheduler.Wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.finished) != 1 {
		t.Fatalf("Finished called %d times, want 1", len(h.finished))
	}
	if h.finished[0].Handle != "handle-1" || h.finished[0].Result != "volume 7" {
		t.Errorf("Finished got %+v", h.finished[0])
	}
}

func TestTwoConsecutiveMissesFail(t *testing.T) {
	h := newHarness(t)
	if _, err := h.late("a"); err != nil {
		t.Fatalf("first late: %v", err)
	}
	outcome, err := h.late("b")
	if !errors.Is(err, fault.ErrMissedMultipleDeadlines) {
		t.Fatalf("second late: err = %v, want ErrMissedMultipleDeadlines", err)
	}
	if outcome.RecoveryHandle == "" {
		t.Error("failing late outcome has no recovery handle")
	}
	h.scheduler.Wait()
}

func TestOnTimeResetsMissCount(t *testing.T) {
	h := newHarness(t)
	if _, err := h.late("a"); err != nil {
		t.Fatalf("first late: %v", err)
	}
	outcome, err := h.onTime("b")
	if err != nil || !outcome.OnTime || outcome.Result != "b" {
		t.Fatalf("onTime = %+v, %v", outcome, err)
	}
	if h.scheduler.Misses() != 0 {
		t.Errorf("Misses() = %d after on-time trial, want 0", h.scheduler.Misses())
	}
	// A third late trial behaves like the first.
	if _, err := h.late("c"); err != nil {
		t.Fatalf("late after reset: %v", err)
	}
	if h.scheduler.Misses() != 1 {
		t.Errorf("Misses() = %d, want 1", h.scheduler.Misses())
	}
	h.scheduler.Wait()
}

func TestResetClearsMissCount(t *testing.T) {
	h := newHarness(t)
	if _, err := h.late("a"); err != nil {
		t.Fatalf("late: %v", err)
	}
	h.scheduler.Reset()
	if _, err := h.late("b"); err != nil {
		t.Fatalf("late after Reset: %v", err)
	}
	h.scheduler.Wait()
}

func TestPastDeadlineIsLateImmediately(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	outcome, err := h.scheduler.Dispatch(context.Background(), Job[string]{
		Deadline: h.clock.Now().Add(-time.Millisecond),
		Run: func(context.Context) (string, error) {
			<-release
			return "x", nil
		},
	})
	close(release)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.OnTime {
		t.Error("trial with an expired deadline reported on time")
	}
	h.scheduler.Wait()
}

func TestOnTimeErrorPropagates(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("model failed")
	_, err := h.scheduler.Dispatch(context.Background(), Job[string]{
		Deadline: h.clock.Now().Add(time.Second),
		Run:      func(context.Context) (string, error) { return "", boom },
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestWorkContextSurvivesCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome, err := h.scheduler.Dispatch(ctx, Job[string]{
		Run: func(work context.Context) (string, error) {
			return "ran", work.Err()
		},
	})
	if err != nil || outcome.Result != "ran" {
		t.Errorf("Dispatch = %+v, %v; want work context detached from caller", outcome, err)
	}
}

func TestWorkFinishingAtDeadlineIsLate(t *testing.T) {
	// The completion and the deadline timer can be ready together;
	// repeat so both select orders are exercised.
	for attempt := 0; attempt < 20; attempt++ {
		h := newHarness(t)
		deadlineAt := h.clock.Now().Add(time.Second)
		var finished []Late[string]
		outcome, err := h.scheduler.Dispatch(context.Background(), Job[string]{
			Deadline: deadlineAt,
			Run: func(context.Context) (string, error) {
				h.clock.Advance(time.Second)
				return "boundary", nil
			},
			Finished: func(late Late[string]) { finished = append(finished, late) },
		})
		if err != nil {
			t.Fatalf("attempt %d: Dispatch: %v", attempt, err)
		}
		if outcome.OnTime || outcome.RecoveryHandle == "" {
			t.Fatalf("attempt %d: outcome = %+v, want late with a recovery handle", attempt, outcome)
		}
		h.scheduler.Wait()
		if len(finished) != 1 || finished[0].Result != "boundary" || finished[0].Handle != outcome.RecoveryHandle {
			t.Fatalf("attempt %d: finished = %+v", attempt, finished)
		}
		if h.scheduler.Misses() != 1 {
			t.Errorf("attempt %d: Misses() = %d, want 1", attempt, h.scheduler.Misses())
		}
	}
}
