// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package deadline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rtfmri-foundation/rtfmri/lib/clock"
	"github.com/rtfmri-foundation/rtfmri/lib/fault"
)

// MissLimit is the number of consecutive late trials that fails a run.
const MissLimit = 2

// Outcome is the synchronous result of dispatching a trial.
type Outcome[T any] struct {
	// OnTime is true when the work finished strictly before the
	// deadline, or when there was no deadline.
	OnTime bool

	// RecoveryHandle identifies the detached work of a late trial.
	RecoveryHandle string

	// Result is valid only when OnTime is true.
	Result T
}

// Late is what a detached trial produced once it finished.
type Late[T any] struct {
	Handle   string
	Result   T
	Err      error
	Finished time.Time
}

// Job is one trial's work.
type Job[T any] struct {
	// Deadline is zero when deadlines are not enforced.
	Deadline time.Time

	// Run does the work. Its context is never cancelled by the
	// scheduler; a late Run keeps going after Dispatch returns.
	Run func(ctx context.Context) (T, error)

	// Detached, if set, is called before Dispatch returns a late
	// outcome, so the handle is known before the client can ask for it.
	Detached func(handle string)

	// Finished, if set, receives the result of detached work.
	Finished func(Late[T])
}

// Scheduler runs trials against their deadlines and counts consecutive
// misses. Dispatch is meant to be called from one goroutine at a time,
// in trial order.
type Scheduler[T any] struct {
	clock     clock.Clock
	logger    *slog.Logger
	newHandle func() string

	mu     sync.Mutex
	misses int

	detached sync.WaitGroup
}

// Config configures a Scheduler.
type Config struct {
	Clock  clock.Clock
	Logger *slog.Logger

	// NewHandle defaults to random UUIDs.
	NewHandle func() string
}

// NewScheduler returns a Scheduler with a zero miss count.
func NewScheduler[T any](cfg Config) *Scheduler[T] {
	s := &Scheduler[T]{
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		newHandle: cfg.NewHandle,
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.newHandle == nil {
		s.newHandle = func() string { return uuid.NewString() }
	}
	return s
}

type completion[T any] struct {
	result T
	err    error
	at     time.Time
}

// Dispatch runs job. Without a deadline the work runs to completion
// and the miss count is untouched. With one, Dispatch returns no later
// than the deadline: on time resets the miss count, late increments it
// and returns a late outcome carrying a recovery handle while the work
// continues. The late outcome that reaches MissLimit is returned
// together with an error matching fault.ErrMissedMultipleDeadlines, and
// the count starts again from zero.
//
// Errors from work that finishes on time are returned as is and do not
// change the miss count.
func (s *Scheduler[T]) Dispatch(ctx context.Context, job Job[T]) (Outcome[T], error) {
	workContext := context.WithoutCancel(ctx)

	if job.Deadline.IsZero() {
		result, err := job.Run(workContext)
		if err != nil {
			return Outcome[T]{}, err
		}
		return Outcome[T]{OnTime: true, Result: result}, nil
	}

	done := make(chan completion[T], 1)
	go func() {
		result, err := job.Run(workContext)
		done <- completion[T]{result: result, err: err, at: s.clock.Now()}
	}()

	remaining := job.Deadline.Sub(s.clock.Now())
	if remaining > 0 {
		select {
		case finished := <-done:
			// Both channels may be ready; only work that finished
			// strictly before the deadline is on time.
			if !finished.at.Before(job.Deadline) {
				replay := make(chan completion[T], 1)
				replay <- finished
				return s.detach(job, replay)
			}
			if finished.err != nil {
				return Outcome[T]{}, finished.err
			}
			s.mu.Lock()
			s.misses = 0
			s.mu.Unlock()
			return Outcome[T]{OnTime: true, Result: finished.result}, nil
		case <-s.clock.After(remaining):
		}
	}

	return s.detach(job, done)
}

func (s *Scheduler[T]) detach(job Job[T], done <-chan completion[T]) (Outcome[T], error) {
	handle := s.newHandle()
	if job.Detached != nil {
		job.Detached(handle)
	}

	s.detached.Add(1)
	go func() {
		defer s.detached.Done()
		finished := <-done
		s.logger.Info("detached trial finished",
			"recovery_handle", handle,
			"error", finished.err,
		)
		if job.Finished != nil {
			job.Finished(Late[T]{
				Handle:   handle,
				Result:   finished.result,
				Err:      finished.err,
				Finished: s.clock.Now(),
			})
		}
	}()

	s.mu.Lock()
	s.misses++
	misses := s.misses
	if misses >= MissLimit {
		s.misses = 0
	}
	s.mu.Unlock()

	s.logger.Warn("trial missed deadline",
		"deadline", job.Deadline,
		"recovery_handle", handle,
		"consecutive_misses", misses,
	)

	outcome := Outcome[T]{OnTime: false, RecoveryHandle: handle}
	if misses >= MissLimit {
		return outcome, fault.New(fault.CodeMissedMultipleDeadlines,
			"%d consecutive trials missed their deadline", misses)
	}
	return outcome, nil
}

// Reset zeroes the miss count. Called at run boundaries.
func (s *Scheduler[T]) Reset() {
	s.mu.Lock()
	s.misses = 0
	s.mu.Unlock()
}

// Misses returns the current consecutive miss count.
func (s *Scheduler[T]) Misses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.misses
}

// Wait blocks until every detached trial has finished and its Finished
// callback has returned.
func (s *Scheduler[T]) Wait() {
	s.detached.Wait()
}
