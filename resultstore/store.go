// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package resultstore keeps the results of trials that missed their
// deadline. The server records a row when a trial is detached, and the
// background work fills it in when it finishes; a client fetches it
// later by recovery handle. Payloads are stored zstd-compressed when
// that makes them smaller.
package resultstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/rtfmri-foundation/rtfmri/lib/clock"
	"github.com/rtfmri-foundation/rtfmri/lib/compress"
	"github.com/rtfmri-foundation/rtfmri/lib/fault"
	"github.com/rtfmri-foundation/rtfmri/lib/sqlitepool"
	"github.com/rtfmri-foundation/rtfmri/wire"
)

const schema = `
CREATE TABLE IF NOT EXISTS deferred_results (
	handle      TEXT PRIMARY KEY,
	experiment  INTEGER,
	session     INTEGER,
	run         INTEGER,
	block_group INTEGER,
	block       INTEGER,
	trial       INTEGER,
	status      TEXT NOT NULL,
	compression INTEGER NOT NULL DEFAULT 0,
	size        INTEGER NOT NULL DEFAULT 0,
	payload     BLOB,
	error       TEXT,
	created_at  INTEGER NOT NULL,
	finished_at INTEGER
);
`

// Status is the lifecycle state of a deferred result.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Record is one deferred result.
type Record struct {
	Handle string
	Path   wire.IDPath
	Status Status

	// Payload is the decompressed result, set when Status is complete.
	Payload []byte

	// Error is set when Status is failed.
	Error string

	CreatedAt  time.Time
	FinishedAt time.Time
}

// Store is a deferred result table on a sqlite pool.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Config configures Open.
type Config struct {
	// Path of the database file.
	Path   string
	Clock  clock.Clock
	Logger *slog.Logger
}

// Open opens or creates the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Logger: cfg.Logger,
		Schema: schema,
	})
	if err != nil {
		return nil, fmt.Errorf("resultstore: %w", err)
	}
	return &Store{pool: pool, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Begin records a pending result for handle at path.
func (s *Store) Begin(ctx context.Context, handle string, path wire.IDPath) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	args := []any{handle}
	for level := wire.LevelExperiment; level <= wire.LevelTrial; level++ {
		args = append(args, nullableID(path.At(level)))
	}
	args = append(args, string(StatusPending), s.clock.Now().UnixNano())

	err = sqlitex.Execute(conn, `
		INSERT INTO deferred_results
			(handle, experiment, session, run, block_group, block, trial, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: args})
	if err != nil {
		return fmt.Errorf("resultstore: begin %s: %w", handle, err)
	}
	return nil
}

// Complete stores the finished payload for a pending handle.
func (s *Store) Complete(ctx context.Context, handle string, payload []byte) error {
	tag, packed, err := compress.Pack(payload, compress.Zstd)
	if err != nil {
		return fmt.Errorf("resultstore: compressing %s: %w", handle, err)
	}
	err = s.finish(ctx, handle, `
		UPDATE deferred_results
		SET status = ?, compression = ?, size = ?, payload = ?, finished_at = ?
		WHERE handle = ? AND status = ?`,
		string(StatusComplete), int64(tag), int64(len(payload)), packed, s.clock.Now().UnixNano(),
		handle, string(StatusPending))
	if err != nil {
		return err
	}
	s.logger.Info("deferred result stored",
		"recovery_handle", handle,
		"size", len(payload),
		"compression", tag.String(),
	)
	return nil
}

// Fail marks a pending handle as failed with cause.
func (s *Store) Fail(ctx context.Context, handle string, cause string) error {
	return s.finish(ctx, handle, `
		UPDATE deferred_results
		SET status = ?, error = ?, finished_at = ?
		WHERE handle = ? AND status = ?`,
		string(StatusFailed), cause, s.clock.Now().UnixNano(),
		handle, string(StatusPending))
}

func (s *Store) finish(ctx context.Context, handle, query string, args ...any) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("resultstore: finishing %s: %w", handle, err)
	}
	if conn.Changes() == 0 {
		return fault.New(fault.CodeNotFound, "no pending result %s", handle)
	}
	return nil
}

// Get returns the record for handle, or an error matching
// fault.ErrNotFound.
func (s *Store) Get(ctx context.Context, handle string) (*Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var (
		record      *Record
		compression compress.Tag
		size        int
		packed      []byte
	)
	err = sqlitex.Execute(conn, `
		SELECT experiment, session, run, block_group, block, trial,
		       status, compression, size, payload, error, created_at, finished_at
		FROM deferred_results WHERE handle = ?`,
		&sqlitex.ExecOptions{
			Args: []any{handle},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record = &Record{Handle: handle}
				for level := wire.LevelExperiment; level <= wire.LevelTrial; level++ {
					column := int(level)
					if !stmt.ColumnIsNull(column) {
						record.Path = record.Path.With(level, wire.NewID(uint32(stmt.ColumnInt64(column))))
					}
				}
				record.Status = Status(stmt.ColumnText(6))
				compression = compress.Tag(stmt.ColumnInt64(7))
				size = int(stmt.ColumnInt64(8))
				if !stmt.ColumnIsNull(9) {
					packed = make([]byte, stmt.ColumnLen(9))
					stmt.ColumnBytes(9, packed)
				}
				record.Error = stmt.ColumnText(10)
				record.CreatedAt = time.Unix(0, stmt.ColumnInt64(11))
				if !stmt.ColumnIsNull(12) {
					record.FinishedAt = time.Unix(0, stmt.ColumnInt64(12))
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("resultstore: get %s: %w", handle, err)
	}
	if record == nil {
		return nil, fault.New(fault.CodeNotFound, "no deferred result %s", handle)
	}
	if record.Status == StatusComplete {
		record.Payload, err = compress.Unpack(packed, compression, size)
		if err != nil {
			return nil, fmt.Errorf("resultstore: %s: %w", handle, err)
		}
	}
	return record, nil
}

// Lookup returns the payload of a completed result. A pending result
// yields an error matching fault.ErrPending; a failed one carries the
// failure text.
func (s *Store) Lookup(ctx context.Context, handle string) ([]byte, error) {
	record, err := s.Get(ctx, handle)
	if err != nil {
		return nil, err
	}
	switch record.Status {
	case StatusPending:
		return nil, fault.New(fault.CodePending, "result %s is still being computed", handle)
	case StatusFailed:
		return nil, fault.New(fault.CodeInternal, "trial %s failed: %s", handle, record.Error)
	}
	return record.Payload, nil
}

func nullableID(id wire.ID) any {
	value, ok := id.Value()
	if !ok {
		return nil
	}
	return int64(value)
}
