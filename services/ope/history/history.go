// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists evaluation reports in an embedded BadgerDB.
//
// Reports are stored as JSON under keys ordered by start time, so listing
// the most recent runs is a reverse prefix scan. A second key maps each run
// id to its report key for direct lookups.
package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianOPE/services/ope/evaluate"
)

var (
	// ErrNotFound is returned for an unknown run id.
	ErrNotFound = errors.New("run not found")

	// ErrNoPath is returned when a persistent store has no directory.
	ErrNoPath = errors.New("path is required for persistent store")
)

var (
	runPrefix = []byte("run/")
	idPrefix  = []byte("id/")
)

// Config holds configuration for a Store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's own log output. Nil silences it.
	Logger *slog.Logger

	// GCInterval is how often value log garbage collection runs. Zero
	// disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage fraction a value log file needs before
	// it is rewritten.
	GCDiscardRatio float64
}

// DefaultConfig returns a durable configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Summary is the listing view of one stored run.
type Summary struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Mode      string    `json:"mode"`
	Examples  int64     `json:"examples"`
	Invalid   int64     `json:"invalid"`
}

// Store is a run history backed by BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db   *badger.DB
	stop chan struct{}
	done chan struct{}
}

// Open opens or creates a Store.
//
// Inputs:
//   - cfg: Store configuration. Path is created if missing.
//
// Outputs:
//   - *Store: Call Close when done.
//   - error: ErrNoPath, or a BadgerDB open error.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, ErrNoPath
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create history directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.collectGarbage(cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return s, nil
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop = nil
	}
	return s.db.Close()
}

// Put stores a report. Storing the same run id again replaces it.
func (s *Store) Put(ctx context.Context, r *evaluate.Report) error {
	if r == nil || r.RunID == "" {
		return errors.New("report must have a run id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	key := runKey(r.StartedAt, r.RunID)

	return s.db.Update(func(txn *badger.Txn) error {
		old, err := lookup(txn, r.RunID)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		default:
			if err := txn.Delete(old); err != nil {
				return err
			}
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(idKey(r.RunID), key)
	})
}

// Get returns the report of runID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, runID string) (*evaluate.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var r evaluate.Report
	err := s.db.View(func(txn *badger.Txn) error {
		key, err := lookup(txn, runID)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	var out []Summary
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = runPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, runPrefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(runPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var sum Summary
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sum)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, sum)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Delete removes a run, returning ErrNotFound if it does not exist.
func (s *Store) Delete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key, err := lookup(txn, runID)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(idKey(runID))
	})
}

// Prune keeps the newest keep runs and deletes the rest.
//
// Outputs:
//   - int: Number of runs deleted.
//   - error: Database errors.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	runs, err := s.List(ctx, 0)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	deleted := 0
	for _, r := range runs[min(keep, len(runs)):] {
		if err := s.Delete(ctx, r.RunID); err != nil && !errors.Is(err, ErrNotFound) {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func lookup(txn *badger.Txn, runID string) ([]byte, error) {
	item, err := txn.Get(idKey(runID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// runKey sorts by start time: "run/" + big-endian unix nanos + "/" + id.
func runKey(startedAt time.Time, runID string) []byte {
	key := make([]byte, 0, len(runPrefix)+9+len(runID))
	key = append(key, runPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(startedAt.UnixNano()))
	key = append(key, '/')
	return append(key, runID...)
}

func idKey(runID string) []byte {
	return append(append([]byte{}, idPrefix...), runID...)
}

func (s *Store) collectGarbage(interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("History value log GC failed", slog.String("error", err.Error()))
			}
		}
	}
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
