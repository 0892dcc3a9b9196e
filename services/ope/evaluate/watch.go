// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits after the last change before
// re-running.
const DefaultDebounce = 250 * time.Millisecond

// Watch evaluates the log at path once and again after every change.
//
// Description:
//
//	The parent directory is watched rather than the file so that logs
//	replaced by rename (the usual rotate-and-swap) keep being picked up.
//	Bursts of events for the file are coalesced: the run starts debounce
//	after the last one. Each report is passed to handle; a handle error
//	stops the watch.
//
// Inputs:
//   - ctx: Cancellation stops the watch; Watch then returns nil.
//   - path: Local JSON-lines file.
//   - debounce: Quiet period before a re-run. Zero means DefaultDebounce.
//   - handle: Receives each report.
//
// Outputs:
//   - error: Watcher setup errors, or the first handle error. Failed runs
//     are logged and do not stop the watch.
func (r *Runner) Watch(ctx context.Context, path string, debounce time.Duration, handle func(*Report) error) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	if err := r.evaluateFile(ctx, abs, handle); err != nil {
		return err
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			r.logger.Debug("Log changed", slog.String("path", abs), slog.String("op", event.Op.String()))
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("Log watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			if err := r.evaluateFile(ctx, abs, handle); err != nil {
				return err
			}

		case <-ctx.Done():
			r.logger.Debug("Log watcher stopping", slog.String("path", abs))
			return nil
		}
	}
}

// evaluateFile runs once over path. Only handle errors are returned.
func (r *Runner) evaluateFile(ctx context.Context, path string, handle func(*Report) error) error {
	f, err := os.Open(path)
	if err != nil {
		r.logger.Warn("Cannot open log", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	defer f.Close()

	report, err := r.Run(ctx, f)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("Evaluation failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	}
	return handle(report)
}
