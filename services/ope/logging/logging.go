// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog loggers used by the ope command and
// service.
//
// Logs always go to one stream (stderr for the CLI) in JSON or text form.
// When LogDir is set they are also appended, as JSON, to a daily file named
// "{service}_{YYYY-MM-DD}.log" so that long-running watch and serve
// processes leave a machine-readable trail.
//
//	logger, closer, err := logging.New(logging.Config{
//	    Level:   slog.LevelInfo,
//	    Format:  logging.FormatJSON,
//	    Writer:  os.Stderr,
//	    LogDir:  "~/.aleutian/ope/logs",
//	    Service: "ope",
//	})
//	defer closer.Close()
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Output formats for the stream handler. File logs are always JSON.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// ErrInvalidFormat is returned for a Format other than json or text.
var ErrInvalidFormat = errors.New("invalid log format")

// Config configures New.
type Config struct {
	// Level is the minimum level for every destination.
	Level slog.Level

	// Format selects the stream handler: FormatJSON (default) or FormatText.
	Format string

	// Writer receives the stream output. Default: os.Stderr.
	Writer io.Writer

	// LogDir enables file logging. A leading ~ expands to the home
	// directory; the directory is created with 0750 permissions.
	LogDir string

	// Service is attached to every record as the "service" attribute and
	// names the log file. Default file prefix: "ope".
	Service string

	// Now stamps the log file name. Default: time.Now.
	Now func() time.Time
}

// ParseLevel converts debug, info, warn or error into a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// New builds a logger for cfg.
//
// Outputs:
//   - *slog.Logger: Writes to cfg.Writer and, with LogDir, the daily file.
//   - io.Closer: Syncs and closes the log file. Always non-nil.
//   - error: ErrInvalidFormat, or the failure to create the log file.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var stream slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", FormatJSON:
		stream = slog.NewJSONHandler(w, opts)
	case FormatText:
		stream = slog.NewTextHandler(w, opts)
	default:
		return nil, nopCloser{}, fmt.Errorf("%w %q (want json or text)", ErrInvalidFormat, cfg.Format)
	}

	var (
		handler slog.Handler = stream
		closer  io.Closer    = nopCloser{}
	)
	if cfg.LogDir != "" {
		file, err := openLogFile(cfg)
		if err != nil {
			return nil, nopCloser{}, err
		}
		handler = &fanout{handlers: []slog.Handler{stream, slog.NewJSONHandler(file, opts)}}
		closer = &fileCloser{f: file}
	}
	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	return slog.New(handler), closer, nil
}

// FileName returns the log file name for service on day t.
func FileName(service string, t time.Time) string {
	if service == "" {
		service = "ope"
	}
	return fmt.Sprintf("%s_%s.log", service, t.Format(time.DateOnly))
}

func openLogFile(cfg Config) (*os.File, error) {
	dir := expandPath(cfg.LogDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	path := filepath.Join(dir, FileName(cfg.Service, now()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// fanout sends each record to every handler enabled for its level.
type fanout struct {
	handlers []slog.Handler
}

func (h *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, r.Level) {
			errs = append(errs, hh.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithAttrs(attrs)
	}
	return &fanout{handlers: out}
}

func (h *fanout) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithGroup(name)
	}
	return &fanout{handlers: out}
}

type fileCloser struct {
	f *os.File
}

func (c *fileCloser) Close() error {
	if err := c.f.Sync(); err != nil {
		_ = c.f.Close()
		return fmt.Errorf("sync log file: %w", err)
	}
	return c.f.Close()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
