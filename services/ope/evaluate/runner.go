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
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianOPE/services/ope/config"
	"github.com/AleutianAI/AleutianOPE/services/ope/telemetry"
)

const (
	tracerName = "aleutian.ope.evaluate"

	// maxLineBytes bounds one JSON line.
	maxLineBytes = 1 << 20

	// lineBuffer is the per-worker depth of the line channel.
	lineBuffer = 256
)

// ErrNilConfig is returned by NewRunner without a configuration.
var ErrNilConfig = errors.New("config must not be nil")

// ErrNonFiniteResult is returned when a merged statistic overflowed and a
// result cannot be represented in the report.
var ErrNonFiniteResult = errors.New("non-finite result")

// inputLine is one non-empty input line and its 1-based position.
type inputLine struct {
	num  int64
	data []byte
}

// Runner evaluates JSON-lines logs with the estimators of one configuration.
//
// Description:
//
//	Run fans the input out to cfg.Workers shards. Each shard owns a fresh
//	set of estimators; when the input is exhausted the shards are merged
//	into the first one. Every accumulator underneath is an exact sum, so the
//	report does not depend on the worker count or on how lines were
//	distributed.
//
// Thread Safety: Safe for concurrent use; each Run builds its own shards.
type Runner struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger for run progress and skipped lines.
//
// Default: slog.Default().
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records run metrics on m. A nil m disables metrics.
func WithMetrics(m *telemetry.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner validates cfg and returns a Runner.
//
// Inputs:
//   - cfg: Evaluation configuration. Validated here, and one throwaway shard is
//     built so estimator construction errors surface before any input is
//     read.
//   - opts: WithLogger, WithMetrics.
//
// Outputs:
//   - *Runner: The runner.
//   - error: ErrNilConfig, or wraps config.ErrInvalidConfig.
func NewRunner(cfg *config.Config, opts ...RunnerOption) (*Runner, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := newShard(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	r := &Runner{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the configuration the runner was built with.
func (r *Runner) Config() *config.Config {
	return r.cfg
}

// Run reads every line of in and returns the evaluation report.
//
// Description:
//
//	Empty lines are ignored. A line that fails to decode, or whose
//	probabilities or reward are unusable, is counted as invalid and
//	skipped by every estimator; a record that only some estimators turn
//	down (a weight outside an estimator's bounds) is counted in that
//	estimator's Rejected field. Warnings for skipped lines are sampled so a
//	corrupt log cannot flood the output.
//
// Inputs:
//   - ctx: Cancellation stops reading and fails the run.
//   - in: JSON lines in the record shape of the configured mode.
//
// Outputs:
//   - *Report: Estimates and intervals in configuration order.
//   - error: Read errors, lines over 1 MiB, cancellation, or merge errors.
func (r *Runner) Run(ctx context.Context, in io.Reader) (*Report, error) {
	started := r.now()
	runID := uuid.NewString()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "evaluate.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("ope.run_id", runID),
		attribute.String("ope.mode", string(r.cfg.Mode)),
		attribute.Int("ope.workers", r.cfg.Workers),
	)
	logger := telemetry.LoggerWithTrace(ctx, r.logger).With(slog.String("run_id", runID))

	workers := r.cfg.Workers
	shards := make([]shard, workers)
	for i := range shards {
		s, err := newShard(r.cfg)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		shards[i] = s
	}
	valid := make([]int64, workers)
	invalid := make([]int64, workers)

	warn := rate.Sometimes{First: 5, Interval: 5 * time.Second}
	lines := make(chan inputLine, workers*lineBuffer)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(lines)
		return scanLines(gctx, in, lines)
	})
	for i, s := range shards {
		g.Go(func() error {
			begin := time.Now()
			defer func() { r.metrics.RecordShard(gctx, time.Since(begin)) }()
			for l := range lines {
				if err := s.add(l.data); err != nil {
					invalid[i]++
					warn.Do(func() {
						logger.Warn("Skipping invalid record",
							slog.Int64("line", l.num),
							slog.String("error", err.Error()))
					})
					continue
				}
				valid[i]++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("read input: %w", err)
	}

	merged := shards[0]
	for _, s := range shards[1:] {
		if err := merged.merge(s); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}
	estimates, intervals := merged.results(r.cfg.Alpha)
	if err := checkFinite(estimates, intervals); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	report := &Report{
		RunID:           runID,
		Mode:            r.cfg.Mode,
		Alpha:           r.cfg.Alpha,
		Workers:         workers,
		Examples:        sum(valid),
		Invalid:         sum(invalid),
		StartedAt:       started.UTC(),
		DurationSeconds: r.now().Sub(started).Seconds(),
		Estimates:       estimates,
		Intervals:       intervals,
	}

	r.metrics.RecordExamples(ctx, telemetry.StatusOK, report.Examples)
	r.metrics.RecordExamples(ctx, telemetry.StatusInvalid, report.Invalid)
	for _, e := range estimates {
		r.metrics.RecordEstimate(ctx, e.Name, e.Value)
	}
	for _, iv := range intervals {
		r.metrics.RecordIntervalWidth(ctx, iv.Name, iv.Width())
	}
	span.SetAttributes(
		attribute.Int64("ope.examples", report.Examples),
		attribute.Int64("ope.invalid", report.Invalid),
	)
	logger.Info("Evaluation complete",
		slog.Int64("examples", report.Examples),
		slog.Int64("invalid", report.Invalid),
		slog.Float64("duration_seconds", report.DurationSeconds))
	return report, nil
}

// scanLines sends every non-empty line of in to out.
func scanLines(ctx context.Context, in io.Reader, out chan<- inputLine) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var num int64
	for sc.Scan() {
		num++
		data := bytes.TrimSpace(sc.Bytes())
		if len(data) == 0 {
			continue
		}
		select {
		case out <- inputLine{num: num, data: slices.Clone(data)}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return sc.Err()
}

func sum(xs []int64) int64 {
	var s int64
	for _, x := range xs {
		s += x
	}
	return s
}

// checkFinite rejects results JSON cannot encode. Single shards never
// produce them; only a merge of overflowing shard totals can.
func checkFinite(estimates []EstimateResult, intervals []IntervalResult) error {
	for _, e := range estimates {
		if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
			return fmt.Errorf("%w: estimator %q value %v", ErrNonFiniteResult, e.Name, e.Value)
		}
	}
	for _, iv := range intervals {
		for _, b := range []float64{iv.Lower, iv.Upper} {
			if math.IsNaN(b) || math.IsInf(b, 0) {
				return fmt.Errorf("%w: interval %q bounds [%v, %v]", ErrNonFiniteResult, iv.Name, iv.Lower, iv.Upper)
			}
		}
	}
	return nil
}
