// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Example status label values.
const (
	StatusOK      = "ok"
	StatusInvalid = "invalid"
)

// Metrics contains the instruments of an evaluation run.
//
// Description:
//
//	All metrics use the "ope_" prefix. Methods are no-ops on a nil
//	*Metrics so callers can run uninstrumented.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// ExamplesTotal counts ingested records by status (ok, invalid).
	ExamplesTotal metric.Int64Counter

	// ShardDuration records how long one shard took to aggregate.
	ShardDuration metric.Float64Histogram

	// Estimate holds the latest point estimate per estimator.
	Estimate metric.Float64Gauge

	// IntervalWidth holds the latest interval width per estimator.
	IntervalWidth metric.Float64Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance.
//	error - Non-nil if metric registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ExamplesTotal, err = meter.Int64Counter(
		"ope_examples_total",
		metric.WithDescription("Logged records read, by status"),
		metric.WithUnit("{example}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create examples_total: %w", err)
	}

	m.ShardDuration, err = meter.Float64Histogram(
		"ope_shard_duration_seconds",
		metric.WithDescription("Shard aggregation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, fmt.Errorf("create shard_duration: %w", err)
	}

	m.Estimate, err = meter.Float64Gauge(
		"ope_estimate",
		metric.WithDescription("Point estimate of the target policy value"),
	)
	if err != nil {
		return nil, fmt.Errorf("create estimate: %w", err)
	}

	m.IntervalWidth, err = meter.Float64Gauge(
		"ope_interval_width",
		metric.WithDescription("Width of the confidence interval on the target policy value"),
	)
	if err != nil {
		return nil, fmt.Errorf("create interval_width: %w", err)
	}

	return m, nil
}

// RecordExamples adds n records with the given status.
func (m *Metrics) RecordExamples(ctx context.Context, status string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.ExamplesTotal.Add(ctx, n, metric.WithAttributes(attribute.String("status", status)))
}

// RecordShard records one shard's aggregation time.
func (m *Metrics) RecordShard(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.ShardDuration.Record(ctx, d.Seconds())
}

// RecordEstimate sets the point estimate gauge for an estimator.
func (m *Metrics) RecordEstimate(ctx context.Context, name string, v float64) {
	if m == nil {
		return
	}
	m.Estimate.Record(ctx, v, metric.WithAttributes(attribute.String("estimator", name)))
}

// RecordIntervalWidth sets the interval width gauge for an estimator.
func (m *Metrics) RecordIntervalWidth(ctx context.Context, name string, width float64) {
	if m == nil {
		return
	}
	m.IntervalWidth.Record(ctx, width, metric.WithAttributes(attribute.String("estimator", name)))
}
