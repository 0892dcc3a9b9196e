// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sink exports evaluation reports to InfluxDB for dashboards and
// alerting on policy value over time.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianOPE/services/ope/evaluate"
)

const (
	// EstimateMeasurement holds one point per point estimate.
	EstimateMeasurement = "ope_estimates"

	// IntervalMeasurement holds one point per confidence interval.
	IntervalMeasurement = "ope_intervals"

	// RunMeasurement holds one point per run with its record counts.
	RunMeasurement = "ope_runs"
)

// ErrNoURL is returned when no InfluxDB URL is configured.
var ErrNoURL = errors.New("influxdb url is required")

// InfluxConfig locates the InfluxDB bucket reports are written to.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// Timeout bounds each write request. Zero keeps the client default.
	Timeout time.Duration
}

// InfluxConfigFromEnv reads INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG and
// INFLUXDB_BUCKET. Org and bucket default to "aleutian" and "ope".
func InfluxConfigFromEnv() InfluxConfig {
	return InfluxConfig{
		URL:    os.Getenv("INFLUXDB_URL"),
		Token:  os.Getenv("INFLUXDB_TOKEN"),
		Org:    getEnvOr("INFLUXDB_ORG", "aleutian"),
		Bucket: getEnvOr("INFLUXDB_BUCKET", "ope"),
	}
}

// Influx writes reports with the blocking write API.
//
// Thread Safety: Safe for concurrent use.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInflux creates a writer. No connection is made until the first write.
func NewInflux(cfg InfluxConfig) (*Influx, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.Timeout / time.Second))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &Influx{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Write sends every estimate and interval of r, stamped with the run's
// start time, in a single request.
func (s *Influx) Write(ctx context.Context, r *evaluate.Report) error {
	if err := s.writeAPI.WritePoint(ctx, Points(r)...); err != nil {
		return fmt.Errorf("write report %s to influxdb: %w", r.RunID, err)
	}
	return nil
}

// Close releases the client's idle connections.
func (s *Influx) Close() {
	s.client.Close()
}

// Points converts a report to line-protocol points.
func Points(r *evaluate.Report) []*write.Point {
	ts := r.StartedAt
	points := make([]*write.Point, 0, 1+len(r.Estimates)+len(r.Intervals))

	points = append(points, influxdb2.NewPointWithMeasurement(RunMeasurement).
		AddTag("run_id", r.RunID).
		AddTag("mode", string(r.Mode)).
		AddField("examples", r.Examples).
		AddField("invalid", r.Invalid).
		AddField("duration_seconds", r.DurationSeconds).
		SetTime(ts))

	for _, e := range r.Estimates {
		points = append(points, influxdb2.NewPointWithMeasurement(EstimateMeasurement).
			AddTag("run_id", r.RunID).
			AddTag("mode", string(r.Mode)).
			AddTag("estimator", e.Name).
			AddTag("kind", string(e.Kind)).
			AddField("value", e.Value).
			AddField("rejected", e.Rejected).
			SetTime(ts))
	}
	for _, iv := range r.Intervals {
		points = append(points, influxdb2.NewPointWithMeasurement(IntervalMeasurement).
			AddTag("run_id", r.RunID).
			AddTag("mode", string(r.Mode)).
			AddTag("estimator", iv.Name).
			AddTag("kind", string(iv.Kind)).
			AddField("lower", iv.Lower).
			AddField("upper", iv.Upper).
			AddField("level", iv.Level).
			AddField("width", iv.Width()).
			AddField("rejected", iv.Rejected).
			SetTime(ts))
	}
	return points
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
