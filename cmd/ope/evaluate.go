// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianOPE/services/ope/config"
	"github.com/AleutianAI/AleutianOPE/services/ope/evaluate"
	"github.com/AleutianAI/AleutianOPE/services/ope/history"
	"github.com/AleutianAI/AleutianOPE/services/ope/sink"
	"github.com/AleutianAI/AleutianOPE/services/ope/telemetry"
)

const meterName = "aleutian.ope"

type evaluateFlags struct {
	configPath      string
	input           string
	output          string
	format          string
	workers         int
	alpha           float64
	metricsTextfile string
	historyDir      string
	influx          bool
	gcsCredentials  string
	watch           bool
}

func newEvaluateCmd() *cobra.Command {
	f := &evaluateFlags{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Estimate the target policy value from a JSON-lines log",
		Long: `Reads JSON lines from --input (a path, gs://bucket/object, or - for stdin)
and writes the report to --output.

Bandit records:      {"p_log":0.25,"r":1,"p_pred":0.7}
Continuous records:  {"a":3.2,"p_log":0.1,"r":1,"pred_a":3.0}   (needs cats in the config)
Slate records:       {"p_logs":[0.5,0.25],"r":1,"p_preds":[1,0.5]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluate(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "Config file (default: every bandit estimator)")
	fl.StringVarP(&f.input, "input", "i", evaluate.StdioURI, "Log to evaluate: path, gs://bucket/object or -")
	fl.StringVarP(&f.output, "output", "o", evaluate.StdioURI, "Report destination: path, gs://bucket/object or -")
	fl.StringVar(&f.format, "format", "json", "Report format (json, text)")
	fl.IntVar(&f.workers, "workers", 0, "Override the configured worker count")
	fl.Float64Var(&f.alpha, "alpha", 0, "Override the configured interval miscoverage")
	fl.StringVar(&f.metricsTextfile, "metrics-textfile", "", "Write prometheus metrics to this file after each run")
	fl.StringVar(&f.historyDir, "history-dir", "", "Store reports in the run history at this directory")
	fl.BoolVar(&f.influx, "influx", false, "Export reports to InfluxDB (INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG, INFLUXDB_BUCKET)")
	fl.StringVar(&f.gcsCredentials, "gcs-credentials", "", "Service account key for gs:// URIs (default: application default credentials)")
	fl.BoolVar(&f.watch, "watch", false, "Re-evaluate whenever the local --input file changes")
	return cmd
}

func runEvaluate(ctx context.Context, stdout io.Writer, f *evaluateFlags) error {
	if f.format != "json" && f.format != "text" {
		return fmt.Errorf("invalid --format %q (want json or text)", f.format)
	}
	if f.watch && (f.input == evaluate.StdioURI || isGCS(f.input)) {
		return errors.New("--watch needs a local --input file")
	}
	cfg, err := loadConfig(f.configPath, f.workers, f.alpha)
	if err != nil {
		return err
	}

	tcfg := telemetry.DefaultConfig()
	if f.metricsTextfile != "" {
		tcfg.MetricExporter = "prometheus"
	}
	provider, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			slog.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()
	metrics, err := telemetry.NewMetrics(provider.Meter(meterName))
	if err != nil {
		return err
	}

	runner, err := evaluate.NewRunner(cfg, evaluate.WithLogger(slog.Default()), evaluate.WithMetrics(metrics))
	if err != nil {
		return err
	}
	storage := evaluate.NewStorage(f.gcsCredentials)
	defer storage.Close()

	var store *history.Store
	if f.historyDir != "" {
		if store, err = history.Open(history.DefaultConfig(f.historyDir)); err != nil {
			return err
		}
		defer store.Close()
	}
	var influx *sink.Influx
	if f.influx {
		if influx, err = sink.NewInflux(sink.InfluxConfigFromEnv()); err != nil {
			return err
		}
		defer influx.Close()
	}

	handle := func(report *evaluate.Report) error {
		if err := writeReport(ctx, storage, stdout, f.output, f.format, report); err != nil {
			return err
		}
		if store != nil {
			if err := store.Put(ctx, report); err != nil {
				return fmt.Errorf("store report: %w", err)
			}
		}
		if influx != nil {
			if err := influx.Write(ctx, report); err != nil {
				slog.Warn("InfluxDB export failed", slog.String("run_id", report.RunID), slog.String("error", err.Error()))
			}
		}
		if f.metricsTextfile != "" {
			if err := provider.WriteTextfile(f.metricsTextfile); err != nil {
				return err
			}
		}
		return nil
	}

	if f.watch {
		return runner.Watch(ctx, f.input, evaluate.DefaultDebounce, handle)
	}

	in, err := storage.Open(ctx, f.input)
	if err != nil {
		return err
	}
	defer in.Close()
	report, err := runner.Run(ctx, in)
	if err != nil {
		return err
	}
	return handle(report)
}

// loadConfig reads path, or takes the defaults when path is empty, and
// applies the command-line overrides.
func loadConfig(path string, workers int, alpha float64) (*config.Config, error) {
	var cfg *config.Config
	if path == "" {
		d := config.DefaultConfig()
		cfg = &d
	} else {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if alpha > 0 {
		cfg.Alpha = alpha
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeReport(ctx context.Context, storage *evaluate.Storage, stdout io.Writer, uri, format string, r *evaluate.Report) error {
	var w io.WriteCloser
	if uri == evaluate.StdioURI {
		w = nopCloser{stdout}
	} else {
		var err error
		if w, err = storage.Create(ctx, uri); err != nil {
			return err
		}
	}

	var err error
	if format == "text" {
		err = r.WriteText(w)
	} else {
		err = r.WriteJSON(w)
	}
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return w.Close()
}

func isGCS(uri string) bool {
	_, _, ok, _ := evaluate.ParseGCSURI(uri)
	return ok
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
