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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianOPE/services/ope/evaluate"
	"github.com/AleutianAI/AleutianOPE/services/ope/history"
	"github.com/AleutianAI/AleutianOPE/services/ope/server"
	"github.com/AleutianAI/AleutianOPE/services/ope/sink"
	"github.com/AleutianAI/AleutianOPE/services/ope/telemetry"
)

type serveFlags struct {
	configPath string
	addr       string
	historyDir string
	influx     bool
	workers    int
}

func newServeCmd() *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve evaluation over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "Config file (default: every bandit estimator)")
	fl.StringVar(&f.addr, "addr", ":8080", "Listen address")
	fl.StringVar(&f.historyDir, "history-dir", "", "Store reports in the run history at this directory")
	fl.BoolVar(&f.influx, "influx", false, "Export reports to InfluxDB (INFLUXDB_* environment)")
	fl.IntVar(&f.workers, "workers", 0, "Override the configured worker count")
	return cmd
}

func runServe(ctx context.Context, f *serveFlags) error {
	cfg, err := loadConfig(f.configPath, f.workers, 0)
	if err != nil {
		return err
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.MetricExporter = "prometheus"
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

	opts := []server.Option{server.WithLogger(slog.Default())}
	if h, err := provider.Handler(); err == nil {
		opts = append(opts, server.WithMetricsHandler(h))
	}
	if f.historyDir != "" {
		store, err := history.Open(history.DefaultConfig(f.historyDir))
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, server.WithHistory(store))
	}
	if f.influx {
		influx, err := sink.NewInflux(sink.InfluxConfigFromEnv())
		if err != nil {
			return err
		}
		defer influx.Close()
		opts = append(opts, server.WithSink(influx))
	}

	srv, err := server.New(runner, opts...)
	if err != nil {
		return err
	}
	return srv.Run(ctx, f.addr)
}
