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
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianOPE/services/ope/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	logLevel  string
	logFormat string
	logDir    string

	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "ope",
		Short: "Off-policy evaluation of bandit and slate policies",
		Long: `ope estimates how a target policy would have performed from interactions
logged under a different policy, with point estimates (IPS, SNIPS, MLE,
Cressie-Read, pseudo-inverse) and confidence intervals (Gaussian,
Clopper-Pearson, Cressie-Read).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, closer, err := newLogger(cmd.ErrOrStderr(), g.logLevel, g.logFormat, g.logDir)
			if err != nil {
				return err
			}
			g.logCloser = closer
			slog.SetDefault(logger)
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if g.logCloser == nil {
				return nil
			}
			return g.logCloser.Close()
		},
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "json", "Log format (json, text)")
	root.PersistentFlags().StringVar(&g.logDir, "log-dir", "", "Also append JSON logs to a daily file in this directory")

	root.AddCommand(
		newEvaluateCmd(),
		newConfigCmd(),
		newCATSCmd(),
		newServeCmd(),
		newHistoryCmd(),
	)
	return root
}

// newLogger builds the process logger. Logs go to w (stderr) so that
// reports on stdout stay machine-readable.
func newLogger(w io.Writer, level, format, dir string) (*slog.Logger, io.Closer, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	return logging.New(logging.Config{
		Level:   lvl,
		Format:  format,
		Writer:  w,
		LogDir:  dir,
		Service: "ope",
	})
}
