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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianOPE/services/ope/history"
)

func defaultHistoryDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".aleutian", "ope", "history")
	}
	return filepath.Join(home, ".aleutian", "ope", "history")
}

func newHistoryCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored evaluation runs",
	}
	cmd.PersistentFlags().StringVar(&dir, "history-dir", defaultHistoryDir(), "Run history directory")

	withStore := func(fn func(ctx context.Context, cmd *cobra.Command, s *history.Store, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			s, err := history.Open(history.DefaultConfig(dir))
			if err != nil {
				return err
			}
			defer s.Close()
			return fn(cmd.Context(), cmd, s, args)
		}
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, s *history.Store, _ []string) error {
			runs, err := s.List(ctx, limit)
			if err != nil {
				return err
			}
			t := table.New().
				Border(lipgloss.ASCIIBorder()).
				Headers("RUN", "STARTED", "MODE", "EXAMPLES", "INVALID")
			for _, r := range runs {
				t.Row(r.RunID, r.StartedAt.Format(time.RFC3339), r.Mode,
					strconv.FormatInt(r.Examples, 10), strconv.FormatInt(r.Invalid, 10))
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return err
		}),
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list (0 for all)")

	var format string
	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a stored report",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, s *history.Store, args []string) error {
			r, err := s.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if format == "text" {
				return r.WriteText(cmd.OutOrStdout())
			}
			return r.WriteJSON(cmd.OutOrStdout())
		}),
	}
	show.Flags().StringVar(&format, "format", "json", "Report format (json, text)")

	var keep int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest runs",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, s *history.Store, _ []string) error {
			n, err := s.Prune(ctx, keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d runs\n", n)
			return nil
		}),
	}
	prune.Flags().IntVar(&keep, "keep", 100, "Runs to keep")

	cmd.AddCommand(list, show, prune)
	return cmd
}
