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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianOPE/services/ope/config"
	"github.com/AleutianAI/AleutianOPE/services/ope/estimator"
)

// Report is the outcome of one evaluation run.
type Report struct {
	// RunID uniquely identifies the run (UUID v4).
	RunID string `json:"run_id"`

	Mode    config.Mode `json:"mode"`
	Alpha   float64     `json:"alpha"`
	Workers int         `json:"workers"`

	// Examples counts records every estimator saw; Invalid counts skipped
	// lines.
	Examples int64 `json:"examples"`
	Invalid  int64 `json:"invalid"`

	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`

	Estimates []EstimateResult `json:"estimates"`
	Intervals []IntervalResult `json:"intervals"`
}

// EstimateResult is one point estimate.
type EstimateResult struct {
	Name     string      `json:"name"`
	Kind     config.Kind `json:"kind"`
	Value    float64     `json:"value"`
	Rejected int64       `json:"rejected,omitempty"`
}

// IntervalResult is one confidence interval.
type IntervalResult struct {
	Name string      `json:"name"`
	Kind config.Kind `json:"kind"`
	estimator.Interval
	Rejected int64 `json:"rejected,omitempty"`
}

func newEstimateResult(t tally, v float64) EstimateResult {
	return EstimateResult{Name: t.spec.Name, Kind: t.spec.Kind, Value: v, Rejected: t.rejected}
}

func newIntervalResult(t tally, iv estimator.Interval) IntervalResult {
	return IntervalResult{Name: t.spec.Name, Kind: t.spec.Kind, Interval: iv, Rejected: t.rejected}
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

var (
	colorTeal  = lipgloss.Color("#20B9B4")
	colorSlate = lipgloss.Color("#2C4A54")
)

// WriteText writes the report as two aligned tables. Terminals get rounded
// borders and colour; pipes and files get plain ASCII.
func (r *Report) WriteText(w io.Writer) error {
	styled := isTerminal(w)
	renderer := lipgloss.NewRenderer(w)

	header := renderer.NewStyle().Bold(true).Padding(0, 1)
	cell := renderer.NewStyle().Padding(0, 1)
	border := lipgloss.ASCIIBorder()
	if styled {
		header = header.Foreground(colorTeal)
		border = lipgloss.RoundedBorder()
	}
	newTable := func(headers ...string) *table.Table {
		t := table.New().
			Border(border).
			Headers(headers...).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return header
				}
				return cell
			})
		if styled {
			t = t.BorderStyle(renderer.NewStyle().Foreground(colorSlate))
		}
		return t
	}

	summary := fmt.Sprintf("run %s  mode=%s  examples=%d  invalid=%d  level=%s  %.3fs",
		r.RunID, r.Mode, r.Examples, r.Invalid, formatFloat(1-r.Alpha), r.DurationSeconds)
	if _, err := fmt.Fprintln(w, summary); err != nil {
		return err
	}

	if len(r.Estimates) > 0 {
		t := newTable("ESTIMATOR", "KIND", "VALUE", "REJECTED")
		for _, e := range r.Estimates {
			t.Row(e.Name, string(e.Kind), formatFloat(e.Value), strconv.FormatInt(e.Rejected, 10))
		}
		if _, err := fmt.Fprintln(w, t.Render()); err != nil {
			return err
		}
	}
	if len(r.Intervals) > 0 {
		t := newTable("INTERVAL", "KIND", "LOWER", "UPPER", "WIDTH", "REJECTED")
		for _, iv := range r.Intervals {
			t.Row(iv.Name, string(iv.Kind), formatFloat(iv.Lower), formatFloat(iv.Upper),
				formatFloat(iv.Width()), strconv.FormatInt(iv.Rejected, 10))
		}
		if _, err := fmt.Fprintln(w, t.Render()); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
