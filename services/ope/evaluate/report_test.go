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
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOPE/services/ope/config"
	"github.com/AleutianAI/AleutianOPE/services/ope/estimator"
)

func sampleReport() *Report {
	return &Report{
		RunID:           "3f1c2d7e-0000-4000-8000-000000000001",
		Mode:            config.ModeBandit,
		Alpha:           0.05,
		Workers:         2,
		Examples:        10,
		Invalid:         1,
		StartedAt:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		DurationSeconds: 0.25,
		Estimates: []EstimateResult{
			{Name: "ips", Kind: config.KindIPS, Value: 0.5},
			{Name: "mle", Kind: config.KindMLE, Value: 0.45, Rejected: 2},
		},
		Intervals: []IntervalResult{
			{Name: "gaussian", Kind: config.KindGaussian, Interval: estimator.NewInterval(0.25, 0.75, 0.05)},
		},
	}
}

func TestReport_WriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteJSON(&buf))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	assert.Equal(t, "bandit", raw["mode"])
	assert.EqualValues(t, 10, raw["examples"])

	intervals := raw["intervals"].([]any)
	first := intervals[0].(map[string]any)
	assert.Equal(t, "gaussian", first["name"])
	assert.EqualValues(t, 0.25, first["lower"])
	assert.EqualValues(t, 0.75, first["upper"])
	assert.NotContains(t, first, "rejected")

	estimates := raw["estimates"].([]any)
	assert.EqualValues(t, 2, estimates[1].(map[string]any)["rejected"])
}

func TestReport_WriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteText(&buf))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "run 3f1c2d7e-0000-4000-8000-000000000001"))
	assert.Contains(t, out, "examples=10")
	assert.Contains(t, out, "invalid=1")
	for _, want := range []string{"ESTIMATOR", "INTERVAL", "ips", "mle", "gaussian", "0.500000", "0.450000", "0.250000", "0.750000"} {
		assert.Contains(t, out, want)
	}
	// Not a terminal: plain ASCII borders and no escape sequences.
	assert.Contains(t, out, "+")
	assert.NotContains(t, out, "\x1b[")
}

func TestReport_WriteTextSkipsEmptySections(t *testing.T) {
	r := sampleReport()
	r.Intervals = nil
	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.NotContains(t, buf.String(), "INTERVAL")
}
