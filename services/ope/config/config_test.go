// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModeBandit, cfg.Mode)
	assert.Len(t, cfg.Estimators, 4)
	assert.Len(t, cfg.Intervals, 3)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
mode: bandit
alpha: 0.1
workers: 2
estimators:
  - {name: ips, kind: ips}
  - {name: cr5, kind: cressieread, rho: 5, wmax: 20}
intervals:
  - {name: cr, kind: cressieread, rmin: -1, rmax: 1}
cats: {num_actions: 8, min_value: 0, max_value: 32, bandwidth: 1}
`))
	require.NoError(t, err)
	assert.Equal(t, 0.1, cfg.Alpha)
	assert.Equal(t, 2, cfg.Workers)
	require.Len(t, cfg.Estimators, 2)
	require.NotNil(t, cfg.Estimators[1].Rho)
	assert.Equal(t, 5.0, *cfg.Estimators[1].Rho)
	assert.Equal(t, 20.0, *cfg.Estimators[1].WMax)
	assert.Nil(t, cfg.Estimators[1].WMin)
	require.Len(t, cfg.Intervals, 1)
	assert.Equal(t, -1.0, *cfg.Intervals[0].RMin)
	require.NotNil(t, cfg.CATS)
	assert.Equal(t, 8, cfg.CATS.NumActions)
}

func TestParse_EmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "mode: bandit\nfoo: 1\n"},
		{"bad mode", "mode: contextual\n"},
		{"alpha out of range", "alpha: 1.5\n"},
		{"zero workers", "workers: 0\n"},
		{"unknown kind", "estimators: [{name: x, kind: dr}]\n"},
		{"missing name", "estimators: [{kind: ips}]\n"},
		{"duplicate name", "estimators: [{name: a, kind: ips}, {name: a, kind: snips}]\n"},
		{"slate kind in bandit mode", "estimators: [{name: pi, kind: pseudoinverse}]\n"},
		{"bandit kind in slate mode", "mode: slate\nestimators: [{name: ips, kind: ips}]\nintervals: []\n"},
		{"wmin above one", "estimators: [{name: m, kind: mle, wmin: 2}]\n"},
		{"rmin above rmax", "intervals: [{name: c, kind: cressieread, rmin: 1, rmax: 0}]\n"},
		{"nothing to run", "estimators: []\nintervals: []\n"},
		{"cats in slate mode", "mode: slate\nestimators: [{name: pi, kind: pseudoinverse}]\nintervals: []\ncats: {num_actions: 2, min_value: 0, max_value: 4, bandwidth: 1}\n"},
		{"cats empty range", "cats: {num_actions: 2, min_value: 4, max_value: 4, bandwidth: 1}\n"},
		{"cats wide bandwidth", "cats: {num_actions: 2, min_value: 0, max_value: 4, bandwidth: 1.5}\n"},
		{"interval rho without wmax", "intervals: [{name: c, kind: cressieread, rho: 0.5}]\n"},
		{"interval rho zero without wmax", "intervals: [{name: c, kind: cressieread, rho: 0}]\n"},
		{"point rho without wmax", "estimators: [{name: c, kind: cressieread, rho: 3}]\n"},
		{"malformed", "mode: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestParse_CressieReadRho(t *testing.T) {
	valid := []string{
		"intervals: [{name: c, kind: cressieread, rho: 0.5, wmax: 10}]\n",
		"intervals: [{name: c, kind: cressieread, rho: 2}]\n",
		"estimators: [{name: c, kind: cressieread, rho: 0}]\n",
	}
	for _, y := range valid {
		_, err := Parse([]byte(y))
		assert.NoError(t, err, y)
	}
}

func TestParse_SlateMode(t *testing.T) {
	cfg, err := Parse([]byte("mode: slate\nestimators: [{name: pi, kind: pseudoinverse}]\nintervals: [{name: g, kind: gaussian}]\n"))
	require.NoError(t, err)
	assert.Equal(t, ModeSlate, cfg.Mode)
}

func TestWriteDefaultAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ope.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)

	assert.Error(t, WriteDefault(path), "existing files are not overwritten")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
