// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bandits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOPE/services/ope/estimator"
)

func TestCATS_TransformFeedsIPS(t *testing.T) {
	const maxValue, bandwidth = 32.0, 1.0
	cats, err := NewCATS(8, 0, maxValue, bandwidth)
	require.NoError(t, err)

	pLogs := []float64{0.151704, 0.006250, 0.086, 0.086, 0.086}
	actions := []float64{15.0, 3.89, 22.3, 17.34, 31}
	rewards := []float64{0.1, 0.2, 0, 1.0, 1.0}

	ips, snips := NewIPS(), NewSNIPS()
	for i := range actions {
		ex := ContinuousExample{Action: actions[i], PLog: pLogs[i], Reward: rewards[i]}
		if ex.Action < maxValue/2 {
			ex = cats.Transform(ex, ex.Action+2*bandwidth)
			assert.Equal(t, 0.0, ex.PPred, "prediction outside the kernel")
		} else {
			ex = cats.Transform(ex, ex.Action)
			assert.Equal(t, 1/(2*bandwidth), ex.PPred)
		}

		require.NoError(t, ips.AddExample(ex.PLog, ex.Reward, ex.PPred))
		require.NoError(t, snips.AddExample(ex.PLog, ex.Reward, ex.PPred))
		assert.GreaterOrEqual(t, ips.Get(), snips.Get())
	}
}

func TestCATS_TransformOnEdges(t *testing.T) {
	const bandwidth = 2.0
	cats, err := NewCATS(8, 0, 32, bandwidth)
	require.NoError(t, err)

	for _, a := range []float64{0, 1, 31, 32} {
		ex := cats.Transform(ContinuousExample{Action: a, PLog: 0.086, Reward: 1}, a)
		assert.Equal(t, 1/(2*bandwidth), ex.PPred, "action %v", a)
	}
}

func TestCATS_TransformKeepsOtherFields(t *testing.T) {
	cats, err := NewCATS(4, 0, 8, 1)
	require.NoError(t, err)
	in := ContinuousExample{Action: 3, PLog: 0.2, Reward: 0.7, PPred: 9}
	out := cats.Transform(in, 3.5)

	assert.Equal(t, ContinuousExample{Action: 3, PLog: 0.2, Reward: 0.7, PPred: 0.5}, out)
	assert.Equal(t, 9.0, in.PPred, "input must not be modified")
	assert.Equal(t, 0.0, cats.Transform(in, 4.5).PPred)
}

func TestCATS_Baseline(t *testing.T) {
	cats, err := NewCATS(8, 0, 32, 1)
	require.NoError(t, err)
	assert.Equal(t, 4.0, cats.UnitRange())
	assert.Equal(t, 2.0, cats.Baseline1Prediction())

	cats, err = NewCATS(8, 1, 33, 1)
	require.NoError(t, err)
	assert.Equal(t, 3.0, cats.Baseline1Prediction())
}

func TestCATS_Bins(t *testing.T) {
	cats, err := NewCATS(8, 0, 32, 1)
	require.NoError(t, err)

	assert.Equal(t, 0, cats.Bin(0))
	assert.Equal(t, 0, cats.Bin(3.99))
	assert.Equal(t, 1, cats.Bin(4))
	assert.Equal(t, 7, cats.Bin(31))
	assert.Equal(t, 7, cats.Bin(32), "upper edge belongs to the last bin")
	assert.Equal(t, 0, cats.Bin(-5))
	assert.Equal(t, 7, cats.Bin(100))

	assert.Equal(t, 6.0, cats.BinCenter(1))
	assert.Equal(t, 30.0, cats.BinCenter(7))
	assert.Equal(t, 30.0, cats.BinCenter(12))
}

func TestNewCATS_Validation(t *testing.T) {
	tests := []struct {
		name       string
		numActions int
		min, max   float64
		bandwidth  float64
	}{
		{"no actions", 0, 0, 32, 1},
		{"negative actions", -2, 0, 32, 1},
		{"empty range", 8, 5, 5, 1},
		{"inverted range", 8, 32, 0, 1},
		{"zero bandwidth", 8, 0, 32, 0},
		{"bandwidth above half unit range", 8, 0, 32, 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCATS(tt.numActions, tt.min, tt.max, tt.bandwidth)
			assert.ErrorIs(t, err, estimator.ErrInvalidConfig)
		})
	}

	_, err := NewCATS(8, 0, 32, 2)
	assert.NoError(t, err, "bandwidth of exactly half a unit range is allowed")
}
