// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package estimator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOPE/services/ope/fsum"
)

func TestWeight(t *testing.T) {
	w, err := Weight(0.3, 1, 0.6)
	require.NoError(t, err)
	assert.Equal(t, 2.0, w)

	w, err = Weight(1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, w)

	tests := []struct {
		name           string
		pLog, r, pPred float64
	}{
		{"zero logging probability", 0, 1, 0.5},
		{"negative logging probability", -0.1, 1, 0.5},
		{"logging probability above one", 1.5, 1, 0.5},
		{"NaN logging probability", math.NaN(), 1, 0.5},
		{"negative target probability", 0.5, 1, -0.1},
		{"infinite target probability", 0.5, 1, math.Inf(1)},
		{"NaN reward", 0.5, math.NaN(), 0.5},
		{"weight overflows", 1e-300, 1, 1e10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Weight(tt.pLog, tt.r, tt.pPred)
			assert.ErrorIs(t, err, ErrInvalidExample)
		})
	}
}

func TestSlateWeights(t *testing.T) {
	w, err := SlateWeights([]float64{0.5, 0.25}, 1, []float64{1, 0.5})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2}, w)

	_, err = SlateWeights([]float64{0.5}, 1, []float64{1, 0.5})
	assert.ErrorIs(t, err, ErrSlotMismatch)
	assert.ErrorIs(t, err, ErrInvalidExample)

	_, err = SlateWeights(nil, 1, nil)
	assert.ErrorIs(t, err, ErrSlotMismatch)

	_, err = SlateWeights([]float64{1e-300}, 1, []float64{1e10})
	assert.ErrorIs(t, err, ErrInvalidExample)

	_, err = SlateWeights([]float64{0.5, 0}, 1, []float64{1, 0.5})
	assert.ErrorIs(t, err, ErrInvalidExample)
	assert.NotErrorIs(t, err, ErrSlotMismatch)
}

func TestInterval(t *testing.T) {
	i := NewInterval(0.7, 0.2, 0.05)
	assert.Equal(t, 0.2, i.Lower)
	assert.Equal(t, 0.7, i.Upper)
	assert.InDelta(t, 0.95, i.Level, 1e-12)
	assert.InDelta(t, 0.5, i.Width(), 1e-12)
	assert.True(t, i.Contains(0.5))
	assert.False(t, i.Contains(0.9))
}

func TestNormalizeAlpha(t *testing.T) {
	assert.Equal(t, 0.1, NormalizeAlpha(0.1))
	assert.Equal(t, DefaultAlpha, NormalizeAlpha(0))
	assert.Equal(t, DefaultAlpha, NormalizeAlpha(1))
	assert.Equal(t, DefaultAlpha, NormalizeAlpha(-3))
	assert.Equal(t, DefaultAlpha, NormalizeAlpha(math.NaN()))
}

func TestAccumulate(t *testing.T) {
	var a, b fsum.Accumulator
	require.NoError(t, Accumulate(fsum.Term{Acc: &a, X: 1}, fsum.Term{Acc: &b, X: 1e308}))

	err := Accumulate(fsum.Term{Acc: &a, X: 1}, fsum.Term{Acc: &b, X: 1e308})
	assert.ErrorIs(t, err, ErrInvalidExample)
	assert.ErrorIs(t, err, fsum.ErrOverflow)
	assert.Equal(t, 1.0, a.Value())
	assert.Equal(t, 1e308, b.Value())
}
