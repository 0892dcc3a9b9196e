// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOPE/services/ope/fsum"
)

// -----------------------------------------------------------------------------
// Quantile Tests
// -----------------------------------------------------------------------------

func TestBetaQuantile(t *testing.T) {
	t.Run("degenerate shapes", func(t *testing.T) {
		assert.Equal(t, 0.0, BetaQuantile(0.3, 0, 5))
		assert.Equal(t, 0.0, BetaQuantile(0.3, -1, 5))
		assert.Equal(t, 1.0, BetaQuantile(0.3, 2, 0))
		assert.Equal(t, 1.0, BetaQuantile(0.3, 2, -4))
	})

	t.Run("uniform", func(t *testing.T) {
		// Beta(1,1) is the uniform distribution.
		assert.InDelta(t, 0.25, BetaQuantile(0.25, 1, 1), 1e-9)
		assert.InDelta(t, 0.9, BetaQuantile(0.9, 1, 1), 1e-9)
	})

	t.Run("closed form Beta(a,1)", func(t *testing.T) {
		// CDF is x^a, so the quantile is p^(1/a).
		assert.InDelta(t, math.Pow(0.4, 1.0/3), BetaQuantile(0.4, 3, 1), 1e-9)
	})

	t.Run("monotone in p", func(t *testing.T) {
		prev := -1.0
		for _, p := range []float64{0.01, 0.1, 0.5, 0.9, 0.99} {
			q := BetaQuantile(p, 2.5, 7.5)
			assert.Greater(t, q, prev)
			prev = q
		}
	})
}

func TestNormalQuantile(t *testing.T) {
	assert.InDelta(t, 0.0, NormalQuantile(0.5), 1e-12)
	assert.InDelta(t, 1.959964, NormalQuantile(0.975), 1e-6)
	assert.InDelta(t, 1.959964, TwoSidedZ(0.05), 1e-6)
	assert.True(t, math.IsInf(NormalQuantile(0), -1))
	assert.True(t, math.IsInf(NormalQuantile(1), 1))
}

func TestFInverseSurvival(t *testing.T) {
	// F(1, n) is the square of a t(n) variable; for large n it tends to the
	// chi-square(1) critical value 3.841.
	assert.InDelta(t, 3.841, FInverseSurvival(0.05, 1, 1e4), 1e-2)
	// Tabulated F(1, 10) upper 5% point.
	assert.InDelta(t, 4.965, FInverseSurvival(0.05, 1, 10), 1e-3)
	assert.Greater(t, FInverseSurvival(0.05, 1, 10), FInverseSurvival(0.05, 1, 100))
}

func TestClopperPearson(t *testing.T) {
	t.Run("zero successes", func(t *testing.T) {
		lower, upper := ClopperPearson(0, 10, 0.05)
		assert.Equal(t, 0.0, lower)
		// Tabulated exact upper bound for 0/10 at 95%.
		assert.InDelta(t, 0.3085, upper, 1e-4)
	})

	t.Run("all successes", func(t *testing.T) {
		lower, upper := ClopperPearson(10, 10, 0.05)
		assert.InDelta(t, 0.6915, lower, 1e-4)
		assert.Equal(t, 1.0, upper)
	})

	t.Run("interior", func(t *testing.T) {
		lower, upper := ClopperPearson(5, 10, 0.05)
		assert.InDelta(t, 0.1871, lower, 1e-4)
		assert.InDelta(t, 0.8129, upper, 1e-4)
	})

	t.Run("narrows with n", func(t *testing.T) {
		l1, u1 := ClopperPearson(50, 100, 0.05)
		l2, u2 := ClopperPearson(5000, 10000, 0.05)
		assert.Less(t, u2-l2, u1-l1)
	})
}

// -----------------------------------------------------------------------------
// Moments Tests
// -----------------------------------------------------------------------------

func TestMoments(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var m Moments
		assert.Equal(t, 0.0, m.n.Value())
		assert.Equal(t, 0.0, m.Mean())
		assert.Equal(t, 0.0, m.Variance())
		lower, upper := m.NormalInterval(0.05)
		assert.Equal(t, 0.0, lower)
		assert.Equal(t, 0.0, upper)
	})

	t.Run("single observation has zero width", func(t *testing.T) {
		var m Moments
		require.NoError(t, m.Add(2.5))
		lower, upper := m.NormalInterval(0.05)
		assert.Equal(t, 2.5, lower)
		assert.Equal(t, 2.5, upper)
	})

	t.Run("sample statistics", func(t *testing.T) {
		var m Moments
		for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
			m.Add(x)
		}
		assert.Equal(t, 8.0, m.n.Value())
		assert.InDelta(t, 5.0, m.Mean(), 1e-12)
		assert.InDelta(t, 32.0/7, m.Variance(), 1e-12)

		lower, upper := m.NormalInterval(0.05)
		margin := 1.959964 * math.Sqrt(32.0/7/8)
		assert.InDelta(t, 5-margin, lower, 1e-5)
		assert.InDelta(t, 5+margin, upper, 1e-5)
	})

	t.Run("merge equals single stream", func(t *testing.T) {
		var all, a, b Moments
		for i, x := range []float64{0.5, 1, 0, 2, 0, 1.5, 3} {
			all.Add(x)
			if i%2 == 0 {
				a.Add(x)
			} else {
				b.Add(x)
			}
		}
		a.Merge(&b)
		assert.Equal(t, all.n.Value(), a.n.Value())
		assert.InDelta(t, all.Mean(), a.Mean(), 1e-12)
		assert.InDelta(t, all.Variance(), a.Variance(), 1e-12)
	})

	t.Run("overflowing square is refused", func(t *testing.T) {
		var m Moments
		require.NoError(t, m.Add(1))
		require.NoError(t, m.Add(0))

		err := m.Add(3.3e199)
		assert.ErrorIs(t, err, fsum.ErrNonFinite)
		assert.Equal(t, 2.0, m.n.Value(), "nothing recorded")
		assert.InDelta(t, 0.5, m.Mean(), 1e-12)

		assert.ErrorIs(t, m.Add(math.NaN()), fsum.ErrNonFinite)
		assert.ErrorIs(t, m.Add(math.Inf(1)), fsum.ErrNonFinite)
	})

	t.Run("overflowing sum is refused", func(t *testing.T) {
		var m Moments
		require.NoError(t, m.Add(1e154))
		assert.ErrorIs(t, m.Add(1.3e154), fsum.ErrOverflow)
		assert.Equal(t, 1.0, m.n.Value())
	})

	t.Run("non-finite merged moments give an unbounded interval", func(t *testing.T) {
		var a, b Moments
		require.NoError(t, a.Add(1e154))
		require.NoError(t, a.Add(0))
		require.NoError(t, b.Add(1.3e154))
		a.Merge(&b)

		lower, upper := a.NormalInterval(0.05)
		assert.True(t, math.IsInf(lower, -1))
		assert.True(t, math.IsInf(upper, 1))
	})
}
