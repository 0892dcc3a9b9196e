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
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOPE/services/ope/estimator"
)

// skewedLog has weights on both sides of one and sum(w) >= n, so the
// virtual sample sits at wmin = 0.
var skewedLog = []record{
	{pLog: 0.4, r: 1, pPred: 0.6}, // w = 1.5
	{pLog: 0.8, r: 0, pPred: 0.4}, // w = 0.5
	{pLog: 0.2, r: 1, pPred: 0.5}, // w = 2.5
	{pLog: 0.5, r: 0, pPred: 0.5}, // w = 1.0
}

func feed(t *testing.T, e estimator.PointEstimator, data []record) {
	t.Helper()
	for _, rec := range data {
		require.NoError(t, e.AddExample(rec.pLog, rec.r, rec.pPred))
	}
}

func TestCressieRead_EuclideanClosedForm(t *testing.T) {
	e, err := NewCressieRead()
	require.NoError(t, err)
	feed(t, e, skewedLog)
	assert.InDelta(t, 51.0/74.0, e.Get(), 1e-12)
}

func TestCressieRead_NumericSolverMatchesClosedForm(t *testing.T) {
	closed, err := NewCressieRead(WithWeightBounds(0, 10))
	require.NoError(t, err)
	feed(t, closed, skewedLog)

	cr, err := NewCressieRead(WithWeightBounds(0, 10), WithRho(1.5))
	require.NoError(t, err)
	feed(t, cr, skewedLog)

	o := cr.opts
	o.rho = 2
	numeric, err := powerDivergence(cr.hist.points(), cr.n.Value(), cr.sumW.Value(), o)
	require.NoError(t, err)
	assert.InDelta(t, closed.Get(), numeric, 1e-9)
}

func TestCressieRead_RhoZeroIsMLE(t *testing.T) {
	cr, err := NewCressieRead(WithRho(0))
	require.NoError(t, err)
	mle, err := NewMLE()
	require.NoError(t, err)
	feed(t, cr, skewedLog)
	feed(t, mle, skewedLog)

	assert.Equal(t, mle.Get(), cr.Get())
	assert.InDelta(t, 0.6923617659709, mle.Get(), 1e-9)
}

func TestCressieRead_NumericSolverAgreesWithEmpiricalLikelihood(t *testing.T) {
	mle, err := NewMLE()
	require.NoError(t, err)
	feed(t, mle, skewedLog)

	cr, err := NewCressieRead(WithWeightBounds(0, 10), WithRho(0))
	require.NoError(t, err)
	feed(t, cr, skewedLog)

	numeric, err := powerDivergence(cr.hist.points(), cr.n.Value(), cr.sumW.Value(), cr.opts)
	require.NoError(t, err)
	assert.InDelta(t, mle.Get(), numeric, 1e-9)
}

func TestCressieRead_GeneralRho(t *testing.T) {
	tests := []struct {
		rho  float64
		want float64
	}{
		{rho: 0.5, want: 0.6915128798713},
		{rho: 1, want: 0.6906996135276},
		{rho: 3, want: 0.6878435200052},
		{rho: 5, want: 0.6856533627044},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("rho=%v", tt.rho), func(t *testing.T) {
			e, err := NewCressieRead(WithWeightBounds(0, 10), WithRho(tt.rho))
			require.NoError(t, err)
			feed(t, e, skewedLog)
			assert.InDelta(t, tt.want, e.Get(), 1e-9)

			single, err := NewCressieRead(WithWeightBounds(0, 10), WithRho(tt.rho))
			require.NoError(t, err)
			require.NoError(t, single.AddExample(0.3, 1, 0.6))
			assert.InDelta(t, 1.0, single.Get(), 1e-9)
		})
	}
}

func TestCressieRead_GeneralRhoNeedsFiniteWMax(t *testing.T) {
	_, err := NewCressieRead(WithRho(3))
	assert.ErrorIs(t, err, estimator.ErrInvalidConfig)

	_, err = NewCressieRead(WithRho(0))
	assert.NoError(t, err)
}

func TestCressieRead_InfiniteFakeWeight(t *testing.T) {
	// sum(w) < n puts the virtual sample at wmax = +Inf. The observed
	// samples then share weight uniformly and the missing mass is valued at
	// the reward midpoint.
	e, err := NewCressieRead()
	require.NoError(t, err)
	require.NoError(t, e.AddExample(0.5, 1, 0.25)) // w = 0.5
	require.NoError(t, e.AddExample(0.5, 0, 0.25)) // w = 0.5

	// q = 1/n per sample: value = (0.5*1 + 0.5*0)/2 = 0.25, mass 0.5 at 0.5.
	assert.InDelta(t, 0.5, e.Get(), 1e-12)
}

func TestTiltFunc(t *testing.T) {
	assert.Equal(t, math.Exp(0.3), tiltFunc(0)(0.3))
	assert.InDelta(t, 1.3, tiltFunc(1)(0.3), 1e-15)
	assert.Equal(t, 0.0, tiltFunc(1)(-2))
	assert.True(t, math.IsInf(tiltFunc(-1)(1), 1))
	assert.InDelta(t, 2.0, tiltFunc(-1)(0.5), 1e-15)
}

func TestElTerm(t *testing.T) {
	assert.Equal(t, 1.0, elTerm(2, 0))
	assert.True(t, math.IsInf(elTerm(2, -1), 1))
	assert.True(t, math.IsInf(elTerm(0, 1), -1))
	assert.Equal(t, 0.5, elTerm(math.Inf(1), 2))
	assert.True(t, math.IsInf(elTerm(math.Inf(1), 0), 1))
}

func TestCressieReadInterval_GeneralRho(t *testing.T) {
	data := bernoulliLog(rand.New(rand.NewPCG(13, 14)), 200)

	euclid, err := NewCressieReadInterval(WithWeightBounds(0, 10))
	require.NoError(t, err)
	for _, rec := range data {
		require.NoError(t, euclid.AddExample(rec.pLog, rec.r, rec.pPred))
	}

	for _, rho := range []float64{0, 0.5, 1, 3} {
		t.Run(fmt.Sprintf("rho=%v", rho), func(t *testing.T) {
			iv, err := NewCressieReadInterval(WithWeightBounds(0, 10), WithRho(rho))
			require.NoError(t, err)
			point, err := NewCressieRead(WithWeightBounds(0, 10), WithRho(rho))
			require.NoError(t, err)
			for _, rec := range data {
				require.NoError(t, iv.AddExample(rec.pLog, rec.r, rec.pPred))
				require.NoError(t, point.AddExample(rec.pLog, rec.r, rec.pPred))
			}

			got := iv.GetInterval(0.05)
			assert.GreaterOrEqual(t, got.Lower, 0.0)
			assert.LessOrEqual(t, got.Upper, 1.0)
			assert.Less(t, got.Lower, got.Upper)
			assert.LessOrEqual(t, got.Lower, point.Get()+1e-9)
			assert.GreaterOrEqual(t, got.Upper, point.Get()-1e-9)
			assert.NotEqual(t, euclid.GetInterval(0.05), got)

			wide := iv.GetInterval(0.01)
			assert.LessOrEqual(t, wide.Lower, got.Lower+1e-9)
			assert.GreaterOrEqual(t, wide.Upper, got.Upper-1e-9)
		})
	}
}

func TestCressieReadInterval_GeneralRhoMerge(t *testing.T) {
	data := bernoulliLog(rand.New(rand.NewPCG(15, 16)), 120)
	newEst := func() *CressieReadInterval {
		e, err := NewCressieReadInterval(WithWeightBounds(0, 10), WithRho(0.5))
		require.NoError(t, err)
		return e
	}
	single, left, right := newEst(), newEst(), newEst()
	for i, rec := range data {
		require.NoError(t, single.AddExample(rec.pLog, rec.r, rec.pPred))
		shard := left
		if i%2 == 0 {
			shard = right
		}
		require.NoError(t, shard.AddExample(rec.pLog, rec.r, rec.pPred))
	}
	require.NoError(t, left.Merge(right))

	want, got := single.GetInterval(0.1), left.GetInterval(0.1)
	assert.InDelta(t, want.Lower, got.Lower, 1e-9)
	assert.InDelta(t, want.Upper, got.Upper, 1e-9)

	euclid, err := NewCressieReadInterval(WithWeightBounds(0, 10))
	require.NoError(t, err)
	assert.ErrorIs(t, left.Merge(euclid), estimator.ErrIncompatibleMerge)
}

func TestCressieReadInterval_GeneralRhoNeedsFiniteWMax(t *testing.T) {
	for _, rho := range []float64{0, 0.5, 3} {
		_, err := NewCressieReadInterval(WithRho(rho))
		assert.ErrorIs(t, err, estimator.ErrInvalidConfig, "rho=%v", rho)
	}
	_, err := NewCressieReadInterval(WithRho(2))
	assert.NoError(t, err)
}

// TestCressieReadInterval_NearZeroProduct drives the closed-form bound with
// an infinite virtual weight, where y = -(a-b)^2/6 for two samples with
// w*r of a and b, and z = phi + 1/4.
func TestCressieReadInterval_NearZeroProduct(t *testing.T) {
	o := options{wMin: math.Inf(1), wMax: math.Inf(1), rMin: 0, rMax: 1, rho: 2}
	m := profile{n: 2, total: 3, sumWR: 1.001, sumWSqRSq: 0.501001}

	// y*z is about 1.7e-13: treated as zero, so the bound is trivial.
	assert.Equal(t, 0.0, m.bound(o, 0, 1, -0.25-1e-6))

	// y*z is about 4e-8: the profile bound x - sqrt(2yz) stands.
	want := 0.5005 - math.Sqrt(2*(1e-6/6)*0.25)
	assert.InDelta(t, want, m.bound(o, 0, 1, -0.5), 1e-9)
}

func TestDivergenceFunc(t *testing.T) {
	for _, rho := range []float64{-1, 0, 0.5, 1, 2, 3} {
		f := divergenceFunc(rho)
		assert.InDelta(t, 0, f(1), 1e-15, "rho=%v", rho)
		assert.Greater(t, f(0.5), 0.0, "rho=%v", rho)
		assert.Greater(t, f(2), 0.0, "rho=%v", rho)
	}
	assert.InDelta(t, 0.5*0.25, divergenceFunc(2)(1.5), 1e-15)
	assert.Equal(t, 1.0, divergenceFunc(1)(0))
}
