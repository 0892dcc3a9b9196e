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
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/AleutianAI/AleutianOPE/services/ope/estimator"
	"github.com/AleutianAI/AleutianOPE/services/ope/fsum"
	"github.com/AleutianAI/AleutianOPE/services/ope/internal/solve"
)

var _ estimator.PointEstimator = (*MLE)(nil)

// -----------------------------------------------------------------------------
// Sample Histogram
// -----------------------------------------------------------------------------

// sample is a distinct (weight, reward) pair.
type sample struct {
	w, r float64
}

// point is a sample with its multiplicity.
type point struct {
	w, r, c float64
}

// histogram stores the multiset of observed (weight, reward) pairs. The
// iterative estimators need every distinct weight, not just moments.
type histogram map[sample]float64

func (h histogram) add(w, r, count float64) {
	h[sample{w: w, r: r}] += count
}

func (h histogram) merge(other histogram) {
	for s, c := range other {
		h[s] += c
	}
}

// points returns the histogram in a stable order so repeated reads sum
// identically.
func (h histogram) points() []point {
	pts := make([]point, 0, len(h))
	for s, c := range h {
		pts = append(pts, point{w: s.w, r: s.r, c: c})
	}
	slices.SortFunc(pts, func(a, b point) int {
		if c := cmp.Compare(a.w, b.w); c != 0 {
			return c
		}
		return cmp.Compare(a.r, b.r)
	})
	return pts
}

// -----------------------------------------------------------------------------
// MLE
// -----------------------------------------------------------------------------

// MLE is the empirical-likelihood estimator.
//
// Description:
//
//	MLE reweights the logged samples by the maximum-likelihood distribution
//	q subject to sum(q) = 1 and sum(q*w) = 1. One virtual sample with the
//	extreme weight allowed by WithWeightBounds joins the data so that mass
//	the log cannot explain has somewhere to go; that mass is valued at the
//	midpoint of the reward range. The dual reduces to a single multiplier
//	found by bisection between the poles set by the smallest and largest
//	weight. When there is no data, no bracket, or no convergence, Get
//	returns the SNIPS estimate.
//
// Thread Safety: Not safe for concurrent use.
type MLE struct {
	opts  options
	hist  histogram
	n     fsum.Accumulator
	sumW  fsum.Accumulator
	sumWR fsum.Accumulator
}

// NewMLE returns an empty MLE estimator.
//
// Inputs:
//   - opts: WithWeightBounds and WithRewardRange apply; WithRho is ignored.
//
// Outputs:
//   - *MLE: The estimator.
//   - error: Wraps estimator.ErrInvalidConfig for unusable bounds.
func NewMLE(opts ...Option) (*MLE, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &MLE{opts: o, hist: make(histogram)}, nil
}

// AddExample ingests one record. Weights outside the configured bounds are
// rejected.
func (e *MLE) AddExample(pLog, reward, pPred float64) error {
	w, err := boundedWeight(e.opts, pLog, reward, pPred)
	if err != nil {
		return err
	}
	err = estimator.Accumulate(
		fsum.Term{Acc: &e.n, X: 1},
		fsum.Term{Acc: &e.sumW, X: w},
		fsum.Term{Acc: &e.sumWR, X: w * reward},
	)
	if err != nil {
		return err
	}
	e.hist.add(w, reward, 1)
	return nil
}

// Get returns the MLE estimate.
func (e *MLE) Get() float64 {
	n, sumW := e.n.Value(), e.sumW.Value()
	fallback := snipsValue(sumW, e.sumWR.Value())
	if n == 0 {
		return fallback
	}
	v, err := empiricalLikelihood(e.hist.points(), n, sumW, e.opts)
	if err != nil {
		return fallback
	}
	return v
}

// Merge folds another MLE shard with identical bounds into the receiver.
func (e *MLE) Merge(other estimator.PointEstimator) error {
	o, ok := other.(*MLE)
	if !ok {
		return mergeError(e, other)
	}
	if e.opts != o.opts {
		return fmt.Errorf("%w: MLE options differ", estimator.ErrIncompatibleMerge)
	}
	e.hist.merge(o.hist)
	e.n.AddAccumulator(&o.n)
	e.sumW.AddAccumulator(&o.sumW)
	e.sumWR.AddAccumulator(&o.sumWR)
	return nil
}

// boundedWeight validates a record and checks its weight against the bounds.
func boundedWeight(o options, pLog, reward, pPred float64) (float64, error) {
	w, err := estimator.Weight(pLog, reward, pPred)
	if err != nil {
		return 0, err
	}
	if w < o.wMin || w > o.wMax {
		return 0, fmt.Errorf("%w: weight %v outside [%v, %v]", estimator.ErrInvalidExample, w, o.wMin, o.wMax)
	}
	return w, nil
}

// -----------------------------------------------------------------------------
// Empirical Likelihood Solver
// -----------------------------------------------------------------------------

// empiricalLikelihood solves the MLE dual for the observed points.
//
// With d = w - 1 the optimal weights are q = 1/((n+1)(1 + lambda*d)) where
// lambda is the root of sum(c*d/(1 + lambda*d)) = 0, a strictly decreasing
// function on (-1/dmax, 1/|dmin|). An infinite virtual weight contributes
// its limit 1/lambda and pins the lower pole at 0.
func empiricalLikelihood(pts []point, n, sumW float64, o options) (float64, error) {
	all := append(slices.Clip(pts), point{w: o.fakeWeight(n, sumW), c: 1})

	lo, hi := math.Inf(-1), math.Inf(1)
	for _, p := range all {
		d := p.w - 1
		switch {
		case math.IsInf(p.w, 1):
			lo = math.Max(lo, 0)
		case d > 0:
			lo = math.Max(lo, -1/d)
		case d < 0:
			hi = math.Min(hi, -1/d)
		}
	}
	if math.IsInf(lo, -1) || math.IsInf(hi, 1) {
		return 0, solve.ErrNoBracket
	}

	score := func(lambda float64) float64 {
		var s float64
		for _, p := range all {
			s += p.c * elTerm(p.w, lambda)
		}
		return s
	}
	lambda, err := solve.Bisect(score, lo, hi, solve.DefaultTolerance)
	if err != nil {
		return 0, err
	}

	total := n + 1
	var value, mass fsum.Accumulator
	for _, p := range pts {
		q := p.c / (total * (1 + lambda*(p.w-1)))
		value.Add(q * p.w * p.r)
		mass.Add(q * p.w)
	}
	v := value.Value() + math.Max(0, 1-mass.Value())*o.rMid()
	if !isFinite(v) {
		return 0, solve.ErrNaN
	}
	return v, nil
}

// elTerm is d/(1 + lambda*d) with the poles mapped to signed infinities.
func elTerm(w, lambda float64) float64 {
	if math.IsInf(w, 1) {
		if lambda <= 0 {
			return math.Inf(1)
		}
		return 1 / lambda
	}
	d := w - 1
	den := 1 + lambda*d
	if den <= 0 {
		if d > 0 {
			return math.Inf(1)
		}
		return math.Inf(-1)
	}
	return d / den
}
