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
	"slices"

	"github.com/AleutianAI/AleutianOPE/services/ope/estimator"
	"github.com/AleutianAI/AleutianOPE/services/ope/fsum"
	"github.com/AleutianAI/AleutianOPE/services/ope/internal/solve"
)

var _ estimator.PointEstimator = (*CressieRead)(nil)

// maxExpand caps bracket doublings in the power-divergence solver.
const maxExpand = 200

// CressieRead is the distributionally robust point estimator.
//
// Description:
//
//	Like MLE, CressieRead reweights the samples plus one virtual sample so
//	that the weighted mean of w is one, but it picks the reweighting closest
//	to uniform under the Cressie-Read power divergence with exponent rho.
//
//	  rho == 2 (default): Euclidean distance, solved in closed form from
//	                      five running sums.
//	  rho == 0:           empirical likelihood, identical to MLE.
//	  otherwise:          nested bisection on the two dual multipliers.
//
//	Every path falls back to SNIPS when the problem is degenerate, so Get
//	is always finite.
//
// Thread Safety: Not safe for concurrent use.
type CressieRead struct {
	opts options

	n       fsum.Accumulator
	sumW    fsum.Accumulator
	sumWSq  fsum.Accumulator
	sumWR   fsum.Accumulator
	sumWSqR fsum.Accumulator

	// hist is only kept when rho != 2.
	hist histogram
}

// NewCressieRead returns an empty Cressie-Read estimator.
//
// Inputs:
//   - opts: WithWeightBounds, WithRewardRange and WithRho.
//
// Outputs:
//   - *CressieRead: The estimator.
//   - error: Wraps estimator.ErrInvalidConfig. The numeric solver needs a
//     finite upper weight bound, so rho outside {0, 2} with wmax = +Inf is
//     rejected.
func NewCressieRead(opts ...Option) (*CressieRead, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	e := &CressieRead{opts: o}
	if o.rho != 2 {
		if o.rho != 0 && math.IsInf(o.wMax, 1) {
			return nil, fmt.Errorf("%w: rho %v requires a finite wmax", estimator.ErrInvalidConfig, o.rho)
		}
		e.hist = make(histogram)
	}
	return e, nil
}

// AddExample ingests one record. Weights outside the configured bounds are
// rejected.
func (e *CressieRead) AddExample(pLog, reward, pPred float64) error {
	w, err := boundedWeight(e.opts, pLog, reward, pPred)
	if err != nil {
		return err
	}
	err = estimator.Accumulate(
		fsum.Term{Acc: &e.n, X: 1},
		fsum.Term{Acc: &e.sumW, X: w},
		fsum.Term{Acc: &e.sumWSq, X: w * w},
		fsum.Term{Acc: &e.sumWR, X: w * reward},
		fsum.Term{Acc: &e.sumWSqR, X: w * w * reward},
	)
	if err != nil {
		return err
	}
	if e.hist != nil {
		e.hist.add(w, reward, 1)
	}
	return nil
}

// Get returns the Cressie-Read estimate.
func (e *CressieRead) Get() float64 {
	n, sumW := e.n.Value(), e.sumW.Value()
	fallback := snipsValue(sumW, e.sumWR.Value())
	if n == 0 {
		return fallback
	}

	var (
		v   float64
		err error
	)
	switch e.opts.rho {
	case 2:
		v, err = e.euclidean()
	case 0:
		v, err = empiricalLikelihood(e.hist.points(), n, sumW, e.opts)
	default:
		v, err = powerDivergence(e.hist.points(), n, sumW, e.opts)
	}
	if err != nil {
		return fallback
	}
	return v
}

// Merge folds another Cressie-Read shard with identical options into the
// receiver.
func (e *CressieRead) Merge(other estimator.PointEstimator) error {
	o, ok := other.(*CressieRead)
	if !ok {
		return mergeError(e, other)
	}
	if e.opts != o.opts {
		return fmt.Errorf("%w: Cressie-Read options differ", estimator.ErrIncompatibleMerge)
	}
	e.n.AddAccumulator(&o.n)
	e.sumW.AddAccumulator(&o.sumW)
	e.sumWSq.AddAccumulator(&o.sumWSq)
	e.sumWR.AddAccumulator(&o.sumWR)
	e.sumWSqR.AddAccumulator(&o.sumWSqR)
	if e.hist != nil {
		e.hist.merge(o.hist)
	}
	return nil
}

// euclidean solves the rho = 2 problem. The optimal reweighting is affine
// in w, q = -(gamma + beta*w)/N, with gamma and beta fixed by the two
// moment constraints.
func (e *CressieRead) euclidean() (float64, error) {
	n := e.n.Value()
	sumW, sumWSq := e.sumW.Value(), e.sumWSq.Value()
	wFake := e.opts.fakeWeight(n, sumW)
	total := n + 1

	var gamma, beta float64
	if math.IsInf(wFake, 1) {
		// The virtual sample absorbs all excess mass; observed samples
		// share the rest uniformly.
		gamma, beta = -total/n, 0
	} else {
		a := (wFake + sumW) / total
		b := (wFake*wFake + sumWSq) / total
		den := a*a - b
		if !(den < 0) {
			return 0, solve.ErrNoBracket
		}
		gamma = (b - a) / den
		beta = (1 - a) / den
	}

	v := (-gamma*e.sumWR.Value() - beta*e.sumWSqR.Value()) / total
	missing := math.Max(0, 1-(-gamma*sumW-beta*sumWSq)/total)
	v += missing * e.opts.rMid()
	if !isFinite(v) {
		return 0, solve.ErrNaN
	}
	return v, nil
}

// -----------------------------------------------------------------------------
// Power Divergence Solver
// -----------------------------------------------------------------------------

// powerDivergence solves the general Cressie-Read problem with the virtual
// sample placed at the fake weight.
func powerDivergence(pts []point, n, sumW float64, o options) (float64, error) {
	wFake := o.fakeWeight(n, sumW)
	if math.IsInf(wFake, 0) {
		return 0, solve.ErrNoBracket
	}
	all := append(slices.Clip(pts), point{w: wFake, c: 1})
	total := n + 1
	k := o.rho - 1

	mu, nu, err := dualTilt(all, total, k, nil)
	if err != nil {
		return 0, err
	}
	psi := tiltFunc(k)

	var value, mass fsum.Accumulator
	for _, p := range pts {
		q := p.c * psi(mu+nu*p.w) / total
		value.Add(q * p.w * p.r)
		mass.Add(q * p.w)
	}
	v := value.Value() + math.Max(0, 1-mass.Value())*o.rMid()
	if !isFinite(v) {
		return 0, solve.ErrNaN
	}
	return v, nil
}

// dualTilt finds the multipliers of the reweighting t = psi(mu + nu*w + extra).
//
// The stationarity condition of the divergence problem gives per-sample
// tilts of that form, where psi inverts the divergence derivative. mu
// normalises sum(c*t) = total for a given nu; nu is then chosen so that
// sum(c*t*(w-1)) = 0. Both are monotone, so each is a bracketed bisection.
// extra adds a per-point offset to the argument and may be nil.
func dualTilt(all []point, total, k float64, extra func(point) float64) (mu, nu float64, err error) {
	var above, below bool
	for _, p := range all {
		above = above || p.w > 1
		below = below || p.w < 1
	}
	if !above || !below {
		return 0, 0, solve.ErrNoBracket
	}

	psi := tiltFunc(k)
	shift := func(p point) float64 {
		if extra == nil {
			return 0
		}
		return extra(p)
	}

	normalise := func(nu float64) (float64, error) {
		h := func(mu float64) float64 {
			var s float64
			for _, p := range all {
				s += p.c * psi(mu+nu*p.w+shift(p))
			}
			return s - total
		}
		var (
			lo, hi float64
			err    error
		)
		if k < 0 {
			// psi has a pole where 1 + k*s reaches zero; keep it as the
			// upper edge of the bracket.
			edge := math.Inf(1)
			for _, p := range all {
				edge = math.Min(edge, -1/k-nu*p.w-shift(p))
			}
			lo, hi, err = solve.Expand(h, edge-1, edge, false, true, maxExpand)
		} else {
			lo, hi, err = solve.Expand(h, -1, 1, false, false, maxExpand)
		}
		if err != nil {
			return 0, err
		}
		return solve.Bisect(h, lo, hi, solve.DefaultTolerance)
	}

	balance := func(nu float64) float64 {
		mu, err := normalise(nu)
		if err != nil {
			return math.NaN()
		}
		var s float64
		for _, p := range all {
			s += p.c * psi(mu+nu*p.w+shift(p)) * (p.w - 1)
		}
		return s
	}

	lo, hi, err := solve.Expand(balance, -1, 1, false, false, maxExpand)
	if err != nil {
		return 0, 0, err
	}
	nu, err = solve.Bisect(balance, lo, hi, solve.DefaultTolerance)
	if err != nil {
		return 0, 0, err
	}
	mu, err = normalise(nu)
	if err != nil {
		return 0, 0, err
	}
	return mu, nu, nil
}

// tiltFunc returns psi for exponent k = rho - 1: exp(s) at k = 0, otherwise
// (1 + k*s)^(1/k). Outside the domain psi is clipped to 0 for k > 0 and
// diverges for k < 0.
func tiltFunc(k float64) func(float64) float64 {
	if k == 0 {
		return math.Exp
	}
	return func(s float64) float64 {
		base := 1 + k*s
		if base <= 0 {
			if k > 0 {
				return 0
			}
			return math.Inf(1)
		}
		return math.Pow(base, 1/k)
	}
}
