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
	"github.com/AleutianAI/AleutianOPE/services/ope/stats"
)

var _ estimator.IntervalEstimator = (*CressieReadInterval)(nil)

// zeroTol treats a product of the residual and slack terms below it as an
// exact zero, so a reward that is affine in w yields the trivial bound.
const zeroTol = 1e-9

// boundTolerance stops the outer search on the tilt multiplier. The inner
// dual solves keep solve.DefaultTolerance.
var boundTolerance = solve.Tolerance{Rel: 1e-9, MaxIter: 200}

// CressieReadInterval is the Cressie-Read divergence confidence interval.
//
// Description:
//
//	The interval is the set of reweighted means whose divergence from the
//	point estimate stays within an F(1, n) quantile budget. The lower bound
//	values the unseen mass at rmin, the upper bound at rmax, and each tries
//	the virtual sample at wmin and at wmax, keeping the most extreme
//	feasible candidate. Bounds are clamped to the reward range, and an
//	infeasible side falls back to the trivial bound.
//
//	  rho == 2 (default): closed form from six running sums.
//	  otherwise:          the reweighting is tilted along w*r and the tilt
//	                      is bisected until the divergence spends the
//	                      budget. Needs every distinct (w, r) pair.
//
// Thread Safety: Not safe for concurrent use.
type CressieReadInterval struct {
	opts options

	n         fsum.Accumulator
	sumW      fsum.Accumulator
	sumWSq    fsum.Accumulator
	sumWR     fsum.Accumulator
	sumWSqR   fsum.Accumulator
	sumWSqRSq fsum.Accumulator

	// hist is only kept when rho != 2.
	hist histogram
}

// NewCressieReadInterval returns an empty interval estimator.
//
// Inputs:
//   - opts: WithWeightBounds, WithRewardRange and WithRho.
//
// Outputs:
//   - *CressieReadInterval: The estimator.
//   - error: Wraps estimator.ErrInvalidConfig. Any rho other than 2 places
//     the virtual sample at a finite weight, so it needs a finite wmax.
func NewCressieReadInterval(opts ...Option) (*CressieReadInterval, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	e := &CressieReadInterval{opts: o}
	if o.rho != 2 {
		if math.IsInf(o.wMax, 1) {
			return nil, fmt.Errorf("%w: interval rho %v requires a finite wmax", estimator.ErrInvalidConfig, o.rho)
		}
		e.hist = make(histogram)
	}
	return e, nil
}

// AddExample ingests one record. Weights outside the configured bounds are
// rejected.
func (e *CressieReadInterval) AddExample(pLog, reward, pPred float64) error {
	w, err := boundedWeight(e.opts, pLog, reward, pPred)
	if err != nil {
		return err
	}
	wr := w * reward
	err = estimator.Accumulate(
		fsum.Term{Acc: &e.n, X: 1},
		fsum.Term{Acc: &e.sumW, X: w},
		fsum.Term{Acc: &e.sumWSq, X: w * w},
		fsum.Term{Acc: &e.sumWR, X: wr},
		fsum.Term{Acc: &e.sumWSqR, X: w * wr},
		fsum.Term{Acc: &e.sumWSqRSq, X: wr * wr},
	)
	if err != nil {
		return err
	}
	if e.hist != nil {
		e.hist.add(w, reward, 1)
	}
	return nil
}

// GetInterval returns the interval, or [rmin, rmax] before the first record.
func (e *CressieReadInterval) GetInterval(alpha float64) estimator.Interval {
	alpha = estimator.NormalizeAlpha(alpha)
	n := e.n.Value()
	if n == 0 {
		return estimator.NewInterval(e.opts.rMin, e.opts.rMax, alpha)
	}
	delta := stats.FInverseSurvival(alpha, 1, n)
	if e.opts.rho != 2 {
		return e.powerInterval(alpha, n, delta)
	}

	m := e.moments()
	phi := (-m.divergence(e.opts.fakeWeight(n, m.sumW)) - delta) / (2 * m.total)

	lower := m.bound(e.opts, e.opts.rMin, 1, phi)
	upper := m.bound(e.opts, e.opts.rMax, -1, phi)
	return estimator.NewInterval(lower, upper, alpha)
}

// Merge folds another interval shard with identical bounds into the receiver.
func (e *CressieReadInterval) Merge(other estimator.IntervalEstimator) error {
	o, ok := other.(*CressieReadInterval)
	if !ok {
		return mergeError(e, other)
	}
	if e.opts != o.opts {
		return fmt.Errorf("%w: Cressie-Read interval options differ", estimator.ErrIncompatibleMerge)
	}
	e.n.AddAccumulator(&o.n)
	e.sumW.AddAccumulator(&o.sumW)
	e.sumWSq.AddAccumulator(&o.sumWSq)
	e.sumWR.AddAccumulator(&o.sumWR)
	e.sumWSqR.AddAccumulator(&o.sumWSqR)
	e.sumWSqRSq.AddAccumulator(&o.sumWSqRSq)
	if e.hist != nil {
		e.hist.merge(o.hist)
	}
	return nil
}

// profile is a snapshot of the running sums used to evaluate both bounds.
type profile struct {
	n, total                                float64
	sumW, sumWSq, sumWR, sumWSqR, sumWSqRSq float64
}

func (e *CressieReadInterval) moments() profile {
	n := e.n.Value()
	return profile{
		n:         n,
		total:     n + 1,
		sumW:      e.sumW.Value(),
		sumWSq:    e.sumWSq.Value(),
		sumWR:     e.sumWR.Value(),
		sumWSqR:   e.sumWSqR.Value(),
		sumWSqRSq: e.sumWSqRSq.Value(),
	}
}

// divergence is sum((t-1)^2) at the unconstrained point estimate with the
// virtual sample at wFake.
func (m profile) divergence(wFake float64) float64 {
	if math.IsInf(wFake, 1) {
		return 1 + 1/m.n
	}
	a := (wFake + m.sumW) / m.total
	b := (wFake*wFake + m.sumWSq) / m.total
	if b-a*a <= 0 {
		return 0
	}
	return m.total * (a - 1) * (a - 1) / (b - a*a)
}

// bound returns the lower (sign +1, r = rmin) or upper (sign -1, r = rmax)
// end of the interval.
func (m profile) bound(o options, r, sign, phi float64) float64 {
	best := math.Inf(1)
	for _, wFake := range [2]float64{o.wMin, o.wMax} {
		x, y, z, ok := m.candidate(wFake, r, sign, phi)
		if !ok {
			continue
		}
		if math.Abs(y*z) <= zeroTol {
			y = 0
		}
		if z > 0 || y*z < 0 {
			continue
		}
		var g float64
		if kappa := math.Sqrt(y / (2 * z)); y == 0 || kappa == 0 || math.IsNaN(kappa) {
			g = sign * r
		} else {
			g = x - math.Sqrt(2*y*z)
		}
		best = math.Min(best, g)
	}
	if math.IsInf(best, 1) {
		// No feasible candidate: trivial bound.
		return r
	}
	return math.Max(o.rMin, math.Min(o.rMax, sign*best))
}

// candidate evaluates the profile terms with the virtual sample at wFake
// carrying reward r. x is the signed reweighted mean, y minus the residual
// variance of w*r after projecting out w, and z the slack left in the
// divergence budget (feasible when z <= 0).
func (m profile) candidate(wFake, r, sign, phi float64) (x, y, z float64, ok bool) {
	if math.IsInf(wFake, 1) {
		x = sign * (r + (m.sumWR-m.sumW*r)/m.n)
		dev := r*m.sumW - m.sumWR
		y = dev*dev/(m.n*m.total) - (r*r*m.sumWSq-2*r*m.sumWSqR+m.sumWSqRSq)/m.total
		z = phi + 1/(2*m.n)
		return x, y, z, true
	}

	barW := (wFake + m.sumW) / m.total
	barWSq := (wFake*wFake + m.sumWSq) / m.total
	barWR := sign * (wFake*r + m.sumWR) / m.total
	barWSqR := sign * (wFake*wFake*r + m.sumWSqR) / m.total
	barWSqRSq := (wFake*wFake*r*r + m.sumWSqRSq) / m.total

	varW := barWSq - barW*barW
	if varW <= 0 {
		return 0, 0, 0, false
	}
	cov := barWSqR - barW*barWR
	x = barWR + (1-barW)*cov/varW
	y = cov*cov/varW - (barWSqRSq - barWR*barWR)
	z = phi + 0.5*(1-barW)*(1-barW)/varW
	return x, y, z, true
}

// -----------------------------------------------------------------------------
// Power Divergence Bounds
// -----------------------------------------------------------------------------

// powerInterval evaluates both bounds for rho != 2.
//
// The budget is the smallest divergence any reweighting meeting the moment
// constraints can reach, plus delta/2 (sum((t-1)^2) is twice the rho = 2
// divergence, which is what delta is calibrated against).
func (e *CressieReadInterval) powerInterval(alpha, n, delta float64) estimator.Interval {
	pts := e.hist.points()
	k := e.opts.rho - 1
	total := n + 1

	var base float64
	centre := tilt{all: withVirtual(pts, e.opts.fakeWeight(n, e.sumW.Value()), 0), total: total, k: k}
	if d, _, err := centre.at(0, 1); err == nil {
		base = d
	}
	budget := base + delta/2

	lower := e.powerBound(pts, total, k, e.opts.rMin, 1, budget)
	upper := e.powerBound(pts, total, k, e.opts.rMax, -1, budget)
	return estimator.NewInterval(lower, upper, alpha)
}

// powerBound returns the lower (sign +1, r = rmin) or upper (sign -1,
// r = rmax) end of the interval.
func (e *CressieReadInterval) powerBound(pts []point, total, k, r, sign, budget float64) float64 {
	best := math.Inf(1)
	for _, wFake := range [2]float64{e.opts.wMin, e.opts.wMax} {
		tl := tilt{all: withVirtual(pts, wFake, r), total: total, k: k}
		v, ok := tl.bound(sign, budget)
		if !ok {
			continue
		}
		best = math.Min(best, sign*v)
	}
	if math.IsInf(best, 1) {
		return r
	}
	return math.Max(e.opts.rMin, math.Min(e.opts.rMax, sign*best))
}

func withVirtual(pts []point, wFake, r float64) []point {
	return append(slices.Clip(pts), point{w: wFake, r: r, c: 1})
}

// tilt is the reweighting problem for one virtual sample placement.
type tilt struct {
	all   []point
	total float64
	k     float64
}

// at solves the duals for tilt multiplier s and returns the divergence of
// the reweighting and its reweighted mean. Larger s pushes mass away from
// large w*r for sign +1 and towards it for sign -1.
func (tl tilt) at(s, sign float64) (div, value float64, err error) {
	extra := func(p point) float64 { return -sign * s * p.w * p.r }
	mu, nu, err := dualTilt(tl.all, tl.total, tl.k, extra)
	if err != nil {
		return 0, 0, err
	}
	psi := tiltFunc(tl.k)
	f := divergenceFunc(tl.k + 1)

	var d, v fsum.Accumulator
	for _, p := range tl.all {
		t := psi(mu + nu*p.w + extra(p))
		d.Add(p.c * f(t))
		v.Add(p.c * t * p.w * p.r)
	}
	return d.Value(), v.Value() / tl.total, nil
}

// bound returns the extreme reweighted mean within the divergence budget.
// ok is false when even the untilted reweighting exceeds the budget or
// cannot be solved. A divergence that never reaches the budget, or a
// search that breaks down, yields the trivial bound.
func (tl tilt) bound(sign, budget float64) (float64, bool) {
	d0, _, err := tl.at(0, sign)
	if err != nil || d0 > budget {
		return 0, false
	}
	r := tl.all[len(tl.all)-1].r

	slack := func(s float64) float64 {
		d, _, err := tl.at(s, sign)
		if err != nil {
			return math.NaN()
		}
		return d - budget
	}
	lo, hi, err := solve.Expand(slack, 0, 1, true, false, maxExpand)
	if err != nil {
		return r, true
	}
	s, err := solve.Bisect(slack, lo, hi, boundTolerance)
	if err != nil {
		return r, true
	}
	_, v, err := tl.at(s, sign)
	if err != nil || !isFinite(v) {
		return r, true
	}
	return v, true
}

// divergenceFunc returns the Cressie-Read generator
// f(t) = (t^rho - 1 - rho*(t-1)) / (rho*(rho-1)), with its limits at rho 0
// and 1. f(1) = 0 and f(t) = (t-1)^2/2 at rho 2.
func divergenceFunc(rho float64) func(float64) float64 {
	switch rho {
	case 0:
		return func(t float64) float64 { return t - 1 - math.Log(t) }
	case 1:
		return func(t float64) float64 {
			if t == 0 {
				return 1
			}
			return t*math.Log(t) - t + 1
		}
	}
	return func(t float64) float64 {
		return (math.Pow(t, rho) - 1 - rho*(t-1)) / (rho * (rho - 1))
	}
}
