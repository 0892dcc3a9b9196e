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

	"github.com/AleutianAI/AleutianOPE/services/ope/estimator"
)

// DefaultRho selects the Euclidean member of the Cressie-Read family, which
// has closed-form point and interval solutions.
const DefaultRho = 2.0

// options configures the bounded estimators (MLE and Cressie-Read).
type options struct {
	wMin, wMax float64
	rMin, rMax float64
	rho        float64
}

func defaultOptions() options {
	return options{
		wMin: 0,
		wMax: math.Inf(1),
		rMin: 0,
		rMax: 1,
		rho:  DefaultRho,
	}
}

// Option configures an MLE or Cressie-Read estimator.
type Option func(*options)

// WithWeightBounds sets the range any importance weight can take. The
// bounds place the virtual sample that absorbs unseen probability mass.
//
// Default: [0, +Inf).
func WithWeightBounds(wMin, wMax float64) Option {
	return func(o *options) {
		o.wMin, o.wMax = wMin, wMax
	}
}

// WithRewardRange sets the range of possible rewards. Missing mass is valued
// at the midpoint, and Cressie-Read intervals are clamped to the range.
//
// Default: [0, 1].
func WithRewardRange(rMin, rMax float64) Option {
	return func(o *options) {
		o.rMin, o.rMax = rMin, rMax
	}
}

// WithRho sets the Cressie-Read divergence exponent. 0 is the empirical
// likelihood (MLE), 2 the Euclidean distance.
//
// Default: DefaultRho. Ignored by MLE.
func WithRho(rho float64) Option {
	return func(o *options) {
		o.rho = rho
	}
}

func buildOptions(opts []Option) (options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if math.IsNaN(o.wMin) || math.IsNaN(o.wMax) || o.wMin < 0 || math.IsInf(o.wMin, 0) || o.wMin > 1 || o.wMax < 1 {
		return o, fmt.Errorf("%w: weight bounds [%v, %v] must satisfy 0 <= wmin <= 1 <= wmax", estimator.ErrInvalidConfig, o.wMin, o.wMax)
	}
	if !isFinite(o.rMin) || !isFinite(o.rMax) || o.rMin > o.rMax {
		return o, fmt.Errorf("%w: reward range [%v, %v]", estimator.ErrInvalidConfig, o.rMin, o.rMax)
	}
	if !isFinite(o.rho) {
		return o, fmt.Errorf("%w: rho %v is not finite", estimator.ErrInvalidConfig, o.rho)
	}
	return o, nil
}

// rMid values probability mass the data cannot account for.
func (o options) rMid() float64 {
	return (o.rMin + o.rMax) / 2
}

// fakeWeight picks the virtual sample's weight: the largest possible weight
// when observed weights average below one, the smallest otherwise.
func (o options) fakeWeight(n, sumW float64) float64 {
	if sumW < n {
		return o.wMax
	}
	return o.wMin
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
