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

	"gonum.org/v1/gonum/stat/distuv"
)

// -----------------------------------------------------------------------------
// Quantile Functions
// -----------------------------------------------------------------------------

// BetaQuantile returns x such that the Beta(alpha, beta) CDF at x equals p.
//
// Description:
//
//	Thin wrapper over gonum's inverse regularized incomplete beta. The
//	degenerate shapes that show up at the edges of a Clopper-Pearson
//	interval are answered directly instead of being passed on: a
//	non-positive alpha means no successes and yields 0, a non-positive
//	beta means no failures and yields 1.
//
// Inputs:
//   - p: Probability. Clamped to [0, 1].
//   - alpha: First shape parameter.
//   - beta: Second shape parameter.
//
// Outputs:
//   - float64: The quantile in [0, 1]. Never NaN for finite inputs.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func BetaQuantile(p, alpha, beta float64) float64 {
	switch {
	case alpha <= 0:
		return 0
	case beta <= 0:
		return 1
	}
	p = clamp(p, 0, 1)
	return distuv.Beta{Alpha: alpha, Beta: beta}.Quantile(p)
}

// NormalQuantile returns the standard normal quantile for p.
//
// p <= 0 and p >= 1 map to -Inf and +Inf.
func NormalQuantile(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	if p >= 1 {
		return math.Inf(1)
	}
	return distuv.UnitNormal.Quantile(p)
}

// TwoSidedZ returns the critical value z with P(|Z| > z) = alpha.
func TwoSidedZ(alpha float64) float64 {
	return NormalQuantile(1 - alpha/2)
}

// FInverseSurvival returns the upper alpha quantile of the F(d1, d2)
// distribution, i.e. the value c with P(F > c) = alpha.
//
// Description:
//
//	Uses the identity F = (d2 X) / (d1 (1 - X)) for X ~ Beta(d1/2, d2/2),
//	so the F quantile comes straight out of BetaQuantile.
//
// Inputs:
//   - alpha: Upper tail probability in (0, 1).
//   - d1, d2: Degrees of freedom. Must be positive.
//
// Outputs:
//   - float64: The critical value. +Inf when the Beta quantile reaches 1.
func FInverseSurvival(alpha, d1, d2 float64) float64 {
	x := BetaQuantile(1-alpha, d1/2, d2/2)
	if x >= 1 {
		return math.Inf(1)
	}
	return d2 * x / (d1 * (1 - x))
}

// ClopperPearson returns the exact binomial interval for a success count.
//
// Description:
//
//	Counts may be fractional (effective sample sizes). The boundary rules
//	are mandatory: with zero successes the lower bound is 0, with
//	successes == n the upper bound is 1, so the Beta quantile is never
//	asked for a degenerate shape.
//
// Inputs:
//   - successes: Number of successes in [0, n].
//   - n: Number of trials.
//   - alpha: Two-sided miscoverage, e.g. 0.05.
//
// Outputs:
//   - lower, upper: Bounds with 0 <= lower <= upper <= 1.
func ClopperPearson(successes, n, alpha float64) (lower, upper float64) {
	lower, upper = 0, 1
	if successes > 0 {
		lower = BetaQuantile(alpha/2, successes, n-successes+1)
	}
	if successes < n {
		upper = BetaQuantile(1-alpha/2, successes+1, n-successes)
	}
	return lower, upper
}

// clamp limits v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
