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

	"github.com/AleutianAI/AleutianOPE/services/ope/fsum"
)

// Moments tracks count, sum and sum of squares of a stream with compensated
// accumulators.
//
// Description:
//
//	Moments is the shared machinery behind the Gaussian intervals: the bandit
//	variant feeds it w*r, the slate variant feeds it the pseudo-inverse value.
//	The zero value is ready for use.
//
// Thread Safety: Not safe for concurrent use.
type Moments struct {
	n     fsum.Accumulator
	sum   fsum.Accumulator
	sumSq fsum.Accumulator
}

// Add records one observation. An x whose square, or whose contribution
// to either sum, leaves the float64 range is refused with fsum.ErrOverflow
// or fsum.ErrNonFinite and nothing is recorded.
func (m *Moments) Add(x float64) error {
	return fsum.AddAll(
		fsum.Term{Acc: &m.n, X: 1},
		fsum.Term{Acc: &m.sum, X: x},
		fsum.Term{Acc: &m.sumSq, X: x * x},
	)
}

// Merge folds another Moments into the receiver.
func (m *Moments) Merge(other *Moments) {
	if other == nil {
		return
	}
	m.n.AddAccumulator(&other.n)
	m.sum.AddAccumulator(&other.sum)
	m.sumSq.AddAccumulator(&other.sumSq)
}

// Mean returns the sample mean, or 0 when empty.
func (m *Moments) Mean() float64 {
	n := m.n.Value()
	if n == 0 {
		return 0
	}
	return m.sum.Value() / n
}

// Variance returns the unbiased sample variance.
//
// With fewer than two observations the variance is defined as 0, giving a
// zero-width interval instead of a division by zero.
func (m *Moments) Variance() float64 {
	n := m.n.Value()
	if n < 2 {
		return 0
	}
	sum := m.sum.Value()
	v := (m.sumSq.Value() - sum*sum/n) / (n - 1)
	if v < 0 {
		// Cancellation can leave a tiny negative residue.
		return 0
	}
	return v
}

// StdErr returns sqrt(Variance / n), or 0 when empty.
func (m *Moments) StdErr() float64 {
	n := m.n.Value()
	if n == 0 {
		return 0
	}
	return math.Sqrt(m.Variance() / n)
}

// NormalInterval returns mean -/+ z(1-alpha/2) * stderr.
//
// Inputs:
//   - alpha: Two-sided miscoverage in (0, 1).
//
// Outputs:
//   - lower, upper: Symmetric bounds around Mean. Both 0 when empty.
//     (-Inf, +Inf) when the mean or the standard error is not finite,
//     which only happens after merged sums overflow.
func (m *Moments) NormalInterval(alpha float64) (lower, upper float64) {
	mean := m.Mean()
	margin := TwoSidedZ(alpha) * m.StdErr()
	if !isFinite(mean) || !isFinite(margin) {
		return math.Inf(-1), math.Inf(1)
	}
	return mean - margin, mean + margin
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
