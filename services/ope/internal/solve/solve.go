// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package solve finds roots of monotone scalar functions by bracketed
// bisection. It backs the MLE and Cressie-Read estimators.
package solve

import (
	"errors"
	"math"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNoBracket indicates f does not change sign over the search range.
	ErrNoBracket = errors.New("root is not bracketed")

	// ErrNoConvergence indicates the iteration budget ran out.
	ErrNoConvergence = errors.New("root finding did not converge")

	// ErrNaN indicates f returned NaN inside the bracket.
	ErrNaN = errors.New("function returned NaN")
)

// -----------------------------------------------------------------------------
// Tolerance
// -----------------------------------------------------------------------------

// Tolerance bounds a bisection run.
type Tolerance struct {
	// Rel is the relative bracket width at which the search stops. The
	// stopping rule is hi-lo <= Rel*(1+|mid|).
	Rel float64

	// MaxIter caps the number of function evaluations.
	MaxIter int
}

// DefaultTolerance is tight enough that estimates built on the root agree
// with closed forms to ~1e-9.
var DefaultTolerance = Tolerance{Rel: 1e-12, MaxIter: 500}

// -----------------------------------------------------------------------------
// Bisection
// -----------------------------------------------------------------------------

// Bisect returns x in [lo, hi] with f(x) ~ 0 for a monotone f.
//
// Description:
//
//	f may be increasing or decreasing; the direction is read off the sign
//	at the endpoints. Endpoints may evaluate to +/-Inf (open domains whose
//	edge is a pole) but must have opposite signs. The midpoint is tested
//	first, so a root sitting exactly at the centre of a symmetric bracket
//	is returned exactly.
//
// Inputs:
//   - f: Monotone function.
//   - lo, hi: Bracket with lo < hi.
//   - tol: Stopping rule.
//
// Outputs:
//   - float64: The root estimate.
//   - error: ErrNoBracket, ErrNaN or ErrNoConvergence.
func Bisect(f func(float64) float64, lo, hi float64, tol Tolerance) (float64, error) {
	if !(lo < hi) {
		return 0, ErrNoBracket
	}
	flo, fhi := f(lo), f(hi)
	if math.IsNaN(flo) || math.IsNaN(fhi) {
		return 0, ErrNaN
	}
	if flo == 0 {
		return lo, nil
	}
	if fhi == 0 {
		return hi, nil
	}
	if math.Signbit(flo) == math.Signbit(fhi) {
		return 0, ErrNoBracket
	}
	increasing := flo < 0

	for i := 0; i < tol.MaxIter; i++ {
		mid := lo + (hi-lo)/2
		if mid <= lo || mid >= hi {
			// Adjacent floats: nothing left to split.
			return mid, nil
		}
		fm := f(mid)
		switch {
		case math.IsNaN(fm):
			return 0, ErrNaN
		case fm == 0:
			return mid, nil
		case (fm < 0) == increasing:
			lo = mid
		default:
			hi = mid
		}
		if hi-lo <= tol.Rel*(1+math.Abs(mid)) {
			return lo + (hi-lo)/2, nil
		}
	}
	return 0, ErrNoConvergence
}

// Expand widens [lo, hi] geometrically until f changes sign.
//
// Description:
//
//	Each step doubles the distance of a moving endpoint from the centre of
//	the starting bracket. When lowerFixed or upperFixed is set the
//	corresponding endpoint stays put, which is how callers keep a pole or
//	domain edge as one side of the bracket.
//
// Outputs:
//   - lo, hi: A bracket with f(lo) and f(hi) of opposite sign.
//   - error: ErrNoBracket after maxSteps doublings, ErrNaN on NaN.
func Expand(f func(float64) float64, lo, hi float64, lowerFixed, upperFixed bool, maxSteps int) (float64, float64, error) {
	if !(lo < hi) {
		return 0, 0, ErrNoBracket
	}
	centre := lo + (hi-lo)/2
	half := (hi - lo) / 2
	for step := 0; step <= maxSteps; step++ {
		flo, fhi := f(lo), f(hi)
		if math.IsNaN(flo) || math.IsNaN(fhi) {
			return 0, 0, ErrNaN
		}
		if flo == 0 || fhi == 0 || math.Signbit(flo) != math.Signbit(fhi) {
			return lo, hi, nil
		}
		half *= 2
		if !lowerFixed {
			lo = centre - half
		}
		if !upperFixed {
			hi = centre + half
		}
		if lowerFixed && upperFixed {
			break
		}
	}
	return 0, 0, ErrNoBracket
}
