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
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianOPE/services/ope/fsum"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidExample is returned when a logged record cannot be ingested,
	// e.g. a non-positive logging probability.
	ErrInvalidExample = errors.New("invalid example")

	// ErrSlotMismatch is returned when a slate record has differing or empty
	// per-slot probability lists.
	ErrSlotMismatch = fmt.Errorf("%w: slot count mismatch", ErrInvalidExample)

	// ErrInvalidConfig is returned by constructors given unusable parameters.
	ErrInvalidConfig = errors.New("invalid estimator configuration")

	// ErrIncompatibleMerge is returned when merging estimators of different
	// kinds or different configurations.
	ErrIncompatibleMerge = errors.New("incompatible estimator merge")
)

// DefaultAlpha is the miscoverage used when a caller passes no usable alpha.
const DefaultAlpha = 0.05

// -----------------------------------------------------------------------------
// Core Interfaces
// -----------------------------------------------------------------------------

// PointEstimator estimates the value of a target policy from bandit logs.
//
// Thread Safety: Implementations are not safe for concurrent use. Give each
// goroutine its own instance and combine them with Merge.
type PointEstimator interface {
	// AddExample ingests one logged record. Invalid records return an error
	// wrapping ErrInvalidExample and leave the estimator unchanged.
	AddExample(pLog, reward, pPred float64) error

	// Get returns the current estimate. It never mutates state and always
	// returns a finite number.
	Get() float64

	// Merge folds the state of other, which must be the same concrete type
	// with the same configuration, into the receiver.
	Merge(other PointEstimator) error
}

// IntervalEstimator produces a confidence interval on the target policy value.
//
// Thread Safety: Not safe for concurrent use.
type IntervalEstimator interface {
	AddExample(pLog, reward, pPred float64) error

	// GetInterval returns a 100(1-alpha)% interval. Alpha outside (0, 1)
	// falls back to DefaultAlpha.
	GetInterval(alpha float64) Interval

	Merge(other IntervalEstimator) error
}

// SlatePointEstimator is the slate counterpart of PointEstimator: each record
// carries per-slot logging and target probabilities and one total reward.
type SlatePointEstimator interface {
	AddExample(pLogs []float64, reward float64, pPreds []float64) error
	Get() float64
	Merge(other SlatePointEstimator) error
}

// SlateIntervalEstimator is the slate counterpart of IntervalEstimator.
type SlateIntervalEstimator interface {
	AddExample(pLogs []float64, reward float64, pPreds []float64) error
	GetInterval(alpha float64) Interval
	Merge(other SlateIntervalEstimator) error
}

// -----------------------------------------------------------------------------
// Interval
// -----------------------------------------------------------------------------

// Interval is a confidence interval on a policy value.
type Interval struct {
	// Lower is the lower bound.
	Lower float64 `json:"lower"`

	// Upper is the upper bound. Always >= Lower.
	Upper float64 `json:"upper"`

	// Level is the confidence level, 1 - alpha.
	Level float64 `json:"level"`
}

// NewInterval builds an Interval for the given alpha, swapping the bounds if
// they arrive out of order.
func NewInterval(lower, upper, alpha float64) Interval {
	if lower > upper {
		lower, upper = upper, lower
	}
	return Interval{Lower: lower, Upper: upper, Level: 1 - alpha}
}

// Width returns Upper - Lower.
func (i Interval) Width() float64 {
	return i.Upper - i.Lower
}

// Contains returns true if v lies within the interval.
func (i Interval) Contains(v float64) bool {
	return v >= i.Lower && v <= i.Upper
}

// -----------------------------------------------------------------------------
// Validation Helpers
// -----------------------------------------------------------------------------

// NormalizeAlpha maps alpha outside (0, 1) to DefaultAlpha.
func NormalizeAlpha(alpha float64) float64 {
	if !(alpha > 0 && alpha < 1) {
		return DefaultAlpha
	}
	return alpha
}

// Weight validates a bandit record and returns its importance weight.
//
// Description:
//
//	pLog must be finite and in (0, 1]; pPred must be finite and >= 0; the
//	reward must be finite. Anything else is a caller error reported as
//	ErrInvalidExample rather than silently poisoning the sums with NaN or Inf.
//
// Outputs:
//   - float64: pPred / pLog.
//   - error: Wraps ErrInvalidExample.
func Weight(pLog, reward, pPred float64) (float64, error) {
	if err := checkProbabilities(pLog, pPred); err != nil {
		return 0, err
	}
	if !isFinite(reward) {
		return 0, fmt.Errorf("%w: reward %v is not finite", ErrInvalidExample, reward)
	}
	return ratio(pPred, pLog)
}

// SlateWeights validates a slate record and returns its per-slot weights.
func SlateWeights(pLogs []float64, reward float64, pPreds []float64) ([]float64, error) {
	if len(pLogs) == 0 || len(pLogs) != len(pPreds) {
		return nil, fmt.Errorf("%w: %d logging vs %d target probabilities", ErrSlotMismatch, len(pLogs), len(pPreds))
	}
	if !isFinite(reward) {
		return nil, fmt.Errorf("%w: reward %v is not finite", ErrInvalidExample, reward)
	}
	weights := make([]float64, len(pLogs))
	for i := range pLogs {
		if err := checkProbabilities(pLogs[i], pPreds[i]); err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		w, err := ratio(pPreds[i], pLogs[i])
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		weights[i] = w
	}
	return weights, nil
}

// Accumulate adds every term to its sum, or none of them when one would
// overflow. Estimators call it from AddExample so that a record whose
// derived statistics leave the float64 range is rejected.
//
// Outputs:
//   - error: Wraps ErrInvalidExample and fsum.ErrOverflow or
//     fsum.ErrNonFinite.
func Accumulate(terms ...fsum.Term) error {
	if err := fsum.AddAll(terms...); err != nil {
		return fmt.Errorf("%w: statistic out of range: %w", ErrInvalidExample, err)
	}
	return nil
}

func ratio(pPred, pLog float64) (float64, error) {
	w := pPred / pLog
	if math.IsInf(w, 0) {
		return 0, fmt.Errorf("%w: weight %v/%v overflows", ErrInvalidExample, pPred, pLog)
	}
	return w, nil
}

func checkProbabilities(pLog, pPred float64) error {
	if !isFinite(pLog) || pLog <= 0 || pLog > 1 {
		return fmt.Errorf("%w: logging probability %v outside (0, 1]", ErrInvalidExample, pLog)
	}
	if !isFinite(pPred) || pPred < 0 {
		return fmt.Errorf("%w: target probability %v is negative or not finite", ErrInvalidExample, pPred)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
