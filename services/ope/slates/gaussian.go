// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package slates

import (
	"fmt"

	"github.com/AleutianAI/AleutianOPE/services/ope/estimator"
	"github.com/AleutianAI/AleutianOPE/services/ope/stats"
)

var _ estimator.SlateIntervalEstimator = (*Gaussian)(nil)

// Gaussian is the normal-approximation interval on the pseudo-inverse value.
type Gaussian struct {
	moments stats.Moments
}

// NewGaussian returns an empty slate Gaussian interval estimator.
func NewGaussian() *Gaussian {
	return &Gaussian{}
}

// AddExample ingests one slate record.
func (e *Gaussian) AddExample(pLogs []float64, reward float64, pPreds []float64) error {
	v, err := pseudoInverseValue(pLogs, reward, pPreds)
	if err != nil {
		return err
	}
	if err := e.moments.Add(v); err != nil {
		return fmt.Errorf("%w: statistic out of range: %w", estimator.ErrInvalidExample, err)
	}
	return nil
}

// GetInterval returns mean -/+ z*stderr of the pseudo-inverse values.
func (e *Gaussian) GetInterval(alpha float64) estimator.Interval {
	alpha = estimator.NormalizeAlpha(alpha)
	lower, upper := e.moments.NormalInterval(alpha)
	return estimator.NewInterval(lower, upper, alpha)
}

// Merge folds another slate Gaussian shard into the receiver.
func (e *Gaussian) Merge(other estimator.SlateIntervalEstimator) error {
	o, ok := other.(*Gaussian)
	if !ok {
		return mergeError(e, other)
	}
	e.moments.Merge(&o.moments)
	return nil
}
