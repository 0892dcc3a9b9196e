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

	"github.com/AleutianAI/AleutianOPE/services/ope/estimator"
	"github.com/AleutianAI/AleutianOPE/services/ope/stats"
)

var _ estimator.IntervalEstimator = (*Gaussian)(nil)

// Gaussian is the normal-approximation interval on the IPS estimate.
//
// It treats each w*r as an i.i.d. draw and returns mean -/+ z*stderr with the
// sample variance. Cheap, but it can undercover badly on small or heavy-tailed
// samples and ignores the reward range.
type Gaussian struct {
	moments stats.Moments
}

// NewGaussian returns an empty Gaussian interval estimator.
func NewGaussian() *Gaussian {
	return &Gaussian{}
}

// AddExample ingests one record.
func (e *Gaussian) AddExample(pLog, reward, pPred float64) error {
	w, err := estimator.Weight(pLog, reward, pPred)
	if err != nil {
		return err
	}
	if err := e.moments.Add(w * reward); err != nil {
		return fmt.Errorf("%w: statistic out of range: %w", estimator.ErrInvalidExample, err)
	}
	return nil
}

// GetInterval returns the normal interval. Before the first record it is
// the zero-width interval at 0.
func (e *Gaussian) GetInterval(alpha float64) estimator.Interval {
	alpha = estimator.NormalizeAlpha(alpha)
	lower, upper := e.moments.NormalInterval(alpha)
	return estimator.NewInterval(lower, upper, alpha)
}

// Merge folds another Gaussian shard into the receiver.
func (e *Gaussian) Merge(other estimator.IntervalEstimator) error {
	o, ok := other.(*Gaussian)
	if !ok {
		return mergeError(e, other)
	}
	e.moments.Merge(&o.moments)
	return nil
}
