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
	"math"

	"github.com/AleutianAI/AleutianOPE/services/ope/estimator"
	"github.com/AleutianAI/AleutianOPE/services/ope/fsum"
	"github.com/AleutianAI/AleutianOPE/services/ope/stats"
)

var _ estimator.IntervalEstimator = (*ClopperPearson)(nil)

// ClopperPearson is the exact binomial interval applied to importance
// weighted data.
//
// Description:
//
//	The weighted sample is treated as n_eff = (sum w)^2 / sum w^2 Bernoulli
//	trials with the IPS mean as the success rate. Rewards are assumed to lie
//	in [0, 1]; the mean is clamped there before the count is formed.
//
// Thread Safety: Not safe for concurrent use.
type ClopperPearson struct {
	n      fsum.Accumulator
	sumW   fsum.Accumulator
	sumWSq fsum.Accumulator
	sumWR  fsum.Accumulator
}

// NewClopperPearson returns an empty Clopper-Pearson interval estimator.
func NewClopperPearson() *ClopperPearson {
	return &ClopperPearson{}
}

// AddExample ingests one record.
func (e *ClopperPearson) AddExample(pLog, reward, pPred float64) error {
	w, err := estimator.Weight(pLog, reward, pPred)
	if err != nil {
		return err
	}
	return estimator.Accumulate(
		fsum.Term{Acc: &e.n, X: 1},
		fsum.Term{Acc: &e.sumW, X: w},
		fsum.Term{Acc: &e.sumWSq, X: w * w},
		fsum.Term{Acc: &e.sumWR, X: w * reward},
	)
}

// GetInterval returns the interval, or [0, 1] when there is no weight mass.
func (e *ClopperPearson) GetInterval(alpha float64) estimator.Interval {
	alpha = estimator.NormalizeAlpha(alpha)
	n, sumW, sumWSq := e.n.Value(), e.sumW.Value(), e.sumWSq.Value()
	if n == 0 || sumWSq == 0 {
		return estimator.NewInterval(0, 1, alpha)
	}

	nEff := sumW * sumW / sumWSq
	mean := math.Max(0, math.Min(1, e.sumWR.Value()/n))
	successes := mean * nEff

	lower, upper := stats.ClopperPearson(successes, nEff, alpha)
	return estimator.NewInterval(lower, upper, alpha)
}

// Merge folds another Clopper-Pearson shard into the receiver.
func (e *ClopperPearson) Merge(other estimator.IntervalEstimator) error {
	o, ok := other.(*ClopperPearson)
	if !ok {
		return mergeError(e, other)
	}
	e.n.AddAccumulator(&o.n)
	e.sumW.AddAccumulator(&o.sumW)
	e.sumWSq.AddAccumulator(&o.sumWSq)
	e.sumWR.AddAccumulator(&o.sumWR)
	return nil
}
