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
	"github.com/AleutianAI/AleutianOPE/services/ope/fsum"
)

var (
	_ estimator.PointEstimator = (*IPS)(nil)
	_ estimator.PointEstimator = (*SNIPS)(nil)
)

// IPS is the inverse propensity scoring estimator: the mean of w*r.
//
// Unbiased but high variance.
type IPS struct {
	n     fsum.Accumulator
	sumWR fsum.Accumulator
}

// NewIPS returns an empty IPS estimator.
func NewIPS() *IPS {
	return &IPS{}
}

// AddExample ingests one record.
func (e *IPS) AddExample(pLog, reward, pPred float64) error {
	w, err := estimator.Weight(pLog, reward, pPred)
	if err != nil {
		return err
	}
	return estimator.Accumulate(
		fsum.Term{Acc: &e.n, X: 1},
		fsum.Term{Acc: &e.sumWR, X: w * reward},
	)
}

// Get returns sum(w*r) / n, or 0 before the first record.
func (e *IPS) Get() float64 {
	n := e.n.Value()
	if n == 0 {
		return 0
	}
	return e.sumWR.Value() / n
}

// Merge folds another IPS shard into the receiver.
func (e *IPS) Merge(other estimator.PointEstimator) error {
	o, ok := other.(*IPS)
	if !ok {
		return mergeError(e, other)
	}
	e.n.AddAccumulator(&o.n)
	e.sumWR.AddAccumulator(&o.sumWR)
	return nil
}

// SNIPS is the self-normalized IPS estimator: sum(w*r) / sum(w).
//
// Biased but with lower variance than IPS; for non-negative rewards and
// weights it never exceeds IPS when the weights average at least one.
type SNIPS struct {
	sumW  fsum.Accumulator
	sumWR fsum.Accumulator
}

// NewSNIPS returns an empty SNIPS estimator.
func NewSNIPS() *SNIPS {
	return &SNIPS{}
}

// AddExample ingests one record.
func (e *SNIPS) AddExample(pLog, reward, pPred float64) error {
	w, err := estimator.Weight(pLog, reward, pPred)
	if err != nil {
		return err
	}
	return estimator.Accumulate(
		fsum.Term{Acc: &e.sumW, X: w},
		fsum.Term{Acc: &e.sumWR, X: w * reward},
	)
}

// Get returns sum(w*r) / sum(w), or 0 when no weight has been seen.
func (e *SNIPS) Get() float64 {
	return snipsValue(e.sumW.Value(), e.sumWR.Value())
}

// Merge folds another SNIPS shard into the receiver.
func (e *SNIPS) Merge(other estimator.PointEstimator) error {
	o, ok := other.(*SNIPS)
	if !ok {
		return mergeError(e, other)
	}
	e.sumW.AddAccumulator(&o.sumW)
	e.sumWR.AddAccumulator(&o.sumWR)
	return nil
}

func snipsValue(sumW, sumWR float64) float64 {
	if sumW == 0 {
		return 0
	}
	return sumWR / sumW
}

func mergeError(dst, src any) error {
	return fmt.Errorf("%w: cannot merge %T into %T", estimator.ErrIncompatibleMerge, src, dst)
}
