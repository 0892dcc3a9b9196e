// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package slates implements off-policy estimators for slate recommendations,
// where one decision fills several slots and only the total reward is
// observed.
package slates

import (
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianOPE/services/ope/estimator"
	"github.com/AleutianAI/AleutianOPE/services/ope/fsum"
)

var _ estimator.SlatePointEstimator = (*PseudoInverse)(nil)

// PseudoInverse is the pseudo-inverse slate estimator.
//
// Description:
//
//	Assuming the reward is additive over slots, each record contributes
//	(sum_i(w_i - 1) + 1) * r where w_i = pPred_i / pLog_i. With a single
//	slot this is exactly IPS.
//
// Thread Safety: Not safe for concurrent use.
type PseudoInverse struct {
	n   fsum.Accumulator
	sum fsum.Accumulator
}

// NewPseudoInverse returns an empty estimator.
func NewPseudoInverse() *PseudoInverse {
	return &PseudoInverse{}
}

// AddExample ingests one slate record. pLogs and pPreds must be non-empty
// and of equal length.
func (e *PseudoInverse) AddExample(pLogs []float64, reward float64, pPreds []float64) error {
	v, err := pseudoInverseValue(pLogs, reward, pPreds)
	if err != nil {
		return err
	}
	return estimator.Accumulate(
		fsum.Term{Acc: &e.n, X: 1},
		fsum.Term{Acc: &e.sum, X: v},
	)
}

// Get returns the mean pseudo-inverse value, or 0 before the first record.
func (e *PseudoInverse) Get() float64 {
	n := e.n.Value()
	if n == 0 {
		return 0
	}
	return e.sum.Value() / n
}

// Merge folds another PseudoInverse shard into the receiver.
func (e *PseudoInverse) Merge(other estimator.SlatePointEstimator) error {
	o, ok := other.(*PseudoInverse)
	if !ok {
		return mergeError(e, other)
	}
	e.n.AddAccumulator(&o.n)
	e.sum.AddAccumulator(&o.sum)
	return nil
}

func pseudoInverseValue(pLogs []float64, reward float64, pPreds []float64) (float64, error) {
	weights, err := estimator.SlateWeights(pLogs, reward, pPreds)
	if err != nil {
		return 0, err
	}
	var acc fsum.Accumulator
	for _, w := range weights {
		acc.Add(w - 1)
	}
	acc.Add(1)
	v := acc.Value() * reward
	if acc.Err() != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("%w: pseudo-inverse value overflows", estimator.ErrInvalidExample)
	}
	return v, nil
}

func mergeError(dst, src any) error {
	return fmt.Errorf("%w: cannot merge %T into %T", estimator.ErrIncompatibleMerge, src, dst)
}
