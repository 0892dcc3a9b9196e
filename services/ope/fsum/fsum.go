// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fsum provides a compensated running sum.
//
// Accumulator keeps the running total as a short list of non-overlapping
// partial sums (Shewchuk's algorithm). Every estimator in the ope tree stores its sufficient
// statistics in accumulators so that long streams of importance-weighted
// rewards do not drift.
package fsum

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNonFinite is recorded when NaN or an infinity is added.
	ErrNonFinite = errors.New("non-finite value in sum")

	// ErrOverflow is recorded when an intermediate sum leaves the float64
	// range.
	ErrOverflow = errors.New("intermediate overflow in sum")
)

// Accumulator is a compensated running sum.
//
// Description:
//
//	The zero value is an empty sum ready for use. Partials are kept in
//	increasing order of magnitude and never overlap, so the exact sum of
//	everything added is represented without loss until Value rounds it.
//
//	Adding NaN or an infinity, or overflowing an intermediate sum, poisons
//	the accumulator: Err reports why and Value returns the IEEE sum of the
//	offending values (+Inf, -Inf or NaN) from then on. Partials never hold
//	a non-finite value. Use CanAdd or AddAll to refuse such a value up
//	front instead.
//
// Thread Safety: Not safe for concurrent use. Shards should each own an
// Accumulator and combine them with Merge.
type Accumulator struct {
	partials []float64

	// special is the IEEE sum of the non-finite values seen; only
	// meaningful once err is set.
	special float64
	err     error
}

// New returns an accumulator seeded with the given values.
func New(values ...float64) *Accumulator {
	a := &Accumulator{}
	for _, v := range values {
		a.Add(v)
	}
	return a
}

// Add incorporates x into the running sum.
func (a *Accumulator) Add(x float64) {
	if !isFinite(x) {
		a.poison(x, ErrNonFinite)
		return
	}
	if a.err != nil {
		return
	}
	i := 0
	for _, y := range a.partials {
		if math.Abs(x) < math.Abs(y) {
			x, y = y, x
		}
		hi := x + y
		if math.IsInf(hi, 0) {
			a.partials = a.partials[:0]
			a.poison(hi, ErrOverflow)
			return
		}
		lo := y - (hi - x)
		if lo != 0 {
			a.partials[i] = lo
			i++
		}
		x = hi
	}
	a.partials = append(a.partials[:i], x)
}

// CanAdd reports whether Add(x) would keep the sum finite. It replays the
// carries of Add without storing them.
//
// Outputs:
//   - error: nil, the accumulator's own Err, ErrNonFinite for a non-finite
//     x, or ErrOverflow.
func (a *Accumulator) CanAdd(x float64) error {
	if a.err != nil {
		return a.err
	}
	if !isFinite(x) {
		return fmt.Errorf("%w: %v", ErrNonFinite, x)
	}
	for _, y := range a.partials {
		if math.Abs(x) < math.Abs(y) {
			x, y = y, x
		}
		x += y
		if math.IsInf(x, 0) {
			return ErrOverflow
		}
	}
	return nil
}

// Err returns ErrNonFinite or ErrOverflow once the accumulator has been
// poisoned, nil otherwise.
func (a *Accumulator) Err() error {
	if a == nil {
		return nil
	}
	return a.err
}

// Value returns the best float64 approximation of the sum.
//
// Value does not mutate the accumulator.
func (a *Accumulator) Value() float64 {
	if a == nil {
		return 0
	}
	if a.err != nil {
		return a.special
	}
	var sum float64
	for _, p := range a.partials {
		sum += p
	}
	return sum
}

// Partials returns a copy of the partial sums, smallest magnitude first.
func (a *Accumulator) Partials() []float64 {
	if a == nil {
		return nil
	}
	out := make([]float64, len(a.partials))
	copy(out, a.partials)
	return out
}

// Clone returns an independent copy of the accumulator.
func (a *Accumulator) Clone() *Accumulator {
	if a == nil {
		return &Accumulator{}
	}
	return &Accumulator{partials: a.Partials(), special: a.special, err: a.err}
}

// AddAccumulator folds the partials of other into the receiver.
//
// The receiver ends up representing the sum of both value streams. other is
// left untouched. A nil other is a no-op.
func (a *Accumulator) AddAccumulator(other *Accumulator) {
	if other == nil {
		return
	}
	// Snapshot first so that a.AddAccumulator(a) doubles the sum correctly.
	partials, special, err := other.Partials(), other.special, other.err
	if err != nil {
		a.poison(special, err)
		return
	}
	for _, p := range partials {
		a.Add(p)
	}
}

// Merge returns a new accumulator holding the sum of all operands.
//
// Description:
//
//	Each operand's partials are re-added through the compensated Add rule,
//	so no original value has to be replayed. The operation is pure,
//	commutative and associative up to the final rounding of Value.
//
// Inputs:
//   - accs: Accumulators to combine. Nil entries are skipped.
//
// Outputs:
//   - *Accumulator: The combined sum. Never nil.
func Merge(accs ...*Accumulator) *Accumulator {
	result := &Accumulator{}
	for _, acc := range accs {
		result.AddAccumulator(acc)
	}
	return result
}

// Term pairs an accumulator with the value about to be added to it.
type Term struct {
	Acc *Accumulator
	X   float64
}

// AddAll adds every term, or none of them when any would make its sum
// non-finite. Estimators use it so that a rejected record leaves no trace.
func AddAll(terms ...Term) error {
	for i, t := range terms {
		if err := t.Acc.CanAdd(t.X); err != nil {
			return fmt.Errorf("term %d: %w", i, err)
		}
	}
	for _, t := range terms {
		t.Acc.Add(t.X)
	}
	return nil
}

func (a *Accumulator) poison(x float64, err error) {
	if a.err == nil {
		a.err = err
		a.special = x
		return
	}
	a.special += x
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
