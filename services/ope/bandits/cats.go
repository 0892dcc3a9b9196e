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
	"math"

	"github.com/AleutianAI/AleutianOPE/services/ope/estimator"
)

// ContinuousExample is a logged record over a continuous action range.
type ContinuousExample struct {
	// Action is the logged action value.
	Action float64 `json:"a"`

	// PLog is the logging policy's density at Action.
	PLog float64 `json:"p_log"`

	// Reward is the observed reward.
	Reward float64 `json:"r"`

	// PPred is the target policy's density at Action. Set by Transform.
	PPred float64 `json:"p_pred"`
}

// CATS turns continuous-action records into bandit records by smoothing the
// target policy's deterministic prediction with a uniform kernel.
//
// Description:
//
//	The action range [min, max] is split into numActions unit ranges. A
//	prediction a' becomes the density 1/(2*bandwidth) on
//	[a' - bandwidth, a' + bandwidth]. The kernel is not renormalised where it
//	crosses the ends of the range, so densities near the edges are slightly
//	underweighted.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type CATS struct {
	numActions int
	minValue   float64
	maxValue   float64
	bandwidth  float64
	unitRange  float64
}

// NewCATS validates the discretisation and returns a transformer.
//
// Inputs:
//   - numActions: Number of unit ranges. Must be > 0.
//   - minValue, maxValue: Action range with minValue < maxValue.
//   - bandwidth: Kernel half-width in (0, unitRange/2].
//
// Outputs:
//   - *CATS: The transformer.
//   - error: Wraps estimator.ErrInvalidConfig.
func NewCATS(numActions int, minValue, maxValue, bandwidth float64) (*CATS, error) {
	if numActions <= 0 {
		return nil, fmt.Errorf("%w: num_actions %d must be positive", estimator.ErrInvalidConfig, numActions)
	}
	if !isFinite(minValue) || !isFinite(maxValue) || minValue >= maxValue {
		return nil, fmt.Errorf("%w: action range [%v, %v] is empty", estimator.ErrInvalidConfig, minValue, maxValue)
	}
	unitRange := (maxValue - minValue) / float64(numActions)
	if !(bandwidth > 0) || bandwidth > unitRange/2 {
		return nil, fmt.Errorf("%w: bandwidth %v must be in (0, %v]", estimator.ErrInvalidConfig, bandwidth, unitRange/2)
	}
	return &CATS{
		numActions: numActions,
		minValue:   minValue,
		maxValue:   maxValue,
		bandwidth:  bandwidth,
		unitRange:  unitRange,
	}, nil
}

// UnitRange returns (max - min) / numActions.
func (c *CATS) UnitRange() float64 {
	return c.unitRange
}

// Bandwidth returns the kernel half-width.
func (c *CATS) Bandwidth() float64 {
	return c.bandwidth
}

// Transform returns ex with PPred set to the smoothed target density of
// predAction at the logged action.
func (c *CATS) Transform(ex ContinuousExample, predAction float64) ContinuousExample {
	ex.PPred = 0
	if math.Abs(predAction-ex.Action) <= c.bandwidth {
		ex.PPred = 1 / (2 * c.bandwidth)
	}
	return ex
}

// Baseline1Prediction is the centre of the first unit range, the action of
// the constant baseline policy.
func (c *CATS) Baseline1Prediction() float64 {
	return c.BinCenter(0)
}

// Bin returns the index of the unit range containing action, clamped to
// [0, numActions-1].
func (c *CATS) Bin(action float64) int {
	i := int(math.Floor((action - c.minValue) / c.unitRange))
	return min(max(i, 0), c.numActions-1)
}

// BinCenter returns the midpoint of unit range i, clamped like Bin.
func (c *CATS) BinCenter(i int) float64 {
	i = min(max(i, 0), c.numActions-1)
	return c.minValue + (float64(i)+0.5)*c.unitRange
}
