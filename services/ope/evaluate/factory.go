// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluate

import (
	"fmt"

	"github.com/AleutianAI/AleutianOPE/services/ope/bandits"
	"github.com/AleutianAI/AleutianOPE/services/ope/config"
	"github.com/AleutianAI/AleutianOPE/services/ope/estimator"
	"github.com/AleutianAI/AleutianOPE/services/ope/slates"
)

// Factory builds fresh estimator instances from configuration. Each shard
// of a run gets its own set.
type Factory struct{}

// banditOptions maps the optional spec fields onto estimator options.
func banditOptions(spec config.EstimatorSpec) []bandits.Option {
	var opts []bandits.Option
	if spec.WMin != nil || spec.WMax != nil {
		wMin, wMax := 0.0, inf
		if spec.WMin != nil {
			wMin = *spec.WMin
		}
		if spec.WMax != nil {
			wMax = *spec.WMax
		}
		opts = append(opts, bandits.WithWeightBounds(wMin, wMax))
	}
	if spec.RMin != nil || spec.RMax != nil {
		rMin, rMax := 0.0, 1.0
		if spec.RMin != nil {
			rMin = *spec.RMin
		}
		if spec.RMax != nil {
			rMax = *spec.RMax
		}
		opts = append(opts, bandits.WithRewardRange(rMin, rMax))
	}
	if spec.Rho != nil {
		opts = append(opts, bandits.WithRho(*spec.Rho))
	}
	return opts
}

// BanditPoint builds a bandit point estimator.
func (Factory) BanditPoint(spec config.EstimatorSpec) (estimator.PointEstimator, error) {
	switch spec.Kind {
	case config.KindIPS:
		return bandits.NewIPS(), nil
	case config.KindSNIPS:
		return bandits.NewSNIPS(), nil
	case config.KindMLE:
		return bandits.NewMLE(banditOptions(spec)...)
	case config.KindCressieRead:
		return bandits.NewCressieRead(banditOptions(spec)...)
	default:
		return nil, fmt.Errorf("%w: %q is not a bandit point estimator", config.ErrInvalidConfig, spec.Kind)
	}
}

// BanditInterval builds a bandit interval estimator.
func (Factory) BanditInterval(spec config.EstimatorSpec) (estimator.IntervalEstimator, error) {
	switch spec.Kind {
	case config.KindGaussian:
		return bandits.NewGaussian(), nil
	case config.KindClopperPearson:
		return bandits.NewClopperPearson(), nil
	case config.KindCressieRead:
		return bandits.NewCressieReadInterval(banditOptions(spec)...)
	default:
		return nil, fmt.Errorf("%w: %q is not a bandit interval estimator", config.ErrInvalidConfig, spec.Kind)
	}
}

// SlatePoint builds a slate point estimator.
func (Factory) SlatePoint(spec config.EstimatorSpec) (estimator.SlatePointEstimator, error) {
	if spec.Kind != config.KindPseudoInverse {
		return nil, fmt.Errorf("%w: %q is not a slate point estimator", config.ErrInvalidConfig, spec.Kind)
	}
	return slates.NewPseudoInverse(), nil
}

// SlateInterval builds a slate interval estimator.
func (Factory) SlateInterval(spec config.EstimatorSpec) (estimator.SlateIntervalEstimator, error) {
	if spec.Kind != config.KindGaussian {
		return nil, fmt.Errorf("%w: %q is not a slate interval estimator", config.ErrInvalidConfig, spec.Kind)
	}
	return slates.NewGaussian(), nil
}

// CATS builds the continuous-action transformer, or nil when cfg has none.
func (Factory) CATS(cfg *config.CATSConfig) (*bandits.CATS, error) {
	if cfg == nil {
		return nil, nil
	}
	return bandits.NewCATS(cfg.NumActions, cfg.MinValue, cfg.MaxValue, cfg.Bandwidth)
}
