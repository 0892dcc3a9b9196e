// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the YAML configuration of an
// evaluation run.
package config

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Mode selects the record shape of a run.
type Mode string

const (
	// ModeBandit reads (p_log, r, p_pred) records, or continuous-action
	// records when a CATS section is present.
	ModeBandit Mode = "bandit"

	// ModeSlate reads (p_logs, r, p_preds) records.
	ModeSlate Mode = "slate"
)

// Kind names an estimator implementation.
type Kind string

const (
	// KindIPS is the inverse propensity score point estimator.
	KindIPS Kind = "ips"

	// KindSNIPS is the self-normalised IPS point estimator.
	KindSNIPS Kind = "snips"

	// KindMLE is the empirical-likelihood point estimator.
	KindMLE Kind = "mle"

	// KindCressieRead is the Cressie-Read point estimator in estimator
	// sections and the Cressie-Read divergence interval in interval
	// sections. Both honour rho.
	KindCressieRead Kind = "cressieread"

	// KindPseudoInverse is the slate point estimator.
	KindPseudoInverse Kind = "pseudoinverse"

	// KindGaussian is the normal-approximation interval over the IPS
	// (bandit) or pseudo-inverse (slate) terms.
	KindGaussian Kind = "gaussian"

	// KindClopperPearson is the exact binomial interval for rewards in
	// [0, 1].
	KindClopperPearson Kind = "clopperpearson"
)

// pointKinds and intervalKinds list the kinds each mode accepts.
var (
	pointKinds = map[Mode][]Kind{
		ModeBandit: {KindIPS, KindSNIPS, KindMLE, KindCressieRead},
		ModeSlate:  {KindPseudoInverse},
	}
	intervalKinds = map[Mode][]Kind{
		ModeBandit: {KindGaussian, KindClopperPearson, KindCressieRead},
		ModeSlate:  {KindGaussian},
	}
)

// Config is the top-level configuration of an evaluation run.
type Config struct {
	// Mode is bandit or slate.
	Mode Mode `yaml:"mode" validate:"required,oneof=bandit slate"`

	// Alpha is the two-sided miscoverage of every interval.
	Alpha float64 `yaml:"alpha" validate:"gt=0,lt=1"`

	// Workers is the number of shards the runner aggregates in parallel.
	Workers int `yaml:"workers" validate:"gte=1,lte=256"`

	// Estimators are the point estimators to run.
	Estimators []EstimatorSpec `yaml:"estimators" validate:"dive"`

	// Intervals are the interval estimators to run.
	Intervals []EstimatorSpec `yaml:"intervals" validate:"dive"`

	// CATS, when set, turns bandit mode into continuous-action mode.
	CATS *CATSConfig `yaml:"cats,omitempty"`
}

// EstimatorSpec configures one estimator instance. Unset optional fields take
// the estimator's defaults.
type EstimatorSpec struct {
	Name string   `yaml:"name" validate:"required,max=64"`
	Kind Kind     `yaml:"kind" validate:"required"`
	Rho  *float64 `yaml:"rho,omitempty"`
	WMin *float64 `yaml:"wmin,omitempty" validate:"omitempty,gte=0,lte=1"`
	WMax *float64 `yaml:"wmax,omitempty" validate:"omitempty,gte=1"`
	RMin *float64 `yaml:"rmin,omitempty"`
	RMax *float64 `yaml:"rmax,omitempty"`
}

// CATSConfig is the continuous-action discretisation.
type CATSConfig struct {
	NumActions int     `yaml:"num_actions" validate:"gt=0"`
	MinValue   float64 `yaml:"min_value"`
	MaxValue   float64 `yaml:"max_value" validate:"gtfield=MinValue"`
	Bandwidth  float64 `yaml:"bandwidth" validate:"gt=0"`
}

// DefaultConfig returns a bandit configuration running every bandit
// estimator with default parameters.
func DefaultConfig() Config {
	return Config{
		Mode:    ModeBandit,
		Alpha:   0.05,
		Workers: 4,
		Estimators: []EstimatorSpec{
			{Name: "ips", Kind: KindIPS},
			{Name: "snips", Kind: KindSNIPS},
			{Name: "mle", Kind: KindMLE},
			{Name: "cressieread", Kind: KindCressieRead},
		},
		Intervals: []EstimatorSpec{
			{Name: "gaussian", Kind: KindGaussian},
			{Name: "clopperpearson", Kind: KindClopperPearson},
			{Name: "cressieread", Kind: KindCressieRead},
		},
	}
}

var validate = validator.New()

// Validate checks struct tags and the cross-field rules tags cannot express.
//
// Outputs:
//   - error: Wraps ErrInvalidConfig, or nil.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(c.Estimators) == 0 && len(c.Intervals) == 0 {
		return fmt.Errorf("%w: no estimators or intervals configured", ErrInvalidConfig)
	}
	if c.CATS != nil && c.Mode != ModeBandit {
		return fmt.Errorf("%w: cats requires bandit mode", ErrInvalidConfig)
	}
	if c.CATS != nil {
		unit := (c.CATS.MaxValue - c.CATS.MinValue) / float64(c.CATS.NumActions)
		if c.CATS.Bandwidth > unit/2 {
			return fmt.Errorf("%w: cats bandwidth %v exceeds half the unit range %v", ErrInvalidConfig, c.CATS.Bandwidth, unit)
		}
	}
	if err := checkSpecs("estimators", c.Estimators, pointKinds[c.Mode]); err != nil {
		return err
	}
	return checkSpecs("intervals", c.Intervals, intervalKinds[c.Mode])
}

func checkSpecs(section string, specs []EstimatorSpec, allowed []Kind) error {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.Name] {
			return fmt.Errorf("%w: %s: duplicate name %q", ErrInvalidConfig, section, s.Name)
		}
		seen[s.Name] = true

		if !containsKind(allowed, s.Kind) {
			return fmt.Errorf("%w: %s: kind %q not available here (want one of %v)", ErrInvalidConfig, section, s.Kind, allowed)
		}
		if s.WMin != nil && s.WMax != nil && *s.WMin > *s.WMax {
			return fmt.Errorf("%w: %s: %q wmin > wmax", ErrInvalidConfig, section, s.Name)
		}
		if s.RMin != nil && s.RMax != nil && *s.RMin > *s.RMax {
			return fmt.Errorf("%w: %s: %q rmin > rmax", ErrInvalidConfig, section, s.Name)
		}
		if s.Rho != nil && (math.IsNaN(*s.Rho) || math.IsInf(*s.Rho, 0)) {
			return fmt.Errorf("%w: %s: %q rho must be finite", ErrInvalidConfig, section, s.Name)
		}
		if s.Kind == KindCressieRead && s.Rho != nil && (s.WMax == nil || math.IsInf(*s.WMax, 1)) {
			// The numeric solvers place the virtual sample at wmax. The
			// point estimator also has a direct solver for rho 0.
			if rho := *s.Rho; rho != 2 && (section == "intervals" || rho != 0) {
				return fmt.Errorf("%w: %s: %q rho %v requires a finite wmax", ErrInvalidConfig, section, s.Name, rho)
			}
		}
	}
	return nil
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, kk := range kinds {
		if kk == k {
			return true
		}
	}
	return false
}
