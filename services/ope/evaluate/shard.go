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
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianOPE/services/ope/bandits"
	"github.com/AleutianAI/AleutianOPE/services/ope/config"
	"github.com/AleutianAI/AleutianOPE/services/ope/estimator"
)

var inf = math.Inf(1)

// shard owns one independent set of estimators. Shards of the same run are
// combined with merge once every worker is done.
type shard interface {
	// add ingests one JSON line. A non-nil error means the record was
	// skipped by every estimator.
	add(line []byte) error

	merge(other shard) error

	results(alpha float64) ([]EstimateResult, []IntervalResult)
}

// tally counts records one estimator turned down after the record itself
// passed validation, such as weights beyond configured bounds.
type tally struct {
	spec     config.EstimatorSpec
	rejected int64
}

func newShard(cfg *config.Config) (shard, error) {
	var f Factory
	if cfg.Mode == config.ModeSlate {
		s := &slateShard{}
		for _, spec := range cfg.Estimators {
			e, err := f.SlatePoint(spec)
			if err != nil {
				return nil, err
			}
			s.points = append(s.points, e)
			s.pointTally = append(s.pointTally, tally{spec: spec})
		}
		for _, spec := range cfg.Intervals {
			e, err := f.SlateInterval(spec)
			if err != nil {
				return nil, err
			}
			s.intervals = append(s.intervals, e)
			s.intervalTally = append(s.intervalTally, tally{spec: spec})
		}
		return s, nil
	}

	cats, err := f.CATS(cfg.CATS)
	if err != nil {
		return nil, err
	}
	s := &banditShard{cats: cats}
	for _, spec := range cfg.Estimators {
		e, err := f.BanditPoint(spec)
		if err != nil {
			return nil, fmt.Errorf("estimator %q: %w", spec.Name, err)
		}
		s.points = append(s.points, e)
		s.pointTally = append(s.pointTally, tally{spec: spec})
	}
	for _, spec := range cfg.Intervals {
		e, err := f.BanditInterval(spec)
		if err != nil {
			return nil, fmt.Errorf("interval %q: %w", spec.Name, err)
		}
		s.intervals = append(s.intervals, e)
		s.intervalTally = append(s.intervalTally, tally{spec: spec})
	}
	return s, nil
}

// -----------------------------------------------------------------------------
// Bandit Shard
// -----------------------------------------------------------------------------

type banditShard struct {
	cats          *bandits.CATS
	points        []estimator.PointEstimator
	intervals     []estimator.IntervalEstimator
	pointTally    []tally
	intervalTally []tally
}

func (s *banditShard) add(line []byte) error {
	rec, err := decodeBandit(line, s.cats != nil)
	if err != nil {
		return err
	}
	reward := *rec.Reward
	var pPred float64
	if s.cats != nil {
		ex := s.cats.Transform(bandits.ContinuousExample{
			Action: *rec.Action,
			PLog:   rec.PLog,
			Reward: reward,
		}, *rec.PredAction)
		pPred = ex.PPred
	} else {
		pPred = *rec.PPred
	}

	// Shared validation first, so a malformed record is skipped by all
	// estimators rather than by some.
	if _, err := estimator.Weight(rec.PLog, reward, pPred); err != nil {
		return err
	}
	for i, e := range s.points {
		if e.AddExample(rec.PLog, reward, pPred) != nil {
			s.pointTally[i].rejected++
		}
	}
	for i, e := range s.intervals {
		if e.AddExample(rec.PLog, reward, pPred) != nil {
			s.intervalTally[i].rejected++
		}
	}
	return nil
}

func (s *banditShard) merge(other shard) error {
	o, ok := other.(*banditShard)
	if !ok || len(o.points) != len(s.points) || len(o.intervals) != len(s.intervals) {
		return errors.New("merge: shard layouts differ")
	}
	for i := range s.points {
		if err := s.points[i].Merge(o.points[i]); err != nil {
			return fmt.Errorf("merge %q: %w", s.pointTally[i].spec.Name, err)
		}
		s.pointTally[i].rejected += o.pointTally[i].rejected
	}
	for i := range s.intervals {
		if err := s.intervals[i].Merge(o.intervals[i]); err != nil {
			return fmt.Errorf("merge %q: %w", s.intervalTally[i].spec.Name, err)
		}
		s.intervalTally[i].rejected += o.intervalTally[i].rejected
	}
	return nil
}

func (s *banditShard) results(alpha float64) ([]EstimateResult, []IntervalResult) {
	points := make([]EstimateResult, len(s.points))
	for i, e := range s.points {
		points[i] = newEstimateResult(s.pointTally[i], e.Get())
	}
	intervals := make([]IntervalResult, len(s.intervals))
	for i, e := range s.intervals {
		intervals[i] = newIntervalResult(s.intervalTally[i], e.GetInterval(alpha))
	}
	return points, intervals
}

// -----------------------------------------------------------------------------
// Slate Shard
// -----------------------------------------------------------------------------

type slateShard struct {
	points        []estimator.SlatePointEstimator
	intervals     []estimator.SlateIntervalEstimator
	pointTally    []tally
	intervalTally []tally
}

func (s *slateShard) add(line []byte) error {
	rec, err := decodeSlate(line)
	if err != nil {
		return err
	}
	reward := *rec.Reward
	if _, err := estimator.SlateWeights(rec.PLogs, reward, rec.PPreds); err != nil {
		return err
	}
	for i, e := range s.points {
		if e.AddExample(rec.PLogs, reward, rec.PPreds) != nil {
			s.pointTally[i].rejected++
		}
	}
	for i, e := range s.intervals {
		if e.AddExample(rec.PLogs, reward, rec.PPreds) != nil {
			s.intervalTally[i].rejected++
		}
	}
	return nil
}

func (s *slateShard) merge(other shard) error {
	o, ok := other.(*slateShard)
	if !ok || len(o.points) != len(s.points) || len(o.intervals) != len(s.intervals) {
		return errors.New("merge: shard layouts differ")
	}
	for i := range s.points {
		if err := s.points[i].Merge(o.points[i]); err != nil {
			return fmt.Errorf("merge %q: %w", s.pointTally[i].spec.Name, err)
		}
		s.pointTally[i].rejected += o.pointTally[i].rejected
	}
	for i := range s.intervals {
		if err := s.intervals[i].Merge(o.intervals[i]); err != nil {
			return fmt.Errorf("merge %q: %w", s.intervalTally[i].spec.Name, err)
		}
		s.intervalTally[i].rejected += o.intervalTally[i].rejected
	}
	return nil
}

func (s *slateShard) results(alpha float64) ([]EstimateResult, []IntervalResult) {
	points := make([]EstimateResult, len(s.points))
	for i, e := range s.points {
		points[i] = newEstimateResult(s.pointTally[i], e.Get())
	}
	intervals := make([]IntervalResult, len(s.intervals))
	for i, e := range s.intervals {
		intervals[i] = newIntervalResult(s.intervalTally[i], e.GetInterval(alpha))
	}
	return points, intervals
}
