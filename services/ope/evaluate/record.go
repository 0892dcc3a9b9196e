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
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidRecord is returned for a line that cannot be decoded into the
// record shape of the configured mode.
var ErrInvalidRecord = errors.New("invalid record")

// BanditRecord is one JSON line in bandit mode.
//
// Discrete logs carry p_pred directly. Continuous logs carry the logged
// action a and the target policy's predicted action pred_a instead, and
// p_pred is computed by the CATS transformer.
type BanditRecord struct {
	PLog       float64  `json:"p_log"`
	Reward     *float64 `json:"r"`
	PPred      *float64 `json:"p_pred,omitempty"`
	Action     *float64 `json:"a,omitempty"`
	PredAction *float64 `json:"pred_a,omitempty"`
}

// SlateRecord is one JSON line in slate mode.
type SlateRecord struct {
	PLogs  []float64 `json:"p_logs"`
	Reward *float64  `json:"r"`
	PPreds []float64 `json:"p_preds"`
}

func decodeBandit(line []byte, continuous bool) (BanditRecord, error) {
	var rec BanditRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec.Reward == nil {
		return rec, fmt.Errorf("%w: missing r", ErrInvalidRecord)
	}
	if continuous {
		if rec.Action == nil || rec.PredAction == nil {
			return rec, fmt.Errorf("%w: continuous records need a and pred_a", ErrInvalidRecord)
		}
		return rec, nil
	}
	if rec.PPred == nil {
		return rec, fmt.Errorf("%w: missing p_pred", ErrInvalidRecord)
	}
	return rec, nil
}

func decodeSlate(line []byte) (SlateRecord, error) {
	var rec SlateRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec.Reward == nil {
		return rec, fmt.Errorf("%w: missing r", ErrInvalidRecord)
	}
	return rec, nil
}
