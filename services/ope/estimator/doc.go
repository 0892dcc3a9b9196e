// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package estimator defines the contracts shared by every off-policy
// estimator in the ope tree.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                     OFF-POLICY EVALUATION                        │
//	├──────────────────────────────────────────────────────────────────┤
//	│                                                                  │
//	│   logged record ──► [CATS] ──► AddExample ──► sufficient stats    │
//	│   (p_log, r, p_pred)                          (fsum accumulators) │
//	│                                                     │            │
//	│                                   ┌─────────────────┴──┐         │
//	│                                   ▼                    ▼         │
//	│                              Get() point         GetInterval()   │
//	│                              • IPS / SNIPS       • Gaussian      │
//	│                              • MLE               • Clopper-Pearson│
//	│                              • Cressie-Read      • Cressie-Read  │
//	│                                                                  │
//	└──────────────────────────────────────────────────────────────────┘
//
// # Contracts
//
//   - PointEstimator / IntervalEstimator: bandit records (p_log, r, p_pred)
//   - SlatePointEstimator / SlateIntervalEstimator: per-slot probabilities
//     with one total reward
//
// Every implementation keeps its state private, mutates it only in
// AddExample and Merge, and answers Get / GetInterval as a pure read.
// Get always returns a finite number: numerical trouble degrades to a simpler
// estimate instead of failing.
//
// # Sharding
//
// Estimators are single-owner. To aggregate in parallel, give each worker
// its own instance and fold the shards together with Merge, which combines
// compensated accumulators without replaying records.
package estimator
