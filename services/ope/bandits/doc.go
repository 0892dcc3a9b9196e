// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bandits implements off-policy estimators for contextual bandit
// logs.
//
// Each record is (pLog, reward, pPred): the probability the logging policy
// gave the logged action, the observed reward, and the probability the
// target policy gives the same action. The importance weight is
// w = pPred / pLog.
//
// Point estimators:
//
//   - IPS: mean of w*r. Unbiased, high variance.
//   - SNIPS: sum(w*r) / sum(w).
//   - MLE: empirical-likelihood reweighting.
//   - CressieRead: power-divergence reweighting; Euclidean by default.
//
// Interval estimators:
//
//   - Gaussian: normal approximation on w*r.
//   - ClopperPearson: exact binomial interval on the effective sample size.
//   - CressieReadInterval: Euclidean divergence profile, clamped to the
//     reward range.
//
// CATS adapts continuous-action logs to the (pLog, reward, pPred) shape.
//
// All estimators are single-owner. Shard work across goroutines by giving
// each one its own instances and combining them with Merge.
package bandits
