// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats holds the distribution helpers used by the ope interval
// estimators.
//
// # Components
//
//   - BetaQuantile: inverse Beta CDF with the Clopper-Pearson edge rules
//   - ClopperPearson: exact binomial interval for (possibly fractional) counts
//   - NormalQuantile / TwoSidedZ: Gaussian critical values
//   - FInverseSurvival: F critical values for the Cressie-Read profile bound
//   - Moments: compensated count / mean / variance of a stream
//
// All quantiles are computed with gonum's distuv package. Nothing here
// allocates per call or keeps global state.
package stats
