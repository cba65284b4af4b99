// Copyright 2020 Grail Inc.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package de holds what the differential-expression engines share: design
// formulas, contrasts, the treatment-coded model matrix, per-gene results and
// the significance filter.
//
// The engines themselves (packages deseq and edger) delegate all statistics to
// external R packages. This package validates a fit request before an engine
// runs, so that a rank-deficient design or a contrast naming an absent level
// fails with a ModelFitError instead of producing NaNs.
package de
