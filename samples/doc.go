// Copyright 2020 Grail Inc.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package samples discovers aligned-read files, derives sample identifiers
// from their names, and joins them against a sample sheet to produce one
// metadata table per study.
//
// Factors are always joined by sample ID. NewPositionalRegistry exists for
// hand-authored label arrays, but it converts them into the keyed form up
// front and refuses arrays whose lengths disagree with the sample list.
package samples
