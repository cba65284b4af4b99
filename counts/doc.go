// Copyright 2020 Grail Inc.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package counts builds the gene × sample read count matrix of one study.
//
// Reads are assigned to genes by an external summarization engine
// (Summarizer; FeatureCounts runs Subread's featureCounts). This package
// validates the inputs, fans the samples out to the engine, and assembles the
// per-sample results into a Matrix whose columns are in the exact order of the
// study's metadata table. Downstream model fitting associates column i with
// metadata row i, so that order is the invariant everything else relies on.
package counts
