package de

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/rnaseq/counts"
	"github.com/grailbio/rnaseq/samples"
)

// Request is one study's fit: its count matrix, the metadata of its samples,
// a design and the contrast to extract.
type Request struct {
	Study    string
	Counts   *counts.Matrix
	Samples  samples.Table
	Design   Design
	Contrast Contrast
}

// Engine fits a differential-expression model. Implementations must return one
// Row per gene of the request's matrix.
type Engine interface {
	// Name identifies the engine in reports and errors.
	Name() string
	Fit(ctx context.Context, req *Request) (*Result, error)
}

// ValidateRequest checks that the matrix columns are exactly the table's
// samples, in the same order, and that the design can be fitted. It returns
// the model matrix of the design.
func ValidateRequest(req *Request) (*Model, error) {
	if req.Counts == nil || req.Counts.NGenes() == 0 {
		return nil, fitErr(errors.E(errors.Invalid, fmt.Sprintf("study %s: empty count matrix", req.Study)))
	}
	ids := req.Samples.IDs()
	if len(ids) != req.Counts.NSamples() {
		return nil, fitErr(errors.E(errors.Integrity,
			fmt.Sprintf("study %s: %d matrix columns for %d samples", req.Study, req.Counts.NSamples(), len(ids))))
	}
	for i, id := range ids {
		if req.Counts.Samples[i] != id {
			return nil, fitErr(errors.E(errors.Integrity,
				fmt.Sprintf("study %s: matrix column %d is %s, sample table row is %s", req.Study, i, req.Counts.Samples[i], id)))
		}
	}
	return CheckDesign(req.Samples, req.Design, req.Contrast)
}
