package counts

import (
	"context"
	"fmt"
	"runtime"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/rnaseq/annotation"
	"github.com/grailbio/rnaseq/samples"
	"golang.org/x/sync/errgroup"
)

// BuildOpts controls how Build drives the engine.
type BuildOpts struct {
	// Parallelism is the maximum number of samples summarized at once.
	// 0 means runtime.NumCPU().
	Parallelism int
	// SkipPreflight disables the BAM header check. Tests with fake engines use
	// it; production callers should not.
	SkipPreflight bool
}

// Result is the outcome of counting one study.
type Result struct {
	// Matrix is the count matrix after dropping all-zero genes.
	Matrix *Matrix
	// Unfiltered is the matrix as assembled from the engine.
	Unfiltered *Matrix
	// Stats holds the engine's per-sample statistics, keyed by sample ID.
	Stats map[string][]Stat
	// Dropped is the number of all-zero genes removed.
	Dropped int
}

// Build counts every sample of table and assembles the study's count matrix.
// Column i of the result always holds table.Samples[i], whatever order the
// engine finishes in. Any failure aborts the whole study with a
// CountingError; there are no partial results.
func Build(ctx context.Context, table samples.Table, annotationPath string, params Params, engine Summarizer, opts BuildOpts) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, &CountingError{Err: err}
	}
	if len(table.Samples) == 0 {
		return nil, &CountingError{Err: errors.E(errors.Invalid, fmt.Sprintf("study %s has no samples", table.Study))}
	}
	db, err := annotation.ReadGTF(ctx, annotationPath, annotation.Opts{
		FeatureType: params.FeatureType,
		AttrType:    params.AttrType,
	})
	if err != nil {
		return nil, &CountingError{Err: err}
	}
	if !opts.SkipPreflight {
		for _, s := range table.Samples {
			header, err := CheckAlignment(ctx, s.Path)
			if err != nil {
				return nil, &CountingError{Sample: s.ID, Err: err}
			}
			warnRefMismatch(s.ID, header, db.Chroms())
		}
	}

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	log.Printf("study %s: counting %d samples (%d at a time)", table.Study, len(table.Samples), parallelism)
	perSample := make([]*SampleCounts, len(table.Samples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, s := range table.Samples {
		i, s := i, s
		g.Go(func() error {
			sc, err := engine.Summarize(gctx, SummarizeRequest{
				SampleID:       s.ID,
				BAMPath:        s.Path,
				AnnotationPath: annotationPath,
				Params:         params,
			})
			if err != nil {
				return &CountingError{Sample: s.ID, Err: err}
			}
			if sc.SampleID != s.ID {
				return &CountingError{Sample: s.ID, Err: errors.E(errors.Integrity,
					fmt.Sprintf("engine answered for sample %s", sc.SampleID))}
			}
			if len(sc.Genes) != len(sc.Counts) {
				return &CountingError{Sample: s.ID, Err: errors.E(errors.Integrity,
					fmt.Sprintf("engine returned %d genes but %d counts", len(sc.Genes), len(sc.Counts)))}
			}
			// Slot i belongs to table row i; completion order is irrelevant.
			perSample[i] = sc
			log.Debug.Printf("study %s: sample %s counted (%d genes)", table.Study, s.ID, len(sc.Genes))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	m, err := assemble(table.IDs(), perSample, db)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Unfiltered: m,
		Matrix:     m.FilterZero(),
		Stats:      map[string][]Stat{},
	}
	res.Dropped = m.NGenes() - res.Matrix.NGenes()
	for _, sc := range perSample {
		res.Stats[sc.SampleID] = sc.Stats
	}
	log.Printf("study %s: %d genes counted, %d all-zero genes dropped, %v",
		table.Study, m.NGenes(), res.Dropped, res.Matrix)
	return res, nil
}

// assemble merges per-sample counts into a matrix with columns ids. Every
// sample must report the same genes in the same order, and every gene must
// be in the annotation.
func assemble(ids []string, perSample []*SampleCounts, db *annotation.DB) (*Matrix, error) {
	ref := perSample[0]
	genes := ref.Genes
	for _, gene := range genes {
		if _, ok := db.Lookup(gene); !ok {
			return nil, &CountingError{Sample: ref.SampleID, Err: errors.E(errors.Integrity,
				fmt.Sprintf("engine reported gene %s, which is not in the annotation", gene))}
		}
	}
	m := NewMatrix(genes, ids)
	for s, sc := range perSample {
		if len(sc.Genes) != len(genes) {
			return nil, &CountingError{Sample: sc.SampleID, Err: errors.E(errors.Integrity,
				fmt.Sprintf("sample %s has %d genes, but sample %s has %d", sc.SampleID, len(sc.Genes), ref.SampleID, len(genes)))}
		}
		for g, gene := range sc.Genes {
			if gene != genes[g] {
				return nil, &CountingError{Sample: sc.SampleID, Err: errors.E(errors.Integrity,
					fmt.Sprintf("gene %d is %s in sample %s, but %s in sample %s", g, gene, sc.SampleID, genes[g], ref.SampleID))}
			}
			if sc.Counts[g] < 0 {
				return nil, &CountingError{Sample: sc.SampleID, Err: errors.E(errors.Integrity,
					fmt.Sprintf("negative count %d for gene %s", sc.Counts[g], gene))}
			}
			m.Set(g, s, sc.Counts[g])
		}
	}
	return m, nil
}
