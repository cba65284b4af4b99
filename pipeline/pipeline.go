// Package pipeline runs the differential-expression workflow: it discovers
// aligned samples, assigns them to study subsets, and for each subset builds
// the count matrix, fits both engines and compares their significant genes.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/rnaseq/concordance"
	"github.com/grailbio/rnaseq/counts"
	"github.com/grailbio/rnaseq/de"
	"github.com/grailbio/rnaseq/de/deseq"
	"github.com/grailbio/rnaseq/de/edger"
	"github.com/grailbio/rnaseq/samples"
)

// Engines are the external tools a run drives.
type Engines struct {
	Summarizer  counts.Summarizer
	ModelBased  de.Engine
	Alternative de.Engine
}

// NewEngines returns featureCounts, DESeq2 and edgeR configured from opts.
func NewEngines(opts Opts) (Engines, error) {
	dopts := opts.DESeq
	if dopts.RscriptPath == "" {
		dopts.RscriptPath = opts.Rscript
	}
	if dopts.TempDir == "" {
		dopts.TempDir = opts.TempDir
	}
	eopts := opts.EdgeR
	if eopts.RscriptPath == "" {
		eopts.RscriptPath = opts.Rscript
	}
	if eopts.TempDir == "" {
		eopts.TempDir = opts.TempDir
	}
	a, err := deseq.New(dopts)
	if err != nil {
		return Engines{}, err
	}
	b, err := edger.New(eopts)
	if err != nil {
		return Engines{}, err
	}
	return Engines{
		Summarizer:  &counts.FeatureCounts{Path: opts.FeatureCounts, TempDir: opts.TempDir},
		ModelBased:  a,
		Alternative: b,
	}, nil
}

// SubsetReport is the outcome of one study subset. Either Err is set, or
// every other result field is.
type SubsetReport struct {
	Study string
	Table samples.Table
	Err   error

	Counts       *counts.Result
	// Fingerprint identifies the filtered count matrix both engines were fit
	// on.
	Fingerprint  uint64
	ModelBased   *de.Result
	Alternative  *de.Result
	SignificantA []string
	SignificantB []string
	Concordance  *concordance.Report
}

// Run executes the workflow. Configuration problems, including every sample
// assignment error, are returned before any file is counted. After that each
// subset runs independently and reports its own failure in
// SubsetReport.Err; reports are in the order of opts.Studies.
func Run(ctx context.Context, opts Opts, engines Engines) ([]*SubsetReport, error) {
	plans, err := opts.plans()
	if err != nil {
		return nil, err
	}
	tables, err := opts.Tables(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		log.Printf("study %s: %d samples", t.Study, len(t.Samples))
	}
	reports := make([]*SubsetReport, len(tables))
	limit := opts.Parallelism
	if limit == 0 {
		limit = len(tables)
	}
	_ = traverse.Limit(limit).Each(len(tables), func(i int) error {
		reports[i] = runSubset(ctx, opts, engines, tables[i], plans[tables[i].Study])
		return nil
	})
	var failed int
	for _, r := range reports {
		if r.Err != nil {
			failed++
			log.Error.Printf("%v", r.Err)
		}
	}
	log.Printf("%d of %d studies completed", len(reports)-failed, len(reports))
	return reports, nil
}

func runSubset(ctx context.Context, opts Opts, engines Engines, table samples.Table, p plan) *SubsetReport {
	report := &SubsetReport{Study: table.Study, Table: table}
	fail := func(stage string, err error) *SubsetReport {
		return &SubsetReport{Study: table.Study, Table: table, Err: &StageError{Study: table.Study, Stage: stage, Err: err}}
	}
	start := time.Now()

	cr, err := counts.Build(ctx, table, opts.Annotation, opts.Counting, engines.Summarizer, counts.BuildOpts{
		Parallelism:   opts.SampleParallelism,
		SkipPreflight: opts.SkipPreflight,
	})
	if err != nil {
		return fail(StageCount, err)
	}
	report.Counts = cr

	req := &de.Request{
		Study:    table.Study,
		Counts:   cr.Matrix,
		Samples:  table,
		Design:   p.design,
		Contrast: p.contrast,
	}
	report.Fingerprint = cr.Matrix.Fingerprint()
	log.Printf("study %s: count matrix fingerprint %016x", table.Study, report.Fingerprint)
	if report.ModelBased, err = engines.ModelBased.Fit(ctx, req); err != nil {
		return fail(StageModelBased, err)
	}
	if err := checkFingerprint(engines.ModelBased.Name(), req, report.Fingerprint); err != nil {
		return fail(StageModelBased, err)
	}
	report.SignificantA = de.Significant(report.ModelBased, opts.DESeq.Alpha)
	log.Printf("study %s: %s: %d significant genes at padj < %v",
		table.Study, engines.ModelBased.Name(), len(report.SignificantA), opts.DESeq.Alpha)

	if report.Alternative, err = engines.Alternative.Fit(ctx, req); err != nil {
		return fail(StageAlternative, err)
	}
	if err := checkFingerprint(engines.Alternative.Name(), req, report.Fingerprint); err != nil {
		return fail(StageAlternative, err)
	}
	report.SignificantB = de.Significant(report.Alternative, opts.EdgeR.Alpha)
	log.Printf("study %s: %s: %d significant genes at FDR < %v",
		table.Study, engines.Alternative.Name(), len(report.SignificantB), opts.EdgeR.Alpha)

	report.Concordance = concordance.Compare(table.Study, report.SignificantA, report.SignificantB)
	concordance.Correlate(report.Concordance, report.ModelBased, report.Alternative)
	log.Printf("study %s: %d genes significant under both engines, logFC correlation %.3f over %d genes",
		table.Study, len(report.Concordance.Both), report.Concordance.LogFCCorrelation, report.Concordance.Shared)

	if opts.OutDir != "" {
		if err := WriteOutputs(ctx, opts.OutDir, report); err != nil {
			return fail(StageWrite, err)
		}
	}
	log.Debug.Printf("study %s: done in %v", table.Study, time.Since(start))
	return report
}

// checkFingerprint verifies that engine left the request's count matrix as it
// found it, so that both engines saw the same data.
func checkFingerprint(engine string, req *de.Request, want uint64) error {
	if got := req.Counts.Fingerprint(); got != want {
		return &de.ModelFitError{Engine: engine, Err: errors.E(errors.Integrity,
			fmt.Sprintf("count matrix changed during the fit: fingerprint %016x, want %016x", got, want))}
	}
	return nil
}
