// Package deseq is the model-based engine: a negative binomial GLM fitted by
// DESeq2, with Wald tests, independent filtering and optional effect-size
// shrinkage.
package deseq

import (
	"context"
	_ "embed" // for the R script
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/rnaseq/counts"
	"github.com/grailbio/rnaseq/de"
	"github.com/grailbio/rnaseq/de/rscript"
	"github.com/grailbio/rnaseq/samples"
)

//go:embed deseq2.R
var script string

// Name identifies the engine.
const Name = "deseq2"

// Shrinkage estimators accepted by lfcShrink, plus "none".
const (
	ShrinkNone   = "none"
	ShrinkNormal = "normal"
	ShrinkApeglm = "apeglm"
	ShrinkAshr   = "ashr"
)

// Opts configures the engine.
type Opts struct {
	RscriptPath string `yaml:"rscript"`
	TempDir     string `yaml:"tmp_dir"`
	// Alpha is the target FDR for independent filtering. Use the same value
	// with de.Significant.
	Alpha float64 `yaml:"alpha"`
	// Shrink selects the log fold change shrinkage estimator.
	Shrink               string `yaml:"shrink"`
	IndependentFiltering bool   `yaml:"independent_filtering"`
}

// DefaultOpts are the conventional DESeq2 settings.
var DefaultOpts = Opts{
	Alpha:                0.1,
	Shrink:               ShrinkApeglm,
	IndependentFiltering: true,
}

// Validate checks the option values.
func (o Opts) Validate() error {
	if !(o.Alpha > 0 && o.Alpha < 1) {
		return errors.E(errors.Invalid, fmt.Sprintf("deseq2: alpha %v not in (0, 1)", o.Alpha))
	}
	switch o.Shrink {
	case ShrinkNone, ShrinkNormal, ShrinkApeglm, ShrinkAshr:
	default:
		return errors.E(errors.Invalid, fmt.Sprintf("deseq2: unknown shrinkage estimator %q", o.Shrink))
	}
	return nil
}

// Engine implements de.Engine.
type Engine struct {
	opts Opts
}

// New returns an engine with the given options.
func New(opts Opts) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Engine{opts: opts}, nil
}

// Name implements de.Engine.
func (e *Engine) Name() string { return Name }

// Fit implements de.Engine.
func (e *Engine) Fit(ctx context.Context, req *de.Request) (*de.Result, error) {
	if _, err := de.ValidateRequest(req); err != nil {
		return nil, de.WithEngine(Name, err)
	}
	r := &rscript.Runner{Engine: Name, Path: e.opts.RscriptPath, TempDir: e.opts.TempDir}
	dir, cleanup, err := r.Workdir(req.Study)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var (
		countsPath  = filepath.Join(dir, "counts.tsv")
		coldataPath = filepath.Join(dir, "coldata.tsv")
		outPath     = filepath.Join(dir, "results.tsv")
	)
	if err := rscript.WriteFile(ctx, countsPath, func(w io.Writer) error {
		return counts.EncodeMatrix(w, req.Counts)
	}); err != nil {
		return nil, err
	}
	if err := rscript.WriteFile(ctx, coldataPath, func(w io.Writer) error {
		return samples.WriteTable(w, req.Samples)
	}); err != nil {
		return nil, err
	}
	log.Printf("deseq2: study %s: fitting %s on %d genes x %d samples, contrast %s",
		req.Study, req.Design, req.Counts.NGenes(), req.Counts.NSamples(), req.Contrast)
	if err := r.Run(ctx, dir, "deseq2.R", script, map[string]string{
		"counts":                countsPath,
		"coldata":               coldataPath,
		"design":                req.Design.String(),
		"factor":                req.Contrast.Factor,
		"numerator":             req.Contrast.Numerator,
		"denominator":           req.Contrast.Denominator,
		"alpha":                 strconv.FormatFloat(e.opts.Alpha, 'g', -1, 64),
		"independent_filtering": rBool(e.opts.IndependentFiltering),
		"shrink":                e.opts.Shrink,
		"out":                   outPath,
	}); err != nil {
		return nil, err
	}
	res, err := de.ReadResult(ctx, outPath)
	if err != nil {
		return nil, &de.ModelFitError{Engine: Name, Err: err}
	}
	res.Engine = Name
	res.Study = req.Study
	res.Contrast = req.Contrast
	res.Coefficient = req.Contrast.CoefficientName()
	if err := res.Check(req.Counts.Genes); err != nil {
		return nil, err
	}
	return res, nil
}

func rBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
