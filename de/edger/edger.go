// Package edger is the alternative engine: edgeR's TMM normalization,
// GLM dispersion estimates and likelihood ratio test on the contrast
// coefficient.
package edger

import (
	"context"
	_ "embed" // for the R script
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/rnaseq/counts"
	"github.com/grailbio/rnaseq/de"
	"github.com/grailbio/rnaseq/de/rscript"
	"github.com/grailbio/rnaseq/samples"
)

//go:embed edger.R
var script string

// Name identifies the engine.
const Name = "edger"

// Opts configures the engine.
type Opts struct {
	RscriptPath string `yaml:"rscript"`
	TempDir     string `yaml:"tmp_dir"`
	// Alpha is the FDR threshold applied to this engine's results.
	Alpha float64 `yaml:"alpha"`
}

// DefaultOpts are the conventional edgeR settings.
var DefaultOpts = Opts{Alpha: 0.05}

// Validate checks the option values.
func (o Opts) Validate() error {
	if !(o.Alpha > 0 && o.Alpha < 1) {
		return errors.E(errors.Invalid, fmt.Sprintf("edger: alpha %v not in (0, 1)", o.Alpha))
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

// Fit implements de.Engine. The design matrix handed to edgeR is the one
// validated by de.ValidateRequest.
func (e *Engine) Fit(ctx context.Context, req *de.Request) (*de.Result, error) {
	model, err := de.ValidateRequest(req)
	if err != nil {
		return nil, de.WithEngine(Name, err)
	}
	coefName := req.Contrast.CoefficientName()
	coef := model.Column(coefName)

	r := &rscript.Runner{Engine: Name, Path: e.opts.RscriptPath, TempDir: e.opts.TempDir}
	dir, cleanup, err := r.Workdir(req.Study)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var (
		countsPath = filepath.Join(dir, "counts.tsv")
		groupPath  = filepath.Join(dir, "group.tsv")
		designPath = filepath.Join(dir, "design.tsv")
		outPath    = filepath.Join(dir, "results.tsv")
	)
	if err := rscript.WriteFile(ctx, countsPath, func(w io.Writer) error {
		return counts.EncodeMatrix(w, req.Counts)
	}); err != nil {
		return nil, err
	}
	if err := rscript.WriteFile(ctx, groupPath, func(w io.Writer) error {
		return writeGroups(w, req.Samples, req.Contrast.Factor)
	}); err != nil {
		return nil, err
	}
	if err := rscript.WriteFile(ctx, designPath, func(w io.Writer) error {
		return writeDesign(w, req.Samples.IDs(), model)
	}); err != nil {
		return nil, err
	}
	log.Printf("edger: study %s: fitting %d coefficients on %d genes x %d samples, testing %s",
		req.Study, len(model.Columns), req.Counts.NGenes(), req.Counts.NSamples(), coefName)
	if err := r.Run(ctx, dir, "edger.R", script, map[string]string{
		"counts":    countsPath,
		"group":     groupPath,
		"design":    designPath,
		"coef":      strconv.Itoa(coef + 1),
		"coef_name": coefName,
		"out":       outPath,
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
	res.Coefficient = coefName
	if err := res.Check(req.Counts.Genes); err != nil {
		return nil, err
	}
	return res, nil
}

func writeGroups(w io.Writer, t samples.Table, factor string) error {
	col, err := t.Column(factor)
	if err != nil {
		return err
	}
	tw := tsv.NewWriter(w)
	tw.WriteString("sample_id")
	tw.WriteString("group")
	if err := tw.EndLine(); err != nil {
		return err
	}
	for i, s := range t.Samples {
		tw.WriteString(s.ID)
		tw.WriteString(col[i])
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// writeDesign writes the model matrix with one row per sample.
func writeDesign(w io.Writer, ids []string, model *de.Model) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("sample_id")
	for _, c := range model.Columns {
		tw.WriteString(c)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for i, id := range ids {
		tw.WriteString(id)
		for j := range model.Columns {
			tw.WriteString(strconv.FormatFloat(model.X.At(i, j), 'g', -1, 64))
		}
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}
