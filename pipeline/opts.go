package pipeline

import (
	"context"
	"fmt"
	"io/ioutil"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/rnaseq/counts"
	"github.com/grailbio/rnaseq/de"
	"github.com/grailbio/rnaseq/de/deseq"
	"github.com/grailbio/rnaseq/de/edger"
	"github.com/grailbio/rnaseq/samples"
	"gopkg.in/yaml.v3"
)

// StudyOpts configures one study subset.
type StudyOpts struct {
	Name string `yaml:"name"`
	// Conditions is the study's condition vocabulary.
	Conditions []string `yaml:"conditions"`
	// Design is an additive formula, "~ condition" by default.
	Design string `yaml:"design"`
	// Contrast is "factor,numerator,denominator". With exactly two
	// conditions it defaults to "condition,<second>,<first>".
	Contrast string `yaml:"contrast"`
}

// PositionalOpts is an inline sample registry given as parallel lists.
type PositionalOpts struct {
	IDs        []string `yaml:"ids"`
	Studies    []string `yaml:"studies"`
	Conditions []string `yaml:"conditions"`
	Batches    []string `yaml:"batches"`
}

// Opts configures a workflow run.
type Opts struct {
	// InputDir holds the aligned read files.
	InputDir string `yaml:"input_dir"`
	// Pattern selects files in InputDir by base name.
	Pattern string             `yaml:"pattern"`
	Naming  samples.NamingOpts `yaml:"naming"`
	// Annotation is the GTF gene annotation.
	Annotation string `yaml:"annotation"`
	// SampleSheet is a TSV registry. Exactly one of SampleSheet and
	// Positional must be set.
	SampleSheet string          `yaml:"sample_sheet"`
	Positional  *PositionalOpts `yaml:"positional"`
	// OutDir receives per-study outputs. Nothing is written when empty.
	OutDir string `yaml:"out_dir"`
	// Parallelism bounds the number of studies processed at once.
	Parallelism int `yaml:"parallelism"`
	// SampleParallelism bounds the samples counted at once within a study.
	SampleParallelism int           `yaml:"sample_parallelism"`
	SkipPreflight     bool          `yaml:"skip_preflight"`
	Counting          counts.Params `yaml:"counting"`
	Studies           []StudyOpts   `yaml:"studies"`
	DESeq             deseq.Opts    `yaml:"deseq"`
	EdgeR             edger.Opts    `yaml:"edger"`
	// Rscript and FeatureCounts are executable paths; empty means $PATH.
	Rscript       string `yaml:"rscript"`
	FeatureCounts string `yaml:"featurecounts"`
	TempDir       string `yaml:"tmp_dir"`
}

// DefaultOpts holds the defaults that LoadOpts starts from.
var DefaultOpts = Opts{
	Pattern:           samples.DefaultPattern,
	Naming:            samples.DefaultNamingOpts,
	Parallelism:       2,
	SampleParallelism: 0,
	Counting:          counts.DefaultParams,
	DESeq:             deseq.DefaultOpts,
	EdgeR:             edger.DefaultOpts,
}

// LoadOpts reads a YAML config. Keys absent from the file keep their
// DefaultOpts values.
func LoadOpts(ctx context.Context, path string) (opts Opts, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return Opts{}, &samples.ConfigurationError{Err: err}
	}
	defer file.CloseAndReport(ctx, in, &err)
	data, err := ioutil.ReadAll(in.Reader(ctx))
	if err != nil {
		return Opts{}, &samples.ConfigurationError{Err: errors.E(err, path)}
	}
	opts = DefaultOpts
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Opts{}, &samples.ConfigurationError{Err: errors.E(errors.Invalid, path, err)}
	}
	return opts, nil
}

// plan is the parsed model of one study.
type plan struct {
	design   de.Design
	contrast de.Contrast
}

func (s StudyOpts) plan() (plan, error) {
	formula := s.Design
	if formula == "" {
		formula = "~ condition"
	}
	design, err := de.ParseFormula(formula)
	if err != nil {
		return plan{}, err
	}
	spec := s.Contrast
	if spec == "" {
		if len(s.Conditions) != 2 {
			return plan{}, errors.E(errors.Invalid,
				fmt.Sprintf("study %s: contrast is required unless exactly two conditions are listed", s.Name))
		}
		spec = fmt.Sprintf("condition,%s,%s", s.Conditions[1], s.Conditions[0])
	}
	contrast, err := de.ParseContrast(spec)
	if err != nil {
		return plan{}, err
	}
	if !design.Has(contrast.Factor) {
		return plan{}, errors.E(errors.Invalid,
			fmt.Sprintf("study %s: contrast factor %s is not in design %s", s.Name, contrast.Factor, design))
	}
	return plan{design, contrast}, nil
}

// Validate checks opts without touching the input files. Failures are
// samples.ConfigurationErrors.
func (o Opts) Validate() error {
	if _, err := o.plans(); err != nil {
		return err
	}
	return nil
}

func (o Opts) plans() (map[string]plan, error) {
	bad := func(format string, args ...interface{}) error {
		return &samples.ConfigurationError{Err: errors.E(errors.Invalid, fmt.Sprintf(format, args...))}
	}
	switch {
	case o.InputDir == "":
		return nil, bad("input_dir is required")
	case o.Annotation == "":
		return nil, bad("annotation is required")
	case (o.SampleSheet == "") == (o.Positional == nil):
		return nil, bad("exactly one of sample_sheet and positional is required")
	case len(o.Studies) == 0:
		return nil, bad("no studies configured")
	case o.Parallelism < 0 || o.SampleParallelism < 0:
		return nil, bad("parallelism must not be negative")
	}
	for _, err := range []error{o.Counting.Validate(), o.DESeq.Validate(), o.EdgeR.Validate()} {
		if err != nil {
			return nil, &samples.ConfigurationError{Err: err}
		}
	}
	plans := map[string]plan{}
	for _, s := range o.Studies {
		if s.Name == "" {
			return nil, bad("study without a name")
		}
		if _, ok := plans[s.Name]; ok {
			return nil, bad("study %s configured twice", s.Name)
		}
		p, err := s.plan()
		if err != nil {
			return nil, &samples.ConfigurationError{Err: err}
		}
		plans[s.Name] = p
	}
	return plans, nil
}

func (o Opts) studies() []samples.Study {
	out := make([]samples.Study, len(o.Studies))
	for i, s := range o.Studies {
		out[i] = samples.Study{Name: s.Name, Conditions: s.Conditions}
	}
	return out
}

func (o Opts) registry(ctx context.Context) (samples.Registry, error) {
	if o.Positional != nil {
		p := o.Positional
		return samples.NewPositionalRegistry(p.IDs, p.Studies, p.Conditions, p.Batches)
	}
	return samples.ReadRegistry(ctx, o.SampleSheet)
}

// Tables discovers the input files and assigns them to study subsets. It
// reads no alignment data. A sample whose level of a design factor cannot
// name a model coefficient is a configuration error.
func (o Opts) Tables(ctx context.Context) ([]samples.Table, error) {
	plans, err := o.plans()
	if err != nil {
		return nil, err
	}
	paths, err := samples.Discover(ctx, o.InputDir, o.Pattern)
	if err != nil {
		return nil, err
	}
	reg, err := o.registry(ctx)
	if err != nil {
		return nil, err
	}
	tables, err := samples.Assign(paths, reg, o.studies(), o.Naming)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		for _, f := range plans[t.Study].design.Factors {
			col, err := t.Column(f)
			if err != nil {
				return nil, &samples.ConfigurationError{Err: err}
			}
			for i, level := range col {
				if err := de.CheckLevel(f, level); err != nil {
					return nil, &samples.ConfigurationError{Err: errors.E(
						fmt.Sprintf("study %s, sample %s", t.Study, t.Samples[i].ID), err)}
				}
			}
		}
	}
	return tables, nil
}
