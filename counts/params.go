package counts

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Strandedness of the library, using featureCounts' -s convention.
type Strandedness int

const (
	// Unstranded counts reads on either strand.
	Unstranded Strandedness = 0
	// Stranded counts reads on the feature's strand.
	Stranded Strandedness = 1
	// ReverselyStranded counts reads on the opposite strand (dUTP, TruSeq).
	ReverselyStranded Strandedness = 2
)

// Params are the counting parameters passed to the summarization engine.
type Params struct {
	// FeatureType is the annotation feature to count over (-t).
	FeatureType string `yaml:"feature_type"`
	// AttrType is the attribute that groups features into genes (-g).
	AttrType string `yaml:"attr_type"`
	// PairedEnd counts fragments instead of reads (-p).
	PairedEnd bool `yaml:"paired_end"`
	// MinFragmentLength and MaxFragmentLength bound the template length of
	// counted fragments (-d, -D). Only used with PairedEnd.
	MinFragmentLength int `yaml:"min_fragment_length"`
	MaxFragmentLength int `yaml:"max_fragment_length"`
	// Strand is the library strandedness (-s).
	Strand Strandedness `yaml:"strand"`
	// Threads is passed to the engine for each sample (-T).
	Threads int `yaml:"threads"`
}

// DefaultParams mirrors featureCounts' own defaults.
var DefaultParams = Params{
	FeatureType:       "exon",
	AttrType:          "gene_id",
	PairedEnd:         false,
	MinFragmentLength: 50,
	MaxFragmentLength: 600,
	Strand:            Unstranded,
	Threads:           1,
}

// Validate checks p for values the engine would reject or misinterpret.
func (p Params) Validate() error {
	if p.FeatureType == "" {
		return errors.E(errors.Invalid, "counting: empty feature type")
	}
	if p.AttrType == "" {
		return errors.E(errors.Invalid, "counting: empty attribute type")
	}
	if p.Strand < Unstranded || p.Strand > ReverselyStranded {
		return errors.E(errors.Invalid, fmt.Sprintf("counting: strand must be 0, 1 or 2, not %d", p.Strand))
	}
	if p.MinFragmentLength < 0 || p.MaxFragmentLength < 0 {
		return errors.E(errors.Invalid, "counting: fragment length bounds must be non-negative")
	}
	if p.PairedEnd && p.MinFragmentLength > p.MaxFragmentLength {
		return errors.E(errors.Invalid, fmt.Sprintf("counting: min fragment length %d exceeds max %d",
			p.MinFragmentLength, p.MaxFragmentLength))
	}
	if p.Threads < 1 {
		return errors.E(errors.Invalid, "counting: threads must be positive")
	}
	return nil
}
