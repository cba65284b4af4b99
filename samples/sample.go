package samples

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/errors"
)

// Sample is one aligned-read file together with its experimental factors.
type Sample struct {
	// ID is parsed from the file name, see ParseSampleID.
	ID string
	// Path is the source BAM path.
	Path      string
	Study     string
	Condition string
	Batch     string
}

// Factors are the experimental factors attached to a sample ID.
type Factors struct {
	Study     string `tsv:"study"`
	Condition string `tsv:"condition"`
	Batch     string `tsv:"batch"`
}

// Study is a named partition of the samples, with its own condition
// vocabulary.
type Study struct {
	Name string
	// Conditions lists the condition labels allowed in this study. Empty means
	// any label is accepted.
	Conditions []string
}

func (s Study) allows(condition string) bool {
	if len(s.Conditions) == 0 {
		return true
	}
	for _, c := range s.Conditions {
		if c == condition {
			return true
		}
	}
	return false
}

// NamingOpts describes how a sample ID is embedded in a file name.
type NamingOpts struct {
	// Delimiter separates the fields of the base name.
	Delimiter string `yaml:"delimiter"`
	// Field is the 0-based index of the sample ID field.
	Field int `yaml:"field"`
}

// DefaultNamingOpts matches "<prefix>_<sampleID>_...".
var DefaultNamingOpts = NamingOpts{Delimiter: "_", Field: 1}

// ParseSampleID extracts the sample ID from the base name of path.
func ParseSampleID(path string, opts NamingOpts) (string, error) {
	base := filepath.Base(path)
	if opts.Delimiter == "" {
		return "", configErr(errors.E(errors.Invalid, "empty sample name delimiter"))
	}
	fields := strings.Split(base, opts.Delimiter)
	if opts.Field < 0 || opts.Field >= len(fields) {
		return "", configErr(errors.E(errors.Invalid,
			fmt.Sprintf("file name %s has no sample ID field %d (delimiter %q)", base, opts.Field, opts.Delimiter)))
	}
	id := fields[opts.Field]
	if opts.Field == len(fields)-1 {
		// The ID is the last field, so it still carries the extension.
		if i := strings.IndexByte(id, '.'); i >= 0 {
			id = id[:i]
		}
	}
	if id == "" {
		return "", configErr(errors.E(errors.Invalid, fmt.Sprintf("empty sample ID in %s", base)))
	}
	return id, nil
}
