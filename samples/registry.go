package samples

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// Registry maps a sample ID to its experimental factors. It is the explicit
// join between file names and hand-authored metadata: reordering the file
// listing can never relabel a sample.
type Registry map[string]Factors

// sheetRow is one line of a sample sheet.
type sheetRow struct {
	SampleID  string `tsv:"sample_id"`
	Study     string `tsv:"study"`
	Condition string `tsv:"condition"`
	Batch     string `tsv:"batch"`
}

// ReadRegistry reads a tab-separated sample sheet with the header
// "sample_id study condition batch". Lines starting with '#' are ignored.
func ReadRegistry(ctx context.Context, path string) (reg Registry, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, configErr(errors.E(err, "open sample sheet", path))
	}
	defer file.CloseAndReport(ctx, in, &err)
	reg, err = parseRegistry(in.Reader(ctx))
	if err != nil {
		return nil, configErr(errors.E(err, "sample sheet", path))
	}
	return reg, nil
}

func parseRegistry(r io.Reader) (Registry, error) {
	reader := tsv.NewReader(r)
	reader.HasHeaderRow = true
	reader.UseHeaderNames = true
	reader.Comment = '#'
	reg := Registry{}
	for {
		var row sheetRow
		if err := reader.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if row.SampleID == "" {
			return nil, errors.E(errors.Invalid, "empty sample_id")
		}
		if _, ok := reg[row.SampleID]; ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("duplicate sample_id %s", row.SampleID))
		}
		reg[row.SampleID] = Factors{Study: row.Study, Condition: row.Condition, Batch: row.Batch}
	}
	if len(reg) == 0 {
		return nil, errors.E(errors.Invalid, "no samples")
	}
	return reg, nil
}

// NewPositionalRegistry builds a Registry from hand-entered label arrays that
// are aligned with ids by position. Every array must have exactly len(ids)
// entries; a mismatch is a ConfigurationError, since guessing the alignment
// would silently mislabel samples.
func NewPositionalRegistry(ids, studies, conditions, batches []string) (Registry, error) {
	for _, labels := range []struct {
		name   string
		values []string
	}{
		{"study", studies},
		{"condition", conditions},
		{"batch", batches},
	} {
		if len(labels.values) != len(ids) {
			return nil, configErr(errors.E(errors.Invalid,
				fmt.Sprintf("%d samples but %d %s labels", len(ids), len(labels.values), labels.name)))
		}
	}
	reg := make(Registry, len(ids))
	for i, id := range ids {
		if _, ok := reg[id]; ok {
			return nil, configErr(errors.E(errors.Invalid, fmt.Sprintf("duplicate sample ID %s", id)))
		}
		reg[id] = Factors{Study: studies[i], Condition: conditions[i], Batch: batches[i]}
	}
	return reg, nil
}

// IDs returns the registered sample IDs in sorted order.
func (r Registry) IDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
