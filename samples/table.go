package samples

import (
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
)

// Table is the metadata of one study subset. Rows keep the discovery order of
// the underlying files.
type Table struct {
	Study   string
	Samples []Sample
}

// IDs returns the sample IDs in row order.
func (t Table) IDs() []string {
	ids := make([]string, len(t.Samples))
	for i, s := range t.Samples {
		ids[i] = s.ID
	}
	return ids
}

// Column returns the values of factor ("condition" or "batch") in row order.
func (t Table) Column(factor string) ([]string, error) {
	col := make([]string, len(t.Samples))
	for i, s := range t.Samples {
		switch factor {
		case "condition":
			col[i] = s.Condition
		case "batch":
			col[i] = s.Batch
		default:
			return nil, errors.E(errors.Invalid, fmt.Sprintf("unknown factor %q", factor))
		}
	}
	return col, nil
}

// Levels returns the distinct values of factor, sorted.
func (t Table) Levels(factor string) ([]string, error) {
	col, err := t.Column(factor)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var levels []string
	for _, v := range col {
		if !seen[v] {
			seen[v] = true
			levels = append(levels, v)
		}
	}
	sort.Strings(levels)
	return levels, nil
}

// Assign joins the discovered paths against reg and splits the samples into
// one Table per study, in the order of studies. It is the last point where
// metadata problems are detected; every failure is a ConfigurationError.
func Assign(paths []string, reg Registry, studies []Study, opts NamingOpts) ([]Table, error) {
	byName := map[string]int{}
	tables := make([]Table, len(studies))
	for i, st := range studies {
		if _, ok := byName[st.Name]; ok {
			return nil, configErr(errors.E(errors.Invalid, fmt.Sprintf("duplicate study %s", st.Name)))
		}
		byName[st.Name] = i
		tables[i].Study = st.Name
	}
	seen := map[string]string{}
	for _, path := range paths {
		id, err := ParseSampleID(path, opts)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[id]; ok {
			return nil, configErr(errors.E(errors.Invalid,
				fmt.Sprintf("files %s and %s both map to sample %s", prev, path, id)))
		}
		seen[id] = path
		f, ok := reg[id]
		if !ok {
			return nil, configErr(errors.E(errors.NotExist,
				fmt.Sprintf("sample %s (%s) is not in the sample sheet", id, path)))
		}
		i, ok := byName[f.Study]
		if !ok {
			return nil, configErr(errors.E(errors.Invalid,
				fmt.Sprintf("sample %s: unknown study %q", id, f.Study)))
		}
		if !studies[i].allows(f.Condition) {
			return nil, configErr(errors.E(errors.Invalid,
				fmt.Sprintf("sample %s: condition %q is not in the vocabulary of study %s %v",
					id, f.Condition, f.Study, studies[i].Conditions)))
		}
		tables[i].Samples = append(tables[i].Samples, Sample{
			ID:        id,
			Path:      path,
			Study:     f.Study,
			Condition: f.Condition,
			Batch:     f.Batch,
		})
	}
	if len(seen) != len(reg) {
		var missing []string
		for _, id := range reg.IDs() {
			if _, ok := seen[id]; !ok {
				missing = append(missing, id)
			}
		}
		return nil, configErr(errors.E(errors.NotExist,
			fmt.Sprintf("%d files but %d sample sheet entries; no file for %v", len(seen), len(reg), missing)))
	}
	for _, t := range tables {
		if len(t.Samples) == 0 {
			return nil, configErr(errors.E(errors.Invalid, fmt.Sprintf("study %s has no samples", t.Study)))
		}
	}
	return tables, nil
}

// WriteTable writes t as a TSV with the header
// "sample_id path study condition batch".
func WriteTable(w io.Writer, t Table) error {
	tw := tsv.NewWriter(w)
	for _, h := range []string{"sample_id", "path", "study", "condition", "batch"} {
		tw.WriteString(h)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, s := range t.Samples {
		tw.WriteString(s.ID)
		tw.WriteString(s.Path)
		tw.WriteString(s.Study)
		tw.WriteString(s.Condition)
		tw.WriteString(s.Batch)
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}
