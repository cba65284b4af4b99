// Package concordance compares the significant gene sets of two
// differential-expression engines run on the same study.
package concordance

import (
	"io"
	"math"
	"sort"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/rnaseq/de"
	"gonum.org/v1/gonum/stat"
)

// Membership values written by WriteReport.
const (
	InBoth = "both"
	OnlyA  = "a_only"
	OnlyB  = "b_only"
)

// Report is the overlap of two significant gene sets.
type Report struct {
	Study string
	// Both holds genes significant under both engines. Both, OnlyA and OnlyB
	// are sorted and disjoint.
	Both  []string
	OnlyA []string
	OnlyB []string
	// Shared counts genes tested by both engines with a finite log fold
	// change. Set by Correlate.
	Shared int
	// LogFCCorrelation is the Pearson correlation of the engines' log fold
	// changes over the shared genes, or NaN when fewer than two are shared.
	LogFCCorrelation float64
}

func set(genes []string) map[string]bool {
	s := make(map[string]bool, len(genes))
	for _, g := range genes {
		s[g] = true
	}
	return s
}

func sorted(s map[string]bool) []string {
	out := make([]string, 0, len(s))
	for g := range s {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Compare partitions the union of a and b. Duplicates in either input are
// ignored. Compare(study, a, b).Both equals Compare(study, b, a).Both.
func Compare(study string, a, b []string) *Report {
	sa, sb := set(a), set(b)
	both, onlyA, onlyB := map[string]bool{}, map[string]bool{}, map[string]bool{}
	for g := range sa {
		if sb[g] {
			both[g] = true
		} else {
			onlyA[g] = true
		}
	}
	for g := range sb {
		if !sa[g] {
			onlyB[g] = true
		}
	}
	return &Report{
		Study:            study,
		Both:             sorted(both),
		OnlyA:            sorted(onlyA),
		OnlyB:            sorted(onlyB),
		LogFCCorrelation: math.NaN(),
	}
}

// Correlate fills r.Shared and r.LogFCCorrelation from the engines' full
// result tables.
func Correlate(r *Report, ra, rb *de.Result) {
	fcB := make(map[string]float64, len(rb.Rows))
	for _, row := range rb.Rows {
		if isFinite(row.LogFC) {
			fcB[row.GeneID] = row.LogFC
		}
	}
	var xs, ys []float64
	for _, row := range ra.Rows {
		y, ok := fcB[row.GeneID]
		if !ok || !isFinite(row.LogFC) {
			continue
		}
		xs = append(xs, row.LogFC)
		ys = append(ys, y)
	}
	r.Shared = len(xs)
	r.LogFCCorrelation = math.NaN()
	if len(xs) >= 2 {
		r.LogFCCorrelation = stat.Correlation(xs, ys, nil)
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// WriteReport writes one row per gene in the union with its membership.
func WriteReport(w io.Writer, r *Report) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("gene_id")
	tw.WriteString("membership")
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, part := range []struct {
		label string
		genes []string
	}{{InBoth, r.Both}, {OnlyA, r.OnlyA}, {OnlyB, r.OnlyB}} {
		for _, g := range part.genes {
			tw.WriteString(g)
			tw.WriteString(part.label)
			if err := tw.EndLine(); err != nil {
				return err
			}
		}
	}
	return tw.Flush()
}
