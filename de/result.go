package de

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
)

// Row is the result for one gene.
type Row struct {
	GeneID string
	// BaseMean is DESeq2's mean of normalized counts, or edgeR's average log
	// CPM.
	BaseMean float64
	LogFC    float64
	// LogFCSE is NaN for engines that do not estimate it.
	LogFCSE float64
	Stat    float64
	PValue  float64
	PAdj    float64
	// Filtered marks a gene with no adjusted p-value: removed by independent
	// filtering, flagged as an outlier, or all-zero. A filtered gene is never
	// significant.
	Filtered bool
}

// Result is an engine's per-gene table for one study and contrast.
type Result struct {
	Engine      string
	Study       string
	Contrast    Contrast
	Coefficient string
	Rows        []Row
}

// Check verifies that res has exactly one row per gene and puts the rows in
// the order of genes. Rows with an undefined adjusted p-value are marked
// filtered.
func (res *Result) Check(genes []string) error {
	byID := make(map[string]Row, len(res.Rows))
	for _, r := range res.Rows {
		if _, ok := byID[r.GeneID]; ok {
			return &ModelFitError{Engine: res.Engine, Err: errors.E(errors.Integrity,
				fmt.Sprintf("gene %s reported twice", r.GeneID))}
		}
		byID[r.GeneID] = r
	}
	if len(byID) != len(genes) {
		return &ModelFitError{Engine: res.Engine, Err: errors.E(errors.Integrity,
			fmt.Sprintf("%d result rows for %d genes", len(byID), len(genes)))}
	}
	rows := make([]Row, len(genes))
	for i, g := range genes {
		r, ok := byID[g]
		if !ok {
			return &ModelFitError{Engine: res.Engine, Err: errors.E(errors.Integrity,
				fmt.Sprintf("no result for gene %s", g))}
		}
		if math.IsNaN(r.PAdj) {
			r.Filtered = true
		}
		rows[i] = r
	}
	res.Rows = rows
	return nil
}

// Significant returns the genes of res that are not filtered and whose
// adjusted p-value is strictly below alpha, ordered by adjusted p-value and
// then gene ID.
func Significant(res *Result, alpha float64) []string {
	var rows []Row
	for _, r := range res.Rows {
		if r.Filtered || math.IsNaN(r.PAdj) || r.PAdj >= alpha {
			continue
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PAdj != rows[j].PAdj {
			return rows[i].PAdj < rows[j].PAdj
		}
		return rows[i].GeneID < rows[j].GeneID
	})
	genes := make([]string, len(rows))
	for i, r := range rows {
		genes[i] = r.GeneID
	}
	return genes
}
