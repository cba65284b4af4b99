package de

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/rnaseq/samples"
	"gonum.org/v1/gonum/mat"
)

// Model is a treatment-coded design matrix: one row per sample in table order,
// an intercept column, then one column per non-reference level of each design
// factor.
type Model struct {
	X       *mat.Dense
	Columns []string
	// Reference maps each design factor to its reference level.
	Reference map[string]string
	// Levels maps each design factor to its per-sample level, in row order.
	Levels map[string][]string
}

// Column returns the index of the named coefficient, or -1.
func (m *Model) Column(name string) int {
	for i, c := range m.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// ModelMatrix builds the design matrix for the table. The contrast factor is
// releveled so that the denominator is its reference; the other factors use
// their first level in sorted order.
func ModelMatrix(table samples.Table, design Design, contrast Contrast) (*Model, error) {
	m := &Model{
		Columns:   []string{"Intercept"},
		Reference: map[string]string{},
		Levels:    map[string][]string{},
	}
	type column struct{ factor, level string }
	var cols []column
	for _, f := range design.Factors {
		per, err := table.Column(f)
		if err != nil {
			return nil, fitErr(err)
		}
		levels, _ := table.Levels(f)
		if len(levels) == 0 {
			return nil, fitErr(errors.E(errors.Invalid, fmt.Sprintf("study %s has no samples", table.Study)))
		}
		ref := levels[0]
		if f == contrast.Factor {
			ref = contrast.Denominator
		}
		m.Reference[f] = ref
		m.Levels[f] = per
		for _, l := range levels {
			if l == ref {
				continue
			}
			cols = append(cols, column{f, l})
			m.Columns = append(m.Columns, fmt.Sprintf("%s_%s_vs_%s", f, l, ref))
		}
	}
	n := len(table.Samples)
	m.X = mat.NewDense(n, len(m.Columns), nil)
	for i := 0; i < n; i++ {
		m.X.Set(i, 0, 1)
		for j, c := range cols {
			if m.Levels[c.factor][i] == c.level {
				m.X.Set(i, j+1, 1)
			}
		}
	}
	return m, nil
}

// Rank returns the numerical rank of x, computed from its singular values.
func Rank(x mat.Matrix) int {
	r, c := x.Dims()
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDNone) {
		return 0
	}
	vals := svd.Values(nil)
	if len(vals) == 0 || vals[0] == 0 {
		return 0
	}
	dim := r
	if c > dim {
		dim = c
	}
	tol := float64(dim) * vals[0] * epsilon
	rank := 0
	for _, v := range vals {
		if v > tol {
			rank++
		}
	}
	return rank
}

var epsilon = math.Nextafter(1, 2) - 1

// CheckDesign builds the model matrix and verifies that the contrast can be
// estimated from it. All failures are ModelFitErrors.
func CheckDesign(table samples.Table, design Design, contrast Contrast) (*Model, error) {
	if len(design.Factors) == 0 {
		return nil, fitErr(errors.E(errors.Invalid, "empty design"))
	}
	if !design.Has(contrast.Factor) {
		return nil, fitErr(errors.E(errors.Invalid,
			fmt.Sprintf("contrast factor %s is not in design %s", contrast.Factor, design)))
	}
	if contrast.Numerator == contrast.Denominator {
		return nil, fitErr(errors.E(errors.Invalid,
			fmt.Sprintf("contrast %s compares a level with itself", contrast)))
	}
	for _, f := range design.Factors {
		levels, err := table.Levels(f)
		if err != nil {
			return nil, fitErr(err)
		}
		if len(levels) == 0 {
			return nil, fitErr(errors.E(errors.Invalid, fmt.Sprintf("study %s has no samples", table.Study)))
		}
		if len(levels) < 2 {
			return nil, fitErr(errors.E(errors.Invalid,
				fmt.Sprintf("study %s: factor %s has a single level %q", table.Study, f, levels[0])))
		}
		for _, l := range levels {
			if err := CheckLevel(f, l); err != nil {
				return nil, fitErr(errors.E(fmt.Sprintf("study %s", table.Study), err))
			}
		}
		if f != contrast.Factor {
			continue
		}
		for _, want := range []string{contrast.Numerator, contrast.Denominator} {
			found := false
			for _, l := range levels {
				found = found || l == want
			}
			if !found {
				return nil, fitErr(errors.E(errors.Invalid,
					fmt.Sprintf("study %s: no samples with %s=%s", table.Study, f, want)))
			}
		}
	}
	m, err := ModelMatrix(table, design, contrast)
	if err != nil {
		return nil, err
	}
	n, p := m.X.Dims()
	if r := Rank(m.X); r < p {
		return nil, fitErr(errors.E(errors.Invalid,
			fmt.Sprintf("study %s: design %s is not full rank (rank %d, %d coefficients)", table.Study, design, r, p)))
	}
	if n <= p {
		return nil, fitErr(errors.E(errors.Invalid,
			fmt.Sprintf("study %s: %d samples leave no residual degrees of freedom for %d coefficients", table.Study, n, p)))
	}
	if m.Column(contrast.CoefficientName()) < 0 {
		return nil, fitErr(errors.E(errors.Invalid,
			fmt.Sprintf("coefficient %s not among %v", contrast.CoefficientName(), m.Columns)))
	}
	return m, nil
}
