package counts

import (
	"encoding/binary"
	"fmt"

	farm "github.com/dgryski/go-farm"
)

// Matrix is a dense gene × sample count matrix.
type Matrix struct {
	// Genes are the row labels.
	Genes []string
	// Samples are the column labels, in metadata-table order.
	Samples []string
	// counts is row-major: counts[g*len(Samples)+s].
	counts []int64
}

// NewMatrix creates an all-zero matrix.
func NewMatrix(genes, samples []string) *Matrix {
	return &Matrix{
		Genes:   append([]string(nil), genes...),
		Samples: append([]string(nil), samples...),
		counts:  make([]int64, len(genes)*len(samples)),
	}
}

// NGenes is the number of rows.
func (m *Matrix) NGenes() int { return len(m.Genes) }

// NSamples is the number of columns.
func (m *Matrix) NSamples() int { return len(m.Samples) }

// At returns the count of gene g in sample s.
func (m *Matrix) At(g, s int) int64 { return m.counts[g*len(m.Samples)+s] }

// Set sets the count of gene g in sample s.
func (m *Matrix) Set(g, s int, v int64) { m.counts[g*len(m.Samples)+s] = v }

// Row returns the counts of gene g. The slice aliases the matrix.
func (m *Matrix) Row(g int) []int64 {
	n := len(m.Samples)
	return m.counts[g*n : (g+1)*n]
}

// Column returns a copy of the counts of sample s.
func (m *Matrix) Column(s int) []int64 {
	col := make([]int64, len(m.Genes))
	for g := range m.Genes {
		col[g] = m.At(g, s)
	}
	return col
}

// RowTotal returns the total count of gene g across samples.
func (m *Matrix) RowTotal(g int) int64 {
	var total int64
	for _, v := range m.Row(g) {
		total += v
	}
	return total
}

// LibrarySizes returns the column totals.
func (m *Matrix) LibrarySizes() []int64 {
	sizes := make([]int64, len(m.Samples))
	for g := range m.Genes {
		for s, v := range m.Row(g) {
			sizes[s] += v
		}
	}
	return sizes
}

// FilterZero returns a new matrix without the genes whose total count is zero.
// Filtering an already-filtered matrix yields an identical matrix.
func (m *Matrix) FilterZero() *Matrix {
	var keep []int
	for g := range m.Genes {
		if m.RowTotal(g) != 0 {
			keep = append(keep, g)
		}
	}
	out := &Matrix{
		Genes:   make([]string, len(keep)),
		Samples: append([]string(nil), m.Samples...),
		counts:  make([]int64, 0, len(keep)*len(m.Samples)),
	}
	for i, g := range keep {
		out.Genes[i] = m.Genes[g]
		out.counts = append(out.counts, m.Row(g)...)
	}
	return out
}

// Fingerprint hashes the labels and counts. Two matrices with the same
// fingerprint fed two engines the same data.
func (m *Matrix) Fingerprint() uint64 {
	buf := make([]byte, 0, 8*len(m.counts)+16*(len(m.Genes)+len(m.Samples)))
	for _, labels := range [][]string{m.Genes, m.Samples} {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(labels)))
		for _, l := range labels {
			buf = append(buf, l...)
			buf = append(buf, 0)
		}
	}
	for _, v := range m.counts {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
	}
	return farm.Hash64(buf)
}

func (m *Matrix) String() string {
	return fmt.Sprintf("counts.Matrix{%d genes × %d samples, fingerprint %016x}",
		len(m.Genes), len(m.Samples), m.Fingerprint())
}
