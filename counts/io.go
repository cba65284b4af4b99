package counts

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/klauspost/compress/gzip"
)

// WriteMatrix writes m as a TSV with a "gene_id" column followed by one column
// per sample. Paths ending in ".gz" are gzip-compressed.
func WriteMatrix(ctx context.Context, path string, m *Matrix) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	var w io.Writer = out.Writer(ctx)
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(w)
		defer func() {
			if e := gz.Close(); e != nil && err == nil {
				err = e
			}
		}()
		w = gz
	}
	return EncodeMatrix(w, m)
}

// EncodeMatrix writes m to w in the format of WriteMatrix, uncompressed.
func EncodeMatrix(w io.Writer, m *Matrix) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("gene_id")
	for _, s := range m.Samples {
		tw.WriteString(s)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for g, gene := range m.Genes {
		tw.WriteString(gene)
		for _, v := range m.Row(g) {
			tw.WriteString(strconv.FormatInt(v, 10))
		}
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// ReadMatrix reads a matrix written by WriteMatrix. Compressed files are
// detected from the path.
func ReadMatrix(ctx context.Context, path string) (m *Matrix, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	var r io.Reader = in.Reader(ctx)
	if u, ok := compress.NewReaderPath(r, in.Name()); ok {
		defer u.Close() // nolint: errcheck
		r = u
	}
	if m, err = DecodeMatrix(r); err != nil {
		return nil, errors.E(err, path)
	}
	return m, nil
}

// DecodeMatrix parses the format written by EncodeMatrix.
func DecodeMatrix(r io.Reader) (*Matrix, error) {
	reader := tsv.NewReader(r)
	header, err := reader.Reader.Read()
	if err != nil {
		return nil, errors.E(errors.Invalid, "read header", err)
	}
	if len(header) < 2 || header[0] != "gene_id" {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("bad count matrix header %q", header))
	}
	// The reader reuses its record slice.
	m := &Matrix{Samples: append([]string(nil), header[1:]...)}
	width := len(header)
	for {
		rec, err := reader.Reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(errors.Invalid, err)
		}
		if len(rec) != width {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("gene %s: %d columns, want %d", rec[0], len(rec), width))
		}
		m.Genes = append(m.Genes, rec[0])
		for _, f := range rec[1:] {
			v, err := strconv.ParseInt(f, 10, 64)
			if err != nil || v < 0 {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("gene %s: bad count %q", rec[0], f))
			}
			m.counts = append(m.counts, v)
		}
	}
	return m, nil
}

// WriteStats writes the per-sample engine statistics as a TSV with one row per
// statistic and one column per sample, in the order of ids.
func WriteStats(w io.Writer, ids []string, stats map[string][]Stat) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("status")
	for _, id := range ids {
		tw.WriteString(id)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return tw.Flush()
	}
	for i, st := range stats[ids[0]] {
		tw.WriteString(st.Name)
		for _, id := range ids {
			row := stats[id]
			if i < len(row) && row[i].Name == st.Name {
				tw.WriteString(strconv.FormatInt(row[i].Value, 10))
			} else {
				tw.WriteString("NA")
			}
		}
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}
