package de

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

var resultColumns = []string{"gene_id", "base_mean", "log_fc", "log_fc_se", "stat", "pvalue", "padj", "filtered"}

// WriteResult writes res as a TSV with one row per gene. Undefined values are
// written as NA.
func WriteResult(w io.Writer, res *Result) error {
	tw := tsv.NewWriter(w)
	for _, c := range resultColumns {
		tw.WriteString(c)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, r := range res.Rows {
		tw.WriteString(r.GeneID)
		for _, v := range []float64{r.BaseMean, r.LogFC, r.LogFCSE, r.Stat, r.PValue, r.PAdj} {
			tw.WriteString(formatFloat(v))
		}
		tw.WriteString(strconv.FormatBool(r.Filtered))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(s string) (float64, error) {
	switch s {
	case "NA", "NaN", "":
		return math.NaN(), nil
	case "Inf":
		return math.Inf(1), nil
	case "-Inf":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(s, 64)
}

// ReadResult reads a result TSV from path.
func ReadResult(ctx context.Context, path string) (res *Result, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	if res, err = DecodeResult(in.Reader(ctx)); err != nil {
		return nil, errors.E(err, path)
	}
	return res, nil
}

// DecodeResult parses a result table. Columns are matched by header name;
// gene_id, log_fc, pvalue and padj are required, and missing optional columns
// read as NA. The engines' R scripts emit this format without the filtered
// column, in which case it is derived from padj.
func DecodeResult(r io.Reader) (*Result, error) {
	reader := tsv.NewReader(r)
	header, err := reader.Reader.Read()
	if err != nil {
		return nil, errors.E(errors.Invalid, "read header", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[h] = i
	}
	for _, req := range []string{"gene_id", "log_fc", "pvalue", "padj"} {
		if _, ok := col[req]; !ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("result header %q lacks %s", header, req))
		}
	}
	res := &Result{}
	for {
		rec, err := reader.Reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(errors.Invalid, err)
		}
		if len(rec) != len(header) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%d columns, want %d", len(rec), len(header)))
		}
		row := Row{GeneID: rec[col["gene_id"]]}
		for name, dst := range map[string]*float64{
			"base_mean": &row.BaseMean,
			"log_fc":    &row.LogFC,
			"log_fc_se": &row.LogFCSE,
			"stat":      &row.Stat,
			"pvalue":    &row.PValue,
			"padj":      &row.PAdj,
		} {
			i, ok := col[name]
			if !ok {
				*dst = math.NaN()
				continue
			}
			if *dst, err = parseFloat(rec[i]); err != nil {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("gene %s: bad %s %q", row.GeneID, name, rec[i]))
			}
		}
		if i, ok := col["filtered"]; ok {
			if row.Filtered, err = strconv.ParseBool(rec[i]); err != nil {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("gene %s: bad filtered %q", row.GeneID, rec[i]))
			}
		}
		row.Filtered = row.Filtered || math.IsNaN(row.PAdj)
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}
