package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/rnaseq/concordance"
	"github.com/grailbio/rnaseq/counts"
	"github.com/grailbio/rnaseq/de"
	"github.com/grailbio/rnaseq/samples"
	"github.com/pkg/errors"
)

// WriteOutputs writes a completed subset under <dir>/<study>/. If any file
// fails, the files already written are removed, so a study directory holds
// either a complete set of outputs or none.
func WriteOutputs(ctx context.Context, dir string, r *SubsetReport) (err error) {
	if r.Err != nil {
		return errors.Errorf("study %s failed; nothing to write", r.Study)
	}
	out := file.Join(dir, r.Study)
	local := false
	if scheme, _, perr := file.ParsePath(out); perr == nil && scheme == "" {
		local = true
		if err := os.MkdirAll(out, 0755); err != nil {
			return err
		}
	}
	var written []string
	defer func() {
		if err == nil {
			return
		}
		for _, path := range written {
			if rerr := file.Remove(ctx, path); rerr != nil {
				log.Error.Printf("study %s: remove partial output %s: %v", r.Study, path, rerr)
			}
		}
		if local {
			// Only removed when empty.
			_ = os.Remove(out)
		}
	}()
	matrixPath := file.Join(out, "counts.tsv.gz")
	if err := counts.WriteMatrix(ctx, matrixPath, r.Counts.Matrix); err != nil {
		return errors.Wrap(err, "count matrix")
	}
	written = append(written, matrixPath)
	for _, f := range []struct {
		name  string
		write func(io.Writer) error
	}{
		{"counts.fingerprint", func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "%016x\n", r.Fingerprint)
			return err
		}},
		{"metadata.tsv", func(w io.Writer) error { return samples.WriteTable(w, r.Table) }},
		{"count_stats.tsv", func(w io.Writer) error { return counts.WriteStats(w, r.Table.IDs(), r.Counts.Stats) }},
		{"deseq.tsv", func(w io.Writer) error { return de.WriteResult(w, r.ModelBased) }},
		{"edger.tsv", func(w io.Writer) error { return de.WriteResult(w, r.Alternative) }},
		{"deseq.significant.txt", func(w io.Writer) error { return writeLines(w, r.SignificantA) }},
		{"edger.significant.txt", func(w io.Writer) error { return writeLines(w, r.SignificantB) }},
		{"concordance.tsv", func(w io.Writer) error { return concordance.WriteReport(w, r.Concordance) }},
	} {
		path := file.Join(out, f.name)
		if err := writeFile(ctx, path, f.write); err != nil {
			return errors.Wrap(err, f.name)
		}
		written = append(written, path)
	}
	return nil
}

func writeFile(ctx context.Context, path string, write func(io.Writer) error) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, f, &err)
	return write(f.Writer(ctx))
}

func writeLines(w io.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
