package counts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
)

// FeatureCounts runs Subread's featureCounts (>= 2.0.2) once per sample.
type FeatureCounts struct {
	// Path is the featureCounts executable. Defaults to "featureCounts" on
	// $PATH.
	Path string
	// TempDir holds the per-sample output tables. Defaults to os.TempDir().
	TempDir string
}

// featureCountsRow is one row of the counts table written by -o.
type featureCountsRow struct {
	GeneID string
	Chr    string
	Start  string
	End    string
	Strand string
	Length int64
	Count  int64
}

// featureCountsSummaryRow is one row of the .summary table.
type featureCountsSummaryRow struct {
	Status string
	Count  int64
}

func (f *FeatureCounts) args(req SummarizeRequest, out string) []string {
	p := req.Params
	args := []string{
		"-a", req.AnnotationPath,
		"-o", out,
		"-t", p.FeatureType,
		"-g", p.AttrType,
		"-s", strconv.Itoa(int(p.Strand)),
		"-T", strconv.Itoa(p.Threads),
	}
	if p.PairedEnd {
		args = append(args,
			"-p", "--countReadPairs",
			"-P",
			"-d", strconv.Itoa(p.MinFragmentLength),
			"-D", strconv.Itoa(p.MaxFragmentLength))
	}
	return append(args, req.BAMPath)
}

// Summarize implements Summarizer.
func (f *FeatureCounts) Summarize(ctx context.Context, req SummarizeRequest) (*SampleCounts, error) {
	bin := f.Path
	if bin == "" {
		bin = "featureCounts"
	}
	dir, err := ioutil.TempDir(f.TempDir, "featurecounts-"+req.SampleID+"-")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Error.Printf("featurecounts: remove %s: %v", dir, err)
		}
	}()
	out := filepath.Join(dir, "counts.tsv")
	cmd := exec.CommandContext(ctx, bin, f.args(req, out)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr
	log.Debug.Printf("sample %s: %s %s", req.SampleID, bin, strings.Join(cmd.Args[1:], " "))
	if err := cmd.Run(); err != nil {
		return nil, errors.E(err, fmt.Sprintf("featureCounts failed for %s: %s", req.BAMPath, tail(stderr.String(), 20)))
	}
	log.Debug.Printf("sample %s: featureCounts output:\n%s", req.SampleID, stderr.String())

	sc := &SampleCounts{SampleID: req.SampleID}
	if err := readTable(ctx, out, func(r io.Reader) error {
		return parseFeatureCounts(r, sc)
	}); err != nil {
		return nil, err
	}
	if err := readTable(ctx, out+".summary", func(r io.Reader) error {
		return parseFeatureCountsSummary(r, sc)
	}); err != nil {
		return nil, err
	}
	return sc, nil
}

func readTable(ctx context.Context, path string, parse func(io.Reader) error) (err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, in, &err)
	if err = parse(in.Reader(ctx)); err != nil {
		return errors.E(err, path)
	}
	return nil
}

func parseFeatureCounts(r io.Reader, sc *SampleCounts) error {
	reader := tsv.NewReader(r)
	reader.Comment = '#'
	reader.HasHeaderRow = true
	for {
		var row featureCountsRow
		if err := reader.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		if row.Count < 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("negative count %d for %s", row.Count, row.GeneID))
		}
		sc.Genes = append(sc.Genes, row.GeneID)
		sc.Counts = append(sc.Counts, row.Count)
	}
	if len(sc.Genes) == 0 {
		return errors.E(errors.Invalid, "no genes in featureCounts output")
	}
	return nil
}

func parseFeatureCountsSummary(r io.Reader, sc *SampleCounts) error {
	reader := tsv.NewReader(r)
	reader.HasHeaderRow = true
	for {
		var row featureCountsSummaryRow
		if err := reader.Read(&row); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		sc.Stats = append(sc.Stats, Stat{Name: row.Status, Value: row.Count})
	}
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
