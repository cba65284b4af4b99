package counts

import (
	"context"
	"fmt"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grailbio/rnaseq/samples"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGTF = `chr1	test	exon	100	200	.	+	.	gene_id "G1"; gene_name "ONE";
chr1	test	exon	300	400	.	+	.	gene_id "G2"; gene_name "TWO";
chr2	test	exon	100	200	.	-	.	gene_id "G3"; gene_name "THREE";
chr2	test	exon	500	600	.	-	.	gene_id "G4"; gene_name "FOUR";
`

var testGenes = []string{"G1", "G2", "G3", "G4"}

// fakeEngine returns counts derived from the sample ID, after a random delay so
// that samples finish out of order.
type fakeEngine struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	counts map[string][]int64
	fail   string
	genes  map[string][]string
}

func (f *fakeEngine) Summarize(ctx context.Context, req SummarizeRequest) (*SampleCounts, error) {
	f.mu.Lock()
	delay := time.Duration(f.rnd.Intn(5)) * time.Millisecond
	f.mu.Unlock()
	time.Sleep(delay)
	if req.SampleID == f.fail {
		return nil, fmt.Errorf("cannot read %s", req.BAMPath)
	}
	genes := testGenes
	if g, ok := f.genes[req.SampleID]; ok {
		genes = g
	}
	return &SampleCounts{
		SampleID: req.SampleID,
		Genes:    genes,
		Counts:   f.counts[req.SampleID],
		Stats:    []Stat{{"Assigned", 10}, {"Unassigned_NoFeatures", 2}},
	}, nil
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		rnd: rand.New(rand.NewSource(1)),
		counts: map[string][]int64{
			"A": {1, 0, 5, 0},
			"B": {2, 0, 6, 0},
			"C": {3, 0, 7, 1},
			"D": {4, 0, 8, 0},
		},
	}
}

func testTable() samples.Table {
	t := samples.Table{Study: "toy"}
	for i, id := range []string{"A", "B", "C", "D"} {
		t.Samples = append(t.Samples, samples.Sample{
			ID:        id,
			Path:      "/data/run_" + id + "_x.bam",
			Study:     "toy",
			Condition: []string{"ctl", "trt"}[i%2],
			Batch:     "1",
		})
	}
	return t
}

func writeGTF(t *testing.T, dir string) string {
	path := filepath.Join(dir, "genes.gtf")
	require.NoError(t, ioutil.WriteFile(path, []byte(testGTF), 0644))
	return path
}

func isCountingError(err error) bool {
	var ce *CountingError
	return errors.As(err, &ce)
}

func TestMatrixFilterZero(t *testing.T) {
	m := NewMatrix([]string{"G1", "G2", "G3"}, []string{"A", "B"})
	m.Set(0, 1, 3)
	m.Set(2, 0, 1)
	f := m.FilterZero()
	expect.EQ(t, f.Genes, []string{"G1", "G3"})
	expect.EQ(t, f.Samples, []string{"A", "B"})
	expect.EQ(t, f.Row(0), []int64{0, 3})
	expect.EQ(t, f.Column(0), []int64{0, 1})
	expect.EQ(t, f.LibrarySizes(), []int64{1, 3})

	// Idempotent.
	ff := f.FilterZero()
	expect.EQ(t, ff.Genes, f.Genes)
	expect.EQ(t, ff.Fingerprint(), f.Fingerprint())
	// The original is untouched.
	expect.EQ(t, m.NGenes(), 3)
	assert.NotEqual(t, m.Fingerprint(), f.Fingerprint())
}

func TestMatrixFingerprint(t *testing.T) {
	a := NewMatrix([]string{"G1", "G2"}, []string{"A", "B"})
	b := NewMatrix([]string{"G1", "G2"}, []string{"B", "A"})
	expect.True(t, a.Fingerprint() != b.Fingerprint())
	c := NewMatrix([]string{"G1", "G2"}, []string{"A", "B"})
	expect.EQ(t, a.Fingerprint(), c.Fingerprint())
	c.Set(1, 1, 1)
	expect.True(t, a.Fingerprint() != c.Fingerprint())
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams.Validate())
	for _, mod := range []func(p *Params){
		func(p *Params) { p.FeatureType = "" },
		func(p *Params) { p.AttrType = "" },
		func(p *Params) { p.Strand = 3 },
		func(p *Params) { p.MinFragmentLength = -1 },
		func(p *Params) { p.PairedEnd = true; p.MinFragmentLength = 700 },
		func(p *Params) { p.Threads = 0 },
	} {
		p := DefaultParams
		mod(&p)
		assert.Error(t, p.Validate(), "%+v", p)
	}
}

func TestBuild(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	gtf := writeGTF(t, tmpdir)
	ctx := context.Background()

	table := testTable()
	res, err := Build(ctx, table, gtf, DefaultParams, newFakeEngine(), BuildOpts{Parallelism: 4, SkipPreflight: true})
	require.NoError(t, err)
	expect.EQ(t, res.Unfiltered.Genes, testGenes)
	expect.EQ(t, res.Matrix.Genes, []string{"G1", "G3", "G4"})
	expect.EQ(t, res.Matrix.Samples, table.IDs())
	expect.EQ(t, res.Dropped, 1)
	expect.EQ(t, res.Matrix.Column(2), []int64{3, 7, 1})
	expect.EQ(t, res.Stats["C"][0], Stat{"Assigned", 10})
}

// Discovery order may change row order, but a column always carries the
// counts of the sample named in its header.
func TestBuildColumnOrder(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	gtf := writeGTF(t, tmpdir)
	ctx := context.Background()
	engine := newFakeEngine()

	r := rand.New(rand.NewSource(2))
	for iter := 0; iter < 10; iter++ {
		table := testTable()
		r.Shuffle(len(table.Samples), func(i, j int) {
			table.Samples[i], table.Samples[j] = table.Samples[j], table.Samples[i]
		})
		res, err := Build(ctx, table, gtf, DefaultParams, engine, BuildOpts{Parallelism: 4, SkipPreflight: true})
		require.NoError(t, err)
		for s, sample := range table.Samples {
			require.Equal(t, sample.ID, res.Unfiltered.Samples[s])
			require.Equal(t, engine.counts[sample.ID], res.Unfiltered.Column(s))
		}
	}
}

func TestBuildErrors(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	gtf := writeGTF(t, tmpdir)
	ctx := context.Background()
	opts := BuildOpts{SkipPreflight: true}

	engine := newFakeEngine()
	engine.fail = "B"
	_, err := Build(ctx, testTable(), gtf, DefaultParams, engine, opts)
	require.Error(t, err)
	assert.True(t, isCountingError(err), "%v", err)
	assert.Contains(t, err.Error(), "sample B")

	// Samples disagree about the gene list.
	engine = newFakeEngine()
	engine.genes = map[string][]string{"C": {"G1", "G2", "G4", "G3"}}
	_, err = Build(ctx, testTable(), gtf, DefaultParams, engine, opts)
	assert.True(t, isCountingError(err), "%v", err)
	assert.Contains(t, err.Error(), "gene 2 is G4 in sample C, but G3 in sample A")
	expect.EQ(t, err.(*CountingError).Sample, "C")

	engine = newFakeEngine()
	engine.genes = map[string][]string{"D": {"G1", "G2", "G3"}}
	_, err = Build(ctx, testTable(), gtf, DefaultParams, engine, opts)
	assert.True(t, isCountingError(err), "%v", err)
	assert.Contains(t, err.Error(), "sample D has 3 genes, but sample A has 4")

	// Gene missing from the annotation.
	engine = newFakeEngine()
	engine.genes = map[string][]string{"A": {"G1", "G2", "G3", "G9"}}
	_, err = Build(ctx, testTable(), gtf, DefaultParams, engine, opts)
	assert.True(t, isCountingError(err), "%v", err)

	// Malformed annotation.
	badGTF := filepath.Join(tmpdir, "bad.gtf")
	require.NoError(t, ioutil.WriteFile(badGTF, []byte("chr1\tx\texon\t1\n"), 0644))
	_, err = Build(ctx, testTable(), badGTF, DefaultParams, newFakeEngine(), opts)
	assert.True(t, isCountingError(err), "%v", err)

	// Unreadable BAM, caught by the preflight check.
	_, err = Build(ctx, testTable(), gtf, DefaultParams, newFakeEngine(), BuildOpts{})
	assert.True(t, isCountingError(err), "%v", err)

	// Bad parameters.
	params := DefaultParams
	params.Strand = 7
	_, err = Build(ctx, testTable(), gtf, params, newFakeEngine(), opts)
	assert.True(t, isCountingError(err), "%v", err)
}

func TestCheckAlignment(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	_, err := CheckAlignment(ctx, filepath.Join(tmpdir, "missing.bam"))
	assert.Error(t, err)

	notBAM := filepath.Join(tmpdir, "text.bam")
	require.NoError(t, ioutil.WriteFile(notBAM, []byte("this is not a bam file\n"), 0644))
	_, err = CheckAlignment(ctx, notBAM)
	assert.Error(t, err)
}

const featureCountsOutput = `# Program:featureCounts v2.0.3; Command:"featureCounts" "-a" "genes.gtf" "-o" "counts.tsv" "x.bam"
Geneid	Chr	Start	End	Strand	Length	x.bam
G1	chr1	100	201	+	102	12
G2	chr1;chr1	300;350	400;420	+;+	121	0
G3	chr2	100	200	-	101	7
`

const featureCountsSummary = `Status	x.bam
Assigned	19
Unassigned_Unmapped	3
Unassigned_NoFeatures	5
`

func TestParseFeatureCounts(t *testing.T) {
	sc := &SampleCounts{SampleID: "x"}
	require.NoError(t, parseFeatureCounts(strings.NewReader(featureCountsOutput), sc))
	require.NoError(t, parseFeatureCountsSummary(strings.NewReader(featureCountsSummary), sc))
	expect.EQ(t, sc.Genes, []string{"G1", "G2", "G3"})
	expect.EQ(t, sc.Counts, []int64{12, 0, 7})
	expect.EQ(t, sc.Stats, []Stat{{"Assigned", 19}, {"Unassigned_Unmapped", 3}, {"Unassigned_NoFeatures", 5}})

	assert.Error(t, parseFeatureCounts(strings.NewReader("# empty\nGeneid\tChr\tStart\tEnd\tStrand\tLength\tx.bam\n"), &SampleCounts{}))
}

// TestFeatureCountsCommand runs FeatureCounts against a shell stand-in that
// checks the arguments and writes canned tables.
func TestFeatureCountsCommand(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	script := filepath.Join(tmpdir, "featureCounts")
	require.NoError(t, ioutil.WriteFile(script, []byte(`#!/bin/sh
out=""
paired=0
while [ $# -gt 1 ]; do
  case "$1" in
    -o) out="$2"; shift;;
    --countReadPairs) paired=1;;
  esac
  shift
done
[ "$paired" = 1 ] || { echo "expected paired-end flags" >&2; exit 1; }
cat > "$out" <<'END'
`+featureCountsOutput+`END
cat > "$out.summary" <<'END'
`+featureCountsSummary+`END
`), 0755))

	params := DefaultParams
	params.PairedEnd = true
	fc := &FeatureCounts{Path: script, TempDir: tmpdir}
	sc, err := fc.Summarize(context.Background(), SummarizeRequest{
		SampleID:       "x",
		BAMPath:        "x.bam",
		AnnotationPath: "genes.gtf",
		Params:         params,
	})
	require.NoError(t, err)
	expect.EQ(t, sc.Counts, []int64{12, 0, 7})
	expect.EQ(t, len(sc.Stats), 3)

	// Without -p the stand-in fails, and the error carries its stderr.
	_, err = fc.Summarize(context.Background(), SummarizeRequest{
		SampleID: "x", BAMPath: "x.bam", AnnotationPath: "genes.gtf", Params: DefaultParams,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected paired-end flags")

	// The per-sample temp dirs are removed.
	entries, err := ioutil.ReadDir(tmpdir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, e.IsDir(), e.Name())
	}
}

func TestMatrixIO(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	m := NewMatrix([]string{"G1", "G2"}, []string{"A", "B", "C"})
	m.Set(0, 0, 5)
	m.Set(1, 2, 123456789012)
	path := filepath.Join(tmpdir, "counts.tsv.gz")
	require.NoError(t, WriteMatrix(ctx, path, m))
	got, err := ReadMatrix(ctx, path)
	require.NoError(t, err)
	expect.EQ(t, got.Fingerprint(), m.Fingerprint())

	var sb strings.Builder
	require.NoError(t, EncodeMatrix(&sb, m))
	expect.EQ(t, sb.String(), "gene_id\tA\tB\tC\nG1\t5\t0\t0\nG2\t0\t0\t123456789012\n")

	_, err = DecodeMatrix(strings.NewReader("gene_id\tA\nG1\t-1\n"))
	assert.Error(t, err)
	_, err = DecodeMatrix(strings.NewReader("gene\tA\nG1\t1\n"))
	assert.Error(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestDecodeMatrixSamples(t *testing.T) {
	m, err := DecodeMatrix(strings.NewReader("gene_id\tS1\tS2\nG1\t5\t7\nG2\t0\t3\n"))
	require.NoError(t, err)
	expect.EQ(t, m.Samples, []string{"S1", "S2"})
	expect.EQ(t, m.Genes, []string{"G1", "G2"})
	expect.EQ(t, m.At(1, 1), int64(3))

	_, err = DecodeMatrix(strings.NewReader("gene_id\tS1\tS2\nG1\t5\n"))
	assert.Error(t, err)
}

func TestWriteStats(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteStats(&sb, []string{"A", "B"}, map[string][]Stat{
		"A": {{"Assigned", 10}, {"Unassigned_NoFeatures", 2}},
		"B": {{"Assigned", 7}},
	}))
	expect.EQ(t, sb.String(), "status\tA\tB\nAssigned\t10\t7\nUnassigned_NoFeatures\t2\tNA\n")
}
