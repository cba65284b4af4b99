package samples

import (
	"context"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStudies = []Study{
	{Name: "liver", Conditions: []string{"control", "treated"}},
	{Name: "kidney", Conditions: []string{"control", "treated"}},
}

func testRegistry() Registry {
	return Registry{
		"S1": {Study: "liver", Condition: "control", Batch: "1"},
		"S2": {Study: "liver", Condition: "treated", Batch: "1"},
		"S3": {Study: "kidney", Condition: "control", Batch: "2"},
		"S4": {Study: "liver", Condition: "control", Batch: "2"},
		"S5": {Study: "kidney", Condition: "treated", Batch: "2"},
	}
}

func testPaths() []string {
	return []string{
		"/data/run_S1_sorted.bam",
		"/data/run_S2_sorted.bam",
		"/data/run_S3_sorted.bam",
		"/data/run_S4_sorted.bam",
		"/data/run_S5_sorted.bam",
	}
}

func isConfigError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func TestParseSampleID(t *testing.T) {
	for _, test := range []struct {
		path string
		opts NamingOpts
		want string
	}{
		{"/x/run_S1_sorted.bam", DefaultNamingOpts, "S1"},
		{"run_S22.bam", DefaultNamingOpts, "S22"},
		{"S7.bam", NamingOpts{Delimiter: "_", Field: 0}, "S7"},
		{"a-b-c.bam", NamingOpts{Delimiter: "-", Field: 2}, "c"},
	} {
		got, err := ParseSampleID(test.path, test.opts)
		require.NoError(t, err, test.path)
		expect.EQ(t, got, test.want)
	}
	_, err := ParseSampleID("nodelimiter.bam", DefaultNamingOpts)
	assert.True(t, isConfigError(err), "%v", err)
	_, err = ParseSampleID("run__x.bam", DefaultNamingOpts)
	assert.True(t, isConfigError(err), "%v", err)
}

func TestAssign(t *testing.T) {
	tables, err := Assign(testPaths(), testRegistry(), testStudies, DefaultNamingOpts)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	expect.EQ(t, tables[0].Study, "liver")
	expect.EQ(t, tables[0].IDs(), []string{"S1", "S2", "S4"})
	expect.EQ(t, tables[1].IDs(), []string{"S3", "S5"})

	// No sample is lost or duplicated.
	total := 0
	for _, tab := range tables {
		total += len(tab.Samples)
	}
	expect.EQ(t, total, len(testRegistry()))

	cond, err := tables[0].Column("condition")
	require.NoError(t, err)
	expect.EQ(t, cond, []string{"control", "treated", "control"})
	levels, err := tables[0].Levels("batch")
	require.NoError(t, err)
	expect.EQ(t, levels, []string{"1", "2"})
}

// Reordering the file listing changes row order, but never which labels a
// sample carries.
func TestAssignPermutationKeepsLabels(t *testing.T) {
	reg := testRegistry()
	r := rand.New(rand.NewSource(0))
	for iter := 0; iter < 20; iter++ {
		paths := testPaths()
		r.Shuffle(len(paths), func(i, j int) { paths[i], paths[j] = paths[j], paths[i] })
		tables, err := Assign(paths, reg, testStudies, DefaultNamingOpts)
		require.NoError(t, err)
		for _, tab := range tables {
			for _, s := range tab.Samples {
				assert.Equal(t, reg[s.ID].Condition, s.Condition, s.ID)
				assert.Equal(t, reg[s.ID].Batch, s.Batch, s.ID)
				assert.True(t, strings.Contains(s.Path, "_"+s.ID+"_"))
			}
		}
	}
}

func TestAssignErrors(t *testing.T) {
	reg := testRegistry()

	// A file with no sample sheet entry.
	_, err := Assign(append(testPaths(), "/data/run_S9_sorted.bam"), reg, testStudies, DefaultNamingOpts)
	assert.True(t, isConfigError(err), "%v", err)

	// A sample sheet entry with no file.
	_, err = Assign(testPaths()[:4], reg, testStudies, DefaultNamingOpts)
	assert.True(t, isConfigError(err), "%v", err)

	// Two files for one sample.
	_, err = Assign(append(testPaths(), "/other/run_S1_sorted.bam"), reg, testStudies, DefaultNamingOpts)
	assert.True(t, isConfigError(err), "%v", err)

	// Unknown study.
	bad := testRegistry()
	bad["S1"] = Factors{Study: "lung", Condition: "control", Batch: "1"}
	_, err = Assign(testPaths(), bad, testStudies, DefaultNamingOpts)
	assert.True(t, isConfigError(err), "%v", err)

	// Condition outside the study vocabulary.
	bad = testRegistry()
	bad["S2"] = Factors{Study: "liver", Condition: "knockout", Batch: "1"}
	_, err = Assign(testPaths(), bad, testStudies, DefaultNamingOpts)
	assert.True(t, isConfigError(err), "%v", err)

	// A study with no samples.
	_, err = Assign(testPaths(), reg, append(testStudies, Study{Name: "heart"}), DefaultNamingOpts)
	assert.True(t, isConfigError(err), "%v", err)
}

func TestPositionalRegistry(t *testing.T) {
	ids := []string{"S1", "S2", "S3", "S4", "S5"}
	studies := []string{"liver", "liver", "kidney", "liver", "kidney"}
	batches := []string{"1", "1", "2", "2", "2"}

	// Five samples but only four hand-entered condition labels.
	_, err := NewPositionalRegistry(ids, studies, []string{"control", "treated", "control", "control"}, batches)
	require.Error(t, err)
	assert.True(t, isConfigError(err), "%v", err)
	assert.Contains(t, err.Error(), "5 samples but 4 condition labels")

	reg, err := NewPositionalRegistry(ids, studies,
		[]string{"control", "treated", "control", "control", "treated"}, batches)
	require.NoError(t, err)
	expect.EQ(t, reg, testRegistry())
	expect.EQ(t, reg.IDs(), ids)

	_, err = NewPositionalRegistry([]string{"S1", "S1"}, []string{"a", "a"}, []string{"c", "c"}, []string{"1", "1"})
	assert.True(t, isConfigError(err), "%v", err)
}

func TestReadRegistry(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	path := filepath.Join(tmpdir, "samples.tsv")
	require.NoError(t, ioutil.WriteFile(path, []byte(`sample_id	study	condition	batch
# S0 was dropped after QC.
S1	liver	control	1
S2	liver	treated	1
S3	kidney	control	2
S4	liver	control	2
S5	kidney	treated	2
`), 0644))
	reg, err := ReadRegistry(ctx, path)
	require.NoError(t, err)
	expect.EQ(t, reg, testRegistry())

	dupPath := filepath.Join(tmpdir, "dup.tsv")
	require.NoError(t, ioutil.WriteFile(dupPath, []byte(`sample_id	study	condition	batch
S1	liver	control	1
S1	liver	treated	1
`), 0644))
	_, err = ReadRegistry(ctx, dupPath)
	assert.True(t, isConfigError(err), "%v", err)

	_, err = ReadRegistry(ctx, filepath.Join(tmpdir, "missing.tsv"))
	assert.True(t, isConfigError(err), "%v", err)
}

func TestDiscover(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	for _, name := range []string{"run_S2_x.bam", "run_S1_x.bam", "run_S1_x.bam.bai", "notes.txt", "old/run_S3_x.bam"} {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(tmpdir, name)), 0755))
		require.NoError(t, ioutil.WriteFile(filepath.Join(tmpdir, name), nil, 0644))
	}
	paths, err := Discover(context.Background(), tmpdir, "")
	require.NoError(t, err)
	expect.EQ(t, paths, []string{
		filepath.Join(tmpdir, "run_S1_x.bam"),
		filepath.Join(tmpdir, "run_S2_x.bam"),
	})

	_, err = Discover(context.Background(), tmpdir, "[")
	assert.True(t, isConfigError(err), "%v", err)
}

func TestWriteTable(t *testing.T) {
	tables, err := Assign(testPaths(), testRegistry(), testStudies, DefaultNamingOpts)
	require.NoError(t, err)
	var sb strings.Builder
	require.NoError(t, WriteTable(&sb, tables[1]))
	expect.EQ(t, sb.String(), `sample_id	path	study	condition	batch
S3	/data/run_S3_sorted.bam	kidney	control	2
S5	/data/run_S5_sorted.bam	kidney	treated	2
`)
}
