package rscript

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/rnaseq/de"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, dir)
	bin := filepath.Join(dir, "Rscript")
	require.NoError(t, ioutil.WriteFile(bin, []byte(`#!/bin/sh
pwd > `+dir+`/pwd
echo "$@" > `+dir+`/args
`), 0755))

	r := &Runner{Engine: "test", Path: bin, TempDir: dir}
	work, done, err := r.Workdir("liver")
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), work, "fit.R", "q()\n",
		map[string]string{"out": "x.tsv", "alpha": "0.1", "design": "~ condition"}))

	args, err := ioutil.ReadFile(filepath.Join(dir, "args"))
	require.NoError(t, err)
	expect.EQ(t, string(args), "--vanilla "+filepath.Join(work, "fit.R")+" --alpha=0.1 --design=~ condition --out=x.tsv\n")
	src, err := ioutil.ReadFile(filepath.Join(work, "fit.R"))
	require.NoError(t, err)
	expect.EQ(t, string(src), "q()\n")

	done()
	_, err = os.Stat(work)
	expect.True(t, os.IsNotExist(err))
}

func TestRunFailure(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, dir)
	bin := filepath.Join(dir, "Rscript")
	require.NoError(t, ioutil.WriteFile(bin, []byte("#!/bin/sh\nfor i in 1 2 3 4 5 6 7 8 9 10 11 12 13 14 15 16 17 18 19 20 21 22; do echo line$i; done >&2\nexit 2\n"), 0755))
	r := &Runner{Engine: "test", Path: bin}
	err := r.Run(context.Background(), dir, "fit.R", "", nil)
	var fe *de.ModelFitError
	require.True(t, errors.As(err, &fe), "%v", err)
	expect.EQ(t, fe.Engine, "test")
	expect.True(t, strings.Contains(err.Error(), "line22"))
	expect.True(t, strings.Contains(err.Error(), "line3\n"))
	expect.False(t, strings.Contains(err.Error(), "line2\n"))
}

func TestTail(t *testing.T) {
	expect.EQ(t, Tail("a\nb\nc\n", 2), "b\nc")
	expect.EQ(t, Tail("a", 5), "a")
}
