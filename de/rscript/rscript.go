// Package rscript runs the R scripts behind the differential-expression
// engines.
package rscript

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/rnaseq/de"
	goerrors "github.com/pkg/errors"
)

// ExitNoCoefficient is the status with which a script reports that the
// requested contrast is not among the fitted coefficients.
const ExitNoCoefficient = 3

// Runner runs scripts with Rscript in a scratch directory.
type Runner struct {
	// Engine names the caller in errors.
	Engine string
	// Path is the Rscript executable. Defaults to "Rscript" on $PATH.
	Path string
	// TempDir is the parent of scratch directories. Defaults to os.TempDir().
	TempDir string
}

// Workdir creates a scratch directory. The returned function removes it.
func (r *Runner) Workdir(study string) (string, func(), error) {
	dir, err := ioutil.TempDir(r.TempDir, r.Engine+"-"+study+"-")
	if err != nil {
		return "", nil, err
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Error.Printf("%s: remove %s: %v", r.Engine, dir, err)
		}
	}, nil
}

// Run writes source to dir/name and runs it with the given named arguments,
// passed as --key=value in key order. Failures are de.ModelFitErrors carrying
// the tail of the script's output.
func (r *Runner) Run(ctx context.Context, dir, name, source string, args map[string]string) error {
	script := filepath.Join(dir, name)
	if err := ioutil.WriteFile(script, []byte(source), 0644); err != nil {
		return err
	}
	bin := r.Path
	if bin == "" {
		bin = "Rscript"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	argv := []string{"--vanilla", script}
	for _, k := range keys {
		argv = append(argv, fmt.Sprintf("--%s=%s", k, args[k]))
	}
	cmd := exec.CommandContext(ctx, bin, argv...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	log.Debug.Printf("%s: %s %s", r.Engine, bin, strings.Join(argv, " "))
	err := cmd.Run()
	log.Debug.Printf("%s: %s output:\n%s", r.Engine, name, out.String())
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return &de.ModelFitError{Engine: r.Engine, Err: errors.E(errors.Canceled, ctx.Err())}
	}
	var exit *exec.ExitError
	if goerrors.As(err, &exit) && exit.ExitCode() == ExitNoCoefficient {
		return &de.ModelFitError{Engine: r.Engine, Err: errors.E(errors.Invalid,
			fmt.Sprintf("contrast is not a fitted coefficient: %s", Tail(out.String(), 5)))}
	}
	return &de.ModelFitError{Engine: r.Engine, Err: errors.E(err,
		fmt.Sprintf("%s failed: %s", name, Tail(out.String(), 20)))}
}

// WriteFile creates path and fills it with write.
func WriteFile(ctx context.Context, path string, write func(io.Writer) error) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	return write(out.Writer(ctx))
}

// Tail returns the last n lines of s.
func Tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
