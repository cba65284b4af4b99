// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/rnaseq/concordance"
	"github.com/grailbio/rnaseq/de"
	"github.com/grailbio/rnaseq/de/deseq"
	"github.com/grailbio/rnaseq/de/edger"
	"github.com/grailbio/rnaseq/pipeline"
	"github.com/grailbio/rnaseq/samples"
	"v.io/x/lib/cmdline"
)

func newCmdRun() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "run",
		Short: "Count, test and compare every configured study",
	}
	configFlag := cmd.Flags.String("config", "", "YAML config path (required)")
	outFlag := cmd.Flags.String("out", "", "Output directory; overrides out_dir in the config")
	parallelismFlag := cmd.Flags.Int("parallelism", -1, "Number of studies processed at once; overrides the config when >= 0")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("run takes no arguments, but got %v", argv)
		}
		if *configFlag == "" {
			return fmt.Errorf("-config is required")
		}
		ctx := vcontext.Background()
		opts, err := pipeline.LoadOpts(ctx, *configFlag)
		if err != nil {
			return err
		}
		if *outFlag != "" {
			opts.OutDir = *outFlag
		}
		if *parallelismFlag >= 0 {
			opts.Parallelism = *parallelismFlag
		}
		engines, err := pipeline.NewEngines(opts)
		if err != nil {
			return err
		}
		reports, err := pipeline.Run(ctx, opts, engines)
		if err != nil {
			return err
		}
		return summarize(env.Stdout, reports)
	})
	return cmd
}

// summarize prints one line per study and fails if any study failed.
func summarize(w io.Writer, reports []*pipeline.SubsetReport) error {
	var failed int
	for _, r := range reports {
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "%s\tFAILED\t%v\n", r.Study, r.Err)
			continue
		}
		c := r.Concordance
		fmt.Fprintf(w, "%s\t%d samples\t%d genes\t%s %d\t%s %d\tboth %d\n",
			r.Study, len(r.Table.Samples), r.Counts.Matrix.NGenes(),
			r.ModelBased.Engine, len(r.SignificantA), r.Alternative.Engine, len(r.SignificantB), len(c.Both))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d studies failed", failed, len(reports))
	}
	return nil
}

func newCmdSamples() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "samples",
		Short: "Validate the config and print each study's sample table",
	}
	configFlag := cmd.Flags.String("config", "", "YAML config path (required)")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("samples takes no arguments, but got %v", argv)
		}
		if *configFlag == "" {
			return fmt.Errorf("-config is required")
		}
		ctx := vcontext.Background()
		opts, err := pipeline.LoadOpts(ctx, *configFlag)
		if err != nil {
			return err
		}
		tables, err := opts.Tables(ctx)
		if err != nil {
			return err
		}
		for _, t := range tables {
			fmt.Fprintf(env.Stdout, "# %s\n", t.Study)
			if err := samples.WriteTable(env.Stdout, t); err != nil {
				return err
			}
		}
		return nil
	})
	return cmd
}

func newCmdConcordance() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "concordance",
		Short:    "Compare the significant genes of two saved result tables",
		ArgsName: "a.tsv b.tsv",
	}
	alphaA := cmd.Flags.Float64("alpha-a", deseq.DefaultOpts.Alpha, "Adjusted p-value threshold for the first table")
	alphaB := cmd.Flags.Float64("alpha-b", edger.DefaultOpts.Alpha, "Adjusted p-value threshold for the second table")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return fmt.Errorf("concordance takes two result tables, but got %v", argv)
		}
		return compareTables(vcontext.Background(), env.Stdout, argv[0], argv[1], *alphaA, *alphaB)
	})
	return cmd
}

func compareTables(ctx context.Context, w io.Writer, pathA, pathB string, alphaA, alphaB float64) error {
	ra, err := de.ReadResult(ctx, pathA)
	if err != nil {
		return err
	}
	rb, err := de.ReadResult(ctx, pathB)
	if err != nil {
		return err
	}
	report := concordance.Compare("", de.Significant(ra, alphaA), de.Significant(rb, alphaB))
	concordance.Correlate(report, ra, rb)
	log.Printf("%d significant in both, %d only in %s, %d only in %s; logFC correlation %.3f over %d genes",
		len(report.Both), len(report.OnlyA), pathA, len(report.OnlyB), pathB, report.LogFCCorrelation, report.Shared)
	return concordance.WriteReport(w, report)
}

func main() {
	shutdown := grail.Init()
	defer shutdown()
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(&cmdline.Command{
		Name:     "bio-rnaseq-de",
		Short:    "Differential expression with two concordant engines",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdRun(),
			newCmdSamples(),
			newCmdConcordance(),
		},
	})
}
