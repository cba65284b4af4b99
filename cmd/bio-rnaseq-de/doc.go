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

/*
bio-rnaseq-de runs a two-condition differential-expression analysis on
aligned RNA-seq reads. Samples found in an input directory are assigned to
study subsets from a sample sheet; each subset is counted per gene with
featureCounts, tested with both DESeq2 and edgeR, and the genes the two
engines call significant are compared.

Sample usage:
bio-rnaseq-de run -config study.yaml -out results/

The config is YAML:

	input_dir: s3://bucket/aligned
	pattern: "*.bam"
	naming: {delimiter: "_", field: 1}
	annotation: s3://bucket/gencode.v38.gtf.gz
	sample_sheet: s3://bucket/samples.tsv
	counting: {paired_end: true, strand: 2, threads: 4}
	studies:
	  - name: liver
	    conditions: [control, treated]
	    design: "~ batch + condition"
	deseq: {alpha: 0.1, shrink: apeglm}
	edger: {alpha: 0.05}

The sample sheet has the header sample_id, study, condition, batch.

"bio-rnaseq-de samples" checks the config and prints each subset's sample
table without counting anything. "bio-rnaseq-de concordance" recomputes the
significant sets from two saved result tables.

Per study, "run" writes metadata.tsv, counts.tsv.gz, counts.fingerprint,
count_stats.tsv, deseq.tsv, edger.tsv, the two *.significant.txt lists and
concordance.tsv. A study whose outputs cannot all be written leaves none
behind. It exits non-zero when any study fails; the other studies' outputs are
still written.
*/
package main
