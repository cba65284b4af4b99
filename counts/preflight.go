package counts

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// CheckAlignment opens the BAM file at path and returns its header. It catches
// missing, truncated and non-BAM inputs before the engine is started.
func CheckAlignment(ctx context.Context, path string) (header *sam.Header, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return nil, errors.E(errors.Invalid, "read BAM header", path, err)
	}
	header = reader.Header()
	if e := reader.Close(); e != nil && err == nil {
		err = e
	}
	if len(header.Refs()) == 0 {
		return nil, errors.E(errors.Invalid, "BAM header has no reference sequences", path)
	}
	return header, err
}

// sharedRefs counts the annotation chromosomes named in the BAM header.
func sharedRefs(header *sam.Header, chroms []string) int {
	refs := map[string]bool{}
	for _, ref := range header.Refs() {
		refs[ref.Name()] = true
	}
	n := 0
	for _, c := range chroms {
		if refs[c] {
			n++
		}
	}
	return n
}

// warnRefMismatch logs when a BAM and the annotation share no chromosome
// names ("chr1" vs "1"); every read would then be unassigned.
func warnRefMismatch(sampleID string, header *sam.Header, chroms []string) {
	if n := sharedRefs(header, chroms); n == 0 {
		log.Error.Printf("sample %s: none of the %d annotation chromosomes appear in the BAM header; "+
			"check the reference naming convention", sampleID, len(chroms))
	}
}
