// Package annotation reads gene models from a GTF feature annotation. It
// provides gene identifiers, loci and exonic lengths for the count matrix
// builder and the reports.
package annotation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
)

// Opts selects the features that make up a gene.
type Opts struct {
	// FeatureType is the GTF column-3 value to collect, e.g. "exon".
	FeatureType string
	// AttrType is the attribute that groups features into genes, e.g.
	// "gene_id".
	AttrType string
}

// DefaultOpts matches the usual gene-level RNA-seq summarization.
var DefaultOpts = Opts{FeatureType: "exon", AttrType: "gene_id"}

type genomicRange struct {
	start, stop int // both ends are closed.
}

type genomicRanges []genomicRange

// merge appends r to g. If the last item in g overlaps or touches r, the two
// are merged instead. g must be sorted by start.
func (g *genomicRanges) merge(r genomicRange) {
	if n := len(*g); n > 0 {
		last := &(*g)[n-1]
		if r.start <= last.stop+1 {
			if r.stop > last.stop {
				last.stop = r.stop
			}
			return
		}
	}
	*g = append(*g, r)
}

// collapse sorts g and merges overlapping ranges.
func (g *genomicRanges) collapse() {
	sort.SliceStable(*g, func(i, j int) bool {
		return (*g)[i].start < (*g)[j].start ||
			((*g)[i].start == (*g)[j].start && (*g)[i].stop < (*g)[j].stop)
	})
	collapsed := genomicRanges{}
	for _, r := range *g {
		collapsed.merge(r)
	}
	*g = collapsed
}

func (g genomicRanges) length() int {
	n := 0
	for _, r := range g {
		n += r.stop - r.start + 1
	}
	return n
}

// Gene is one annotated gene, assembled from its features.
type Gene struct {
	ID     string
	Name   string
	Type   string
	Chrom  string
	Start  int // 1-based, closed
	End    int // 1-based, closed
	Strand string
	// ExonicLength is the number of bases covered by the union of the gene's
	// features.
	ExonicLength int
	features     genomicRanges
}

// DB is the set of genes read from one annotation file.
type DB struct {
	genes  []*Gene
	byID   map[string]*Gene
	chroms []string
}

// Genes returns all genes sorted by ID. The caller must not modify them.
func (db *DB) Genes() []*Gene { return db.genes }

// Lookup finds a gene by ID.
func (db *DB) Lookup(id string) (*Gene, bool) {
	g, ok := db.byID[id]
	return g, ok
}

// Chroms returns the distinct chromosomes carrying at least one gene, sorted.
func (db *DB) Chroms() []string { return db.chroms }

// Len is the number of genes.
func (db *DB) Len() int { return len(db.genes) }

// gtfRecord stores one line of a GTF file.
type gtfRecord struct {
	Chrom   string
	Source  string
	Feature string
	Start   int
	Stop    int
	Score   string // unused floating point value, but may be "."
	Strand  string
	Frame   string
	Fields  string
}

// parseInfoFields parses the attribute column of a GTF record into
// parsedInfo, which is cleared first.
func parseInfoFields(parsedInfo map[string]string, info string) error {
	for k := range parsedInfo {
		delete(parsedInfo, k)
	}
	for _, field := range strings.Split(strings.TrimSpace(info), ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		pair := strings.SplitN(field, " ", 2)
		if len(pair) != 2 {
			return fmt.Errorf("malformed attribute %q", field)
		}
		parsedInfo[pair[0]] = strings.Trim(strings.TrimSpace(pair[1]), "\"")
	}
	return nil
}

// ReadGTF reads the annotation at path, which may be compressed. A malformed
// line, or a file without any feature of opts.FeatureType, is an error of
// kind errors.Invalid.
func ReadGTF(ctx context.Context, path string, opts Opts) (db *DB, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open annotation", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	var inr io.Reader = in.Reader(ctx)
	if u, ok := compress.NewReaderPath(inr, in.Name()); ok {
		defer u.Close() // nolint: errcheck
		inr = u
	}
	db, err = readGTF(bufio.NewReaderSize(inr, 64<<10), opts)
	if err != nil {
		return nil, errors.E(err, path)
	}
	log.Printf("annotation %s: %d genes from %s features grouped by %s", path, db.Len(), opts.FeatureType, opts.AttrType)
	return db, nil
}

func readGTF(r io.Reader, opts Opts) (*DB, error) {
	if opts.FeatureType == "" || opts.AttrType == "" {
		return nil, errors.E(errors.Invalid, "feature type and attribute type must be set")
	}
	scanner := tsv.NewReader(r)
	scanner.Comment = '#'
	scanner.LazyQuotes = true
	scanner.FieldsPerRecord = 9
	byID := map[string]*Gene{}
	fields := map[string]string{}
	var (
		line     gtfRecord
		nFeature int
	)
	for lineno := 1; ; lineno++ {
		if err := scanner.Read(&line); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.E(errors.Invalid, fmt.Sprintf("record %d", lineno), err)
		}
		if line.Feature != opts.FeatureType {
			continue
		}
		if line.Start < 1 || line.Stop < line.Start {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("record %d: bad interval [%d, %d]", lineno, line.Start, line.Stop))
		}
		if err := parseInfoFields(fields, line.Fields); err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("record %d", lineno), err)
		}
		id := fields[opts.AttrType]
		if id == "" {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("record %d: %s feature has no %s attribute", lineno, opts.FeatureType, opts.AttrType))
		}
		gene, ok := byID[id]
		if !ok {
			gene = &Gene{
				ID:     id,
				Name:   fields["gene_name"],
				Type:   fields["gene_type"],
				Chrom:  line.Chrom,
				Start:  line.Start,
				End:    line.Stop,
				Strand: line.Strand,
			}
			if gene.Type == "" {
				gene.Type = fields["gene_biotype"]
			}
			byID[id] = gene
		} else if gene.Chrom != line.Chrom {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("record %d: gene %s spans chromosomes %s and %s", lineno, id, gene.Chrom, line.Chrom))
		}
		if line.Start < gene.Start {
			gene.Start = line.Start
		}
		if line.Stop > gene.End {
			gene.End = line.Stop
		}
		gene.features = append(gene.features, genomicRange{line.Start, line.Stop})
		nFeature++
	}
	if nFeature == 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("no %s features", opts.FeatureType))
	}
	db := &DB{byID: byID}
	chroms := map[string]bool{}
	for _, gene := range byID {
		gene.features.collapse()
		gene.ExonicLength = gene.features.length()
		db.genes = append(db.genes, gene)
		if !chroms[gene.Chrom] {
			chroms[gene.Chrom] = true
			db.chroms = append(db.chroms, gene.Chrom)
		}
	}
	sort.Slice(db.genes, func(i, j int) bool { return db.genes[i].ID < db.genes[j].ID })
	sort.Strings(db.chroms)
	log.Debug.Printf("read %d %s features", nFeature, opts.FeatureType)
	return db, nil
}
