package samples

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// DefaultPattern selects coordinate-sorted BAM files.
const DefaultPattern = "*.bam"

// Discover lists the files directly under dir whose base name matches the glob
// pattern. dir may be a local directory or an S3 prefix. The result is sorted,
// so discovery order does not depend on the storage backend.
func Discover(ctx context.Context, dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, configErr(errors.E(errors.Invalid, fmt.Sprintf("bad file pattern %q", pattern), err))
	}
	var paths []string
	lister := file.List(ctx, dir, false)
	for lister.Scan() {
		path := lister.Path()
		if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
			paths = append(paths, path)
		}
	}
	if err := lister.Err(); err != nil {
		return nil, errors.E(err, "list", dir)
	}
	sort.Strings(paths)
	log.Printf("discovered %d files matching %s in %s", len(paths), pattern, dir)
	return paths, nil
}
