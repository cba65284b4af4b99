package counts

import "context"

// Stat is one per-sample summary statistic reported by the engine, e.g.
// "Assigned" or "Unassigned_NoFeatures". Stats are passed through unmodified.
type Stat struct {
	Name  string
	Value int64
}

// SummarizeRequest asks for the gene counts of one sample.
type SummarizeRequest struct {
	SampleID       string
	BAMPath        string
	AnnotationPath string
	Params         Params
}

// SampleCounts is the engine's answer for one sample.
type SampleCounts struct {
	SampleID string
	// Genes and Counts are parallel; Genes is in the engine's own order.
	Genes  []string
	Counts []int64
	Stats  []Stat
}

// Summarizer is an external read summarization engine. Implementations must be
// safe for concurrent use; Build calls Summarize for several samples at once.
type Summarizer interface {
	Summarize(ctx context.Context, req SummarizeRequest) (*SampleCounts, error)
}
