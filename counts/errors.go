package counts

import "fmt"

// CountingError reports an unreadable alignment or annotation file, or a
// failure of the summarization engine. It aborts counting for the whole study.
type CountingError struct {
	// Sample is the sample being counted, or "" for study-wide failures.
	Sample string
	Err    error
}

func (e *CountingError) Error() string {
	if e.Sample == "" {
		return fmt.Sprintf("counting: %v", e.Err)
	}
	return fmt.Sprintf("counting sample %s: %v", e.Sample, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CountingError) Unwrap() error { return e.Err }
