package pipeline

import "fmt"

// Stages of a study subset, in execution order.
const (
	StageCount       = "count"
	StageModelBased  = "deseq"
	StageAlternative = "edger"
	StageWrite       = "write"
)

// StageError attributes a failure to a study and the stage it occurred in.
type StageError struct {
	Study string
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("study %s: %s: %v", e.Study, e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error { return e.Err }
