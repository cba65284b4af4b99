package de

import "fmt"

// ModelFitError reports a design that cannot be fitted (not full rank, a
// factor level without samples), a contrast that does not correspond to a
// fitted coefficient, or a failure inside an engine.
type ModelFitError struct {
	// Engine is the engine name, or "" when the request was rejected before
	// reaching one.
	Engine string
	Err    error
}

func (e *ModelFitError) Error() string {
	if e.Engine == "" {
		return fmt.Sprintf("model fit: %v", e.Err)
	}
	return fmt.Sprintf("model fit (%s): %v", e.Engine, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ModelFitError) Unwrap() error { return e.Err }

func fitErr(err error) error {
	return &ModelFitError{Err: err}
}

// WithEngine attributes an unattributed ModelFitError to engine. Other errors
// are returned unchanged.
func WithEngine(engine string, err error) error {
	if fe, ok := err.(*ModelFitError); ok && fe.Engine == "" {
		return &ModelFitError{Engine: engine, Err: fe.Err}
	}
	return err
}
