package samples

import "fmt"

// ConfigurationError reports sample metadata that cannot be aligned with the
// discovered inputs: missing or extra registry entries, label arrays of the
// wrong length, unknown studies or conditions. It is always raised before any
// counting starts.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErr(err error) error {
	return &ConfigurationError{Err: err}
}
