package executor

import "fmt"

// ConnectionError reports a failure to provision or connect to an
// execution backend during Start. It is fatal: the caller aborts startup
// before entering the conversation loop.
type ConnectionError struct {
	// Backend is the backend identifier ("sandbox" or "vm").
	Backend string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s backend connection failed: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError wraps err as a ConnectionError for the given backend.
func NewConnectionError(backend string, err error) *ConnectionError {
	return &ConnectionError{Backend: backend, Err: err}
}

// Fail builds a failure Result from an error. Execute implementations use
// it to honor the never-raise contract.
func Fail(err error) *Result {
	return &Result{
		Success: false,
		Error:   err.Error(),
	}
}
