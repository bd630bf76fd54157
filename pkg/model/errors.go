package model

import "fmt"

// Error is a failed model call. The loop recovers from these locally:
// the pending turn is rolled back and the session continues.
type Error struct {
	// StatusCode is the HTTP status, 0 for transport-level failures.
	StatusCode int

	// Status is the API status string (e.g. "RESOURCE_EXHAUSTED"),
	// empty when the backend did not provide one.
	Status string

	// Message is the human-readable description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("model call failed: %s (HTTP %d): %s", e.Status, e.StatusCode, e.Message)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("model call failed (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("model call failed: %s", e.Message)
}
