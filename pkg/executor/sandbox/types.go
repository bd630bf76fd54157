// Package sandbox implements the Executor contract on top of the sandbox
// server REST API. A session on the server holds a live Python
// interpreter, so state (variables, imports) persists across Execute
// calls within one Executor session.
package sandbox

// RunRequest is the request body for POST /sessions/{id}/execute.
type RunRequest struct {
	Code           string `json:"code"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RunResponse is the response from POST /sessions/{id}/execute. Stderr
// carries ordinary warning noise; Error carries the interpreter traceback
// when the code raised, so the two channels stay distinguishable.
type RunResponse struct {
	Stdout          string      `json:"stdout"`
	Stderr          string      `json:"stderr"`
	Error           string      `json:"error,omitempty"`
	Results         []RunResult `json:"results,omitempty"`
	ExecutionTimeMs int64       `json:"execution_time_ms"`
}

// RunResult is a rich output produced during execution, typically a file
// written to the session output directory (plots, data exports).
type RunResult struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

// createResponse is the response from POST /sessions.
type createResponse struct {
	ID string `json:"id"`
}
