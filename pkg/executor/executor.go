// Package executor defines the common contract implemented by all
// code-execution backends.
//
// An Executor owns exactly one backend session: Start establishes it,
// Execute runs source text inside it, and Stop releases it. Execute is
// only valid between a successful Start and Stop; Stop is idempotent and
// safe to call even when Start was never called or failed. Backends differ
// in whether interpreter state (variables, imports) survives across
// Execute calls; RetainsState makes that an explicit capability rather
// than an incidental side effect.
package executor

import "context"

// Executor runs submitted code in a backend and reports a uniform result.
//
// Implementations are not required to be safe for concurrent use; the
// conversation loop is the single owner of the active Executor.
type Executor interface {
	// Start establishes the backend session (provisions a sandbox
	// instance or verifies a remote connection). It returns a
	// *ConnectionError when provisioning or authentication fails;
	// callers abort startup on failure.
	Start(ctx context.Context) error

	// Execute runs the given source text in the backend's interpreter.
	// It never returns a Go error: every failure, including transport
	// errors and syntactically invalid code, is converted into a Result
	// with Success=false and a non-empty Error message.
	Execute(ctx context.Context, code string) *Result

	// Stop releases backend resources. It is idempotent and safe to
	// call before Start or multiple times.
	Stop() error

	// RetainsState reports whether interpreter state persists across
	// Execute calls within one session.
	RetainsState() bool
}

// Result is the uniform execution result shape returned by every backend
// regardless of transport. It is transient: created per Execute call and
// discarded after being printed or fed back into the conversation.
type Result struct {
	// Success is false when the code failed to run or raised inside
	// the backend.
	Success bool

	// Output is the captured stdout of the execution.
	Output string

	// Stderr is the captured stderr, with backend connection noise
	// already filtered out where the transport produces any.
	Stderr string

	// Error describes the failure (interpreter traceback or transport
	// message). Empty on success.
	Error string

	// Results holds rich outputs (images, data files) produced during
	// execution. Only the sandbox backend populates it.
	Results []RichOutput
}

// RichOutput is an opaque rich result produced by an execution, such as a
// rendered plot or a data file.
type RichOutput struct {
	Name     string
	MIMEType string
	Data     []byte
}
