package sandbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/hamidomar/coderelay/pkg/executor"
)

// Provisioner abstracts how a sandbox server is obtained. Implementations
// exist for static URL mode (returns a fixed URL) and SandboxClaim mode
// (creates Kubernetes CRDs, see the kubernetes subpackage).
type Provisioner interface {
	// Acquire returns a sandbox server base URL to use for the
	// session. The release function must be called after the session
	// ends to clean up.
	Acquire(ctx context.Context) (baseURL string, release func(), err error)
}

// StaticProvisioner returns a fixed sandbox server URL (development mode).
type StaticProvisioner struct {
	URL string
}

// Acquire returns the configured URL. No cleanup is needed.
func (p *StaticProvisioner) Acquire(_ context.Context) (string, func(), error) {
	return p.URL, func() {}, nil
}

// Ensure Executor implements the contract.
var _ executor.Executor = (*Executor)(nil)

// Executor runs code in an interpreter session on a sandbox server. This
// is a pass-through wrapper: isolation and state retention live in the
// server, not here.
type Executor struct {
	provisioner      Provisioner
	client           *Client
	executionTimeout int // seconds, forwarded per call

	baseURL string
	release func()
	handle  string
	started bool
}

// New creates a sandbox Executor. executionTimeout is the per-call limit
// in seconds forwarded to the server.
func New(provisioner Provisioner, client *Client, executionTimeout int) *Executor {
	if executionTimeout <= 0 {
		executionTimeout = 60
	}
	return &Executor{
		provisioner:      provisioner,
		client:           client,
		executionTimeout: executionTimeout,
	}
}

// Start provisions a sandbox server and creates an interpreter session
// on it.
func (e *Executor) Start(ctx context.Context) error {
	baseURL, release, err := e.provisioner.Acquire(ctx)
	if err != nil {
		return executor.NewConnectionError("sandbox", err)
	}

	handle, err := e.client.CreateInstance(ctx, baseURL)
	if err != nil {
		release()
		return executor.NewConnectionError("sandbox", err)
	}

	e.baseURL = baseURL
	e.release = release
	e.handle = handle
	e.started = true
	slog.Debug("sandbox session started", "url", baseURL, "session", handle)
	return nil
}

// Execute runs code in the live session. Interpreter state persists
// across calls. Never returns a Go error; failures become Results with
// Success=false.
func (e *Executor) Execute(ctx context.Context, code string) *executor.Result {
	if !e.started {
		return executor.Fail(fmt.Errorf("sandbox executor is not started"))
	}

	resp, err := e.client.RunCode(ctx, e.baseURL, e.handle, code, e.executionTimeout)
	if err != nil {
		return executor.Fail(fmt.Errorf("execution failed: %w", err))
	}

	result := &executor.Result{
		Success: resp.Error == "",
		Output:  resp.Stdout,
		Stderr:  resp.Stderr,
		Error:   resp.Error,
	}
	for _, r := range resp.Results {
		data, err := base64.StdEncoding.DecodeString(r.Data)
		if err != nil {
			slog.Warn("skipping undecodable rich output", "name", r.Name, "error", err.Error())
			continue
		}
		result.Results = append(result.Results, executor.RichOutput{
			Name:     r.Name,
			MIMEType: r.MIMEType,
			Data:     data,
		})
	}
	return result
}

// Stop closes the session and releases the provisioned server. Safe to
// call before Start or more than once.
func (e *Executor) Stop() error {
	if !e.started {
		return nil
	}
	e.started = false

	// Best effort: the provisioner release must run even when the
	// close call fails.
	err := e.client.CloseInstance(context.Background(), e.baseURL, e.handle)
	if err != nil {
		slog.Warn("failed to close sandbox session", "session", e.handle, "error", err.Error())
	}
	if e.release != nil {
		e.release()
		e.release = nil
	}
	slog.Debug("sandbox session stopped", "session", e.handle)
	return err
}

// RetainsState reports that interpreter state persists across Execute
// calls: the session holds one live interpreter for its whole lifetime.
func (e *Executor) RetainsState() bool {
	return true
}
