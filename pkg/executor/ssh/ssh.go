// Package ssh runs code on a remote virtual machine over SSH. Each
// Execute call spawns a fresh interpreter on the VM, so no state
// survives between calls.
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/lima-vm/sshocker/pkg/ssh"

	"github.com/hamidomar/coderelay/pkg/executor"
)

// Config describes the SSH target.
type Config struct {
	Host         string
	User         string
	Port         int
	IdentityFile string
}

// Ensure Executor implements the contract.
var _ executor.Executor = (*Executor)(nil)

// Executor runs code on a remote VM by piping it to a remote
// interpreter over SSH.
type Executor struct {
	cfg       Config
	sshConfig *ssh.SSHConfig
	started   bool

	// runFn executes the assembled ssh command. Replaceable in tests.
	runFn func(ctx context.Context, binary string, args []string, stdin string) (stdout, stderr string, err error)
}

// New creates an SSH executor for the given target.
func New(cfg Config) *Executor {
	sshConfig := &ssh.SSHConfig{}
	if cfg.IdentityFile != "" {
		sshConfig.AdditionalArgs = []string{"-i", cfg.IdentityFile}
	}
	return &Executor{
		cfg:       cfg,
		sshConfig: sshConfig,
		runFn:     runSSH,
	}
}

// Start verifies connectivity with a no-op command on the VM.
func (e *Executor) Start(ctx context.Context) error {
	_, _, err := e.run(ctx, []string{"echo", "ok"}, "")
	if err != nil {
		return executor.NewConnectionError("vm", fmt.Errorf("ssh to %s@%s failed: %w", e.cfg.User, e.cfg.Host, err))
	}
	e.started = true
	slog.Debug("ssh connection verified", "host", e.cfg.Host, "user", e.cfg.User)
	return nil
}

// Execute pipes code to a fresh python3 process on the VM. Never
// returns a Go error; failures become Results with Success=false.
func (e *Executor) Execute(ctx context.Context, code string) *executor.Result {
	if !e.started {
		return executor.Fail(fmt.Errorf("ssh executor is not started"))
	}

	stdout, stderr, err := e.run(ctx, []string{"python3", "-"}, code)
	stderr = filterNoise(stderr)
	if err != nil {
		return &executor.Result{
			Success: false,
			Output:  stdout,
			Stderr:  stderr,
			Error:   errorLine(stderr, err),
		}
	}
	return &executor.Result{
		Success: true,
		Output:  stdout,
		Stderr:  stderr,
	}
}

// Stop marks the executor stopped. There is no remote state to tear
// down. Safe to call before Start or more than once.
func (e *Executor) Stop() error {
	e.started = false
	return nil
}

// RetainsState reports that interpreter state does not survive between
// Execute calls: every call spawns a fresh interpreter.
func (e *Executor) RetainsState() bool {
	return false
}

// run assembles and executes the ssh command for the given remote
// command, with stdin piped.
func (e *Executor) run(ctx context.Context, remoteCmd []string, stdin string) (string, string, error) {
	args := e.sshConfig.Args()
	if e.cfg.Port != 0 {
		args = append(args, "-p", strconv.Itoa(e.cfg.Port))
	}
	args = append(args, fmt.Sprintf("%s@%s", e.cfg.User, e.cfg.Host), "--")
	args = append(args, remoteCmd...)
	return e.runFn(ctx, e.sshConfig.Binary(), args, stdin)
}

func runSSH(ctx context.Context, binary string, args []string, stdin string) (string, string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	return string(out), stderr.String(), err
}

// noisePrefixes are SSH transport messages that show up on stderr but
// carry no information about the executed code.
var noisePrefixes = []string{
	"updating project ssh metadata",
	"waiting for ssh key to propagate",
	"warning: permanently added",
	"external ip address was not found",
}

// filterNoise strips SSH transport chatter from stderr so that what
// remains is output from the executed code.
func filterNoise(stderr string) string {
	if stderr == "" {
		return ""
	}
	var kept []string
	for _, line := range strings.Split(stderr, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		if lower == "" {
			continue
		}
		noisy := false
		for _, prefix := range noisePrefixes {
			if strings.HasPrefix(lower, prefix) {
				noisy = true
				break
			}
		}
		if !noisy {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// errorLine picks the most useful error message: the last stderr line
// (usually the exception) when present, the exec error otherwise.
func errorLine(stderr string, err error) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return last
	}
	return err.Error()
}
