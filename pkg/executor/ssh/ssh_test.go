package ssh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// fakeRun records the assembled commands and plays back canned results.
type fakeRun struct {
	calls  []call
	stdout string
	stderr string
	err    error
}

type call struct {
	binary string
	args   []string
	stdin  string
}

func (f *fakeRun) run(_ context.Context, binary string, args []string, stdin string) (string, string, error) {
	f.calls = append(f.calls, call{binary: binary, args: args, stdin: stdin})
	return f.stdout, f.stderr, f.err
}

func newTestExecutor(cfg Config, f *fakeRun) *Executor {
	e := New(cfg)
	e.runFn = f.run
	return e
}

func TestExecutor_CommandAssembly(t *testing.T) {
	f := &fakeRun{stdout: "ok\n"}
	e := newTestExecutor(Config{Host: "10.0.0.5", User: "dev", Port: 2222, IdentityFile: "/home/dev/.ssh/id_ed25519"}, f)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Execute(context.Background(), "print(1)")

	if len(f.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(f.calls))
	}

	exec := f.calls[1]
	if exec.binary != "ssh" {
		t.Errorf("binary = %q, want ssh", exec.binary)
	}
	joined := strings.Join(exec.args, " ")
	for _, want := range []string{"-i /home/dev/.ssh/id_ed25519", "-p 2222", "dev@10.0.0.5 --", "python3 -"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
	if exec.stdin != "print(1)" {
		t.Errorf("stdin = %q, want the code", exec.stdin)
	}
}

func TestExecutor_StartConnectionError(t *testing.T) {
	f := &fakeRun{err: errors.New("connection refused")}
	e := newTestExecutor(Config{Host: "10.0.0.5", User: "dev"}, f)

	err := e.Start(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "dev@10.0.0.5") {
		t.Errorf("error %q does not name the target", err)
	}
}

func TestExecutor_Execute(t *testing.T) {
	tests := []struct {
		name        string
		fake        *fakeRun
		wantSuccess bool
		wantOutput  string
		wantStderr  string
		wantError   string
	}{
		{
			name:        "success",
			fake:        &fakeRun{stdout: "4\n"},
			wantSuccess: true,
			wantOutput:  "4\n",
		},
		{
			name: "python exception",
			fake: &fakeRun{
				stderr: "Traceback (most recent call last):\n  File \"<stdin>\", line 1\nNameError: name 'x' is not defined",
				err:    fmt.Errorf("exit status 1"),
			},
			wantSuccess: false,
			wantStderr:  "Traceback (most recent call last):\n  File \"<stdin>\", line 1\nNameError: name 'x' is not defined",
			wantError:   "NameError: name 'x' is not defined",
		},
		{
			name: "ssh noise is stripped",
			fake: &fakeRun{
				stdout: "hello\n",
				stderr: "Warning: Permanently added '10.0.0.5' (ED25519) to the list of known hosts.\n",
			},
			wantSuccess: true,
			wantOutput:  "hello\n",
			wantStderr:  "",
		},
		{
			name: "noise stripped but real stderr kept",
			fake: &fakeRun{
				stdout: "done\n",
				stderr: "Updating project ssh metadata...\nsome real warning\n",
			},
			wantSuccess: true,
			wantOutput:  "done\n",
			wantStderr:  "some real warning",
		},
		{
			name: "failure with empty stderr uses exec error",
			fake: &fakeRun{
				err: fmt.Errorf("exit status 255"),
			},
			wantSuccess: false,
			wantError:   "exit status 255",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExecutor(Config{Host: "10.0.0.5", User: "dev"}, tt.fake)
			e.started = true

			res := e.Execute(context.Background(), "code")
			if res.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", res.Success, tt.wantSuccess)
			}
			if res.Output != tt.wantOutput {
				t.Errorf("Output = %q, want %q", res.Output, tt.wantOutput)
			}
			if res.Stderr != tt.wantStderr {
				t.Errorf("Stderr = %q, want %q", res.Stderr, tt.wantStderr)
			}
			if res.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", res.Error, tt.wantError)
			}
		})
	}
}

func TestExecutor_ExecuteBeforeStart(t *testing.T) {
	e := newTestExecutor(Config{Host: "h", User: "u"}, &fakeRun{})
	res := e.Execute(context.Background(), "print(1)")
	if res.Success {
		t.Error("Success = true, want false")
	}
	if res.Error == "" {
		t.Error("Error is empty, want a message")
	}
}

func TestExecutor_StopIdempotent(t *testing.T) {
	e := newTestExecutor(Config{Host: "h", User: "u"}, &fakeRun{stdout: "ok\n"})

	// Before Start.
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestExecutor_RetainsState(t *testing.T) {
	e := New(Config{Host: "h", User: "u"})
	if e.RetainsState() {
		t.Error("RetainsState() = true, want false")
	}
}

func TestFilterNoise(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   string
	}{
		{name: "empty", stderr: "", want: ""},
		{
			name:   "all noise",
			stderr: "Waiting for SSH key to propagate.\nWARNING: Permanently added host.\n",
			want:   "",
		},
		{
			name:   "mixed",
			stderr: "External IP address was not found; defaulting to using IAP tunneling.\nDeprecationWarning: use x instead\n",
			want:   "DeprecationWarning: use x instead",
		},
		{
			name:   "blank lines dropped",
			stderr: "\n\nreal error\n\n",
			want:   "real error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filterNoise(tt.stderr); got != tt.want {
				t.Errorf("filterNoise(%q) = %q, want %q", tt.stderr, got, tt.want)
			}
		})
	}
}
