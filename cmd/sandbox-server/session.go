package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// driverScript is the Python program that owns a session's interpreter
// state. It reads one JSON request per line on stdin, executes the code
// in a shared namespace, and writes one JSON response per line on
// stdout. Files dropped into OUTPUT_DIR between requests are returned
// base64-encoded and then removed.
const driverScript = `
import base64, contextlib, io, json, os, sys, traceback

ns = {"__name__": "__main__"}
out_dir = os.environ.get("OUTPUT_DIR", "")

for line in sys.stdin:
    req = json.loads(line)
    stdout, stderr = io.StringIO(), io.StringIO()
    error = ""
    try:
        with contextlib.redirect_stdout(stdout), contextlib.redirect_stderr(stderr):
            exec(compile(req["code"], "<session>", "exec"), ns)
    except BaseException:
        error = traceback.format_exc()
    results = []
    if out_dir and os.path.isdir(out_dir):
        for name in sorted(os.listdir(out_dir)):
            path = os.path.join(out_dir, name)
            if not os.path.isfile(path):
                continue
            with open(path, "rb") as f:
                results.append({"name": name, "data": base64.b64encode(f.read()).decode()})
            os.remove(path)
    print(json.dumps({
        "stdout": stdout.getvalue(),
        "stderr": stderr.getvalue(),
        "error": error,
        "results": results,
    }), flush=True)
`

// driverRequest is one line sent to the driver.
type driverRequest struct {
	Code string `json:"code"`
}

// driverResponse is one line read back from the driver.
type driverResponse struct {
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Error   string `json:"error"`
	Results []struct {
		Name string `json:"name"`
		Data string `json:"data"`
	} `json:"results"`
}

// session owns one driver process. Executions on a session are
// serialized; interpreter state lives in the driver.
type session struct {
	id      string
	tmpDir  string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner

	mu       sync.Mutex
	lastUsed time.Time
	dead     bool
}

// newSession starts a driver process with its own working directory.
func newSession(interpreter, outputDirName string) (*session, error) {
	tmpDir, err := os.MkdirTemp("", "sandbox-session-*")
	if err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	outputDir := filepath.Join(tmpDir, outputDirName)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	cmd := exec.Command(interpreter, "-u", "-c", driverScript)
	cmd.Dir = tmpDir
	cmd.Env = append(os.Environ(), "OUTPUT_DIR="+outputDir)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("driver stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("driver stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("start driver: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 32*1024*1024) // Responses carry base64 file payloads.

	return &session{
		id:       uuid.NewString(),
		tmpDir:   tmpDir,
		cmd:      cmd,
		stdin:    stdin,
		scanner:  scanner,
		lastUsed: time.Now(),
	}, nil
}

// execute runs one code block in the session's interpreter. A driver
// that does not answer within the timeout is killed and the session is
// marked dead.
func (s *session) execute(code string, timeout time.Duration) (*driverResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dead {
		return nil, fmt.Errorf("session is dead")
	}
	s.lastUsed = time.Now()

	line, err := json.Marshal(driverRequest{Code: code})
	if err != nil {
		return nil, fmt.Errorf("marshal driver request: %w", err)
	}
	if _, err := s.stdin.Write(append(line, '\n')); err != nil {
		s.killLocked()
		return nil, fmt.Errorf("write to driver: %w", err)
	}

	type scanResult struct {
		resp *driverResponse
		err  error
	}
	ch := make(chan scanResult, 1)
	go func() {
		if !s.scanner.Scan() {
			err := s.scanner.Err()
			if err == nil {
				err = io.EOF
			}
			ch <- scanResult{err: fmt.Errorf("driver exited: %w", err)}
			return
		}
		var resp driverResponse
		if err := json.Unmarshal(s.scanner.Bytes(), &resp); err != nil {
			ch <- scanResult{err: fmt.Errorf("decode driver response: %w", err)}
			return
		}
		ch <- scanResult{resp: &resp}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			s.killLocked()
			return nil, r.err
		}
		s.lastUsed = time.Now()
		return r.resp, nil
	case <-timer.C:
		s.killLocked()
		return nil, fmt.Errorf("execution timed out after %s", timeout)
	}
}

// close tears the session down. Safe to call more than once.
func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
}

func (s *session) killLocked() {
	if s.dead {
		return
	}
	s.dead = true
	s.stdin.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	go s.cmd.Wait() // Reap without blocking the caller.
	os.RemoveAll(s.tmpDir)
}

// idleSince reports whether the session has been unused for at least d.
func (s *session) idleSince(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastUsed) >= d
}

// sessionManager tracks live sessions and enforces the capacity limit.
type sessionManager struct {
	interpreter   string
	outputDirName string
	maxSessions   int

	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionManager(interpreter, outputDirName string, maxSessions int) *sessionManager {
	return &sessionManager{
		interpreter:   interpreter,
		outputDirName: outputDirName,
		maxSessions:   maxSessions,
		sessions:      make(map[string]*session),
	}
}

// errAtCapacity is returned by create when maxSessions is reached.
var errAtCapacity = fmt.Errorf("at capacity")

func (m *sessionManager) create() (*session, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, errAtCapacity
	}
	m.mu.Unlock()

	// The process start is slow, so the capacity check runs again under
	// the lock once the session exists.

	s, err := newSession(m.interpreter, m.outputDirName)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.maxSessions {
		s.close()
		return nil, errAtCapacity
	}
	m.sessions[s.id] = s
	return s, nil
}

func (m *sessionManager) get(id string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// remove closes and forgets a session. Removing an unknown id is a no-op.
func (m *sessionManager) remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.close()
	}
}

func (m *sessionManager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// closeAll tears down every session, for shutdown.
func (m *sessionManager) closeAll() {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()
	for _, s := range all {
		s.close()
	}
}

// reapIdle closes sessions unused for longer than idleTimeout, checking
// every interval, until ctx is done.
func (m *sessionManager) reapIdle(ctx context.Context, interval, idleTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			var stale []string
			for id, s := range m.sessions {
				if s.idleSince(idleTimeout) {
					stale = append(stale, id)
				}
			}
			m.mu.Unlock()
			for _, id := range stale {
				m.remove(id)
			}
		}
	}
}

// mimeTypeFor guesses a MIME type from a file name.
func mimeTypeFor(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
