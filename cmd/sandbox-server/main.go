// Command sandbox-server runs an HTTP server inside agent-sandbox pods
// that hosts stateful Python interpreter sessions. Each session owns a
// long-lived interpreter process, so variables and imports persist
// across executions within the session.
//
// Configuration:
//
//	SANDBOX_PORT         - Listen port (default: 8080)
//	SANDBOX_API_KEY      - Required X-API-Key value; empty disables auth
//	SANDBOX_MAX_SESSIONS - Max concurrent sessions (default: 3)
//	SANDBOX_INTERPRETER  - Interpreter binary (default: python3)
//	SANDBOX_OUTPUT_DIR   - Output directory name within the session dir (default: output)
//	SANDBOX_IDLE_TIMEOUT - Idle session reap timeout (default: 10m)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	port := envOr("SANDBOX_PORT", "8080")
	apiKey := envOr("SANDBOX_API_KEY", "")
	maxSessions := envOrInt("SANDBOX_MAX_SESSIONS", 3)
	interpreter := envOr("SANDBOX_INTERPRETER", "python3")
	outputDirName := envOr("SANDBOX_OUTPUT_DIR", "output")
	idleTimeout := envOrDuration("SANDBOX_IDLE_TIMEOUT", 10*time.Minute)

	if _, err := exec.LookPath(interpreter); err != nil {
		slog.Error("interpreter not found in PATH", "interpreter", interpreter)
		os.Exit(1)
	}

	manager := newSessionManager(interpreter, outputDirName, maxSessions)
	srv := &server{
		manager:       manager,
		maxSessions:   maxSessions,
		interpVersion: interpreterVersion(interpreter),
		startTime:     time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", srv.handleCreate)
	mux.HandleFunc("POST /sessions/{id}/execute", srv.handleExecute)
	mux.HandleFunc("DELETE /sessions/{id}", srv.handleDelete)
	mux.HandleFunc("GET /health", srv.handleHealth)

	httpSrv := &http.Server{
		Addr:         ":" + port,
		Handler:      requireAPIKey(apiKey, mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Long timeout for code execution.
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go manager.reapIdle(ctx, time.Minute, idleTimeout)

	go func() {
		slog.Info("sandbox server starting", "port", port, "interpreter", interpreter, "max_sessions", maxSessions, "auth", apiKey != "")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
	manager.closeAll()
}

// requireAPIKey rejects requests whose X-API-Key header does not match.
// An empty key disables the check. GET /health always passes so probes
// work without credentials.
func requireAPIKey(key string, next http.Handler) http.Handler {
	if key == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != key {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Server ---

type server struct {
	manager       *sessionManager
	maxSessions   int
	interpVersion string
	startTime     time.Time
}

// interpreterVersion asks the interpreter for its version string.
func interpreterVersion(interpreter string) string {
	output, err := exec.Command(interpreter, "--version").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(output))
}

type createResponse struct {
	ID string `json:"id"`
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.create()
	if err == errAtCapacity {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error": fmt.Sprintf("at capacity (%d/%d sessions)", s.manager.count(), s.maxSessions),
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session: "+err.Error())
		return
	}

	slog.Info("session created", "session", sess.id, "sessions", s.manager.count())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(createResponse{ID: sess.id})
}

type executeRequest struct {
	Code           string `json:"code"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type executeResponse struct {
	Stdout          string          `json:"stdout"`
	Stderr          string          `json:"stderr"`
	Error           string          `json:"error,omitempty"`
	Results         []executeResult `json:"results,omitempty"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
}

type executeResult struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

func (s *server) handleExecute(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.manager.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var req executeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10*1024*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = 30
	}

	codePreview := req.Code
	if len(codePreview) > 120 {
		codePreview = codePreview[:120] + "..."
	}
	slog.Info("execute request", "session", sess.id, "code", codePreview, "timeout", req.TimeoutSeconds)

	start := time.Now()
	resp, err := sess.execute(req.Code, time.Duration(req.TimeoutSeconds)*time.Second)
	duration := time.Since(start)

	if err != nil {
		// The driver is gone; the session with it.
		s.manager.remove(sess.id)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(executeResponse{
			Error:           err.Error(),
			ExecutionTimeMs: duration.Milliseconds(),
		})
		return
	}

	out := executeResponse{
		Stdout:          resp.Stdout,
		Stderr:          resp.Stderr,
		Error:           resp.Error,
		ExecutionTimeMs: duration.Milliseconds(),
	}
	for _, res := range resp.Results {
		out.Results = append(out.Results, executeResult{
			Name:     res.Name,
			MIMEType: mimeTypeFor(res.Name),
			Data:     res.Data,
		})
	}

	slog.Info("execute complete",
		"session", sess.id,
		"ok", resp.Error == "",
		"duration_ms", duration.Milliseconds(),
		"stdout_len", len(resp.Stdout),
		"results", len(out.Results),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	// Deleting an unknown session succeeds so teardown can be retried.
	s.manager.remove(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status      string `json:"status"`
	Interpreter string `json:"interpreter_version"`
	Sessions    int    `json:"sessions"`
	Capacity    int    `json:"capacity"`
	UptimeSecs  int64  `json:"uptime_seconds"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:      "healthy",
		Interpreter: s.interpVersion,
		Sessions:    s.manager.count(),
		Capacity:    s.maxSessions,
		UptimeSecs:  int64(time.Since(s.startTime).Seconds()),
	})
}

// --- Helpers ---

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}

func envOrDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
