// Package observability provides Prometheus metrics for the coderelay
// CLI and an optional metrics endpoint.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// ModelRequestsTotal counts requests sent to the model by outcome.
	ModelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderelay_model_requests_total",
			Help: "Model requests",
		},
		[]string{"model", "status"},
	)

	// ModelLatency records model round-trip latency in seconds.
	ModelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderelay_model_latency_seconds",
			Help:    "Model latency",
			Buckets: LLMBuckets,
		},
		[]string{"model"},
	)

	// ModelTokensTotal counts tokens processed by direction (input/output).
	ModelTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderelay_model_tokens_total",
			Help: "Tokens processed",
		},
		[]string{"model", "direction"},
	)

	// CodeBlocksTotal counts code blocks extracted from model replies.
	CodeBlocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coderelay_code_blocks_total",
			Help: "Extracted code blocks",
		},
	)

	// ExecutionsTotal counts code executions by backend and outcome.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderelay_executions_total",
			Help: "Code executions",
		},
		[]string{"backend", "status"},
	)

	// ExecutionLatency records code execution latency in seconds by backend.
	ExecutionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderelay_execution_latency_seconds",
			Help:    "Execution latency",
			Buckets: LLMBuckets,
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(
		ModelRequestsTotal,
		ModelLatency,
		ModelTokensTotal,
		CodeBlocksTotal,
		ExecutionsTotal,
		ExecutionLatency,
	)
}

// Serve exposes /metrics on addr until ctx is cancelled. Intended to be
// run as a goroutine; serve errors are logged, not returned.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Debug("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("metrics endpoint failed", "error", err.Error())
	}
}
