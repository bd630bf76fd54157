// Package chat drives the interactive conversation loop: it relays user
// prompts to the model, extracts code blocks from replies, and runs them
// through an executor.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hamidomar/coderelay/pkg/executor"
	"github.com/hamidomar/coderelay/pkg/extract"
	"github.com/hamidomar/coderelay/pkg/model"
	"github.com/hamidomar/coderelay/pkg/observability"
)

// quitTokens end the conversation when entered on their own (case-insensitive).
var quitTokens = map[string]bool{
	"quit": true,
	"exit": true,
	"q":    true,
}

// Options configures a Loop.
type Options struct {
	// Generation holds sampling parameters forwarded on every model call.
	Generation model.GenerationConfig

	// ErrorFeedback, when set, sends one repair prompt back to the model
	// after a failed code block. Blocks from the repair reply run without
	// a further feedback round.
	ErrorFeedback bool

	// Backend names the executor backend for metrics and display.
	Backend string

	// ModelName labels model metrics.
	ModelName string
}

// Loop is the conversational session. One Loop owns one model chat
// session and one started executor.
type Loop struct {
	client model.Client
	exec   executor.Executor
	ui     UI
	opts   Options
}

// New creates a Loop. The executor must already be started.
func New(client model.Client, exec executor.Executor, ui UI, opts Options) *Loop {
	return &Loop{
		client: client,
		exec:   exec,
		ui:     ui,
		opts:   opts,
	}
}

// Run reads prompts until a quit token, EOF, or context cancellation.
// A model error ends only the current turn; the next prompt sees the
// conversation exactly as it was before the failed turn.
func (l *Loop) Run(ctx context.Context) error {
	session := l.client.StartChat(nil)

	if l.exec.RetainsState() {
		l.ui.Print("Connected. Interpreter state persists across code blocks.")
	} else {
		l.ui.Print("Connected. Each code block runs in a fresh interpreter.")
	}

	for {
		input, err := l.ui.Prompt(ctx)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, ErrInterrupted):
			return nil
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			return fmt.Errorf("read prompt: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if quitTokens[strings.ToLower(input)] {
			return nil
		}

		reply, err := l.sendToModel(ctx, session, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// The session rolls the failed turn back itself; just report.
			l.ui.Print(fmt.Sprintf("Model error: %v", err))
			continue
		}
		l.ui.Print(reply)

		l.runBlocks(ctx, session, reply, l.opts.ErrorFeedback)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// runBlocks extracts and executes every code block in reply, in order.
// A failing block never stops the remaining ones.
func (l *Loop) runBlocks(ctx context.Context, session model.Chat, reply string, feedback bool) {
	blocks := extract.CodeBlocks(reply)
	if len(blocks) == 0 {
		return
	}
	observability.CodeBlocksTotal.Add(float64(len(blocks)))

	for i, block := range blocks {
		if ctx.Err() != nil {
			return
		}
		res := l.execute(ctx, block)
		l.ui.PrintResult(i+1, len(blocks), res)

		if !res.Success && feedback {
			l.repair(ctx, session, res)
		}
	}
}

// repair sends the execution error back to the model once and runs any
// blocks from the repair reply, with no further feedback round.
func (l *Loop) repair(ctx context.Context, session model.Chat, res *executor.Result) {
	prompt := fmt.Sprintf("The code failed with this error:\n%s\nPlease provide a corrected version.", res.Error)
	reply, err := l.sendToModel(ctx, session, prompt)
	if err != nil {
		if ctx.Err() == nil {
			l.ui.Print(fmt.Sprintf("Model error: %v", err))
		}
		return
	}
	l.ui.Print(reply)
	l.runBlocks(ctx, session, reply, false)
}

func (l *Loop) sendToModel(ctx context.Context, session model.Chat, text string) (string, error) {
	start := time.Now()
	reply, err := session.SendMessage(ctx, text, l.opts.Generation)
	observability.ModelLatency.WithLabelValues(l.opts.ModelName).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ModelRequestsTotal.WithLabelValues(l.opts.ModelName, "error").Inc()
		return "", err
	}
	observability.ModelRequestsTotal.WithLabelValues(l.opts.ModelName, "success").Inc()
	return reply, nil
}

func (l *Loop) execute(ctx context.Context, code string) *executor.Result {
	start := time.Now()
	res := l.exec.Execute(ctx, code)
	observability.ExecutionLatency.WithLabelValues(l.opts.Backend).Observe(time.Since(start).Seconds())

	status := "success"
	if !res.Success {
		status = "error"
	}
	observability.ExecutionsTotal.WithLabelValues(l.opts.Backend, status).Inc()
	slog.Debug("code block executed", "backend", l.opts.Backend, "success", res.Success)
	return res
}
