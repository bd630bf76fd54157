package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/hamidomar/coderelay/pkg/executor"
	"github.com/hamidomar/coderelay/pkg/model"
)

// scriptedUI feeds canned inputs and records everything printed.
type scriptedUI struct {
	inputs  []string
	printed []string
	results []*executor.Result
}

func (u *scriptedUI) Prompt(_ context.Context) (string, error) {
	if len(u.inputs) == 0 {
		return "", io.EOF
	}
	in := u.inputs[0]
	u.inputs = u.inputs[1:]
	return in, nil
}

func (u *scriptedUI) Print(text string) {
	u.printed = append(u.printed, text)
}

func (u *scriptedUI) PrintResult(_, _ int, res *executor.Result) {
	u.results = append(u.results, res)
}

// fakeClient replies from a queue; an entry with err set fails that call.
type fakeClient struct {
	replies []fakeReply
	sent    []string
}

type fakeReply struct {
	text string
	err  error
}

func (c *fakeClient) StartChat(_ []model.Turn) model.Chat { return &fakeChat{client: c} }
func (c *fakeClient) Close() error                        { return nil }

type fakeChat struct {
	client *fakeClient
}

func (s *fakeChat) SendMessage(_ context.Context, text string, _ model.GenerationConfig) (string, error) {
	s.client.sent = append(s.client.sent, text)
	if len(s.client.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := s.client.replies[0]
	s.client.replies = s.client.replies[1:]
	if r.err != nil {
		return "", r.err
	}
	return r.text, nil
}

// fakeExecutor returns a canned result per code block, in order.
type fakeExecutor struct {
	results  []*executor.Result
	executed []string
	retains  bool
}

func (e *fakeExecutor) Start(_ context.Context) error { return nil }
func (e *fakeExecutor) Stop() error                   { return nil }
func (e *fakeExecutor) RetainsState() bool            { return e.retains }

func (e *fakeExecutor) Execute(_ context.Context, code string) *executor.Result {
	e.executed = append(e.executed, code)
	if len(e.results) == 0 {
		return &executor.Result{Success: true}
	}
	r := e.results[0]
	e.results = e.results[1:]
	return r
}

func run(t *testing.T, client *fakeClient, exec *fakeExecutor, ui *scriptedUI, opts Options) {
	t.Helper()
	if err := New(client, exec, ui, opts).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestLoop_QuitWithoutModelCall(t *testing.T) {
	for _, token := range []string{"quit", "exit", "q", "QUIT", "  Exit  "} {
		t.Run(token, func(t *testing.T) {
			client := &fakeClient{}
			ui := &scriptedUI{inputs: []string{token}}
			run(t, client, &fakeExecutor{}, ui, Options{})

			if len(client.sent) != 0 {
				t.Errorf("model was called %d times, want 0", len(client.sent))
			}
		})
	}
}

func TestLoop_EOFEndsSession(t *testing.T) {
	client := &fakeClient{}
	run(t, client, &fakeExecutor{}, &scriptedUI{}, Options{})
	if len(client.sent) != 0 {
		t.Errorf("model was called %d times, want 0", len(client.sent))
	}
}

func TestLoop_EmptyInputSkipped(t *testing.T) {
	client := &fakeClient{replies: []fakeReply{{text: "hi"}}}
	ui := &scriptedUI{inputs: []string{"", "   ", "hello", "quit"}}
	run(t, client, &fakeExecutor{}, ui, Options{})

	if len(client.sent) != 1 || client.sent[0] != "hello" {
		t.Errorf("sent = %v, want [hello]", client.sent)
	}
}

func TestLoop_ReplyWithoutCodeIsJustPrinted(t *testing.T) {
	client := &fakeClient{replies: []fakeReply{{text: "The answer is 4."}}}
	exec := &fakeExecutor{}
	ui := &scriptedUI{inputs: []string{"what is 2+2", "quit"}}
	run(t, client, exec, ui, Options{})

	if len(exec.executed) != 0 {
		t.Errorf("executed %d blocks, want 0", len(exec.executed))
	}
	found := false
	for _, p := range ui.printed {
		if p == "The answer is 4." {
			found = true
		}
	}
	if !found {
		t.Errorf("reply was not printed; printed = %v", ui.printed)
	}
}

func TestLoop_BlocksRunInOrder(t *testing.T) {
	reply := "First:\n```python\na = 1\n```\nthen:\n```\nprint(a)\n```"
	client := &fakeClient{replies: []fakeReply{{text: reply}}}
	exec := &fakeExecutor{}
	ui := &scriptedUI{inputs: []string{"do it", "quit"}}
	run(t, client, exec, ui, Options{})

	want := []string{"a = 1\n", "print(a)\n"}
	if len(exec.executed) != len(want) {
		t.Fatalf("executed = %v, want %v", exec.executed, want)
	}
	for i := range want {
		if exec.executed[i] != want[i] {
			t.Errorf("executed[%d] = %q, want %q", i, exec.executed[i], want[i])
		}
	}
}

func TestLoop_FailingBlockDoesNotStopTheRest(t *testing.T) {
	reply := "```python\nboom()\n```\n```python\nprint('still here')\n```"
	client := &fakeClient{replies: []fakeReply{{text: reply}}}
	exec := &fakeExecutor{results: []*executor.Result{
		{Success: false, Error: "NameError: boom"},
		{Success: true, Output: "still here\n"},
	}}
	ui := &scriptedUI{inputs: []string{"go", "quit"}}
	run(t, client, exec, ui, Options{})

	if len(exec.executed) != 2 {
		t.Fatalf("executed %d blocks, want 2", len(exec.executed))
	}
	if len(ui.results) != 2 {
		t.Fatalf("printed %d results, want 2", len(ui.results))
	}
	if ui.results[0].Success || !ui.results[1].Success {
		t.Errorf("result success = %v,%v, want false,true", ui.results[0].Success, ui.results[1].Success)
	}
}

func TestLoop_ModelErrorEndsOnlyTheTurn(t *testing.T) {
	client := &fakeClient{replies: []fakeReply{
		{err: &model.Error{StatusCode: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}},
		{text: "recovered"},
	}}
	ui := &scriptedUI{inputs: []string{"first", "second", "quit"}}
	run(t, client, &fakeExecutor{}, ui, Options{})

	if len(client.sent) != 2 {
		t.Fatalf("sent = %v, want two prompts", client.sent)
	}

	var sawError, sawRecovery bool
	for _, p := range ui.printed {
		if strings.Contains(p, "Model error") {
			sawError = true
		}
		if p == "recovered" {
			sawRecovery = true
		}
	}
	if !sawError {
		t.Error("model error was not reported")
	}
	if !sawRecovery {
		t.Error("loop did not continue after the model error")
	}
}

func TestLoop_ErrorFeedback(t *testing.T) {
	failing := "```python\nboom()\n```"
	repaired := "My fix:\n```python\nprint('fixed')\n```"

	t.Run("disabled by default", func(t *testing.T) {
		client := &fakeClient{replies: []fakeReply{{text: failing}}}
		exec := &fakeExecutor{results: []*executor.Result{{Success: false, Error: "NameError"}}}
		ui := &scriptedUI{inputs: []string{"go", "quit"}}
		run(t, client, exec, ui, Options{})

		if len(client.sent) != 1 {
			t.Errorf("sent = %v, want only the user prompt", client.sent)
		}
	})

	t.Run("one repair round", func(t *testing.T) {
		client := &fakeClient{replies: []fakeReply{{text: failing}, {text: repaired}}}
		exec := &fakeExecutor{results: []*executor.Result{
			{Success: false, Error: "NameError: name 'boom' is not defined"},
			{Success: true, Output: "fixed\n"},
		}}
		ui := &scriptedUI{inputs: []string{"go", "quit"}}
		run(t, client, exec, ui, Options{ErrorFeedback: true})

		if len(client.sent) != 2 {
			t.Fatalf("sent = %v, want user prompt plus one repair prompt", client.sent)
		}
		if !strings.Contains(client.sent[1], "NameError") {
			t.Errorf("repair prompt %q does not carry the error", client.sent[1])
		}
		if len(exec.executed) != 2 {
			t.Errorf("executed %d blocks, want 2", len(exec.executed))
		}
	})

	t.Run("repair failure does not trigger another round", func(t *testing.T) {
		client := &fakeClient{replies: []fakeReply{{text: failing}, {text: failing}}}
		exec := &fakeExecutor{results: []*executor.Result{
			{Success: false, Error: "NameError"},
			{Success: false, Error: "NameError"},
		}}
		ui := &scriptedUI{inputs: []string{"go", "quit"}}
		run(t, client, exec, ui, Options{ErrorFeedback: true})

		// User prompt plus exactly one repair prompt, never a second.
		if len(client.sent) != 2 {
			t.Errorf("sent %d prompts, want 2: %v", len(client.sent), client.sent)
		}
	})
}

func TestLoop_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{}
	blocked := &blockingUI{}
	err := New(client, &fakeExecutor{}, blocked, Options{}).Run(ctx)
	if err != nil {
		t.Fatalf("Run after cancel: %v", err)
	}
}

// blockingUI never produces input; Prompt honors ctx like the real UI.
type blockingUI struct{}

func (u *blockingUI) Prompt(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (u *blockingUI) Print(string) {}

func (u *blockingUI) PrintResult(int, int, *executor.Result) {}

func TestStdioUI_PrintResult(t *testing.T) {
	var out strings.Builder
	ui := &StdioUI{out: &out}

	ui.PrintResult(1, 2, &executor.Result{
		Success: false,
		Output:  "partial\n",
		Stderr:  "Traceback...\n",
		Error:   "ZeroDivisionError: division by zero",
	})

	got := out.String()
	for _, want := range []string{
		"[block 1/2]",
		"execution failed",
		"partial",
		"stderr: Traceback...",
		"error: ZeroDivisionError: division by zero",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}

func TestStdioUI_PrintResultRichOutputs(t *testing.T) {
	var out strings.Builder
	ui := &StdioUI{out: &out}

	ui.PrintResult(1, 1, &executor.Result{
		Success: true,
		Results: []executor.RichOutput{
			{Name: "plot.png", MIMEType: "image/png", Data: make([]byte, 5)},
		},
	})

	if !strings.Contains(out.String(), fmt.Sprintf("produced plot.png (image/png, %d bytes)", 5)) {
		t.Errorf("output %q missing rich output line", out.String())
	}
}
