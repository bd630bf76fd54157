package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/mattn/go-isatty"

	"github.com/hamidomar/coderelay/pkg/executor"
)

// ErrInterrupted is returned by Prompt when the user aborts the prompt
// (Ctrl-C on an interactive terminal).
var ErrInterrupted = errors.New("prompt interrupted")

// UI is the terminal surface of the conversation loop.
type UI interface {
	// Prompt blocks until the user enters a line, the input stream ends
	// (io.EOF), the prompt is aborted (ErrInterrupted), or ctx is done.
	Prompt(ctx context.Context) (string, error)

	// Print shows a model reply or status line.
	Print(text string)

	// PrintResult shows the outcome of one executed code block.
	PrintResult(index, total int, res *executor.Result)
}

// StdioUI reads prompts from stdin and writes to stdout. On a terminal
// it uses an interactive line prompt; otherwise it falls back to plain
// line reading so the CLI stays scriptable.
type StdioUI struct {
	out    io.Writer
	reader *bufio.Reader
	tty    bool
}

// NewStdioUI builds a UI on os.Stdin/os.Stdout. Interactive prompting
// is used only when stdin is a terminal and tty is true.
func NewStdioUI(tty bool) *StdioUI {
	return &StdioUI{
		out:    os.Stdout,
		reader: bufio.NewReader(os.Stdin),
		tty:    tty && (isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())),
	}
}

type promptResult struct {
	line string
	err  error
}

func (u *StdioUI) Prompt(ctx context.Context) (string, error) {
	ch := make(chan promptResult, 1)
	go func() {
		line, err := u.readLine()
		ch <- promptResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.line, r.err
	}
}

func (u *StdioUI) readLine() (string, error) {
	if u.tty {
		var line string
		err := survey.AskOne(&survey.Input{Message: "You:"}, &line)
		if errors.Is(err, terminal.InterruptErr) {
			return "", ErrInterrupted
		}
		return line, err
	}

	line, err := u.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return line, nil
		}
		return "", err
	}
	return line, nil
}

func (u *StdioUI) Print(text string) {
	fmt.Fprintln(u.out, text)
}

func (u *StdioUI) PrintResult(index, total int, res *executor.Result) {
	var b strings.Builder
	if total > 1 {
		fmt.Fprintf(&b, "[block %d/%d] ", index, total)
	}
	if res.Success {
		b.WriteString("execution succeeded")
	} else {
		b.WriteString("execution failed")
	}
	b.WriteString("\n")

	if res.Output != "" {
		b.WriteString(res.Output)
		if !strings.HasSuffix(res.Output, "\n") {
			b.WriteString("\n")
		}
	}
	if res.Stderr != "" {
		fmt.Fprintf(&b, "stderr: %s\n", strings.TrimRight(res.Stderr, "\n"))
	}
	if !res.Success && res.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", res.Error)
	}
	for _, r := range res.Results {
		fmt.Fprintf(&b, "produced %s (%s, %d bytes)\n", r.Name, r.MIMEType, len(r.Data))
	}
	fmt.Fprint(u.out, b.String())
}
