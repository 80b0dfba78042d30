// Package prompt renders broker prompts on a terminal.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrInterrupted is returned after a read was abandoned on context cancellation.
// The abandoned read still owns the input, so the Terminal cannot be reused.
var ErrInterrupted = errors.New("prompt: terminal interrupted")

type Terminal struct {
	in     *os.File
	fd     int
	reader *bufio.Reader
	out    io.Writer

	interrupted bool
}

func NewTerminal(in *os.File, out io.Writer) *Terminal {
	return &Terminal{
		in:     in,
		fd:     int(in.Fd()),
		reader: bufio.NewReader(in),
		out:    out,
	}
}

type readResult struct {
	line []byte
	err  error
}

// Prompt prints prompt and reads one line. Secret replies are not echoed when
// in is a terminal; on any other input they are read like visible replies.
// Type-ahead already buffered by an earlier prompt is consumed first, so a
// secret reply typed early is taken from the buffer rather than the terminal.
func (t *Terminal) Prompt(ctx context.Context, prompt string, secret bool) ([]byte, error) {
	if t.interrupted {
		return nil, ErrInterrupted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(t.out, prompt); err != nil {
		return nil, fmt.Errorf("prompt: write: %w", err)
	}

	read := t.readLine
	hidden := secret && t.reader.Buffered() == 0 && term.IsTerminal(t.fd)
	var state *term.State
	if hidden {
		var err error
		if state, err = term.GetState(t.fd); err != nil {
			return nil, fmt.Errorf("prompt: terminal state: %w", err)
		}
		read = func() ([]byte, error) { return term.ReadPassword(t.fd) }
	}

	done := make(chan readResult, 1)
	go func() {
		line, err := read()
		done <- readResult{line: line, err: err}
	}()

	select {
	case res := <-done:
		if hidden {
			// ReadPassword swallows the newline the user typed.
			fmt.Fprintln(t.out)
		}
		if res.err != nil {
			return nil, fmt.Errorf("prompt: read: %w", res.err)
		}
		return trimEOL(res.line), nil
	case <-ctx.Done():
		t.interrupted = true
		if state != nil {
			_ = term.Restore(t.fd, state)
		}
		fmt.Fprintln(t.out)
		return nil, ctx.Err()
	}
}

func (t *Terminal) readLine() ([]byte, error) {
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return line, nil
		}
		return nil, err
	}
	return line, nil
}

func (t *Terminal) Show(_ context.Context, message string) error {
	_, err := fmt.Fprintln(t.out, message)
	return err
}

func (t *Terminal) Fail(_ context.Context, message string) error {
	_, err := fmt.Fprintf(t.out, "login failed: %s\n", message)
	return err
}

func trimEOL(line []byte) []byte {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	if n > 0 && line[n-1] == '\r' {
		n--
	}
	return line[:n]
}
