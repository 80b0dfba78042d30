package prompt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/danmuck/greeter/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
	xterm "golang.org/x/term"
)

func pipeTerminal(t *testing.T) (*Terminal, *os.File, *bytes.Buffer) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = w.Close()
		_ = r.Close()
	})
	var out bytes.Buffer
	return NewTerminal(r, &out), w, &out
}

func TestPromptReadsVisibleLine(t *testing.T) {
	testlog.Start(t)
	term, w, out := pipeTerminal(t)
	_, err := io.WriteString(w, "alice\r\n")
	require.NoError(t, err)

	got, err := term.Prompt(context.Background(), "login: ", false)
	require.NoError(t, err)
	require.Equal(t, "alice", string(got))
	require.Equal(t, "login: ", out.String())
}

func TestSecretPromptWithoutTTYReadsLine(t *testing.T) {
	testlog.Start(t)
	term, w, _ := pipeTerminal(t)
	_, err := io.WriteString(w, "correct horse \n")
	require.NoError(t, err)

	got, err := term.Prompt(context.Background(), "Password: ", true)
	require.NoError(t, err)
	require.Equal(t, "correct horse ", string(got))
}

func TestPromptLastLineWithoutNewline(t *testing.T) {
	testlog.Start(t)
	term, w, _ := pipeTerminal(t)
	_, err := io.WriteString(w, "alice\nbob")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := term.Prompt(context.Background(), "", false)
	require.NoError(t, err)
	require.Equal(t, "alice", string(got))
	got, err = term.Prompt(context.Background(), "", false)
	require.NoError(t, err)
	require.Equal(t, "bob", string(got))

	_, err = term.Prompt(context.Background(), "", false)
	require.ErrorIs(t, err, io.EOF)
}

func TestPromptInterruptedByContext(t *testing.T) {
	testlog.Start(t)
	term, w, _ := pipeTerminal(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := term.Prompt(ctx, "Password: ", true)
	require.ErrorIs(t, err, context.Canceled)

	_, err = term.Prompt(context.Background(), "Password: ", true)
	require.True(t, errors.Is(err, ErrInterrupted))

	// Release the abandoned reader.
	_, err = io.WriteString(w, "late\n")
	require.NoError(t, err)
}

func TestPromptDoneContextSkipsOutput(t *testing.T) {
	testlog.Start(t)
	term, _, out := pipeTerminal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := term.Prompt(ctx, "login: ", false)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, out.String())
}

func TestSecretPromptOnTTYDisablesEcho(t *testing.T) {
	testlog.Start(t)
	ptmx, tty, err := pty.Open()
	require.NoError(t, err)
	defer ptmx.Close()
	defer tty.Close()

	var out bytes.Buffer
	term := NewTerminal(tty, &out)
	_, err = ptmx.Write([]byte("hunter2\n"))
	require.NoError(t, err)

	got, err := term.Prompt(context.Background(), "Password: ", true)
	require.NoError(t, err)
	require.Equal(t, "hunter2", string(got))
	require.Equal(t, "Password: \n", out.String())
}

func TestVisiblePromptOnTTY(t *testing.T) {
	testlog.Start(t)
	ptmx, tty, err := pty.Open()
	require.NoError(t, err)
	defer ptmx.Close()
	defer tty.Close()

	term := NewTerminal(tty, io.Discard)
	_, err = ptmx.Write([]byte("alice\n"))
	require.NoError(t, err)

	got, err := term.Prompt(context.Background(), "login: ", false)
	require.NoError(t, err)
	require.Equal(t, "alice", string(got))
}

func TestShowAndFail(t *testing.T) {
	testlog.Start(t)
	term, _, out := pipeTerminal(t)
	require.NoError(t, term.Show(context.Background(), "Welcome"))
	require.NoError(t, term.Fail(context.Background(), "Authentication failed"))
	require.Equal(t, "Welcome\nlogin failed: Authentication failed\n", out.String())
}

func TestSecretPromptUsesBufferedTypeAhead(t *testing.T) {
	testlog.Start(t)
	ptmx, tty, err := pty.Open()
	require.NoError(t, err)
	defer ptmx.Close()
	defer tty.Close()

	// Raw mode lets one read return both lines, as with fast type-ahead.
	state, err := xterm.MakeRaw(int(tty.Fd()))
	require.NoError(t, err)
	defer xterm.Restore(int(tty.Fd()), state)

	term := NewTerminal(tty, io.Discard)
	_, err = ptmx.Write([]byte("alice\nhunter2\n"))
	require.NoError(t, err)

	got, err := term.Prompt(context.Background(), "login: ", false)
	require.NoError(t, err)
	require.Equal(t, "alice", string(got))
	require.Positive(t, term.reader.Buffered())

	got, err = term.Prompt(context.Background(), "Password: ", true)
	require.NoError(t, err)
	require.Equal(t, "hunter2", string(got))
}
