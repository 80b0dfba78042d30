package greeter

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/greeter/internal/auth"
	"github.com/danmuck/greeter/internal/broker"
	"github.com/danmuck/greeter/internal/protocol"
	"github.com/danmuck/greeter/internal/protocol/session"
	"github.com/danmuck/greeter/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type scriptedPrompter struct {
	replies  []string
	prompts  []string
	messages []string
	failures []string
	err      error
}

func (p *scriptedPrompter) Prompt(_ context.Context, prompt string, secret bool) ([]byte, error) {
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	return []byte(reply), nil
}

func (p *scriptedPrompter) Show(_ context.Context, message string) error {
	p.messages = append(p.messages, message)
	return nil
}

func (p *scriptedPrompter) Fail(_ context.Context, message string) error {
	p.failures = append(p.failures, message)
	return nil
}

type startCall struct {
	user string
	cmd  []string
	env  []string
}

// stubBroker serves every dialed connection from an in-process broker.
type stubBroker struct {
	srv   *broker.Server
	wg    sync.WaitGroup
	mu    sync.Mutex
	dials int
	calls []startCall
}

func newStubBroker(banner string) *stubBroker {
	b := &stubBroker{}
	b.srv = &broker.Server{
		Auth:   auth.StaticPasswords{"alice": "hunter2"},
		Prompt: "Password: ",
		Banner: banner,
		OnStart: func(user string, cmd, env []string) error {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.calls = append(b.calls, startCall{user: user, cmd: cmd, env: env})
			return nil
		},
	}
	return b
}

func (b *stubBroker) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	client, server := net.Pipe()
	b.mu.Lock()
	b.dials++
	b.mu.Unlock()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		// The runner may hang up before reading the last reply.
		_ = b.srv.ServeConn(context.Background(), server)
	}()
	return client, nil
}

func (b *stubBroker) wait(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stub broker connections did not finish")
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.User = "alice"
	cfg.Command = []string{"sway"}
	cfg.Env = []string{"XDG_SESSION_TYPE=wayland"}
	return cfg
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func TestRunStartsSessionOnFirstAttempt(t *testing.T) {
	testlog.Start(t)
	stub := newStubBroker("Welcome")
	prompter := &scriptedPrompter{replies: []string{"hunter2"}}
	var sleeps sleepRecorder

	runner, err := NewRunner(testConfig(), stub.dial, prompter, WithSleep(sleeps.sleep))
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background()))
	stub.wait(t)

	require.Equal(t, []string{"Welcome"}, prompter.messages)
	require.Equal(t, []string{"Password: "}, prompter.prompts)
	require.Empty(t, prompter.failures)
	require.Empty(t, sleeps.delays)
	require.Zero(t, runner.FailedAttempts())
	require.Equal(t, []startCall{{user: "alice", cmd: []string{"sway"}, env: []string{"XDG_SESSION_TYPE=wayland"}}}, stub.calls)
}

func TestRunRetriesAfterAuthFailure(t *testing.T) {
	testlog.Start(t)
	stub := newStubBroker("")
	prompter := &scriptedPrompter{replies: []string{"wrong", "hunter2"}}
	var sleeps sleepRecorder

	cfg := testConfig()
	cfg.Backoff.Jitter = false
	runner, err := NewRunner(cfg, stub.dial, prompter, WithSleep(sleeps.sleep))
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background()))
	stub.wait(t)

	require.Equal(t, 2, stub.dials)
	require.Equal(t, []string{"Authentication failed"}, prompter.failures)
	require.Equal(t, []time.Duration{cfg.Backoff.InitialDelay}, sleeps.delays)
	require.Equal(t, uint32(1), runner.FailedAttempts())
	require.Len(t, stub.calls, 1)
}

func TestRunLocksOutAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	stub := newStubBroker("")
	prompter := &scriptedPrompter{replies: []string{"a", "b", "c"}}
	var sleeps sleepRecorder

	cfg := testConfig()
	cfg.MaxAttempts = 2
	runner, err := NewRunner(cfg, stub.dial, prompter, WithSleep(sleeps.sleep))
	require.NoError(t, err)

	err = runner.Run(context.Background())
	stub.wait(t)
	require.ErrorIs(t, err, ErrLockedOut)
	require.ErrorIs(t, err, session.ErrAuthenticationFailed)
	var authErr *session.AuthFailedError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, protocol.ErrorTypeAuth, authErr.ErrorType)

	require.Equal(t, uint32(2), runner.FailedAttempts())
	require.Len(t, prompter.failures, 2)
	require.Len(t, sleeps.delays, 1)
	require.Equal(t, []string{"c"}, prompter.replies)
	require.Empty(t, stub.calls)
}

func TestRunReturnsDialError(t *testing.T) {
	testlog.Start(t)
	dialErr := errors.New("connection refused")
	prompter := &scriptedPrompter{}
	runner, err := NewRunner(testConfig(), func(context.Context) (io.ReadWriteCloser, error) {
		return nil, dialErr
	}, prompter)
	require.NoError(t, err)

	require.ErrorIs(t, runner.Run(context.Background()), dialErr)
	require.Empty(t, prompter.prompts)
}

func TestRunAbortsOnPrompterError(t *testing.T) {
	testlog.Start(t)
	stub := newStubBroker("")
	prompter := &scriptedPrompter{err: errors.New("tty gone")}
	runner, err := NewRunner(testConfig(), stub.dial, prompter)
	require.NoError(t, err)

	err = runner.Run(context.Background())
	stub.wait(t)
	require.ErrorContains(t, err, "tty gone")
	require.Equal(t, 1, stub.dials)
	require.Empty(t, stub.calls)
}

func TestRunStopsWhenBackoffIsCancelled(t *testing.T) {
	testlog.Start(t)
	stub := newStubBroker("")
	prompter := &scriptedPrompter{replies: []string{"wrong"}}
	ctx, cancel := context.WithCancel(context.Background())
	runner, err := NewRunner(testConfig(), stub.dial, prompter, WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}))
	require.NoError(t, err)

	require.ErrorIs(t, runner.Run(ctx), context.Canceled)
	stub.wait(t)
	require.Equal(t, 1, stub.dials)
}

func TestUnixDialerWrapsTransportError(t *testing.T) {
	testlog.Start(t)
	dial := UnixDialer("/nonexistent/greetd.sock", time.Second)
	_, err := dial(context.Background())
	require.ErrorIs(t, err, protocol.ErrTransport)
}

func TestNewRunnerValidatesConfig(t *testing.T) {
	testlog.Start(t)
	prompter := &scriptedPrompter{}
	stub := newStubBroker("")

	cfg := testConfig()
	cfg.User = " "
	_, err := NewRunner(cfg, stub.dial, prompter)
	require.ErrorIs(t, err, ErrUserRequired)

	cfg = testConfig()
	cfg.Command = nil
	_, err = NewRunner(cfg, stub.dial, prompter)
	require.ErrorIs(t, err, ErrCommandRequired)

	cfg = testConfig()
	cfg.MaxAttempts = -1
	_, err = NewRunner(cfg, stub.dial, prompter)
	require.Error(t, err)

	_, err = NewRunner(testConfig(), nil, prompter)
	require.Error(t, err)
	_, err = NewRunner(testConfig(), stub.dial, nil)
	require.Error(t, err)
}

func TestResultLabel(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, "prompt", resultLabel(session.PromptForInput("p", true), nil))
	require.Equal(t, "auth_failed", resultLabel(session.Action{}, &session.AuthFailedError{ErrorType: protocol.ErrorTypeAuth}))
	require.Equal(t, "missing_data", resultLabel(session.Action{}, session.ErrMissingData))
	require.Equal(t, "fatal", resultLabel(session.Action{}, protocol.ErrTransport))
	require.Equal(t, "error", resultLabel(session.Action{}, errors.New("other")))
}

func TestRunRoundTripTimeoutBreaksSilentBroker(t *testing.T) {
	testlog.Start(t)
	var wg sync.WaitGroup
	defer wg.Wait()
	dial := func(context.Context) (io.ReadWriteCloser, error) {
		client, server := net.Pipe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer server.Close()
			// Swallow requests and never answer.
			_, _ = io.Copy(io.Discard, server)
		}()
		return client, nil
	}
	cfg := testConfig()
	cfg.RoundTripTimeout = 50 * time.Millisecond
	prompter := &scriptedPrompter{}
	runner, err := NewRunner(cfg, dial, prompter)
	require.NoError(t, err)

	err = runner.Run(context.Background())
	require.ErrorIs(t, err, protocol.ErrTransport)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, session.IsFatal(err))
	require.Empty(t, prompter.prompts)
	require.Empty(t, prompter.failures)
}
