package greeter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/danmuck/greeter/internal/observability"
	"github.com/danmuck/greeter/internal/protocol"
	"github.com/danmuck/greeter/internal/protocol/frame"
	"github.com/danmuck/greeter/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrUserRequired    = errors.New("greeter: user required")
	ErrCommandRequired = errors.New("greeter: command required")
	ErrLockedOut       = errors.New("greeter: too many failed attempts")

	errRetry = errors.New("greeter: retry")
)

// Prompter is the UI collaborator. It decides how prompts and messages look.
type Prompter interface {
	// Prompt returns the user's reply. The runner wipes the slice.
	Prompt(ctx context.Context, prompt string, secret bool) ([]byte, error)
	Show(ctx context.Context, message string) error
	Fail(ctx context.Context, message string) error
}

// Dialer opens a fresh broker connection for each login attempt.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

func UnixDialer(path string, timeout time.Duration) Dialer {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "unix", path)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %w", protocol.ErrTransport, path, err)
		}
		return conn, nil
	}
}

// Config is the caller-side login policy.
type Config struct {
	User    string
	Command []string
	Env     []string
	// MaxAttempts of zero disables the lockout.
	MaxAttempts      int
	Backoff          BackoffConfig
	Limits           frame.Limits
	RoundTripTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   2.0,
			MaxDelay:     10 * time.Second,
			Jitter:       true,
		},
		Limits: frame.DefaultLimits(),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.User) == "" {
		return ErrUserRequired
	}
	if len(c.Command) == 0 || strings.TrimSpace(c.Command[0]) == "" {
		return ErrCommandRequired
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("greeter: max attempts must not be negative: %d", c.MaxAttempts)
	}
	return nil
}

type Option func(*Runner)

func WithRand(rng *rand.Rand) Option {
	return func(r *Runner) { r.rng = rng }
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = sleep }
}

// Runner drives login attempts until a session starts, the user is locked
// out, or a fatal error occurs. A new session is dialed after each rejection.
type Runner struct {
	cfg      Config
	dial     Dialer
	prompter Prompter
	rng      *rand.Rand
	sleep    func(ctx context.Context, d time.Duration) error

	failedAttempts uint32
}

func NewRunner(cfg Config, dial Dialer, prompter Prompter, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dial == nil {
		return nil, errors.New("greeter: dialer required")
	}
	if prompter == nil {
		return nil, errors.New("greeter: prompter required")
	}
	r := &Runner{
		cfg:      cfg,
		dial:     dial,
		prompter: prompter,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Runner) FailedAttempts() uint32 {
	return r.failedAttempts
}

func (r *Runner) Run(ctx context.Context) error {
	for {
		err := r.attempt(ctx)
		if errors.Is(err, errRetry) {
			continue
		}
		return err
	}
}

func (r *Runner) attempt(ctx context.Context) error {
	logger := log.With().
		Str("user", r.cfg.User).
		Str("attempt_id", uuid.NewString()).
		Uint32("failed_attempts", r.failedAttempts).
		Logger()

	conn, err := r.dial(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("greeter.dial failed")
		return err
	}
	s := session.NewWithConfig(conn, session.Config{
		Limits:         r.cfg.Limits,
		Env:            r.cfg.Env,
		FailedAttempts: r.failedAttempts,
	})
	logger.Debug().Msg("greeter.attempt start")

	err = r.drive(ctx, s, logger)
	if err == nil {
		logger.Info().Strs("cmd", r.cfg.Command).Msg("greeter.session starting")
		return s.Close()
	}

	var authErr *session.AuthFailedError
	if !errors.As(err, &authErr) {
		if shutdownErr := s.Shutdown(); shutdownErr != nil {
			logger.Debug().Err(shutdownErr).Msg("greeter.shutdown after error")
		}
		logger.Error().Err(err).Bool("fatal", session.IsFatal(err)).Msg("greeter.attempt aborted")
		return err
	}

	r.failedAttempts = s.RecordFailedAttempt()
	observability.RecordAuthFailure(r.cfg.User, string(authErr.ErrorType))
	logger.Warn().
		Str("error_type", string(authErr.ErrorType)).
		Str("message", authErr.Message).
		Uint32("failed_attempts", r.failedAttempts).
		Msg("greeter.auth rejected")
	if shutdownErr := s.Shutdown(); shutdownErr != nil {
		logger.Debug().Err(shutdownErr).Msg("greeter.cancel after rejection")
	}
	if err := r.prompter.Fail(ctx, authErr.Message); err != nil {
		return fmt.Errorf("greeter: report failure: %w", err)
	}

	if r.cfg.MaxAttempts > 0 && int(r.failedAttempts) >= r.cfg.MaxAttempts {
		observability.RecordLockout(r.cfg.User)
		logger.Error().Int("max_attempts", r.cfg.MaxAttempts).Msg("greeter.locked out")
		return fmt.Errorf("%w: %w", ErrLockedOut, authErr)
	}

	delay := NextBackoffDelay(r.cfg.Backoff, int(r.failedAttempts), r.rng)
	logger.Debug().Dur("delay", delay).Msg("greeter.retry backoff")
	if err := r.sleep(ctx, delay); err != nil {
		return err
	}
	return errRetry
}

// drive advances one session to SessionStarting or the first error.
func (r *Runner) drive(ctx context.Context, s *session.Session, logger zerolog.Logger) error {
	var reply *memguard.LockedBuffer
	defer func() {
		if reply != nil {
			reply.Destroy()
		}
	}()

	for {
		var data *string
		if reply != nil {
			// Aliases locked memory; only valid until Destroy below.
			v := reply.String()
			data = &v
		}
		action, err := r.advance(ctx, s, data)
		if reply != nil {
			reply.Destroy()
			reply = nil
		}
		if err != nil {
			return err
		}

		logger.Debug().Str("action", action.Kind.String()).Msg("greeter.advance")
		switch action.Kind {
		case session.ActionPromptForInput:
			b, err := r.prompter.Prompt(ctx, action.Prompt, action.Secret)
			if err != nil {
				return fmt.Errorf("greeter: prompt: %w", err)
			}
			reply = memguard.NewBufferFromBytes(b)
		case session.ActionShowMessage:
			if err := r.prompter.Show(ctx, action.Message); err != nil {
				return fmt.Errorf("greeter: show message: %w", err)
			}
		case session.ActionSessionStarting:
			return nil
		}
	}
}

func (r *Runner) advance(ctx context.Context, s *session.Session, data *string) (session.Action, error) {
	if r.cfg.RoundTripTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RoundTripTimeout)
		defer cancel()
	}
	start := time.Now()
	action, err := s.Advance(ctx, r.cfg.User, data, r.cfg.Command)
	observability.RecordAdvance(resultLabel(action, err), time.Since(start))
	return action, err
}

func resultLabel(action session.Action, err error) string {
	switch {
	case err == nil:
		return action.Kind.String()
	case errors.Is(err, session.ErrAuthenticationFailed):
		return "auth_failed"
	case errors.Is(err, session.ErrMissingData):
		return "missing_data"
	case session.IsFatal(err):
		return "fatal"
	default:
		return "error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
