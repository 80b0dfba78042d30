package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/danmuck/greeter/internal/protocol"
)

type authState int

const (
	stateUninitialized authState = iota
	stateWaitingForResponse
	stateNeedAuthResponse
	stateNeedEmptyResponse
	stateAuthenticated
	stateFailed
)

func (s authState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateWaitingForResponse:
		return "waiting_for_response"
	case stateNeedAuthResponse:
		return "need_auth_response"
	case stateNeedEmptyResponse:
		return "need_empty_response"
	case stateAuthenticated:
		return "authenticated"
	case stateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// Session owns one broker connection and one authentication flow.
type Session struct {
	conn  io.ReadWriteCloser
	codec *protocol.Codec
	cfg   Config

	state          authState
	failedAttempts uint32
	started        bool
	closed         bool
	fatal          error
}

func New(conn io.ReadWriteCloser) *Session {
	return NewWithConfig(conn, DefaultConfig())
}

func NewWithConfig(conn io.ReadWriteCloser, cfg Config) *Session {
	cfg = cfg.WithDefaults()
	return &Session{
		conn:           conn,
		codec:          protocol.NewCodec(conn, cfg.Limits),
		cfg:            cfg,
		state:          stateUninitialized,
		failedAttempts: cfg.FailedAttempts,
	}
}

// Dial connects to the broker socket at path. Resolving path is the caller's job.
func Dial(ctx context.Context, path string, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", protocol.ErrTransport, path, err)
	}
	return NewWithConfig(conn, cfg), nil
}

func (s *Session) FailedAttempts() uint32 {
	return s.failedAttempts
}

// RecordFailedAttempt is called by the caller's policy layer, never by the driver.
func (s *Session) RecordFailedAttempt() uint32 {
	s.failedAttempts++
	return s.failedAttempts
}

// Advance performs one step of the authentication flow.
//
// data must be set when the previous action was PromptForInput. cmd is the
// session command sent once the broker reports success. If the connection
// supports deadlines, cancelling ctx aborts the blocked I/O and breaks the
// session.
func (s *Session) Advance(ctx context.Context, user string, data *string, cmd []string) (Action, error) {
	if s.fatal != nil {
		return Action{}, fmt.Errorf("%w: %w", ErrSessionBroken, s.fatal)
	}
	if s.state == stateFailed {
		s.cancelBestEffort()
		return Action{}, ErrSessionTerminated
	}
	if s.closed {
		return Action{}, ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return Action{}, err
	}

	stop := s.watch(ctx)
	action, err := s.step(user, data, cmd)
	stop(err == nil || !protocol.IsFatal(err))

	if err != nil && protocol.IsFatal(err) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", err, ctxErr)
		}
		s.fatal = err
	}
	return action, err
}

func (s *Session) step(user string, data *string, cmd []string) (Action, error) {
	switch s.state {
	case stateUninitialized:
		if err := s.codec.WriteRequest(protocol.CreateSession(user)); err != nil {
			return Action{}, err
		}
		s.state = stateWaitingForResponse
		return NoOp(), nil

	case stateWaitingForResponse:
		resp, err := s.codec.ReadResponse()
		if err != nil {
			return Action{}, err
		}
		return s.handleResponse(resp)

	case stateNeedEmptyResponse:
		if err := s.codec.WriteRequest(protocol.PostAuthMessageResponse(nil)); err != nil {
			return Action{}, err
		}
		s.state = stateWaitingForResponse
		return NoOp(), nil

	case stateNeedAuthResponse:
		if data == nil {
			return Action{}, ErrMissingData
		}
		response := *data
		if err := s.codec.WriteRequest(protocol.PostAuthMessageResponse(&response)); err != nil {
			return Action{}, err
		}
		s.state = stateWaitingForResponse
		return NoOp(), nil

	case stateAuthenticated:
		if !s.started {
			if err := s.codec.WriteRequest(protocol.StartSession(cmd, s.cfg.Env)); err != nil {
				return Action{}, err
			}
			s.started = true
		}
		return SessionStarting(), nil
	}
	return Action{}, fmt.Errorf("session: no transition from %s", s.state)
}

func (s *Session) handleResponse(resp protocol.Response) (Action, error) {
	switch resp.Type {
	case protocol.ResponseAuthMessage:
		switch resp.AuthMessageType {
		case protocol.AuthMessageVisible:
			s.state = stateNeedAuthResponse
			return PromptForInput(resp.AuthMessage, false), nil
		case protocol.AuthMessageSecret:
			s.state = stateNeedAuthResponse
			return PromptForInput(resp.AuthMessage, true), nil
		case protocol.AuthMessageInfo, protocol.AuthMessageError:
			s.state = stateNeedEmptyResponse
			return ShowMessage(resp.AuthMessage), nil
		}
	case protocol.ResponseError:
		s.state = stateFailed
		return Action{}, &AuthFailedError{ErrorType: resp.ErrorType, Message: resp.Description}
	case protocol.ResponseSuccess:
		s.state = stateAuthenticated
		return NoOp(), nil
	}
	return Action{}, fmt.Errorf("%w: %w: %+v", protocol.ErrDecoding, protocol.ErrUnexpectedKind, resp)
}

// Shutdown sends cancel_session and closes the connection. Both failures are
// reported. The cancel is skipped when the stream is already broken.
func (s *Session) Shutdown() error {
	if s.closed {
		return nil
	}
	var sendErr error
	if s.fatal == nil {
		sendErr = s.codec.WriteRequest(protocol.CancelSession())
	}
	s.closed = true
	return errors.Join(sendErr, s.conn.Close())
}

// Close drops the connection without cancelling, e.g. once the session is starting.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// cancelBestEffort is the Failed-state shutdown; its errors are dropped.
func (s *Session) cancelBestEffort() {
	_ = s.Shutdown()
}

// watch arms ctx cancellation against the connection deadline. The returned
// func disarms it and, when the stream is still usable, clears a deadline that
// fired late.
func (s *Session) watch(ctx context.Context) func(usable bool) {
	d, hasDeadline := s.conn.(deadliner)
	if !hasDeadline || ctx.Done() == nil {
		return func(bool) {}
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = d.SetDeadline(time.Unix(1, 0))
		close(fired)
	})
	return func(usable bool) {
		if stop() {
			return
		}
		<-fired
		if usable {
			_ = d.SetDeadline(time.Time{})
		}
	}
}
