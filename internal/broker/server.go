// Package broker implements a development login broker that speaks the
// server side of the greetd IPC protocol. It never starts real sessions.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/danmuck/greeter/internal/auth"
	"github.com/danmuck/greeter/internal/observability"
	"github.com/danmuck/greeter/internal/protocol"
	"github.com/danmuck/greeter/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPrompt = "Password: "

	msgAuthFailed = "Authentication failed"
)

// StartFunc is called once a client authenticated and asked to start cmd.
// A non-nil error is reported to the client as a generic error reply.
type StartFunc func(user string, cmd, env []string) error

type Server struct {
	Auth   auth.Authenticator
	Prompt string
	// Banner, when set, is sent as an info message before the password prompt.
	Banner  string
	Limits  frame.Limits
	OnStart StartFunc

	active atomic.Int64
}

// Serve accepts clients until ctx is done or the listener fails.
// It waits for every client handler before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.Auth == nil {
		return errors.New("broker: authenticator required")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("broker listening")
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("broker: accept: %w", err)
			}
			g.Go(func() error {
				if err := s.ServeConn(gctx, conn); err != nil {
					log.Warn().Err(err).Msg("broker client aborted")
				}
				return nil
			})
		}
	})
	return g.Wait()
}

type connState int

const (
	connIdle connState = iota
	connBanner
	connPassword
	connAuthenticated
)

type client struct {
	state connState
	user  string
}

// ServeConn runs one client until it disconnects or ctx is done.
// A clean disconnect returns nil; conn is always closed.
func (s *Server) ServeConn(ctx context.Context, conn io.ReadWriteCloser) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	logger := log.With().Str("conn_id", uuid.NewString()).Logger()
	active := s.active.Add(1)
	logger.Debug().Int64("active_clients", active).Msg("broker client connected")
	defer func() {
		remaining := s.active.Add(-1)
		logger.Debug().Int64("active_clients", remaining).Msg("broker client disconnected")
	}()

	codec := protocol.NewCodec(conn, s.Limits)
	c := &client{}
	for {
		req, err := codec.ReadRequest()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			if !errors.Is(err, protocol.ErrDecoding) || errors.Is(err, frame.ErrPayloadTooLarge) {
				return err
			}
			// The frame was consumed whole, so the stream is still aligned.
			logger.Warn().Err(err).Msg("broker malformed request")
			resp := protocol.Error(protocol.ErrorTypeError, "malformed request")
			observability.RecordBrokerRequest("invalid", replyLabel(resp))
			if err := codec.WriteResponse(resp); err != nil {
				return err
			}
			continue
		}

		resp := s.handle(c, req, logger)
		observability.RecordBrokerRequest(string(req.Type), replyLabel(resp))
		if err := codec.WriteResponse(resp); err != nil {
			return err
		}
	}
}

func (s *Server) handle(c *client, req protocol.Request, logger zerolog.Logger) protocol.Response {
	switch req.Type {
	case protocol.RequestCreateSession:
		if c.state != connIdle {
			return protocol.Error(protocol.ErrorTypeError, "a session is already being configured")
		}
		c.user = req.Username
		logger.Info().Str("user", c.user).Msg("broker create_session")
		if s.Banner != "" {
			c.state = connBanner
			return protocol.AuthMessage(protocol.AuthMessageInfo, s.Banner)
		}
		c.state = connPassword
		return protocol.AuthMessage(protocol.AuthMessageSecret, s.prompt())

	case protocol.RequestPostAuthMessageResponse:
		switch c.state {
		case connBanner:
			c.state = connPassword
			return protocol.AuthMessage(protocol.AuthMessageSecret, s.prompt())
		case connPassword:
			var password string
			if req.Response != nil {
				password = *req.Response
			}
			if err := s.Auth.Authenticate(c.user, password); err != nil {
				logger.Warn().Str("user", c.user).Err(err).Msg("broker authentication rejected")
				*c = client{}
				return protocol.Error(protocol.ErrorTypeAuth, msgAuthFailed)
			}
			c.state = connAuthenticated
			logger.Info().Str("user", c.user).Msg("broker authenticated")
			return protocol.Success()
		}
		return protocol.Error(protocol.ErrorTypeError, "no authentication in progress")

	case protocol.RequestStartSession:
		if c.state != connAuthenticated {
			return protocol.Error(protocol.ErrorTypeError, "session not authenticated")
		}
		if s.OnStart != nil {
			if err := s.OnStart(c.user, req.Cmd, req.Env); err != nil {
				logger.Error().Str("user", c.user).Err(err).Msg("broker start_session failed")
				return protocol.Error(protocol.ErrorTypeError, err.Error())
			}
		}
		logger.Info().Str("user", c.user).Strs("cmd", req.Cmd).Msg("broker start_session")
		*c = client{}
		return protocol.Success()

	case protocol.RequestCancelSession:
		logger.Debug().Str("user", c.user).Msg("broker cancel_session")
		*c = client{}
		return protocol.Success()
	}
	return protocol.Error(protocol.ErrorTypeError, fmt.Sprintf("unsupported request %q", req.Type))
}

func (s *Server) prompt() string {
	if s.Prompt == "" {
		return DefaultPrompt
	}
	return s.Prompt
}

func replyLabel(resp protocol.Response) string {
	if resp.Type == protocol.ResponseError {
		return string(resp.ErrorType)
	}
	return string(resp.Type)
}
