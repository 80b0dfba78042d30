package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/danmuck/greeter/internal/broker"
	"github.com/danmuck/greeter/internal/config"
	"github.com/danmuck/greeter/internal/protocol/frame"
	"github.com/danmuck/greeter/internal/tools"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newStubCmd() *cobra.Command {
	var configPath, socket string
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve a development greetd broker on a unix socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadBrokerConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("socket") {
				cfg.Socket = socket
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStub(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "broker TOML config")
	cmd.Flags().StringVar(&socket, "socket", "", "override the configured socket path")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runStub(ctx context.Context, cfg config.BrokerConfig) error {
	if err := removeStaleSocket(cfg.Socket); err != nil {
		return err
	}
	ln, err := net.Listen("unix", cfg.Socket)
	if err != nil {
		return fmt.Errorf("stub: listen %s: %w", cfg.Socket, err)
	}
	defer os.Remove(cfg.Socket)

	var sessions sync.WaitGroup
	defer sessions.Wait()

	srv := &broker.Server{
		Auth:   cfg.Passwords(),
		Prompt: cfg.Prompt,
		Banner: cfg.Banner,
		Limits: frame.Limits{MaxPayloadBytes: cfg.MaxPayloadBytes},
		OnStart: func(user string, cmd, env []string) error {
			if !cfg.ExecSessions {
				log.Info().Str("user", user).Strs("cmd", cmd).Strs("env", env).Msg("stub would start session")
				return nil
			}
			sessions.Add(1)
			go func() {
				defer sessions.Done()
				launchSession(ctx, tools.ExecRunner{}, user, cmd, env)
			}()
			return nil
		},
	}
	fmt.Fprintf(os.Stderr, "export %s=%s\n", EnvSocket, cfg.Socket)
	return srv.Serve(ctx, ln)
}

// launchSession runs cmd until it exits or the stub shuts down.
func launchSession(ctx context.Context, runner tools.CommandRunner, user string, cmd, env []string) {
	logger := log.With().Str("user", user).Strs("cmd", cmd).Logger()
	logger.Info().Msg("stub session started")
	res, err := runner.Run(ctx, cmd, env)
	if err != nil {
		logger.Warn().Err(err).Int32("exit_code", res.ExitCode).Bytes("stderr", res.Stderr).Msg("stub session failed")
		return
	}
	logger.Info().Int("stdout_bytes", len(res.Stdout)).Msg("stub session exited")
}

// removeStaleSocket deletes a leftover socket file but refuses to touch anything else.
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode().Type() != fs.ModeSocket {
		return fmt.Errorf("stub: %s exists and is not a socket", path)
	}
	return os.Remove(path)
}
