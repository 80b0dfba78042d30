package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/danmuck/greeter/internal/greeter"
	"github.com/danmuck/greeter/internal/observability"
	"github.com/danmuck/greeter/internal/prompt"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const dialTimeout = 5 * time.Second

type loginFlags struct {
	configPath  string
	socket      string
	user        string
	command     []string
	env         []string
	maxAttempts int
}

func newLoginCmd() *cobra.Command {
	var flags loginFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate a user against greetd and start their session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loginConfig(cmd, flags)
			if err != nil {
				return err
			}
			return runLogin(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "greetctl TOML config")
	f.StringVar(&flags.socket, "socket", "", "greetd socket path (default $"+EnvSocket+")")
	f.StringVarP(&flags.user, "user", "u", "", "user to log in")
	f.StringSliceVar(&flags.command, "cmd", nil, "session command and arguments")
	f.StringArrayVar(&flags.env, "env", nil, "KEY=VALUE added to the session environment (repeatable)")
	f.IntVar(&flags.maxAttempts, "max-attempts", 0, "failed attempts before giving up (0 disables the limit)")
	return cmd
}

// loginConfig layers defaults, then the config file, then explicitly set flags.
func loginConfig(cmd *cobra.Command, flags loginFlags) (clientConfig, error) {
	cfg := defaultClientConfig()
	if flags.configPath != "" {
		var err error
		if cfg, err = loadClientConfig(flags.configPath); err != nil {
			return clientConfig{}, err
		}
	}
	set := cmd.Flags().Changed
	if set("socket") {
		cfg.Socket = flags.socket
	}
	if set("user") {
		cfg.Runner.User = flags.user
	}
	if set("cmd") {
		cfg.Runner.Command = flags.command
	}
	if set("env") {
		cfg.Runner.Env = append(cfg.Runner.Env, flags.env...)
	}
	if set("max-attempts") {
		cfg.Runner.MaxAttempts = flags.maxAttempts
	}
	if err := cfg.resolveSocket(); err != nil {
		return clientConfig{}, err
	}
	if err := cfg.Runner.Validate(); err != nil {
		return clientConfig{}, err
	}
	return cfg, nil
}

func runLogin(parent context.Context, cfg clientConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer memguard.Purge()

	runner, err := greeter.NewRunner(
		cfg.Runner,
		greeter.UnixDialer(cfg.Socket, dialTimeout),
		prompt.NewTerminal(os.Stdin, os.Stderr),
	)
	if err != nil {
		return err
	}

	log.Info().Str("socket", cfg.Socket).Str("user", cfg.Runner.User).Msg("greetctl login start")
	runErr := runner.Run(ctx)
	if cfg.MetricsTextfile != "" {
		if err := observability.WriteTextfile(cfg.MetricsTextfile); err != nil {
			log.Warn().Err(err).Str("path", cfg.MetricsTextfile).Msg("greetctl metrics export failed")
		}
	}
	if errors.Is(runErr, context.Canceled) {
		log.Info().Msg("greetctl login interrupted")
	}
	return runErr
}
