package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/greeter/internal/greeter"
)

// EnvSocket is where greetd publishes its IPC socket to the greeter.
const EnvSocket = "GREETD_SOCK"

var errSocketRequired = errors.New("greetctl: no socket configured and " + EnvSocket + " is unset")

type fileConfig struct {
	Socket           string   `toml:"socket"`
	User             string   `toml:"user"`
	Command          []string `toml:"command"`
	Env              []string `toml:"env"`
	MaxAttempts      int      `toml:"max_attempts"`
	BackoffInitial   string   `toml:"backoff_initial"`
	BackoffMax       string   `toml:"backoff_max"`
	RoundTripTimeout string   `toml:"round_trip_timeout"`
	MaxPayloadBytes  uint32   `toml:"max_payload_bytes"`
	MetricsTextfile  string   `toml:"metrics_textfile"`
}

type clientConfig struct {
	Socket          string
	MetricsTextfile string
	Runner          greeter.Config
}

func defaultClientConfig() clientConfig {
	return clientConfig{Runner: greeter.DefaultConfig()}
}

// loadClientConfig overlays the keys present in path onto the defaults.
func loadClientConfig(path string) (clientConfig, error) {
	cfg := defaultClientConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load greetctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return clientConfig{}, fmt.Errorf("load greetctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("socket") {
		cfg.Socket = strings.TrimSpace(raw.Socket)
	}
	if meta.IsDefined("user") {
		cfg.Runner.User = strings.TrimSpace(raw.User)
	}
	if meta.IsDefined("command") {
		cfg.Runner.Command = raw.Command
	}
	if meta.IsDefined("env") {
		cfg.Runner.Env = raw.Env
	}
	if meta.IsDefined("max_attempts") {
		cfg.Runner.MaxAttempts = raw.MaxAttempts
	}
	if meta.IsDefined("backoff_initial") {
		d, err := parseDuration("backoff_initial", raw.BackoffInitial)
		if err != nil {
			return clientConfig{}, err
		}
		cfg.Runner.Backoff.InitialDelay = d
	}
	if meta.IsDefined("backoff_max") {
		d, err := parseDuration("backoff_max", raw.BackoffMax)
		if err != nil {
			return clientConfig{}, err
		}
		cfg.Runner.Backoff.MaxDelay = d
	}
	if meta.IsDefined("round_trip_timeout") {
		d, err := parseDuration("round_trip_timeout", raw.RoundTripTimeout)
		if err != nil {
			return clientConfig{}, err
		}
		cfg.Runner.RoundTripTimeout = d
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Runner.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("metrics_textfile") {
		cfg.MetricsTextfile = strings.TrimSpace(raw.MetricsTextfile)
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, d)
	}
	return d, nil
}

// resolveSocket falls back to GREETD_SOCK when neither flag nor file set one.
func (c *clientConfig) resolveSocket() error {
	if c.Socket != "" {
		return nil
	}
	c.Socket = strings.TrimSpace(os.Getenv(EnvSocket))
	if c.Socket == "" {
		return errSocketRequired
	}
	return nil
}
