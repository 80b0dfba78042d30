package session

import (
	"time"

	"github.com/danmuck/greeter/internal/protocol/frame"
)

// Config defines per-session transport and start_session defaults.
type Config struct {
	ConnectTimeout time.Duration
	Limits         frame.Limits
	// Env is sent with start_session as KEY=VALUE entries.
	Env []string
	// FailedAttempts seeds the counter when a caller retries on a new session.
	FailedAttempts uint32
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		Limits:         frame.DefaultLimits(),
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	return c
}
