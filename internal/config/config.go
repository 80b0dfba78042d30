package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/greeter/internal/auth"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultBrokerSocket = "/tmp/greetd-stub.sock"
	DefaultBrokerPrompt = "Password: "
)

// BrokerConfig configures the development broker served by `greetctl stub`.
type BrokerConfig struct {
	Socket          string       `toml:"socket"`
	Prompt          string       `toml:"prompt"`
	Banner          string       `toml:"banner"`
	MaxPayloadBytes uint32       `toml:"max_payload_bytes"`
	ExecSessions    bool         `toml:"exec_sessions"`
	Users           []UserConfig `toml:"users"`
}

type UserConfig struct {
	Name     string `toml:"name"`
	Password string `toml:"password"`
}

func LoadBrokerConfig(path string) (BrokerConfig, error) {
	var cfg BrokerConfig
	if err := loadToml(path, &cfg); err != nil {
		return BrokerConfig{}, err
	}
	if cfg.Socket == "" {
		cfg.Socket = DefaultBrokerSocket
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultBrokerPrompt
	}
	if err := ValidateBrokerConfig(cfg); err != nil {
		return BrokerConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateBrokerConfig(cfg BrokerConfig) error {
	if strings.TrimSpace(cfg.Socket) == "" {
		return fmt.Errorf("broker config missing socket")
	}
	if len(cfg.Users) == 0 {
		return fmt.Errorf("broker config needs at least one user")
	}
	seen := make(map[string]struct{}, len(cfg.Users))
	for i, user := range cfg.Users {
		if err := ValidateUserEntry(user); err != nil {
			return fmt.Errorf("users[%d] invalid: %w", i, err)
		}
		if _, dup := seen[user.Name]; dup {
			return fmt.Errorf("users[%d] invalid: duplicate name %q", i, user.Name)
		}
		seen[user.Name] = struct{}{}
	}
	return nil
}

func ValidateUserEntry(cfg UserConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if cfg.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

// Passwords builds the broker's credential table.
func (c BrokerConfig) Passwords() auth.StaticPasswords {
	out := make(auth.StaticPasswords, len(c.Users))
	for _, user := range c.Users {
		out[user.Name] = user.Password
	}
	return out
}
