package walletauth

import (
	"errors"
	"time"

	"github.com/pipelink-labs/pipelink-go/internal/platform/env"
)

const minSecretLen = 32

type Config struct {
	SessionSecret  string
	SessionTTL     time.Duration
	RequireSession bool
}

func ConfigFromEnv() (Config, error) {
	ttl, err := env.Duration("PIPELINK_SESSION_TTL", 15*time.Minute)
	if err != nil {
		return Config{}, err
	}
	require, err := env.Bool("PIPELINK_REQUIRE_WALLET_SESSION", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		SessionSecret:  env.String("PIPELINK_SESSION_SECRET", ""),
		SessionTTL:     ttl,
		RequireSession: require,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.SessionSecret != "" && len(c.SessionSecret) < minSecretLen {
		return errors.New("PIPELINK_SESSION_SECRET must be at least 32 bytes")
	}
	if c.SessionTTL <= 0 {
		return errors.New("PIPELINK_SESSION_TTL must be positive")
	}
	if c.RequireSession && c.SessionSecret == "" {
		return errors.New("PIPELINK_SESSION_SECRET is required when PIPELINK_REQUIRE_WALLET_SESSION=true")
	}
	return nil
}

// SessionsEnabled reports whether tokens can be issued.
func (c Config) SessionsEnabled() bool {
	return c.SessionSecret != ""
}
