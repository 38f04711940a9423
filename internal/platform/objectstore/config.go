package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pipelink-labs/pipelink-go/internal/platform/env"
)

// Config describes the MinIO bucket that archives execution receipts.
// The archive is disabled when no endpoint is configured.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("PIPELINK_RECEIPTS_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("PIPELINK_RECEIPTS_ENDPOINT", ""),
		AccessKey: env.String("PIPELINK_RECEIPTS_ACCESS_KEY", ""),
		SecretKey: env.String("PIPELINK_RECEIPTS_SECRET_KEY", ""),
		Region:    env.String("PIPELINK_RECEIPTS_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("PIPELINK_RECEIPTS_BUCKET", "pipelink-receipts"),
		Prefix:    strings.Trim(env.String("PIPELINK_RECEIPTS_PREFIX", "receipts"), "/"),
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("PIPELINK_RECEIPTS_ENDPOINT is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("PIPELINK_RECEIPTS_ENDPOINT must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("PIPELINK_RECEIPTS_ACCESS_KEY is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("PIPELINK_RECEIPTS_SECRET_KEY is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("PIPELINK_RECEIPTS_REGION is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("PIPELINK_RECEIPTS_BUCKET is required")
	}
	return nil
}
