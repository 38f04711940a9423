// Package lock provides non-blocking, TTL-bounded mutual exclusion keyed by
// string. Local serves single-process deployments; Redis coordinates several
// replicas sharing one store.
package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/pipelink-labs/pipelink-go/internal/platform/env"
)

// Locker hands out at most one live holder per key. The release func is
// idempotent; a lock whose ttl elapses is free for the next caller.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

type Config struct {
	RedisURL string
	TTL      time.Duration
}

func ConfigFromEnv() (Config, error) {
	ttl, err := env.Duration("PIPELINK_LOCK_TTL", 2*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		RedisURL: env.String("PIPELINK_REDIS_URL", ""),
		TTL:      ttl,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.TTL <= 0 {
		return errors.New("PIPELINK_LOCK_TTL must be positive")
	}
	if c.RedisURL != "" && !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		return errors.New("PIPELINK_REDIS_URL must use redis:// or rediss://")
	}
	return nil
}

type Local struct {
	mu   sync.Mutex
	now  func() time.Time
	seq  uint64
	held map[string]localHold
}

type localHold struct {
	token   uint64
	expires time.Time
}

func NewLocal() *Local {
	return &Local{
		now:  time.Now,
		held: make(map[string]localHold),
	}
}

func (l *Local) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if key == "" {
		return nil, false, errors.New("lock key is required")
	}
	if ttl <= 0 {
		return nil, false, errors.New("lock ttl must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return nil, false, nil
	}
	l.seq++
	token := l.seq
	l.held[key] = localHold{token: token, expires: now.Add(ttl)}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if h, ok := l.held[key]; ok && h.token == token {
				delete(l.held, key)
			}
		})
	}
	return release, true, nil
}
