// Package events announces pipeline lifecycle changes to subscribers outside
// the service. Delivery is best effort; publishing never decides an outcome.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/pipelink-labs/pipelink-go/internal/platform/env"
)

const (
	TypePipelineCreated    = "pipeline.created"
	TypeExecutionSucceeded = "pipeline.execution.succeeded"
	TypeExecutionFailed    = "pipeline.execution.failed"
)

type Event struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	OccurredAt     time.Time `json:"occurredAt"`
	PipelineID     string    `json:"pipelineId"`
	Owner          string    `json:"owner"`
	Status         string    `json:"status"`
	AttemptID      string    `json:"attemptId,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	FailingIndex   *int      `json:"failingIndex,omitempty"`
	ConfirmationID string    `json:"confirmationId,omitempty"`
	Steps          int       `json:"steps,omitempty"`
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("event type is required")
	}
	if strings.TrimSpace(e.PipelineID) == "" {
		return errors.New("pipeline id is required")
	}
	return nil
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

type Config struct {
	URL     string
	Subject string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:     env.String("PIPELINK_NATS_URL", ""),
		Subject: strings.Trim(env.String("PIPELINK_NATS_SUBJECT", "pipelink.events"), "."),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.URL != "" && c.Subject == "" {
		return errors.New("PIPELINK_NATS_SUBJECT is required when PIPELINK_NATS_URL is set")
	}
	if strings.ContainsAny(c.Subject, " *>") {
		return fmt.Errorf("PIPELINK_NATS_SUBJECT must be a literal subject, got %q", c.Subject)
	}
	return nil
}

func (c Config) Enabled() bool {
	return c.URL != ""
}

type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes each event as JSON on <subject>.<event type>.
type NATSPublisher struct {
	conn    natsConn
	subject string
	now     func() time.Time
}

func NewNATSPublisher(conn natsConn, subject string) *NATSPublisher {
	if conn == nil {
		return nil
	}
	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Connect dials NATS with unlimited reconnects so a broker restart does not
// require a service restart.
func Connect(cfg Config, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return conn, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.conn == nil {
		return errors.New("nats publisher not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now()
	}
	if err := event.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.subject + "." + event.Type
	if err := p.conn.Publish(subject, body); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
