package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subject, data})
	return nil
}

func TestNATSPublisher_Publish(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "pipelink.events")
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	idx := 2
	err := p.Publish(context.Background(), Event{
		Type:         TypeExecutionFailed,
		PipelineID:   "p-1",
		Owner:        "wallet-1",
		Status:       "failed",
		AttemptID:    "a-1",
		Reason:       "ConditionNotMet",
		FailingIndex: &idx,
	})
	if err != nil {
		t.Fatalf("Publish() err=%v", err)
	}
	if len(conn.msgs) != 1 || conn.msgs[0].subject != "pipelink.events.pipeline.execution.failed" {
		t.Fatalf("unexpected messages %+v", conn.msgs)
	}
	var got Event
	if err := json.Unmarshal(conn.msgs[0].data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID == "" || !got.OccurredAt.Equal(at) || got.FailingIndex == nil || *got.FailingIndex != 2 {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestNATSPublisher_Errors(t *testing.T) {
	if NewNATSPublisher(nil, "x") != nil {
		t.Fatalf("expected nil publisher for nil conn")
	}
	p := NewNATSPublisher(&fakeConn{err: errors.New("nats: connection closed")}, "pipelink.events")
	if err := p.Publish(context.Background(), Event{Type: TypePipelineCreated, PipelineID: "p-1"}); err == nil {
		t.Fatalf("expected publish error")
	}
	if err := p.Publish(context.Background(), Event{Type: TypePipelineCreated}); err == nil {
		t.Fatalf("expected validation error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, Event{Type: TypePipelineCreated, PipelineID: "p-1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{URL: "nats://localhost:4222", Subject: "pipelink.>"}).Validate(); err == nil {
		t.Fatalf("expected wildcard rejection")
	}
	if err := (Config{URL: "nats://localhost:4222"}).Validate(); err == nil {
		t.Fatalf("expected subject to be required")
	}
	if (Config{}).Enabled() {
		t.Fatalf("empty url should disable publishing")
	}
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	if err := p.Publish(context.Background(), Event{}); err != nil {
		t.Fatalf("Noop.Publish() err=%v", err)
	}
}
