// Package auditlog appends tamper-evident records of pipeline actions and
// refused requests to the audit_events table.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	ActionPipelineCreate  = "pipeline.create"
	ActionPipelineExecute = "pipeline.execute"
	ActionWalletVerify    = "wallet.verify"
)

type Event struct {
	OccurredAt   time.Time
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	IP           net.IP
	UserAgent    string
	Payload      any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return errors.New("Actor is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("Action is required")
	}
	if strings.TrimSpace(e.ResourceType) == "" {
		return errors.New("ResourceType is required")
	}
	if strings.TrimSpace(e.ResourceID) == "" {
		return errors.New("ResourceID is required")
	}
	return nil
}

// record is the normalized, hashed form of an Event as stored.
type record struct {
	OccurredAt   int64           `json:"occurred_at"`
	Actor        string          `json:"actor"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	RequestID    string          `json:"request_id,omitempty"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

func normalize(event Event) (record, error) {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return record{}, fmt.Errorf("marshal payload: %w", err)
	}
	payloadJSON, err := canonicalJSON(raw)
	if err != nil {
		return record{}, err
	}
	ip := ""
	if event.IP != nil {
		ip = event.IP.String()
	}
	return record{
		OccurredAt:   event.OccurredAt.UTC().UnixNano(),
		Actor:        strings.TrimSpace(event.Actor),
		Action:       strings.TrimSpace(event.Action),
		ResourceType: strings.TrimSpace(event.ResourceType),
		ResourceID:   strings.TrimSpace(event.ResourceID),
		RequestID:    strings.TrimSpace(event.RequestID),
		IP:           ip,
		UserAgent:    strings.TrimSpace(event.UserAgent),
		Payload:      payloadJSON,
	}, nil
}

// canonicalJSON re-encodes raw with sorted keys and no insignificant space,
// so payloads read back from a JSONB column hash the same as when written.
func canonicalJSON(raw []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return out, nil
}

func (r record) integrity() (string, error) {
	blob, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}

	rec, err := normalize(event)
	if err != nil {
		return 0, err
	}
	integrity, err := rec.integrity()
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		`INSERT INTO audit_events (
			occurred_at,
			actor,
			action,
			resource_type,
			resource_id,
			request_id,
			ip,
			user_agent,
			payload,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING event_id`,
		rec.OccurredAt,
		rec.Actor,
		rec.Action,
		rec.ResourceType,
		rec.ResourceID,
		nullString(rec.RequestID),
		nullString(rec.IP),
		nullString(rec.UserAgent),
		string(rec.Payload),
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit event: %w", err)
	}
	return id, nil
}

// Stored is an audit row as read back, with its integrity already checked.
type Stored struct {
	ID           int64
	OccurredAt   time.Time
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	Payload      json.RawMessage
	Intact       bool
}

// ListByResource returns the events recorded for one resource, oldest first.
func ListByResource(ctx context.Context, q Querier, resourceType, resourceID string) ([]Stored, error) {
	if q == nil {
		return nil, errors.New("queryer is required")
	}
	rows, err := q.QueryContext(ctx, `SELECT event_id, occurred_at, actor, action, resource_type, resource_id,
			request_id, ip, user_agent, payload, integrity_sha256
		FROM audit_events
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY event_id ASC`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	out := make([]Stored, 0)
	for rows.Next() {
		var (
			id                       int64
			rec                      record
			requestID, ip, userAgent sql.NullString
			payload                  string
			integrity                string
		)
		if err := rows.Scan(&id, &rec.OccurredAt, &rec.Actor, &rec.Action, &rec.ResourceType, &rec.ResourceID,
			&requestID, &ip, &userAgent, &payload, &integrity); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		rec.RequestID = requestID.String
		rec.IP = ip.String
		rec.UserAgent = userAgent.String
		rec.Payload, err = canonicalJSON([]byte(payload))
		if err != nil {
			return nil, err
		}
		want, err := rec.integrity()
		if err != nil {
			return nil, err
		}
		out = append(out, Stored{
			ID:           id,
			OccurredAt:   time.Unix(0, rec.OccurredAt).UTC(),
			Actor:        rec.Actor,
			Action:       rec.Action,
			ResourceType: rec.ResourceType,
			ResourceID:   rec.ResourceID,
			RequestID:    rec.RequestID,
			Payload:      rec.Payload,
			Intact:       want == integrity,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}
