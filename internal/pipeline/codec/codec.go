// Package codec serializes pipelines with stable field names. The same payload
// shapes are used for persistence, event bodies and the HTTP API.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
)

type PipelinePayload struct {
	ID          string         `json:"id"`
	Owner       string         `json:"owner"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Status      string         `json:"status"`
	Entries     []EntryPayload `json:"entries"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// EntryPayload is the flattened tagged form of an entry: Type selects which
// of the remaining fields apply.
type EntryPayload struct {
	Type     string         `json:"type"`
	Name     string         `json:"name,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
	Field    string         `json:"field,omitempty"`
	Operator string         `json:"operator,omitempty"`
	Value    any            `json:"value,omitempty"`
}

func FromDomain(p domain.Pipeline) PipelinePayload {
	return PipelinePayload{
		ID:          p.ID,
		Owner:       p.Owner,
		Name:        p.Name,
		Description: p.Description,
		Status:      string(p.Status),
		Entries:     EntriesFromDomain(p.Entries),
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
}

func EntriesFromDomain(entries []domain.Entry) []EntryPayload {
	out := make([]EntryPayload, 0, len(entries))
	for _, e := range entries {
		switch e.Kind {
		case domain.EntryStep:
			cfg := map[string]any(e.Step.Config)
			if cfg == nil {
				cfg = map[string]any{}
			}
			out = append(out, EntryPayload{Type: string(domain.EntryStep), Name: e.Step.Name, Config: cfg})
		case domain.EntryCondition:
			out = append(out, EntryPayload{
				Type:     string(domain.EntryCondition),
				Field:    e.Condition.Field,
				Operator: string(e.Condition.Operator),
				Value:    e.Condition.Value,
			})
		}
	}
	return out
}

// ToDomain converts the payload back. Entries are taken as already validated.
func (p PipelinePayload) ToDomain() (domain.Pipeline, error) {
	status := domain.NormalizeStatus(p.Status)
	if status == "" {
		return domain.Pipeline{}, fmt.Errorf("unknown status %q", p.Status)
	}
	entries, err := EntriesToDomain(p.Entries)
	if err != nil {
		return domain.Pipeline{}, err
	}
	return domain.Pipeline{
		ID:          p.ID,
		Owner:       p.Owner,
		Name:        p.Name,
		Description: p.Description,
		Entries:     entries,
		Status:      status,
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
	}, nil
}

func EntriesToDomain(payload []EntryPayload) ([]domain.Entry, error) {
	entries := make([]domain.Entry, 0, len(payload))
	for i, e := range payload {
		switch domain.EntryKind(strings.ToLower(strings.TrimSpace(e.Type))) {
		case domain.EntryStep:
			// An empty config is omitted on the wire; steps always carry a
			// non-nil one.
			cfg := domain.Config(e.Config)
			if cfg == nil {
				cfg = domain.Config{}
			}
			entries = append(entries, domain.StepEntry(e.Name, cfg))
		case domain.EntryCondition:
			entries = append(entries, domain.ConditionEntry(e.Field, domain.Operator(e.Operator), e.Value))
		default:
			return nil, fmt.Errorf("entries[%d]: unknown type %q", i, e.Type)
		}
	}
	return entries, nil
}

// MarshalPipeline serializes a pipeline with stable field names.
func MarshalPipeline(p domain.Pipeline) ([]byte, error) {
	return json.Marshal(FromDomain(p))
}

// UnmarshalPipeline parses a serialized pipeline. Numbers decode as
// json.Number so large integers survive.
func UnmarshalPipeline(raw []byte) (domain.Pipeline, error) {
	var payload PipelinePayload
	if err := Decode(bytes.NewReader(raw), &payload); err != nil {
		return domain.Pipeline{}, err
	}
	return payload.ToDomain()
}

func MarshalEntries(entries []domain.Entry) ([]byte, error) {
	return json.Marshal(EntriesFromDomain(entries))
}

func UnmarshalEntries(raw []byte) ([]domain.Entry, error) {
	var payload []EntryPayload
	if err := Decode(bytes.NewReader(raw), &payload); err != nil {
		return nil, err
	}
	return EntriesToDomain(payload)
}

// Decode reads exactly one JSON value from r into dst using json.Number for
// numbers.
func Decode(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
