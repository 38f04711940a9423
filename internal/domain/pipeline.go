package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultPipelineName is used when a pipeline is created without a name.
const DefaultPipelineName = "Untitled Pipeline"

// Status is the lifecycle state of a pipeline.
type Status string

const (
	StatusCreated   Status = "created"
	StatusValidated Status = "validated"
	StatusExecuting Status = "executing"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// NormalizeStatus maps stored status values to canonical statuses.
func NormalizeStatus(value string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusCreated:
		return StatusCreated
	case StatusValidated:
		return StatusValidated
	case StatusExecuting:
		return StatusExecuting
	case StatusSucceeded:
		return StatusSucceeded
	case StatusFailed:
		return StatusFailed
	default:
		return ""
	}
}

// CanTransition reports whether the lifecycle permits current -> next.
// executing -> validated is the cancellation path ("not attempted").
func CanTransition(current, next Status) bool {
	switch current {
	case StatusCreated:
		return next == StatusValidated
	case StatusValidated:
		return next == StatusExecuting
	case StatusFailed:
		return next == StatusExecuting
	case StatusExecuting:
		return next == StatusSucceeded || next == StatusFailed || next == StatusValidated
	default:
		return false
	}
}

// Executable reports whether an execution attempt may start from s.
// A failed pipeline stays frozen and may be retried with a fresh attempt.
func (s Status) Executable() bool {
	return s == StatusValidated || s == StatusFailed
}

// Config is a step configuration. Numbers are kept as json.Number once
// normalised by the step registry.
type Config map[string]any

// Step is one typed unit of work.
type Step struct {
	Name   string
	Config Config
}

// Operator is a comparison operator of a Condition.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
)

// Valid reports whether op belongs to the fixed operator set.
func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		return true
	default:
		return false
	}
}

// Condition gates the entries after it.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// EntryKind tags the variant held by an Entry.
type EntryKind string

const (
	EntryStep      EntryKind = "step"
	EntryCondition EntryKind = "condition"
)

// Entry is either a Step or a Condition; Kind selects which pointer is set.
type Entry struct {
	Kind      EntryKind
	Step      *Step
	Condition *Condition
}

func StepEntry(name string, cfg Config) Entry {
	return Entry{Kind: EntryStep, Step: &Step{Name: name, Config: cfg}}
}

func ConditionEntry(field string, op Operator, value any) Entry {
	return Entry{Kind: EntryCondition, Condition: &Condition{Field: field, Operator: op, Value: value}}
}

// Pipeline is an ordered execution plan owned by a wallet.
type Pipeline struct {
	ID          string
	Owner       string
	Name        string
	Description string
	Entries     []Entry
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks identity fields.
func (p Pipeline) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return Errorf(KindInvalidPipeline, "id is required")
	}
	if strings.TrimSpace(p.Owner) == "" {
		return Errorf(KindInvalidPipeline, "owner is required")
	}
	if NormalizeStatus(string(p.Status)) == "" {
		return Errorf(KindInvalidPipeline, "unknown status %q", p.Status)
	}
	return nil
}

// Append adds an entry while the pipeline is still being built.
func (p *Pipeline) Append(entry Entry, now time.Time) error {
	if p.Status != StatusCreated {
		return &Error{Kind: KindPipelineFrozen, Index: -1, State: p.Status, Message: "entries are immutable once built"}
	}
	switch entry.Kind {
	case EntryStep:
		if entry.Step == nil {
			return Errorf(KindInvalidPipeline, "step entry without step")
		}
	case EntryCondition:
		if entry.Condition == nil {
			return Errorf(KindInvalidPipeline, "condition entry without condition")
		}
	default:
		return Errorf(KindInvalidPipeline, "unknown entry kind %q", entry.Kind)
	}
	p.Entries = append(p.Entries, entry)
	p.UpdatedAt = now
	return nil
}

// Transition moves the pipeline to next, enforcing the lifecycle graph.
func (p *Pipeline) Transition(next Status, now time.Time) error {
	if !CanTransition(p.Status, next) {
		return &Error{
			Kind:    KindNotExecutable,
			Index:   -1,
			State:   p.Status,
			Message: fmt.Sprintf("cannot transition %s -> %s", p.Status, next),
		}
	}
	p.Status = next
	p.UpdatedAt = now
	return nil
}

// StepCount returns the number of step entries.
func (p Pipeline) StepCount() int {
	n := 0
	for _, e := range p.Entries {
		if e.Kind == EntryStep {
			n++
		}
	}
	return n
}

// Clone returns a deep copy; snapshots handed out never alias builder state.
func (p Pipeline) Clone() Pipeline {
	out := p
	if p.Entries != nil {
		out.Entries = make([]Entry, len(p.Entries))
		for i, e := range p.Entries {
			out.Entries[i] = e.clone()
		}
	}
	return out
}

func (e Entry) clone() Entry {
	out := Entry{Kind: e.Kind}
	if e.Step != nil {
		out.Step = &Step{Name: e.Step.Name, Config: Config(cloneMap(e.Step.Config))}
	}
	if e.Condition != nil {
		c := *e.Condition
		c.Value = cloneValue(c.Value)
		out.Condition = &c
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Config:
		return Config(cloneMap(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// IsScalar reports whether v is a condition-comparable scalar.
func IsScalar(v any) bool {
	switch v.(type) {
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}
