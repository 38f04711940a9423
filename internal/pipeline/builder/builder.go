// Package builder accumulates steps and conditions into a frozen Pipeline.
//
// A Builder is owned by a single caller for one construction session and is
// not safe for concurrent use.
package builder

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
	"github.com/pipelink-labs/pipelink-go/internal/pipeline/registry"
)

// StepValidator validates and normalises step configs. *registry.Registry
// implements it.
type StepValidator interface {
	Validate(name string, cfg domain.Config) (domain.Config, error)
}

type Option func(*Builder)

func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithID fixes the pipeline id instead of generating one.
func WithID(id string) Option {
	return func(b *Builder) {
		if id = strings.TrimSpace(id); id != "" {
			b.p.ID = id
		}
	}
}

type Builder struct {
	steps    StepValidator
	now      func() time.Time
	p        domain.Pipeline
	rejected error
}

// New starts a pipeline in the created state.
func New(steps StepValidator, owner, name, description string, opts ...Option) (*Builder, error) {
	if steps == nil {
		return nil, domain.Errorf(domain.KindInvalidPipeline, "step registry is required")
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, &domain.Error{Kind: domain.KindInvalidPipeline, Index: -1, Field: "owner", Message: "owner is required"}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = domain.DefaultPipelineName
	}

	b := &Builder{
		steps: steps,
		now:   time.Now,
		p: domain.Pipeline{
			Owner:       owner,
			Name:        name,
			Description: strings.TrimSpace(description),
			Entries:     []domain.Entry{},
			Status:      domain.StatusCreated,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.p.ID == "" {
		b.p.ID = uuid.NewString()
	}
	created := b.now().UTC()
	b.p.CreatedAt = created
	b.p.UpdatedAt = created
	return b, nil
}

// AddStep validates cfg against the step type and appends a step entry.
// A rejected step leaves the entries untouched.
func (b *Builder) AddStep(name string, cfg domain.Config) error {
	if err := b.frozen(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	normalized, err := b.steps.Validate(name, cfg)
	if err != nil {
		return b.reject(err)
	}
	return b.p.Append(domain.StepEntry(name, normalized), b.now().UTC())
}

// AddCondition appends a gate over the execution context.
func (b *Builder) AddCondition(field string, op domain.Operator, value any) error {
	if err := b.frozen(); err != nil {
		return err
	}
	op = domain.Operator(strings.TrimSpace(string(op)))
	if !op.Valid() {
		return b.reject(&domain.Error{Kind: domain.KindInvalidOperator, Index: -1, Field: "operator", Message: fmt.Sprintf("operator %q is not one of == != > >= < <=", op)})
	}
	field = strings.TrimSpace(field)
	if field == "" {
		return b.reject(&domain.Error{Kind: domain.KindInvalidCondition, Index: -1, Field: "field", Message: "field is required"})
	}
	normalized, err := registry.NormalizeScalar(value)
	if err != nil {
		return b.reject(err)
	}
	return b.p.Append(domain.ConditionEntry(field, op, normalized), b.now().UTC())
}

// Build freezes the entries and moves the pipeline to validated. It fails
// with the first rejected append, if any, leaving the pipeline created.
func (b *Builder) Build() (domain.Pipeline, error) {
	if b.p.Status != domain.StatusCreated {
		return domain.Pipeline{}, &domain.Error{Kind: domain.KindAlreadyBuilt, Index: -1, State: b.p.Status, Message: "build already completed"}
	}
	if b.rejected != nil {
		return domain.Pipeline{}, b.rejected
	}
	if len(b.p.Entries) == 0 {
		return domain.Pipeline{}, domain.Errorf(domain.KindEmptyPipeline, "pipeline has no entries")
	}
	if b.p.StepCount() == 0 {
		return domain.Pipeline{}, domain.Errorf(domain.KindEmptyPipeline, "pipeline has no steps")
	}
	if err := b.p.Validate(); err != nil {
		return domain.Pipeline{}, err
	}
	if err := b.p.Transition(domain.StatusValidated, b.now().UTC()); err != nil {
		return domain.Pipeline{}, err
	}
	return b.p.Clone(), nil
}

// Pipeline returns a snapshot of the pipeline under construction.
func (b *Builder) Pipeline() domain.Pipeline {
	return b.p.Clone()
}

func (b *Builder) frozen() error {
	if b.p.Status == domain.StatusCreated {
		return nil
	}
	return &domain.Error{Kind: domain.KindPipelineFrozen, Index: len(b.p.Entries), State: b.p.Status, Message: "entries are immutable once built"}
}

// reject positions err at the next entry index and remembers the first one.
func (b *Builder) reject(err error) error {
	out := err
	if derr, ok := domain.AsError(err); ok {
		out = derr.WithIndex(len(b.p.Entries))
	}
	if b.rejected == nil {
		b.rejected = out
	}
	return out
}
