// Package orchestrator runs one execution attempt of a frozen pipeline: it
// walks the entries against a fresh execution context, collects the step
// instructions and submits them to the backend as one atomic bundle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
	"github.com/pipelink-labs/pipelink-go/internal/execution/backend"
	"github.com/pipelink-labs/pipelink-go/internal/pipeline/condition"
)

const tracerName = "github.com/pipelink-labs/pipelink-go/internal/execution/orchestrator"

// Encoder turns a validated step into an instruction. *registry.Registry
// implements it.
type Encoder interface {
	Encode(name string, cfg domain.Config) (domain.Instruction, error)
}

// TransitionHook is called after every status change of the pipeline under
// execution, typically to persist it.
type TransitionHook func(ctx context.Context, p domain.Pipeline) error

// Observer receives every terminal outcome.
type Observer func(ctx context.Context, outcome Outcome)

type Option func(*Orchestrator)

// WithTimeout bounds the backend submission. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

func WithTransitionHook(fn TransitionHook) Option {
	return func(o *Orchestrator) {
		o.onTransition = fn
	}
}

type Orchestrator struct {
	encoder      Encoder
	submitter    backend.Submitter
	timeout      time.Duration
	now          func() time.Time
	newID        func() string
	logger       *slog.Logger
	tracer       trace.Tracer
	observers    []Observer
	onTransition TransitionHook
}

func New(encoder Encoder, submitter backend.Submitter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		encoder:   encoder,
		submitter: submitter,
		timeout:   30 * time.Second,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs one attempt of p, mutating its status and updatedAt.
//
// A failed walk or submission is reported through the returned Outcome with a
// nil error. Errors are reserved for attempts that never reached a terminal
// state: a pipeline that is not executable, a caller cancellation (the
// pipeline reverts to validated) or a transition hook failure.
func (o *Orchestrator) Execute(ctx context.Context, p *domain.Pipeline, seed map[string]any) (Outcome, error) {
	if o == nil || o.encoder == nil || o.submitter == nil {
		return Outcome{}, errors.New("orchestrator not initialized")
	}
	if p == nil {
		return Outcome{}, domain.Errorf(domain.KindInvalidPipeline, "pipeline is required")
	}
	if !p.Status.Executable() {
		return Outcome{}, &domain.Error{
			Kind:    domain.KindNotExecutable,
			Index:   -1,
			State:   p.Status,
			Message: "pipeline must be validated before execution",
		}
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, &domain.Error{Kind: domain.KindCanceled, Index: -1, State: p.Status, Err: err}
	}

	attemptID := o.newID()
	ctx, span := o.tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("pipeline.id", p.ID),
		attribute.String("pipeline.attempt_id", attemptID),
		attribute.Int("pipeline.entries", len(p.Entries)),
	))
	defer span.End()

	started := o.now().UTC()
	previous := p.Status
	if err := p.Transition(domain.StatusExecuting, started); err != nil {
		return Outcome{}, err
	}
	if err := o.transitioned(ctx, *p); err != nil {
		p.Status = previous
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist executing")
		return Outcome{}, fmt.Errorf("persist executing: %w", err)
	}

	outcome := Outcome{
		AttemptID:  attemptID,
		PipelineID: p.ID,
		StartedAt:  started,
	}

	ectx := condition.NewContext(seed)
	instructions := make([]domain.Instruction, 0, p.StepCount())
	entryOf := make([]int, 0, p.StepCount())
	for i, entry := range p.Entries {
		if ctx.Err() != nil {
			return o.cancel(ctx, p, span)
		}
		switch entry.Kind {
		case domain.EntryStep:
			ins, err := o.encoder.Encode(entry.Step.Name, entry.Step.Config)
			if err != nil {
				o.failWith(&outcome, err, i, domain.KindInvalidStepConfig)
				return o.finish(ctx, p, outcome, span)
			}
			instructions = append(instructions, ins)
			entryOf = append(entryOf, i)
			publishStep(ectx, i, entry.Step)
		case domain.EntryCondition:
			ok, err := condition.Evaluate(*entry.Condition, ectx)
			if err != nil {
				o.failWith(&outcome, err, i, domain.KindTypeMismatch)
				return o.finish(ctx, p, outcome, span)
			}
			if !ok {
				c := entry.Condition
				outcome.Reason = domain.KindConditionNotMet
				outcome.FailingIndex = intPtr(i)
				outcome.Field = c.Field
				outcome.Detail = fmt.Sprintf("%s %s %v evaluated false", c.Field, c.Operator, c.Value)
				return o.finish(ctx, p, outcome, span)
			}
		default:
			o.failWith(&outcome, domain.Errorf(domain.KindInvalidPipeline, "unknown entry kind %q", entry.Kind), i, domain.KindInvalidPipeline)
			return o.finish(ctx, p, outcome, span)
		}
	}
	outcome.Instructions = len(instructions)

	receipt, err := o.submit(ctx, p, attemptID, instructions)
	switch {
	case err == nil:
		outcome.ConfirmationID = receipt.ConfirmationID
	case ctx.Err() != nil:
		return o.cancel(ctx, p, span)
	default:
		o.submissionFailure(&outcome, err, entryOf)
	}
	return o.finish(ctx, p, outcome, span)
}

func (o *Orchestrator) submit(ctx context.Context, p *domain.Pipeline, attemptID string, instructions []domain.Instruction) (backend.Receipt, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.submit", trace.WithAttributes(
		attribute.Int("pipeline.instructions", len(instructions)),
	))
	defer span.End()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	receipt, err := o.submitter.Submit(ctx, backend.Bundle{
		PipelineID:   p.ID,
		AttemptID:    attemptID,
		Owner:        p.Owner,
		Instructions: instructions,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit")
		return backend.Receipt{}, err
	}
	span.SetAttributes(attribute.String("pipeline.confirmation_id", receipt.ConfirmationID))
	return receipt, nil
}

// submissionFailure classifies a backend error. The caller context is known to
// be alive here, so a deadline can only be the submission bound.
func (o *Orchestrator) submissionFailure(outcome *Outcome, err error, entryOf []int) {
	if errors.Is(err, context.DeadlineExceeded) {
		outcome.Reason = domain.KindSubmissionTimeout
		outcome.Code = backend.CodeTimeout
		outcome.Detail = fmt.Sprintf("submission exceeded %s; on-chain outcome unknown", o.timeout)
		return
	}
	serr, ok := backend.AsSubmissionError(err)
	if !ok {
		outcome.Reason = domain.KindSubmissionError
		outcome.Detail = err.Error()
		return
	}
	outcome.Reason = domain.KindSubmissionError
	if serr.Code == backend.CodeTimeout {
		outcome.Reason = domain.KindSubmissionTimeout
	}
	outcome.Code = serr.Code
	outcome.Detail = serr.Message
	outcome.Retryable = serr.Retryable
	if serr.InstructionIndex >= 0 && serr.InstructionIndex < len(entryOf) {
		outcome.FailingIndex = intPtr(entryOf[serr.InstructionIndex])
	}
}

func (o *Orchestrator) failWith(outcome *Outcome, err error, index int, fallback domain.Kind) {
	outcome.Reason = fallback
	outcome.FailingIndex = intPtr(index)
	outcome.Detail = err.Error()
	if derr, ok := domain.AsError(err); ok {
		outcome.Reason = derr.Kind
		outcome.Field = derr.Field
		outcome.Detail = derr.Message
		if outcome.Detail == "" {
			outcome.Detail = derr.Error()
		}
	}
}

func (o *Orchestrator) finish(ctx context.Context, p *domain.Pipeline, outcome Outcome, span trace.Span) (Outcome, error) {
	outcome.FinishedAt = o.now().UTC()
	outcome.Status = domain.StatusSucceeded
	if outcome.Reason != "" {
		outcome.Status = domain.StatusFailed
	}
	if err := p.Transition(outcome.Status, outcome.FinishedAt); err != nil {
		return outcome, err
	}

	span.SetAttributes(attribute.String("pipeline.outcome", string(outcome.Status)))
	attrs := []any{
		"pipeline_id", p.ID,
		"attempt_id", outcome.AttemptID,
		"outcome", string(outcome.Status),
		"instructions", outcome.Instructions,
		"duration_ms", outcome.FinishedAt.Sub(outcome.StartedAt).Milliseconds(),
	}
	if outcome.Status == domain.StatusFailed {
		span.SetStatus(codes.Error, string(outcome.Reason))
		attrs = append(attrs, "reason", string(outcome.Reason), "detail", outcome.Detail)
		if outcome.FailingIndex != nil {
			attrs = append(attrs, "failing_index", *outcome.FailingIndex)
		}
		if outcome.Code != "" {
			attrs = append(attrs, "code", outcome.Code, "retryable", outcome.Retryable)
		}
		o.logger.Warn("pipeline execution failed", attrs...)
	} else {
		attrs = append(attrs, "confirmation_id", outcome.ConfirmationID)
		o.logger.Info("pipeline executed", attrs...)
	}

	for _, observe := range o.observers {
		observe(ctx, outcome)
	}
	if err := o.transitioned(context.WithoutCancel(ctx), *p); err != nil {
		return outcome, fmt.Errorf("persist outcome: %w", err)
	}
	return outcome, nil
}

// cancel discards the attempt and reverts the pipeline to validated, marking
// it as not attempted.
func (o *Orchestrator) cancel(ctx context.Context, p *domain.Pipeline, span trace.Span) (Outcome, error) {
	cause := ctx.Err()
	if err := p.Transition(domain.StatusValidated, o.now().UTC()); err != nil {
		return Outcome{}, err
	}
	span.SetStatus(codes.Error, "canceled")
	o.logger.Info("pipeline execution canceled", "pipeline_id", p.ID, "error", cause)

	canceled := &domain.Error{Kind: domain.KindCanceled, Index: -1, State: p.Status, Message: "execution canceled by caller", Err: cause}
	if err := o.transitioned(context.WithoutCancel(ctx), *p); err != nil {
		return Outcome{}, errors.Join(canceled, fmt.Errorf("persist revert: %w", err))
	}
	return Outcome{}, canceled
}

func (o *Orchestrator) transitioned(ctx context.Context, p domain.Pipeline) error {
	if o.onTransition == nil {
		return nil
	}
	return o.onTransition(ctx, p.Clone())
}

// publishStep exposes a step's config to later conditions as "<step>.<key>"
// and "steps.<index>.<key>".
func publishStep(ectx *condition.Context, index int, step *domain.Step) {
	prefix := fmt.Sprintf("steps.%d.", index)
	ectx.Set(prefix+"name", step.Name)
	for key, value := range step.Config {
		ectx.Set(step.Name+"."+key, value)
		ectx.Set(prefix+key, value)
	}
}
