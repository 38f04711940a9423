package pipelines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
	"github.com/pipelink-labs/pipelink-go/internal/execution/backend"
	"github.com/pipelink-labs/pipelink-go/internal/execution/orchestrator"
	"github.com/pipelink-labs/pipelink-go/internal/pipeline/builder"
	"github.com/pipelink-labs/pipelink-go/internal/pipeline/codec"
	"github.com/pipelink-labs/pipelink-go/internal/platform/auditlog"
	"github.com/pipelink-labs/pipelink-go/internal/platform/events"
	"github.com/pipelink-labs/pipelink-go/internal/platform/lock"
	"github.com/pipelink-labs/pipelink-go/internal/platform/metrics"
	"github.com/pipelink-labs/pipelink-go/internal/repo"
)

// StepCatalog validates and encodes steps. *registry.Registry implements it.
type StepCatalog interface {
	builder.StepValidator
	orchestrator.Encoder
	Names() []string
}

// ReceiptArchive keeps a copy of every finished attempt.
type ReceiptArchive interface {
	Put(ctx context.Context, pipelineID, attemptID string, receipt any) (string, error)
}

// BalanceSource reads a wallet's lamport balance. *balance.RPCClient
// implements it.
type BalanceSource interface {
	Lamports(ctx context.Context, address string) (uint64, error)
}

// BalanceField is the execution context key seeded with the owner's balance
// in lamports.
const BalanceField = "balance"

type AuditInfo struct {
	Actor     string
	RequestID string
	UserAgent string
	IP        net.IP
	Service   string
}

type CreateRequest struct {
	Owner       string
	Name        string
	Description string
	Entries     []codec.EntryPayload
}

type Option func(*Service)

func WithLocker(l lock.Locker, ttl time.Duration) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func WithAudit(q auditlog.QueryRower) Option {
	return func(s *Service) { s.audit = q }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

func WithReceipts(a ReceiptArchive) Option {
	return func(s *Service) { s.receipts = a }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Service) { s.submitTimeout = d }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// WithBalances seeds BalanceField from src when an execute request leaves it
// out.
func WithBalances(src BalanceSource) Option {
	return func(s *Service) { s.balances = src }
}

type Service struct {
	steps     StepCatalog
	pipelines repo.PipelineRepository
	attempts  repo.AttemptRepository
	orch      *orchestrator.Orchestrator

	locker        lock.Locker
	lockTTL       time.Duration
	audit         auditlog.QueryRower
	events        events.Publisher
	receipts      ReceiptArchive
	metrics       *metrics.Registry
	logger        *slog.Logger
	now           func() time.Time
	submitTimeout time.Duration
	tracer        trace.Tracer
	balances      BalanceSource
}

func New(steps StepCatalog, pipelineRepo repo.PipelineRepository, attemptRepo repo.AttemptRepository, submitter backend.Submitter, opts ...Option) *Service {
	if steps == nil || pipelineRepo == nil || attemptRepo == nil || submitter == nil {
		return nil
	}
	s := &Service{
		steps:     steps,
		pipelines: pipelineRepo,
		attempts:  attemptRepo,
		locker:    lock.NewLocal(),
		lockTTL:   2 * time.Minute,
		events:    events.Noop{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithClock(s.now),
		orchestrator.WithLogger(s.logger),
		orchestrator.WithTransitionHook(func(ctx context.Context, p domain.Pipeline) error {
			return s.pipelines.Save(ctx, p)
		}),
	}
	if s.submitTimeout > 0 {
		orchOpts = append(orchOpts, orchestrator.WithTimeout(s.submitTimeout))
	}
	if s.tracer != nil {
		orchOpts = append(orchOpts, orchestrator.WithTracer(s.tracer))
	}
	s.orch = orchestrator.New(steps, submitter, orchOpts...)
	return s
}

// StepTypes lists the registered step type names.
func (s *Service) StepTypes() []string {
	return s.steps.Names()
}

// Create builds, freezes and stores a pipeline. The first rejected entry
// aborts creation and its error carries the entry index.
func (s *Service) Create(ctx context.Context, req CreateRequest, info AuditInfo) (domain.Pipeline, error) {
	p, err := s.build(req)
	if err != nil {
		s.metrics.PipelineCreated("rejected")
		return domain.Pipeline{}, err
	}
	if err := s.pipelines.Save(ctx, p); err != nil {
		return domain.Pipeline{}, fmt.Errorf("save pipeline: %w", err)
	}
	s.metrics.PipelineCreated("created")

	if s.audit != nil {
		if _, err := auditlog.Insert(ctx, s.audit, s.auditEvent(info, p.Owner, auditlog.ActionPipelineCreate, p.ID, map[string]any{
			"service": info.Service,
			"name":    p.Name,
			"entries": len(p.Entries),
			"steps":   p.StepCount(),
		})); err != nil {
			return domain.Pipeline{}, fmt.Errorf("audit create: %w", err)
		}
	}
	s.publish(ctx, events.Event{
		Type:       events.TypePipelineCreated,
		PipelineID: p.ID,
		Owner:      p.Owner,
		Status:     string(p.Status),
		Steps:      p.StepCount(),
	})
	s.logger.Info("pipeline created", "pipeline_id", p.ID, "owner", p.Owner, "entries", len(p.Entries))
	return p, nil
}

func (s *Service) build(req CreateRequest) (domain.Pipeline, error) {
	b, err := builder.New(s.steps, req.Owner, req.Name, req.Description, builder.WithClock(s.now))
	if err != nil {
		return domain.Pipeline{}, err
	}
	for i, entry := range req.Entries {
		switch domain.EntryKind(strings.TrimSpace(entry.Type)) {
		case domain.EntryStep:
			err = b.AddStep(entry.Name, domain.Config(entry.Config))
		case domain.EntryCondition:
			err = b.AddCondition(entry.Field, domain.Operator(entry.Operator), entry.Value)
		default:
			return domain.Pipeline{}, &domain.Error{
				Kind:    domain.KindInvalidPipeline,
				Index:   i,
				Field:   "type",
				Message: fmt.Sprintf("entry type must be step or condition, got %q", entry.Type),
			}
		}
		if err != nil {
			return domain.Pipeline{}, err
		}
	}
	return b.Build()
}

func (s *Service) Get(ctx context.Context, id string) (domain.Pipeline, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Pipeline{}, &domain.Error{Kind: domain.KindNotFound, Index: -1, Message: "pipeline id is required"}
	}
	p, err := s.pipelines.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Pipeline{}, &domain.Error{Kind: domain.KindNotFound, Index: -1, Message: fmt.Sprintf("pipeline %s not found", id)}
		}
		return domain.Pipeline{}, fmt.Errorf("get pipeline: %w", err)
	}
	return p, nil
}

// List returns owner's pipelines in creation order.
func (s *Service) List(ctx context.Context, owner string) ([]domain.Pipeline, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, &domain.Error{Kind: domain.KindInvalidPipeline, Index: -1, Field: "owner", Message: "owner is required"}
	}
	out, err := s.pipelines.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	return out, nil
}

// Attempts returns the execution ledger of a pipeline, oldest first.
func (s *Service) Attempts(ctx context.Context, id string) ([]repo.AttemptRecord, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	out, err := s.attempts.ListByPipeline(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return out, nil
}

// Execute runs one attempt of the stored pipeline id. A contended pipeline
// yields ExecutionInProgress without touching its state; any other state
// outside validated and failed yields NotExecutable.
func (s *Service) Execute(ctx context.Context, id string, seed map[string]any, info AuditInfo) (orchestrator.Outcome, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return orchestrator.Outcome{}, err
	}

	release, acquired, err := s.locker.TryAcquire(ctx, p.ID, s.lockTTL)
	if err != nil {
		return orchestrator.Outcome{}, fmt.Errorf("acquire execution lock: %w", err)
	}
	if !acquired {
		s.metrics.LockContended()
		return orchestrator.Outcome{}, &domain.Error{
			Kind:    domain.KindExecutionInProgress,
			Index:   -1,
			State:   domain.StatusExecuting,
			Message: "another execution of this pipeline is in progress",
		}
	}
	defer release()

	// Re-read under the lock: the previous holder may have moved the state.
	p, err = s.Get(ctx, id)
	if err != nil {
		return orchestrator.Outcome{}, err
	}

	outcome, err := s.orch.Execute(ctx, &p, s.seedBalance(ctx, p.Owner, seed))
	if err != nil {
		if outcome.AttemptID == "" || outcome.Status != p.Status {
			return orchestrator.Outcome{}, err
		}
		// Terminal but unsaved: the bundle may already be committed.
		return s.unsavedOutcome(context.WithoutCancel(ctx), p, outcome, info, err)
	}
	s.finished(context.WithoutCancel(ctx), p, outcome, info)
	return outcome, nil
}

// seedBalance returns seed with the owner's balance added under BalanceField.
// A caller-supplied value wins. A failed lookup leaves the field unresolved.
func (s *Service) seedBalance(ctx context.Context, owner string, seed map[string]any) map[string]any {
	if s.balances == nil {
		return seed
	}
	if _, ok := seed[BalanceField]; ok {
		return seed
	}
	lamports, err := s.balances.Lamports(ctx, owner)
	if err != nil {
		s.logger.Warn("balance lookup failed", "owner", owner, "error", err)
		return seed
	}
	out := make(map[string]any, len(seed)+1)
	maps.Copy(out, seed)
	out[BalanceField] = json.Number(strconv.FormatUint(lamports, 10))
	return out
}

// unsavedOutcome retries the terminal save once and records the attempt. The
// original error is returned only when the retry fails too, leaving the
// stored pipeline in executing.
func (s *Service) unsavedOutcome(ctx context.Context, p domain.Pipeline, outcome orchestrator.Outcome, info AuditInfo, cause error) (orchestrator.Outcome, error) {
	saveErr := s.pipelines.Save(ctx, p)
	s.finished(ctx, p, outcome, info)
	if saveErr != nil {
		s.logger.Error("persist outcome failed",
			"pipeline_id", p.ID,
			"attempt_id", outcome.AttemptID,
			"outcome", string(outcome.Status),
			"error", errors.Join(cause, saveErr),
		)
		return outcome, cause
	}
	s.logger.Warn("outcome persisted on retry", "pipeline_id", p.ID, "attempt_id", outcome.AttemptID, "error", cause)
	return outcome, nil
}

// finished records the side effects of a terminal attempt. None of them can
// change the outcome, so failures are logged.
func (s *Service) finished(ctx context.Context, p domain.Pipeline, outcome orchestrator.Outcome, info AuditInfo) {
	record := attemptRecord(p.Owner, outcome)
	if err := s.attempts.Record(ctx, record); err != nil {
		s.logger.Error("record attempt failed", "pipeline_id", p.ID, "attempt_id", outcome.AttemptID, "error", err)
	}

	s.metrics.ExecutionFinished(string(outcome.Status), string(outcome.Reason), outcome.FinishedAt.Sub(outcome.StartedAt))

	receipt := ReceiptFromRecord(record)
	if s.audit != nil {
		if _, err := auditlog.Insert(ctx, s.audit, s.auditEvent(info, p.Owner, auditlog.ActionPipelineExecute, p.ID, receipt)); err != nil {
			s.logger.Error("audit execute failed", "pipeline_id", p.ID, "attempt_id", outcome.AttemptID, "error", err)
		}
	}
	if s.receipts != nil {
		if key, err := s.receipts.Put(ctx, p.ID, outcome.AttemptID, receipt); err != nil {
			s.logger.Warn("archive receipt failed", "pipeline_id", p.ID, "attempt_id", outcome.AttemptID, "error", err)
		} else {
			s.logger.Debug("receipt archived", "pipeline_id", p.ID, "attempt_id", outcome.AttemptID, "key", key)
		}
	}

	eventType := events.TypeExecutionSucceeded
	if !outcome.Succeeded() {
		eventType = events.TypeExecutionFailed
	}
	s.publish(ctx, events.Event{
		Type:           eventType,
		PipelineID:     p.ID,
		Owner:          p.Owner,
		Status:         string(outcome.Status),
		AttemptID:      outcome.AttemptID,
		Reason:         string(outcome.Reason),
		FailingIndex:   outcome.FailingIndex,
		ConfirmationID: outcome.ConfirmationID,
		Steps:          p.StepCount(),
	})
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", "type", event.Type, "pipeline_id", event.PipelineID, "error", err)
	}
}

func (s *Service) auditEvent(info AuditInfo, owner, action, pipelineID string, payload any) auditlog.Event {
	actor := strings.TrimSpace(info.Actor)
	if actor == "" {
		actor = owner
	}
	return auditlog.Event{
		OccurredAt:   s.now().UTC(),
		Actor:        actor,
		Action:       action,
		ResourceType: "pipeline",
		ResourceID:   pipelineID,
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Payload:      payload,
	}
}

func attemptRecord(owner string, o orchestrator.Outcome) repo.AttemptRecord {
	return repo.AttemptRecord{
		ID:             o.AttemptID,
		PipelineID:     o.PipelineID,
		Owner:          owner,
		Status:         o.Status,
		Reason:         o.Reason,
		FailingIndex:   o.FailingIndex,
		Field:          o.Field,
		Detail:         o.Detail,
		Code:           o.Code,
		Retryable:      o.Retryable,
		ConfirmationID: o.ConfirmationID,
		Instructions:   o.Instructions,
		StartedAt:      o.StartedAt,
		FinishedAt:     o.FinishedAt,
	}
}
