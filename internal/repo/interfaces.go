package repo

import (
	"context"
	"errors"
	"time"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
)

var ErrNotFound = errors.New("not found")

// PipelineRepository persists complete pipeline snapshots keyed by id. It
// holds no business rules.
type PipelineRepository interface {
	Save(ctx context.Context, p domain.Pipeline) error
	Get(ctx context.Context, id string) (domain.Pipeline, error)
	ListByOwner(ctx context.Context, owner string) ([]domain.Pipeline, error)
}

// AttemptRecord is one row of the execution ledger.
type AttemptRecord struct {
	ID             string
	PipelineID     string
	Owner          string
	Status         domain.Status
	Reason         domain.Kind
	FailingIndex   *int
	Field          string
	Detail         string
	Code           string
	Retryable      bool
	ConfirmationID string
	Instructions   int
	StartedAt      time.Time
	FinishedAt     time.Time
}

// AttemptRepository is the append-only execution ledger.
type AttemptRepository interface {
	Record(ctx context.Context, record AttemptRecord) error
	ListByPipeline(ctx context.Context, pipelineID string) ([]AttemptRecord, error)
}
