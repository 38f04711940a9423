package orchestrator

import (
	"time"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
)

// Outcome is the terminal result of one execution attempt.
type Outcome struct {
	AttemptID      string
	PipelineID     string
	Status         domain.Status
	ConfirmationID string

	// Failure detail, empty on success.
	Reason       domain.Kind
	FailingIndex *int
	Field        string
	Detail       string
	Code         string
	Retryable    bool

	Instructions int
	StartedAt    time.Time
	FinishedAt   time.Time
}

func (o Outcome) Succeeded() bool {
	return o.Status == domain.StatusSucceeded
}

// Err returns the failure as a *domain.Error, or nil on success.
func (o Outcome) Err() error {
	if o.Status != domain.StatusFailed {
		return nil
	}
	index := -1
	if o.FailingIndex != nil {
		index = *o.FailingIndex
	}
	return &domain.Error{Kind: o.Reason, Index: index, Field: o.Field, Message: o.Detail}
}

func intPtr(v int) *int {
	return &v
}
