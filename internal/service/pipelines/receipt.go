package pipelines

import (
	"time"

	"github.com/pipelink-labs/pipelink-go/internal/repo"
)

// Receipt is the JSON form of one finished attempt, shared by the ledger
// endpoint, the audit payload and the receipts archive.
type Receipt struct {
	AttemptID      string    `json:"attemptId"`
	PipelineID     string    `json:"pipelineId"`
	Owner          string    `json:"owner"`
	Status         string    `json:"status"`
	ConfirmationID string    `json:"confirmationId,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	FailingIndex   *int      `json:"failingIndex,omitempty"`
	Field          string    `json:"field,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	Code           string    `json:"code,omitempty"`
	Retryable      bool      `json:"retryable"`
	Instructions   int       `json:"instructions"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
}

func ReceiptFromRecord(r repo.AttemptRecord) Receipt {
	return Receipt{
		AttemptID:      r.ID,
		PipelineID:     r.PipelineID,
		Owner:          r.Owner,
		Status:         string(r.Status),
		ConfirmationID: r.ConfirmationID,
		Reason:         string(r.Reason),
		FailingIndex:   r.FailingIndex,
		Field:          r.Field,
		Detail:         r.Detail,
		Code:           r.Code,
		Retryable:      r.Retryable,
		Instructions:   r.Instructions,
		StartedAt:      r.StartedAt.UTC(),
		FinishedAt:     r.FinishedAt.UTC(),
	}
}
