package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
	"github.com/pipelink-labs/pipelink-go/internal/repo"
)

type AttemptStore struct {
	db DB
}

const (
	insertAttemptQuery = `INSERT INTO execution_attempts (
		attempt_id,
		pipeline_id,
		owner,
		status,
		reason,
		failing_index,
		field,
		detail,
		code,
		retryable,
		confirmation_id,
		instructions,
		started_at,
		finished_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	ON CONFLICT (attempt_id) DO NOTHING`

	listAttemptsByPipelineQuery = `SELECT attempt_id, pipeline_id, owner, status, reason, failing_index, field, detail, code, retryable, confirmation_id, instructions, started_at, finished_at
	 FROM execution_attempts
	 WHERE pipeline_id = $1
	 ORDER BY started_at ASC, attempt_id ASC`
)

func NewAttemptStore(db DB) *AttemptStore {
	if db == nil {
		return nil
	}
	return &AttemptStore{db: db}
}

// Record appends an attempt. Recording the same attempt id again is a no-op.
func (s *AttemptStore) Record(ctx context.Context, record repo.AttemptRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("attempt store not initialized")
	}
	id := strings.TrimSpace(record.ID)
	pipelineID := strings.TrimSpace(record.PipelineID)
	if id == "" {
		return fmt.Errorf("attempt id is required")
	}
	if pipelineID == "" {
		return fmt.Errorf("pipeline id is required")
	}
	if domain.NormalizeStatus(string(record.Status)) == "" {
		return fmt.Errorf("status is required")
	}

	var failingIndex sql.NullInt64
	if record.FailingIndex != nil {
		failingIndex = sql.NullInt64{Int64: int64(*record.FailingIndex), Valid: true}
	}

	_, err := s.db.ExecContext(
		ctx,
		insertAttemptQuery,
		id,
		pipelineID,
		strings.TrimSpace(record.Owner),
		string(record.Status),
		nullIfEmpty(string(record.Reason)),
		failingIndex,
		nullIfEmpty(record.Field),
		nullIfEmpty(record.Detail),
		nullIfEmpty(record.Code),
		record.Retryable,
		nullIfEmpty(record.ConfirmationID),
		record.Instructions,
		encodeTime(record.StartedAt),
		encodeTime(record.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) ListByPipeline(ctx context.Context, pipelineID string) ([]repo.AttemptRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("attempt store not initialized")
	}
	pipelineID = strings.TrimSpace(pipelineID)
	if pipelineID == "" {
		return nil, fmt.Errorf("pipeline id is required")
	}

	rows, err := s.db.QueryContext(ctx, listAttemptsByPipelineQuery, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	out := make([]repo.AttemptRecord, 0)
	for rows.Next() {
		record, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return out, nil
}

func scanAttempt(row scanner) (repo.AttemptRecord, error) {
	var (
		record         repo.AttemptRecord
		status         string
		reason         sql.NullString
		failingIndex   sql.NullInt64
		field          sql.NullString
		detail         sql.NullString
		code           sql.NullString
		confirmationID sql.NullString
		startedAt      int64
		finishedAt     int64
	)
	if err := row.Scan(
		&record.ID,
		&record.PipelineID,
		&record.Owner,
		&status,
		&reason,
		&failingIndex,
		&field,
		&detail,
		&code,
		&record.Retryable,
		&confirmationID,
		&record.Instructions,
		&startedAt,
		&finishedAt,
	); err != nil {
		return repo.AttemptRecord{}, handleNotFound(err)
	}
	record.Status = domain.NormalizeStatus(status)
	record.Reason = domain.Kind(reason.String)
	if failingIndex.Valid {
		idx := int(failingIndex.Int64)
		record.FailingIndex = &idx
	}
	record.Field = field.String
	record.Detail = detail.String
	record.Code = code.String
	record.ConfirmationID = confirmationID.String
	record.StartedAt = decodeTime(startedAt)
	record.FinishedAt = decodeTime(finishedAt)
	return record, nil
}
