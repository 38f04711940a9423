package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
	"github.com/pipelink-labs/pipelink-go/internal/pipeline/codec"
)

type PipelineStore struct {
	db DB
}

const (
	upsertPipelineQuery = `INSERT INTO pipelines (
		pipeline_id,
		owner,
		name,
		description,
		status,
		entries,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (pipeline_id) DO UPDATE SET
		owner = excluded.owner,
		name = excluded.name,
		description = excluded.description,
		status = excluded.status,
		entries = excluded.entries,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at`

	selectPipelineQuery = `SELECT pipeline_id, owner, name, description, status, entries, created_at, updated_at
	 FROM pipelines
	 WHERE pipeline_id = $1`

	listPipelinesByOwnerQuery = `SELECT pipeline_id, owner, name, description, status, entries, created_at, updated_at
	 FROM pipelines
	 WHERE owner = $1
	 ORDER BY created_at ASC, pipeline_id ASC`
)

func NewPipelineStore(db DB) *PipelineStore {
	if db == nil {
		return nil
	}
	return &PipelineStore{db: db}
}

// Save upserts the full snapshot. Saving the same snapshot twice is a no-op.
func (s *PipelineStore) Save(ctx context.Context, p domain.Pipeline) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("pipeline store not initialized")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	entries, err := codec.MarshalEntries(p.Entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		upsertPipelineQuery,
		strings.TrimSpace(p.ID),
		strings.TrimSpace(p.Owner),
		p.Name,
		p.Description,
		string(p.Status),
		string(entries),
		encodeTime(p.CreatedAt),
		encodeTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert pipeline: %w", err)
	}
	return nil
}

func (s *PipelineStore) Get(ctx context.Context, id string) (domain.Pipeline, error) {
	if s == nil || s.db == nil {
		return domain.Pipeline{}, fmt.Errorf("pipeline store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Pipeline{}, fmt.Errorf("pipeline id is required")
	}
	return scanPipeline(s.db.QueryRowContext(ctx, selectPipelineQuery, id))
}

// ListByOwner returns the owner's pipelines in creation order.
func (s *PipelineStore) ListByOwner(ctx context.Context, owner string) ([]domain.Pipeline, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("pipeline store not initialized")
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, fmt.Errorf("owner is required")
	}

	rows, err := s.db.QueryContext(ctx, listPipelinesByOwnerQuery, owner)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Pipeline, 0)
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	return out, nil
}

func scanPipeline(row scanner) (domain.Pipeline, error) {
	var (
		p         domain.Pipeline
		status    string
		entries   []byte
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&p.ID, &p.Owner, &p.Name, &p.Description, &status, &entries, &createdAt, &updatedAt); err != nil {
		return domain.Pipeline{}, handleNotFound(err)
	}
	p.Status = domain.NormalizeStatus(status)
	if p.Status == "" {
		return domain.Pipeline{}, fmt.Errorf("pipeline %s has unknown status %q", p.ID, status)
	}
	decoded, err := codec.UnmarshalEntries(entries)
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("decode entries of %s: %w", p.ID, err)
	}
	p.Entries = decoded
	p.CreatedAt = decodeTime(createdAt)
	p.UpdatedAt = decodeTime(updatedAt)
	return p, nil
}
