package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/user/price-aggregator/internal/domain"
)

func (s *PostgresStore) CreateJob(ctx context.Context, job *domain.ResolutionJob) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO resolution_jobs (id, status, mode, total_raw, processed,
		   canonical_created, mappings_created, source_breakdown, current_phase,
		   error_message, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.Status, job.Mode, job.TotalRaw, job.Processed,
		job.CanonicalCreated, job.MappingsCreated, job.SourceBreakdown, job.CurrentPhase,
		job.ErrorMessage, job.StartedAt, job.CompletedAt)
	return err
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *domain.ResolutionJob) error {
	_, err := s.db.Exec(ctx,
		`UPDATE resolution_jobs SET
		   status = $2, total_raw = $3, processed = $4, canonical_created = $5,
		   mappings_created = $6, source_breakdown = $7, current_phase = $8,
		   error_message = $9, completed_at = $10
		 WHERE id = $1`,
		job.ID, job.Status, job.TotalRaw, job.Processed, job.CanonicalCreated,
		job.MappingsCreated, job.SourceBreakdown, job.CurrentPhase,
		job.ErrorMessage, job.CompletedAt)
	return err
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*domain.ResolutionJob, error) {
	var job domain.ResolutionJob
	err := s.db.QueryRow(ctx,
		`SELECT id, status, mode, total_raw, processed, canonical_created,
		   mappings_created, source_breakdown, current_phase, error_message,
		   started_at, completed_at
		 FROM resolution_jobs WHERE id = $1`, id,
	).Scan(&job.ID, &job.Status, &job.Mode, &job.TotalRaw, &job.Processed,
		&job.CanonicalCreated, &job.MappingsCreated, &job.SourceBreakdown,
		&job.CurrentPhase, &job.ErrorMessage, &job.StartedAt, &job.CompletedAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("resolution job %s: not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}
