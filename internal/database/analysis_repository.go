package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/steamlens/steamlens-go/internal/models"
)

// AnalysisRepository persists analysis jobs and their result bundles.
type AnalysisRepository struct {
	pool DatabasePool
}

// NewAnalysisRepository creates a new analysis repository.
func NewAnalysisRepository(pool DatabasePool) *AnalysisRepository {
	return &AnalysisRepository{pool: pool}
}

// SaveJob inserts a freshly created job.
func (r *AnalysisRepository) SaveJob(ctx context.Context, job *models.AnalysisJob) error {
	query := `
		INSERT INTO analysis_job (id, analysis_type, status, params, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		job.ID, job.AnalysisType, job.Status, job.Params, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJob writes the current status, result and error of a job.
func (r *AnalysisRepository) UpdateJob(ctx context.Context, job *models.AnalysisJob) error {
	query := `
		UPDATE analysis_job
		SET status = $2, result = $3, error = $4, started_at = $5, finished_at = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		job.ID, job.Status, job.Result, job.Error, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update analysis job %s: %w", job.ID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("analysis job %s not found", job.ID)
	}
	return nil
}

// GetJob returns one job, nil when absent.
func (r *AnalysisRepository) GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	err := r.pool.QueryRow(ctx, `
		SELECT id, analysis_type, status, params, result, COALESCE(error, ''),
			created_at, started_at, finished_at
		FROM analysis_job
		WHERE id = $1
	`, id).Scan(
		&job.ID, &job.AnalysisType, &job.Status, &job.Params, &job.Result,
		&job.Error, &job.CreatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get analysis job %s: %w", id, err)
	}
	return &job, nil
}

// ListJobs returns recent jobs, newest first, optionally filtered by
// analysis type.
func (r *AnalysisRepository) ListJobs(ctx context.Context, analysisType string, limit int) ([]models.AnalysisJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, analysis_type, status, params, result, COALESCE(error, ''),
			created_at, started_at, finished_at
		FROM analysis_job
		WHERE ($1 = '' OR analysis_type = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, analysisType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.AnalysisJob
	for rows.Next() {
		var job models.AnalysisJob
		if err := rows.Scan(
			&job.ID, &job.AnalysisType, &job.Status, &job.Params, &job.Result,
			&job.Error, &job.CreatedAt, &job.StartedAt, &job.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan analysis job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analysis jobs: %w", err)
	}
	return jobs, nil
}

// CleanupJobs deletes finished jobs older than the cutoff, returning the
// number removed.
func (r *AnalysisRepository) CleanupJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM analysis_job
		WHERE finished_at IS NOT NULL AND finished_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup analysis jobs: %w", err)
	}
	return result.RowsAffected(), nil
}

// SaveIngestionJob inserts an ingestion job row.
func (r *AnalysisRepository) SaveIngestionJob(ctx context.Context, job *models.IngestionJob) error {
	query := `
		INSERT INTO ingestion_job (id, source, status, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query, job.ID, job.Source, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save ingestion job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateIngestionJob writes the progress counters and status of a job.
func (r *AnalysisRepository) UpdateIngestionJob(ctx context.Context, job *models.IngestionJob) error {
	query := `
		UPDATE ingestion_job
		SET status = $2, games_fetched = $3, rows_written = $4, error = $5,
			started_at = $6, finished_at = $7
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		job.ID, job.Status, job.GamesFetched, job.RowsWritten, job.Error,
		job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update ingestion job %s: %w", job.ID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("ingestion job %s not found", job.ID)
	}
	return nil
}

// ListIngestionJobs returns recent ingestion jobs, newest first.
func (r *AnalysisRepository) ListIngestionJobs(ctx context.Context, limit int) ([]models.IngestionJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, source, status, games_fetched, rows_written, COALESCE(error, ''),
			created_at, started_at, finished_at
		FROM ingestion_job
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.IngestionJob
	for rows.Next() {
		var job models.IngestionJob
		if err := rows.Scan(
			&job.ID, &job.Source, &job.Status, &job.GamesFetched, &job.RowsWritten,
			&job.Error, &job.CreatedAt, &job.StartedAt, &job.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ingestion job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ingestion jobs: %w", err)
	}
	return jobs, nil
}
