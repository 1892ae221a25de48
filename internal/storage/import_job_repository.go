package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/types"
)

// ImportJobRepository handles import job persistence. Nested results are stored as JSONB.
type ImportJobRepository struct {
	db *PostgresDB
}

// NewImportJobRepository creates a new import job repository
func NewImportJobRepository(db *PostgresDB) *ImportJobRepository {
	return &ImportJobRepository{db: db}
}

const importJobColumns = `
	id::text, status, started_at, completed_at, updated_at, total_requested, total_sources,
	processed_count, added_count, failed_count, source_results, errors, failures,
	failures_dropped, config
`

type jobDocuments struct {
	sourceResults []byte
	errors        []byte
	failures      []byte
	config        []byte
}

func marshalJobDocuments(job *models.ImportJob) (*jobDocuments, error) {
	var (
		docs jobDocuments
		err  error
	)
	if docs.sourceResults, err = json.Marshal(job.SourceResults); err != nil {
		return nil, fmt.Errorf("failed to marshal source results: %w", err)
	}
	if docs.errors, err = json.Marshal(job.Errors); err != nil {
		return nil, fmt.Errorf("failed to marshal job errors: %w", err)
	}
	if docs.failures, err = json.Marshal(job.Failures); err != nil {
		return nil, fmt.Errorf("failed to marshal record failures: %w", err)
	}
	if docs.config, err = json.Marshal(job.Config); err != nil {
		return nil, fmt.Errorf("failed to marshal job config: %w", err)
	}
	return &docs, nil
}

// Create creates a new import job record
func (r *ImportJobRepository) Create(ctx context.Context, job *models.ImportJob) error {
	docs, err := marshalJobDocuments(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO import_jobs (
			id, status, started_at, completed_at, updated_at, total_requested, total_sources,
			processed_count, added_count, failed_count, source_results, errors, failures,
			failures_dropped, config
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.Pool().Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
		job.TotalRequested,
		job.TotalSources,
		job.ProcessedCount,
		job.AddedCount,
		job.FailedCount,
		docs.sourceResults,
		docs.errors,
		docs.failures,
		job.FailuresDropped,
		docs.config,
	)
	if err != nil {
		return apperrors.NewDatabaseError("create import job", err)
	}
	return nil
}

// Update overwrites the progress of an existing job
func (r *ImportJobRepository) Update(ctx context.Context, job *models.ImportJob) error {
	docs, err := marshalJobDocuments(job)
	if err != nil {
		return err
	}

	query := `
		UPDATE import_jobs
		SET status = $2, completed_at = $3, updated_at = $4, total_requested = $5,
			total_sources = $6, processed_count = $7, added_count = $8, failed_count = $9,
			source_results = $10, errors = $11, failures = $12, failures_dropped = $13
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.CompletedAt,
		job.UpdatedAt,
		job.TotalRequested,
		job.TotalSources,
		job.ProcessedCount,
		job.AddedCount,
		job.FailedCount,
		docs.sourceResults,
		docs.errors,
		docs.failures,
		job.FailuresDropped,
	)
	if err != nil {
		return apperrors.NewDatabaseError("update import job", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("import job", job.ID)
	}
	return nil
}

// GetByID retrieves an import job by id
func (r *ImportJobRepository) GetByID(ctx context.Context, id string) (*models.ImportJob, error) {
	query := `SELECT ` + importJobColumns + ` FROM import_jobs WHERE id::text = $1`

	job, err := scanImportJob(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("import job", id)
		}
		return nil, apperrors.NewDatabaseError("get import job", err)
	}
	return job, nil
}

// ListByStatus retrieves jobs with the given status, oldest first. An empty status lists
// every job, newest first.
func (r *ImportJobRepository) ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*models.ImportJob, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		query := `SELECT ` + importJobColumns + ` FROM import_jobs ORDER BY started_at DESC LIMIT $1`
		rows, err = r.db.Pool().Query(ctx, query, limit)
	} else {
		query := `SELECT ` + importJobColumns + ` FROM import_jobs WHERE status = $1 ORDER BY started_at ASC LIMIT $2`
		rows, err = r.db.Pool().Query(ctx, query, string(status), limit)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("list import jobs", err)
	}
	defer rows.Close()

	var jobs []*models.ImportJob
	for rows.Next() {
		job, err := scanImportJob(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan import job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list import jobs", err)
	}
	return jobs, nil
}

func scanImportJob(row pgx.Row) (*models.ImportJob, error) {
	var (
		job    models.ImportJob
		status string
		docs   jobDocuments
	)

	err := row.Scan(
		&job.ID,
		&status,
		&job.StartedAt,
		&job.CompletedAt,
		&job.UpdatedAt,
		&job.TotalRequested,
		&job.TotalSources,
		&job.ProcessedCount,
		&job.AddedCount,
		&job.FailedCount,
		&docs.sourceResults,
		&docs.errors,
		&docs.failures,
		&job.FailuresDropped,
		&docs.config,
	)
	if err != nil {
		return nil, err
	}

	job.Status = types.JobStatus(status)
	if err := json.Unmarshal(docs.sourceResults, &job.SourceResults); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source results: %w", err)
	}
	if err := json.Unmarshal(docs.errors, &job.Errors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job errors: %w", err)
	}
	if err := json.Unmarshal(docs.failures, &job.Failures); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record failures: %w", err)
	}
	if err := json.Unmarshal(docs.config, &job.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job config: %w", err)
	}
	return &job, nil
}
