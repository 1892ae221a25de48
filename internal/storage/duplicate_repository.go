package storage

import (
	"context"

	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/types"
)

// DuplicateRepository records duplicate detections for later review
type DuplicateRepository struct {
	db *PostgresDB
}

// NewDuplicateRepository creates a new duplicate repository
func NewDuplicateRepository(db *PostgresDB) *DuplicateRepository {
	return &DuplicateRepository{db: db}
}

// RecordDuplicate stores one detection
func (r *DuplicateRepository) RecordDuplicate(ctx context.Context, rec *models.DuplicateRecord) error {
	query := `
		INSERT INTO trail_duplicates (
			job_id, candidate_name, source, source_id, original_id, original_name, similarity, detected_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		rec.JobID,
		rec.CandidateName,
		string(rec.Source),
		rec.SourceID,
		rec.OriginalID,
		rec.OriginalName,
		rec.Similarity,
		rec.DetectedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("record duplicate", err)
	}
	return nil
}

// ListByJob returns the duplicates a job detected, in detection order
func (r *DuplicateRepository) ListByJob(ctx context.Context, jobID string) ([]*models.DuplicateRecord, error) {
	query := `
		SELECT job_id::text, candidate_name, source, source_id, original_id, original_name, similarity, detected_at
		FROM trail_duplicates
		WHERE job_id::text = $1
		ORDER BY id ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, jobID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list duplicates", err)
	}
	defer rows.Close()

	var records []*models.DuplicateRecord
	for rows.Next() {
		var (
			rec    models.DuplicateRecord
			source string
		)
		if err := rows.Scan(
			&rec.JobID,
			&rec.CandidateName,
			&source,
			&rec.SourceID,
			&rec.OriginalID,
			&rec.OriginalName,
			&rec.Similarity,
			&rec.DetectedAt,
		); err != nil {
			return nil, apperrors.NewDatabaseError("scan duplicate", err)
		}
		rec.Source = types.SourceType(source)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list duplicates", err)
	}
	return records, nil
}
