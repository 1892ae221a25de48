package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/types"
)

// TrailRepository handles trail persistence. The import pipeline only appends.
type TrailRepository struct {
	db *PostgresDB
}

// NewTrailRepository creates a new trail repository
func NewTrailRepository(db *PostgresDB) *TrailRepository {
	return &TrailRepository{db: db}
}

const insertTrailSQL = `
	INSERT INTO trails (
		id, name, description, location, country, state_province, difficulty,
		length_miles, elevation_gain, latitude, longitude, surface, trail_type,
		source, source_id, quality_score, job_id
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	RETURNING created_at
`

const trailColumns = `
	id::text, name, description, location, country, state_province, difficulty,
	length_miles, elevation_gain, latitude, longitude, surface, trail_type,
	source, source_id, quality_score, COALESCE(job_id::text, ''), created_at
`

// rowQuerier is satisfied by both the pool and a transaction
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertTrail(ctx context.Context, q rowQuerier, jobID string, t *models.NormalizedTrail) (*models.PersistedTrail, error) {
	p := &models.PersistedTrail{
		ID:              uuid.New().String(),
		NormalizedTrail: *t,
		JobID:           jobID,
	}

	var job any
	if jobID != "" {
		job = jobID
	}

	err := q.QueryRow(ctx, insertTrailSQL,
		p.ID,
		t.Name,
		t.Description,
		t.Location,
		t.Country,
		t.StateProvince,
		string(t.Difficulty),
		t.LengthMiles,
		t.ElevationGainFt,
		t.Latitude,
		t.Longitude,
		t.Surface,
		t.TrailType,
		string(t.Source),
		t.SourceID,
		t.QualityScore,
		job,
	).Scan(&p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// InsertBatch writes every trail in one transaction. Either all rows are stored or none.
// An integrity violation is returned as a *errors.ConstraintError naming the row.
func (r *TrailRepository) InsertBatch(ctx context.Context, jobID string, trails []*models.NormalizedTrail) ([]*models.PersistedTrail, error) {
	inserted := make([]*models.PersistedTrail, 0, len(trails))

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		for i, t := range trails {
			p, err := insertTrail(ctx, tx, jobID, t)
			if err != nil {
				return fmt.Errorf("failed to insert trail %d of batch: %w", i, classifyRowError(err, i))
			}
			inserted = append(inserted, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// InsertOne writes a single trail outside any batch transaction
func (r *TrailRepository) InsertOne(ctx context.Context, jobID string, t *models.NormalizedTrail) (*models.PersistedTrail, error) {
	p, err := insertTrail(ctx, r.db.Pool(), jobID, t)
	if err != nil {
		return nil, fmt.Errorf("failed to insert trail: %w", classifyRowError(err, 0))
	}
	return p, nil
}

// Upsert inserts the trail or updates the row with the same (source, source_id).
// The stored id and created_at survive an update.
func (r *TrailRepository) Upsert(ctx context.Context, jobID string, t *models.NormalizedTrail) (*models.PersistedTrail, error) {
	query := `
		INSERT INTO trails (
			id, name, description, location, country, state_province, difficulty,
			length_miles, elevation_gain, latitude, longitude, surface, trail_type,
			source, source_id, quality_score, job_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (source, source_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			location = EXCLUDED.location,
			country = EXCLUDED.country,
			state_province = EXCLUDED.state_province,
			difficulty = EXCLUDED.difficulty,
			length_miles = EXCLUDED.length_miles,
			elevation_gain = EXCLUDED.elevation_gain,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			surface = EXCLUDED.surface,
			trail_type = EXCLUDED.trail_type,
			quality_score = EXCLUDED.quality_score,
			job_id = EXCLUDED.job_id
		RETURNING id::text, created_at
	`

	p := &models.PersistedTrail{NormalizedTrail: *t, JobID: jobID}

	var job any
	if jobID != "" {
		job = jobID
	}

	err := r.db.Pool().QueryRow(ctx, query,
		uuid.New().String(),
		t.Name,
		t.Description,
		t.Location,
		t.Country,
		t.StateProvince,
		string(t.Difficulty),
		t.LengthMiles,
		t.ElevationGainFt,
		t.Latitude,
		t.Longitude,
		t.Surface,
		t.TrailType,
		string(t.Source),
		t.SourceID,
		t.QualityScore,
		job,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert trail: %w", classifyRowError(err, 0))
	}
	return p, nil
}

// FindInBoundingBox returns trails inside box, oldest first
func (r *TrailRepository) FindInBoundingBox(ctx context.Context, box models.BoundingBox, limit int) ([]models.TrailRef, error) {
	query := `
		SELECT id::text, name, latitude, longitude
		FROM trails
		WHERE latitude BETWEEN $1 AND $2
		  AND longitude BETWEEN $3 AND $4
		ORDER BY created_at ASC, id ASC
		LIMIT $5
	`

	rows, err := r.db.Pool().Query(ctx, query, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("find trails in bounding box", err)
	}
	defer rows.Close()

	var refs []models.TrailRef
	for rows.Next() {
		var ref models.TrailRef
		if err := rows.Scan(&ref.ID, &ref.Name, &ref.Latitude, &ref.Longitude); err != nil {
			return nil, apperrors.NewDatabaseError("scan trail", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("find trails in bounding box", err)
	}
	return refs, nil
}

// Count returns the number of trails matching filter. Empty fields do not filter.
func (r *TrailRepository) Count(ctx context.Context, filter models.TrailFilter) (int64, error) {
	query, args := buildCountQuery(filter)

	var count int64
	if err := r.db.Pool().QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, apperrors.NewDatabaseError("count trails", err)
	}
	return count, nil
}

func buildCountQuery(filter models.TrailFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.Source != "" {
		args = append(args, string(filter.Source))
		conds = append(conds, fmt.Sprintf("source = $%d", len(args)))
	}
	if filter.Difficulty != "" {
		args = append(args, string(filter.Difficulty))
		conds = append(conds, fmt.Sprintf("difficulty = $%d", len(args)))
	}
	if filter.JobID != "" {
		args = append(args, filter.JobID)
		conds = append(conds, fmt.Sprintf("job_id::text = $%d", len(args)))
	}

	query := "SELECT COUNT(*) FROM trails"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return query, args
}

// GetByID retrieves a trail by id
func (r *TrailRepository) GetByID(ctx context.Context, id string) (*models.PersistedTrail, error) {
	query := `SELECT ` + trailColumns + ` FROM trails WHERE id::text = $1`

	var (
		p          models.PersistedTrail
		difficulty string
		source     string
		createdAt  time.Time
	)
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Location,
		&p.Country,
		&p.StateProvince,
		&difficulty,
		&p.LengthMiles,
		&p.ElevationGainFt,
		&p.Latitude,
		&p.Longitude,
		&p.Surface,
		&p.TrailType,
		&source,
		&p.SourceID,
		&p.QualityScore,
		&p.JobID,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("trail", id)
		}
		return nil, apperrors.NewDatabaseError("get trail", err)
	}

	p.Difficulty = types.Difficulty(difficulty)
	p.Source = types.SourceType(source)
	p.CreatedAt = createdAt
	return &p, nil
}
