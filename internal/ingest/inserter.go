// Package ingest writes accepted trails to storage in batches.
package ingest

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/logging"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/retry"
	"github.com/trail-importer/internal/types"
)

// TrailStore is the storage the inserter writes through. InsertBatch must be atomic.
type TrailStore interface {
	InsertBatch(ctx context.Context, jobID string, trails []*models.NormalizedTrail) ([]*models.PersistedTrail, error)
	InsertOne(ctx context.Context, jobID string, trail *models.NormalizedTrail) (*models.PersistedTrail, error)
}

// Config controls whole-batch retries
type Config struct {
	MaxAttempts int
	Backoff     retry.BackoffFunc
}

// DefaultConfig is 3 attempts waiting 2s then 4s
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     retry.PowerOfTwoSeconds,
	}
}

// FailedItem is a trail that could not be stored
type FailedItem struct {
	Trail  *models.NormalizedTrail
	Reason types.FailureReason
	Err    error
}

// BatchResult is the outcome of one InsertBatch call. Every input trail appears
// exactly once, either in Inserted or in Failed.
type BatchResult struct {
	Inserted []*models.PersistedTrail
	Failed   []FailedItem
	Attempts int
	// Fallback is set when a constraint violation forced row-by-row inserts
	Fallback bool
	Duration time.Duration
}

// BatchInserter stores trails with bounded retries
type BatchInserter struct {
	store TrailStore
	cfg   Config
}

// NewBatchInserter creates an inserter. Zero config fields take the defaults.
func NewBatchInserter(store TrailStore, cfg Config) *BatchInserter {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = def.Backoff
	}
	return &BatchInserter{store: store, cfg: cfg}
}

// InsertBatch writes trails in one transaction, retrying transient failures.
// A constraint violation switches to one InsertOne per row so a single bad row
// does not sink the batch.
func (b *BatchInserter) InsertBatch(ctx context.Context, jobID string, trails []*models.NormalizedTrail) *BatchResult {
	start := time.Now()
	out := &BatchResult{}
	if len(trails) == 0 {
		return out
	}

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		logging.FieldJobID:     jobID,
		logging.FieldComponent: "batch_inserter",
		"size":                 len(trails),
	})

	var inserted []*models.PersistedTrail
	res := retry.Do(ctx, retry.Policy{
		MaxAttempts: b.cfg.MaxAttempts,
		Backoff:     b.cfg.Backoff,
		Retryable:   func(err error) bool { return !apperrors.IsConstraint(err) },
		Operation:   "trail batch insert",
	}, func(ctx context.Context, _ int) error {
		var err error
		inserted, err = b.store.InsertBatch(ctx, jobID, trails)
		return err
	})
	out.Attempts = res.Attempts

	switch {
	case res.Success:
		out.Inserted = inserted

	case apperrors.IsConstraint(res.LastError):
		log.WithError(res.LastError).Warn("Constraint violation in batch, inserting rows individually")
		out.Fallback = true
		b.insertIndividually(ctx, jobID, trails, out)

	default:
		cause := res.LastError
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(cause, ctxErr) {
			log.WithError(cause).Warn("Batch insert cancelled")
		} else {
			log.WithError(cause).Error("Batch insert failed")
		}
		failErr := &apperrors.BatchInsertError{Attempts: res.Attempts, Cause: cause}
		for _, t := range trails {
			out.Failed = append(out.Failed, FailedItem{Trail: t, Reason: types.ReasonInsert, Err: failErr})
		}
	}

	out.Duration = time.Since(start)
	return out
}

func (b *BatchInserter) insertIndividually(ctx context.Context, jobID string, trails []*models.NormalizedTrail, out *BatchResult) {
	for _, t := range trails {
		if err := ctx.Err(); err != nil {
			out.Failed = append(out.Failed, FailedItem{
				Trail:  t,
				Reason: types.ReasonInsert,
				Err:    &apperrors.BatchInsertError{Attempts: out.Attempts, Cause: err},
			})
			continue
		}

		p, err := b.store.InsertOne(ctx, jobID, t)
		if err != nil {
			reason := types.ReasonInsert
			if apperrors.IsConstraint(err) {
				reason = types.ReasonConstraint
			}
			out.Failed = append(out.Failed, FailedItem{Trail: t, Reason: reason, Err: err})
			continue
		}
		out.Inserted = append(out.Inserted, p)
	}
}
