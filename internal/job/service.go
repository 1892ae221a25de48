// Package job creates import jobs, runs them source by source and keeps the job
// record current while they run.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trail-importer/internal/dedup"
	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/ingest"
	"github.com/trail-importer/internal/logging"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/quality"
	"github.com/trail-importer/internal/source"
	"github.com/trail-importer/internal/storage"
	"github.com/trail-importer/internal/types"
)

// JobStore persists import job records
type JobStore interface {
	Create(ctx context.Context, job *models.ImportJob) error
	Update(ctx context.Context, job *models.ImportJob) error
	GetByID(ctx context.Context, id string) (*models.ImportJob, error)
	ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*models.ImportJob, error)
}

// StatusCache mirrors job snapshots for pollers
type StatusCache interface {
	Put(ctx context.Context, job *models.ImportJob) error
	Get(ctx context.Context, id string) (*models.ImportJob, error)
}

// ReportArchive stores the final job report
type ReportArchive interface {
	Archive(ctx context.Context, job *models.ImportJob) (string, error)
}

// RejectionSink receives every rejected record once the job is final
type RejectionSink interface {
	Write(ctx context.Context, events []models.RejectionEvent) error
}

// SourceFetcher collects raw records for one source
type SourceFetcher interface {
	Fetch(ctx context.Context, adapter source.Adapter, regions []models.Region, limit int) *source.FetchResult
}

// Runner executes created jobs in the background
type Runner interface {
	Submit(jobID string) error
	// Remove drops a job that has not started yet
	Remove(jobID string) bool
}

// Dependencies are the collaborators of an ImportService. Cache, Archive, Rejections
// and Duplicates are optional.
type Dependencies struct {
	Jobs       JobStore
	Cache      StatusCache
	Archive    ReportArchive
	Rejections RejectionSink
	Registry   *source.Registry
	Fetcher    SourceFetcher
	Trails     ingest.TrailStore
	Finder     dedup.TrailFinder
	Duplicates dedup.DuplicateLogger
	Scorer     *quality.Scorer
}

// Options tune a running import
type Options struct {
	Defaults            models.ImportDefaults
	Regions             []models.Region
	InterBatchDelay     time.Duration
	InterSourceDelay    time.Duration
	MaxRecordedFailures int
	Dedup               dedup.Config
	Insert              ingest.Config
}

// DefaultMaxRecordedFailures caps the per-record failure list kept on a job
const DefaultMaxRecordedFailures = 500

// DefaultOptions returns 500ms between batches and 1s between sources
func DefaultOptions() Options {
	return Options{
		Defaults: models.ImportDefaults{
			TrailsPerSource: 100,
			BatchSize:       10,
			MinQualityScore: quality.DefaultMinScore,
		},
		Regions:             models.DefaultRegions(),
		InterBatchDelay:     500 * time.Millisecond,
		InterSourceDelay:    time.Second,
		MaxRecordedFailures: DefaultMaxRecordedFailures,
		Dedup:               dedup.DefaultConfig(),
		Insert:              ingest.DefaultConfig(),
	}
}

// StartImportResult represents the result of starting an import
type StartImportResult struct {
	JobID   string             `json:"jobId"`
	Status  types.JobStatus    `json:"status"`
	Sources []types.SourceType `json:"sources"`
	Job     *models.ImportJob  `json:"-"`
}

// CancelImportResult represents the result of canceling an import
type CancelImportResult struct {
	Success bool    `json:"success"`
	JobID   string  `json:"jobId"`
	Message *string `json:"message,omitempty"`
}

// ImportService creates, runs and reports on import jobs
type ImportService struct {
	deps     Dependencies
	opts     Options
	detector *dedup.Detector
	inserter *ingest.BatchInserter
	runner   Runner

	// mu serializes the queued->processing move against cancellation
	mu     sync.Mutex
	active map[string]context.CancelFunc

	now   func() time.Time
	newID func() string
}

// NewImportService creates an import service. Without a runner, callers drive Run themselves.
func NewImportService(deps Dependencies, opts Options) (*ImportService, error) {
	if deps.Jobs == nil || deps.Registry == nil || deps.Fetcher == nil || deps.Trails == nil {
		return nil, fmt.Errorf("import service requires a job store, source registry, fetcher and trail store")
	}
	if deps.Scorer == nil {
		scorer, err := quality.NewScorer(quality.DefaultWeights(), 1)
		if err != nil {
			return nil, err
		}
		deps.Scorer = scorer
	}

	def := DefaultOptions()
	if opts.Defaults.TrailsPerSource == 0 {
		opts.Defaults.TrailsPerSource = def.Defaults.TrailsPerSource
	}
	if opts.Defaults.BatchSize == 0 {
		opts.Defaults.BatchSize = def.Defaults.BatchSize
	}
	if len(opts.Regions) == 0 {
		opts.Regions = def.Regions
	}
	// negative keeps every failure
	if opts.MaxRecordedFailures == 0 {
		opts.MaxRecordedFailures = def.MaxRecordedFailures
	}
	if opts.InterBatchDelay < 0 {
		opts.InterBatchDelay = 0
	}
	if opts.InterSourceDelay < 0 {
		opts.InterSourceDelay = 0
	}

	return &ImportService{
		deps:     deps,
		opts:     opts,
		detector: dedup.NewDetector(deps.Finder, deps.Duplicates, opts.Dedup),
		inserter: ingest.NewBatchInserter(deps.Trails, opts.Insert),
		active:   make(map[string]context.CancelFunc),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}, nil
}

// SetRunner attaches the background runner used by StartImport
func (s *ImportService) SetRunner(r Runner) {
	s.runner = r
}

// StartImport validates cfg, creates the job record and hands it to the runner.
// With no active sources the job is finalized at once and a *errors.JobFatalError is
// returned alongside the result.
func (s *ImportService) StartImport(ctx context.Context, cfg models.ImportConfig) (*StartImportResult, error) {
	cfg = cfg.WithDefaults(s.opts.Defaults)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sources, err := s.resolveSources(ctx, cfg.Sources)
	if err != nil {
		return nil, err
	}

	job := models.NewImportJob(s.newID(), cfg, sources, s.now())
	log := logging.FromContext(ctx).WithField(logging.FieldJobID, job.ID)

	if err := s.deps.Jobs.Create(ctx, job); err != nil {
		log.WithError(err).Error("Failed to create import job")
		return nil, apperrors.NewJobFatalError(job.ID, "failed to create job record", err)
	}
	s.mirror(ctx, job)

	result := &StartImportResult{JobID: job.ID, Status: job.Status, Sources: sources, Job: job}

	if len(sources) == 0 {
		fatal := apperrors.NewJobFatalError(job.ID, "no active sources configured", nil)
		s.failBeforeRun(ctx, job, types.ReasonFatal, fatal.Message)
		result.Status = job.Status
		log.Warn("Import started with no active sources")
		return result, fatal
	}

	if s.runner != nil {
		if err := s.runner.Submit(job.ID); err != nil {
			fatal := apperrors.NewJobFatalError(job.ID, "failed to queue job", err)
			s.failBeforeRun(ctx, job, types.ReasonFatal, fatal.Error())
			result.Status = job.Status
			return result, fatal
		}
	}

	log.WithFields(map[string]interface{}{
		"sources":         sources,
		"trailsPerSource": cfg.TrailsPerSource,
		"batchSize":       cfg.BatchSize,
	}).Info("Import job created")
	return result, nil
}

// resolveSources returns the requested sources, or every registered source when none
// are named. A name that is not a known source is rejected; a known source without an
// adapter is left out.
func (s *ImportService) resolveSources(ctx context.Context, requested []types.SourceType) ([]types.SourceType, error) {
	if len(requested) == 0 {
		return s.deps.Registry.Types(), nil
	}

	var out []types.SourceType
	for _, src := range requested {
		if !src.IsValid() {
			return nil, apperrors.NewInvalidParameterError("sources", fmt.Sprintf("unknown source %q", src))
		}
		if _, ok := s.deps.Registry.Get(src); !ok {
			logging.FromContext(ctx).WithField(logging.FieldSource, string(src)).Warn("Requested source is not enabled")
			continue
		}
		out = append(out, src)
	}
	return out, nil
}

// failBeforeRun finalizes a job that never reached a worker
func (s *ImportService) failBeforeRun(ctx context.Context, job *models.ImportJob, reason types.FailureReason, message string) {
	now := s.now()
	if job.Status == types.JobStatusQueued {
		_ = job.TransitionTo(types.JobStatusProcessing, now)
	}
	for _, r := range job.SourceResults {
		if r.Status == types.SourceStatusPending {
			r.Status = types.SourceStatusCancelled
		}
	}
	job.AddError("", reason, message, now)
	if err := job.TransitionTo(types.JobStatusError, now); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Job already final")
		return
	}
	if err := s.deps.Jobs.Update(ctx, job); err != nil {
		logging.FromContext(ctx).WithError(err).WithField(logging.FieldJobID, job.ID).Error("Failed to persist failed job")
	}
	s.mirror(ctx, job)
}

// GetJobStatus returns the latest snapshot, preferring the status cache
func (s *ImportService) GetJobStatus(ctx context.Context, jobID string) (*models.ImportJob, error) {
	if s.deps.Cache != nil {
		job, err := s.deps.Cache.Get(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, storage.ErrCacheMiss) {
			logging.FromContext(ctx).WithError(err).WithField(logging.FieldJobID, jobID).Warn("Status cache read failed")
		}
	}

	job, err := s.deps.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs lists jobs, optionally filtered by status
func (s *ImportService) ListJobs(ctx context.Context, status types.JobStatus, limit int) ([]*models.ImportJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.deps.Jobs.ListByStatus(ctx, status, limit)
}

// Cancel stops a running job or fails a queued one. Terminal jobs are left alone.
func (s *ImportService) Cancel(ctx context.Context, jobID string) (*CancelImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.active[jobID]; ok {
		cancel()
		msg := "Cancellation requested"
		return &CancelImportResult{Success: true, JobID: jobID, Message: &msg}, nil
	}

	job, err := s.deps.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case types.JobStatusCompleted, types.JobStatusError:
		msg := fmt.Sprintf("Job already %s, cannot cancel", job.Status)
		return &CancelImportResult{Success: false, JobID: jobID, Message: &msg}, nil

	case types.JobStatusQueued:
		if s.runner != nil {
			s.runner.Remove(jobID)
		}
		s.failBeforeRun(ctx, job, types.ReasonCancelled, "import cancelled before it started")
		msg := "Job cancelled"
		return &CancelImportResult{Success: true, JobID: jobID, Message: &msg}, nil

	default:
		msg := "Job is not running on this instance"
		return &CancelImportResult{Success: false, JobID: jobID, Message: &msg}, nil
	}
}

// mirror writes a snapshot to the status cache. Failures only cost pollers a DB read.
func (s *ImportService) mirror(ctx context.Context, job *models.ImportJob) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Put(ctx, job); err != nil {
		logging.FromContext(ctx).WithError(err).WithField(logging.FieldJobID, job.ID).Warn("Failed to cache job status")
	}
}
