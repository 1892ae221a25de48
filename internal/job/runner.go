package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trail-importer/internal/dedup"
	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/logging"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/retry"
	"github.com/trail-importer/internal/source"
	"github.com/trail-importer/internal/types"
)

// Run executes a queued job to completion and returns the final record. Cancelling
// ctx stops the job between records and finalizes it as error with its counts intact.
// The returned error is non-nil only for a *errors.JobFatalError or a job that could
// not be started.
func (s *ImportService) Run(ctx context.Context, jobID string) (*models.ImportJob, error) {
	job, runCtx, err := s.begin(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer s.end(jobID)

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		logging.FieldJobID:     jobID,
		logging.FieldComponent: "orchestrator",
	})
	runCtx = logging.WithLogger(runCtx, log)
	// progress and finalization must be written even after cancellation
	persistCtx := logging.WithLogger(context.WithoutCancel(ctx), log)

	sources := make([]types.SourceType, 0, len(job.SourceResults))
	for _, src := range types.AllSources {
		if _, ok := job.SourceResults[src]; ok {
			sources = append(sources, src)
		}
	}

	start := time.Now()
	log.WithField("sources", sources).Info("Import job started")

	agg := newAggregator(job, s.deps.Jobs, s.mirror, s.opts.MaxRecordedFailures, s.now)
	events := make(chan event, 16)
	done := make(chan struct{})
	go agg.run(persistCtx, events, done)

	fatal := s.runSources(runCtx, job.ID, job.Config.Clone(), sources, events)
	close(events)
	<-done

	cancelled := runCtx.Err() != nil && fatal == nil
	agg.finalize(persistCtx, cancelled, fatal)

	final := job.Clone()
	log.WithFields(map[string]interface{}{
		"status":                final.Status,
		"processed":             final.ProcessedCount,
		"added":                 final.AddedCount,
		"failed":                final.FailedCount,
		logging.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info("Import job finished")

	s.publish(persistCtx, final, agg.Rejections())

	if fatal != nil {
		return final, fatal
	}
	return final, nil
}

// begin claims a queued job and registers its cancel func
func (s *ImportService) begin(ctx context.Context, jobID string) (*models.ImportJob, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.active[jobID]; running {
		return nil, nil, apperrors.NewConflictError(fmt.Sprintf("job %s is already running", jobID))
	}

	job, err := s.deps.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != types.JobStatusQueued {
		return nil, nil, apperrors.NewConflictError(fmt.Sprintf("job %s is %s, not queued", jobID, job.Status))
	}
	if err := job.TransitionTo(types.JobStatusProcessing, s.now()); err != nil {
		return nil, nil, err
	}
	if err := s.deps.Jobs.Update(ctx, job); err != nil {
		return nil, nil, apperrors.NewJobFatalError(jobID, "failed to mark job processing", err)
	}
	s.mirror(ctx, job)

	runCtx, cancel := context.WithCancel(ctx)
	s.active[jobID] = cancel
	return job, runCtx, nil
}

func (s *ImportService) end(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.active[jobID]; ok {
		cancel()
		delete(s.active, jobID)
	}
}

// runSources runs each source worker. Only a job-fatal error is returned; every other
// failure stays inside its source slot.
func (s *ImportService) runSources(ctx context.Context, jobID string, cfg models.ImportConfig, sources []types.SourceType, events chan<- event) error {
	regions := s.regionsFor(cfg)

	if cfg.ConcurrentSources {
		g, gctx := errgroup.WithContext(ctx)
		for _, src := range sources {
			g.Go(func() error {
				return s.runSource(gctx, jobID, cfg, src, regions, events)
			})
		}
		return g.Wait()
	}

	for i, src := range sources {
		if i > 0 {
			if err := retry.Sleep(ctx, s.opts.InterSourceDelay); err != nil {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := s.runSource(ctx, jobID, cfg, src, regions, events); err != nil {
			return err
		}
	}
	return nil
}

func (s *ImportService) regionsFor(cfg models.ImportConfig) []models.Region {
	if cfg.Target != nil {
		return cfg.Target.Split()
	}
	return s.opts.Regions
}

// runSource fetches one source and feeds its records through the pipeline batch by batch
func (s *ImportService) runSource(ctx context.Context, jobID string, cfg models.ImportConfig, src types.SourceType, regions []models.Region, events chan<- event) error {
	log := logging.FromContext(ctx).WithField(logging.FieldSource, string(src))
	ctx = logging.WithLogger(ctx, log)

	events <- SourceStarted{Source: src, At: s.now()}

	adapter, ok := s.deps.Registry.Get(src)
	if !ok {
		events <- SourceFinished{
			Source: src,
			Status: types.SourceStatusFailed,
			Reason: types.ReasonInternal,
			Err:    fmt.Errorf("no adapter registered for %s", src),
			At:     s.now(),
		}
		return nil
	}

	res := s.deps.Fetcher.Fetch(ctx, adapter, regions, cfg.TrailsPerSource)

	switch {
	case res.Err != nil && apperrors.IsJobFatal(res.Err):
		var fatal *apperrors.JobFatalError
		errors.As(res.Err, &fatal)
		fatal.JobID = jobID
		events <- SourceFinished{Source: src, Status: types.SourceStatusFailed, Reason: types.ReasonFatal, Err: fatal, At: s.now()}
		return fatal

	case ctx.Err() != nil:
		events <- SourceFinished{Source: src, Status: types.SourceStatusCancelled, At: s.now()}
		return nil

	case res.Skipped:
		events <- SourceFinished{Source: src, Status: types.SourceStatusSkipped, SkipReason: res.SkipReason, At: s.now()}
		return nil

	case res.Err != nil:
		log.WithError(res.Err).Warn("Source fetch failed")
		events <- SourceFinished{Source: src, Status: types.SourceStatusFailed, Reason: apperrors.ReasonOf(res.Err), Err: res.Err, At: s.now()}
		return nil
	}

	records := res.Records
	if len(records) > cfg.TrailsPerSource {
		records = records[:cfg.TrailsPerSource]
	}

	fetched := SourceFetched{Source: src, Fetched: len(records), At: s.now()}
	for _, r := range res.Regions {
		if r.Err != nil {
			fetched.RegionErrors = append(fetched.RegionErrors, r.Err.Error())
		}
	}
	events <- fetched

	pending := dedup.NewMemoryFinder()
	detector := s.detector.WithFinder(dedup.MultiFinder{s.deps.Finder, pending})

	batchNo := 0
	for startIdx := 0; startIdx < len(records); startIdx += cfg.BatchSize {
		if batchNo > 0 {
			if err := retry.Sleep(ctx, s.opts.InterBatchDelay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		endIdx := startIdx + cfg.BatchSize
		if endIdx > len(records) {
			endIdx = len(records)
		}
		batchNo++

		events <- s.processBatch(ctx, jobID, cfg, src, batchNo, records[startIdx:endIdx], detector, pending)
	}

	status := types.SourceStatusCompleted
	if ctx.Err() != nil {
		status = types.SourceStatusCancelled
	}
	events <- SourceFinished{Source: src, Status: status, At: s.now()}
	return nil
}

// processBatch normalizes, filters, deduplicates and inserts one batch. Every record in
// raws is either added or failed in the result.
func (s *ImportService) processBatch(
	ctx context.Context,
	jobID string,
	cfg models.ImportConfig,
	src types.SourceType,
	batchNo int,
	raws []models.RawSourceRecord,
	detector *dedup.Detector,
	pending *dedup.MemoryFinder,
) BatchResult {
	start := time.Now()
	out := BatchResult{Source: src, Batch: batchNo, Processed: len(raws)}
	pending.Reset()

	fail := func(sourceID, name string, err error) {
		out.Failures = append(out.Failures, models.RecordFailure{
			Source:   src,
			SourceID: sourceID,
			Name:     name,
			Reason:   apperrors.ReasonOf(err),
			Message:  err.Error(),
		})
	}

	accepted := make([]*models.NormalizedTrail, 0, len(raws))
	for _, raw := range raws {
		trail, err := s.deps.Registry.Normalize(raw)
		if err != nil {
			fail(raw.SourceID, "", err)
			continue
		}

		if cfg.QualityEnabled() {
			if err := s.deps.Scorer.Check(trail, cfg.MinScore()); err != nil {
				fail(trail.SourceID, trail.Name, err)
				continue
			}
		} else {
			score := s.deps.Scorer.Score(trail)
			trail.QualityScore = &score
		}

		if cfg.DedupEnabled() {
			match, err := detector.Check(ctx, jobID, trail)
			if err != nil {
				fail(trail.SourceID, trail.Name, err)
				continue
			}
			if match != nil {
				fail(trail.SourceID, trail.Name, match.Err())
				continue
			}
			pending.Add("pending:"+trail.SourceID, trail)
		}

		accepted = append(accepted, trail)
	}

	inserted := s.inserter.InsertBatch(ctx, jobID, accepted)
	out.Added = len(inserted.Inserted)
	for _, item := range inserted.Failed {
		reason := item.Reason
		if errors.Is(item.Err, context.Canceled) {
			reason = types.ReasonCancelled
		}
		out.Failures = append(out.Failures, models.RecordFailure{
			Source:   src,
			SourceID: item.Trail.SourceID,
			Name:     item.Trail.Name,
			Reason:   reason,
			Message:  item.Err.Error(),
		})
	}
	out.Duration = time.Since(start)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		logging.FieldBatch:      batchNo,
		"processed":             out.Processed,
		"added":                 out.Added,
		"failed":                len(out.Failures),
		logging.FieldDurationMs: out.Duration.Milliseconds(),
	}).Debug("Batch processed")
	return out
}

// publish archives the report and flushes rejections. Neither affects the job outcome.
func (s *ImportService) publish(ctx context.Context, job *models.ImportJob, rejections []models.RejectionEvent) {
	log := logging.FromContext(ctx)

	if s.deps.Archive != nil {
		key, err := s.deps.Archive.Archive(ctx, job)
		if err != nil {
			log.WithError(err).Warn("Failed to archive job report")
		} else {
			log.WithField("key", key).Info("Job report archived")
		}
	}

	if s.deps.Rejections != nil && len(rejections) > 0 {
		if err := s.deps.Rejections.Write(ctx, rejections); err != nil {
			log.WithError(err).WithField("count", len(rejections)).Warn("Failed to write rejection log")
		}
	}
}

var _ SourceFetcher = (*source.Fetcher)(nil)
