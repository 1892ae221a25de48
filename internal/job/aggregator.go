package job

import (
	"context"
	"time"

	"github.com/trail-importer/internal/logging"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/types"
)

// event is a message from a source worker to the aggregator
type event interface {
	source() types.SourceType
}

// SourceStarted marks a source as running
type SourceStarted struct {
	Source types.SourceType
	At     time.Time
}

// SourceFetched reports what the fetcher returned before batching
type SourceFetched struct {
	Source  types.SourceType
	Fetched int
	// RegionErrors are regions that failed while others succeeded
	RegionErrors []string
	At           time.Time
}

// BatchResult is the outcome of one batch. Workers never touch it after sending.
type BatchResult struct {
	Source    types.SourceType
	Batch     int
	Processed int
	Added     int
	Failures  []models.RecordFailure
	Duration  time.Duration
}

// SourceFinished closes a source slot
type SourceFinished struct {
	Source     types.SourceType
	Status     types.SourceStatus
	SkipReason string
	Reason     types.FailureReason
	Err        error
	At         time.Time
}

func (e SourceStarted) source() types.SourceType  { return e.Source }
func (e SourceFetched) source() types.SourceType  { return e.Source }
func (e BatchResult) source() types.SourceType    { return e.Source }
func (e SourceFinished) source() types.SourceType { return e.Source }

// aggregator is the only writer of a running job record
type aggregator struct {
	job         *models.ImportJob
	store       JobStore
	mirror      func(ctx context.Context, job *models.ImportJob)
	maxRecorded int
	now         func() time.Time

	rejections []models.RejectionEvent
	finalized  bool
}

func newAggregator(job *models.ImportJob, store JobStore, mirror func(context.Context, *models.ImportJob), maxRecorded int, now func() time.Time) *aggregator {
	return &aggregator{
		job:         job,
		store:       store,
		mirror:      mirror,
		maxRecorded: maxRecorded,
		now:         now,
	}
}

// run folds events until the channel closes. ctx is used only for persistence and
// must outlive job cancellation.
func (a *aggregator) run(ctx context.Context, events <-chan event, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		a.apply(ev)
		a.persist(ctx)
	}
}

func (a *aggregator) apply(ev event) {
	slot := a.job.Source(ev.source())

	switch e := ev.(type) {
	case SourceStarted:
		t := e.At
		slot.Status = types.SourceStatusRunning
		slot.StartedAt = &t

	case SourceFetched:
		slot.Fetched += e.Fetched
		for _, msg := range e.RegionErrors {
			a.job.AddError(e.Source, types.ReasonFetch, msg, e.At)
		}

	case BatchResult:
		a.job.ApplyBatch(e.Source, e.Processed, e.Added, e.Failures, a.maxRecorded)
		at := a.now()
		for _, f := range e.Failures {
			a.rejections = append(a.rejections, models.RejectionEvent{
				JobID:      a.job.ID,
				Source:     f.Source,
				SourceID:   f.SourceID,
				Name:       f.Name,
				Reason:     f.Reason,
				Message:    f.Message,
				OccurredAt: at,
			})
		}

	case SourceFinished:
		t := e.At
		slot.Status = e.Status
		slot.CompletedAt = &t
		slot.SkipReason = e.SkipReason
		if e.Err != nil {
			slot.Error = e.Err.Error()
			a.job.AddError(e.Source, e.Reason, e.Err.Error(), e.At)
		} else if e.SkipReason != "" {
			a.job.AddError(e.Source, types.ReasonSkipped, e.SkipReason, e.At)
		}
	}
	a.job.UpdatedAt = a.now()
}

func (a *aggregator) persist(ctx context.Context) {
	if err := a.store.Update(ctx, a.job); err != nil {
		logging.FromContext(ctx).WithError(err).WithField(logging.FieldJobID, a.job.ID).Warn("Failed to persist job progress")
	}
	if a.mirror != nil {
		a.mirror(ctx, a.job)
	}
}

// finalize moves the job to its terminal status. Only the first call has any effect.
func (a *aggregator) finalize(ctx context.Context, cancelled bool, fatal error) {
	if a.finalized {
		return
	}
	a.finalized = true
	now := a.now()

	for _, slot := range a.job.SourceResults {
		switch slot.Status {
		case types.SourceStatusPending, types.SourceStatusRunning:
			slot.Status = types.SourceStatusCancelled
			t := now
			slot.CompletedAt = &t
		}
	}

	status := a.job.OutcomeStatus()
	switch {
	case fatal != nil:
		a.job.AddError("", types.ReasonFatal, fatal.Error(), now)
		status = types.JobStatusError
	case cancelled:
		a.job.AddError("", types.ReasonCancelled, "import cancelled", now)
		status = types.JobStatusError
	}

	if err := a.job.TransitionTo(status, now); err != nil {
		logging.FromContext(ctx).WithError(err).WithField(logging.FieldJobID, a.job.ID).Error("Failed to finalize job")
		return
	}
	a.persist(ctx)
}

// Rejections returns every rejected record seen, uncapped
func (a *aggregator) Rejections() []models.RejectionEvent {
	return a.rejections
}
