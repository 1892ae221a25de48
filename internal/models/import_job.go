package models

import (
	"fmt"
	"time"

	"github.com/trail-importer/internal/types"
)

// ImportJob is the progress record callers poll
type ImportJob struct {
	ID             string                             `json:"id" db:"id"`
	Status         types.JobStatus                    `json:"status" db:"status"`
	StartedAt      time.Time                          `json:"startedAt" db:"started_at"`
	CompletedAt    *time.Time                         `json:"completedAt,omitempty" db:"completed_at"`
	UpdatedAt      time.Time                          `json:"updatedAt" db:"updated_at"`
	TotalRequested int                                `json:"totalRequested" db:"total_requested"`
	TotalSources   int                                `json:"totalSources" db:"total_sources"`
	ProcessedCount int                                `json:"processedCount" db:"processed_count"`
	AddedCount     int                                `json:"addedCount" db:"added_count"`
	FailedCount    int                                `json:"failedCount" db:"failed_count"`
	SourceResults  map[types.SourceType]*SourceResult `json:"sourceResults" db:"source_results"`
	Errors         []JobError                         `json:"errors" db:"errors"`
	Failures       []RecordFailure                    `json:"failures" db:"failures"`
	Config         ImportConfig                       `json:"config" db:"config"`

	// FailuresDropped counts record failures beyond the recording cap. They are still in FailedCount.
	FailuresDropped int `json:"failuresDropped" db:"failures_dropped"`
}

// SourceResult is one source's slot in the job record
type SourceResult struct {
	Source      types.SourceType            `json:"source"`
	Status      types.SourceStatus          `json:"status"`
	Fetched     int                         `json:"fetched"`
	Processed   int                         `json:"processed"`
	Added       int                         `json:"added"`
	Failed      int                         `json:"failed"`
	Reasons     map[types.FailureReason]int `json:"reasons,omitempty"`
	SkipReason  string                      `json:"skipReason,omitempty"`
	Error       string                      `json:"error,omitempty"`
	StartedAt   *time.Time                  `json:"startedAt,omitempty"`
	CompletedAt *time.Time                  `json:"completedAt,omitempty"`
}

// JobError is a source-level or job-level problem. Source is empty for job-level entries.
type JobError struct {
	Source  types.SourceType    `json:"source,omitempty"`
	Reason  types.FailureReason `json:"reason"`
	Message string              `json:"message"`
	At      time.Time           `json:"at"`
}

// RecordFailure is one rejected record
type RecordFailure struct {
	Source   types.SourceType    `json:"source"`
	SourceID string              `json:"sourceId"`
	Name     string              `json:"name,omitempty"`
	Reason   types.FailureReason `json:"reason"`
	Message  string              `json:"message"`
}

// NewImportJob creates a queued job with a pending slot per source
func NewImportJob(id string, cfg ImportConfig, sources []types.SourceType, now time.Time) *ImportJob {
	job := &ImportJob{
		ID:             id,
		Status:         types.JobStatusQueued,
		StartedAt:      now,
		UpdatedAt:      now,
		TotalSources:   len(sources),
		TotalRequested: cfg.TrailsPerSource * len(sources),
		SourceResults:  make(map[types.SourceType]*SourceResult, len(sources)),
		Errors:         []JobError{},
		Failures:       []RecordFailure{},
		Config:         cfg,
	}
	for _, s := range sources {
		job.SourceResults[s] = &SourceResult{Source: s, Status: types.SourceStatusPending}
	}
	return job
}

// TransitionTo moves the job forward. Backward moves and moves out of a terminal state fail.
func (j *ImportJob) TransitionTo(next types.JobStatus, now time.Time) error {
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid job status transition %s -> %s", j.Status, next)
	}
	j.Status = next
	j.UpdatedAt = now
	if next.IsTerminal() {
		t := now
		j.CompletedAt = &t
	}
	return nil
}

// Source returns the slot for s, creating it if the job did not list the source
func (j *ImportJob) Source(s types.SourceType) *SourceResult {
	if j.SourceResults == nil {
		j.SourceResults = make(map[types.SourceType]*SourceResult)
	}
	r, ok := j.SourceResults[s]
	if !ok {
		r = &SourceResult{Source: s, Status: types.SourceStatusPending}
		j.SourceResults[s] = r
	}
	return r
}

// ApplyBatch folds one batch outcome into the source slot and the job totals.
// Failures beyond maxRecorded are counted but not kept.
func (j *ImportJob) ApplyBatch(source types.SourceType, processed, added int, failures []RecordFailure, maxRecorded int) {
	r := j.Source(source)
	failed := len(failures)

	r.Processed += processed
	r.Added += added
	r.Failed += failed
	for _, f := range failures {
		if r.Reasons == nil {
			r.Reasons = make(map[types.FailureReason]int)
		}
		r.Reasons[f.Reason]++
	}

	j.ProcessedCount += processed
	j.AddedCount += added
	j.FailedCount += failed

	for _, f := range failures {
		if maxRecorded > 0 && len(j.Failures) >= maxRecorded {
			j.FailuresDropped++
			continue
		}
		j.Failures = append(j.Failures, f)
	}
}

// AddError appends a source-level or job-level error entry
func (j *ImportJob) AddError(source types.SourceType, reason types.FailureReason, message string, now time.Time) {
	j.Errors = append(j.Errors, JobError{Source: source, Reason: reason, Message: message, At: now})
}

// OutcomeStatus is the terminal status the current counts call for.
// A job that added nothing failed its purpose.
func (j *ImportJob) OutcomeStatus() types.JobStatus {
	if j.AddedCount > 0 {
		return types.JobStatusCompleted
	}
	return types.JobStatusError
}

// CountsConserved reports whether every processed record is either added or failed
func (j *ImportJob) CountsConserved() bool {
	return j.ProcessedCount == j.AddedCount+j.FailedCount
}

// FailureReasons lists the recorded failure reasons in order
func (j *ImportJob) FailureReasons() []types.FailureReason {
	reasons := make([]types.FailureReason, 0, len(j.Failures))
	for _, f := range j.Failures {
		reasons = append(reasons, f.Reason)
	}
	return reasons
}

// Clone returns a deep copy safe to hand to another goroutine
func (j *ImportJob) Clone() *ImportJob {
	if j == nil {
		return nil
	}
	out := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	out.SourceResults = make(map[types.SourceType]*SourceResult, len(j.SourceResults))
	for k, v := range j.SourceResults {
		r := *v
		if v.Reasons != nil {
			r.Reasons = make(map[types.FailureReason]int, len(v.Reasons))
			for reason, n := range v.Reasons {
				r.Reasons[reason] = n
			}
		}
		if v.StartedAt != nil {
			t := *v.StartedAt
			r.StartedAt = &t
		}
		if v.CompletedAt != nil {
			t := *v.CompletedAt
			r.CompletedAt = &t
		}
		out.SourceResults[k] = &r
	}
	out.Errors = append([]JobError{}, j.Errors...)
	out.Failures = append([]RecordFailure{}, j.Failures...)
	out.Config = j.Config.Clone()
	return &out
}
