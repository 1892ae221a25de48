package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/trail-importer/internal/types"
)

// Reasoned is implemented by every pipeline error so rejections carry a machine-readable reason
type Reasoned interface {
	error
	Reason() types.FailureReason
}

// FetchError is a per-source failure. The source is marked failed and the job continues.
type FetchError struct {
	Source types.SourceType
	Region string
	Cause  error
}

func (e *FetchError) Error() string {
	if e.Region != "" {
		return fmt.Sprintf("fetch %s (region %s): %v", e.Source, e.Region, e.Cause)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Cause)
}

func (e *FetchError) Unwrap() error               { return e.Cause }
func (e *FetchError) Reason() types.FailureReason { return types.ReasonFetch }

// NormalizationError means a raw record could not be mapped into the canonical trail shape
type NormalizationError struct {
	Source   types.SourceType
	SourceID string
	Field    string
	Message  string
}

// NewNormalizationError creates a normalization error for one field of a raw record
func NewNormalizationError(source types.SourceType, sourceID, field, message string) *NormalizationError {
	return &NormalizationError{Source: source, SourceID: sourceID, Field: field, Message: message}
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s/%s: %s: %s", e.Source, e.SourceID, e.Field, e.Message)
}

func (e *NormalizationError) Reason() types.FailureReason { return types.ReasonNormalization }

// QualityRejected is an expected outcome, not a system error
type QualityRejected struct {
	Score    float64
	MinScore float64
}

func (e *QualityRejected) Error() string {
	return fmt.Sprintf("quality score %.2f below minimum %.2f", e.Score, e.MinScore)
}

func (e *QualityRejected) Reason() types.FailureReason { return types.ReasonQuality }

// DuplicateRejected is an expected outcome, not a system error
type DuplicateRejected struct {
	OriginalID   string
	OriginalName string
	Similarity   float64
}

func (e *DuplicateRejected) Error() string {
	return fmt.Sprintf("duplicate of %s (%q, similarity %.3f)", e.OriginalID, e.OriginalName, e.Similarity)
}

func (e *DuplicateRejected) Reason() types.FailureReason { return types.ReasonDuplicate }

// BatchInsertError is returned once whole-batch retries are exhausted
type BatchInsertError struct {
	Attempts int
	Cause    error
}

func (e *BatchInsertError) Error() string {
	return fmt.Sprintf("batch insert failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *BatchInsertError) Unwrap() error               { return e.Cause }
func (e *BatchInsertError) Reason() types.FailureReason { return types.ReasonInsert }

// ConstraintError is a non-transient row rejection from storage: an integrity violation,
// a data exception or a value the driver cannot encode
type ConstraintError struct {
	Constraint string
	Index      int
	Cause      error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint %q violated by row %d: %v", e.Constraint, e.Index, e.Cause)
}

func (e *ConstraintError) Unwrap() error               { return e.Cause }
func (e *ConstraintError) Reason() types.FailureReason { return types.ReasonConstraint }

// JobFatalError aborts a job. Counts accumulated before it are kept.
type JobFatalError struct {
	JobID   string
	Message string
	Cause   error
}

// NewJobFatalError creates a job fatal error
func NewJobFatalError(jobID, message string, cause error) *JobFatalError {
	return &JobFatalError{JobID: jobID, Message: message, Cause: cause}
}

func (e *JobFatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("job %s fatal: %s: %v", e.JobID, e.Message, e.Cause)
	}
	return fmt.Sprintf("job %s fatal: %s", e.JobID, e.Message)
}

func (e *JobFatalError) Unwrap() error               { return e.Cause }
func (e *JobFatalError) Reason() types.FailureReason { return types.ReasonFatal }

// ReasonOf extracts the failure reason carried by err
func ReasonOf(err error) types.FailureReason {
	if err == nil {
		return ""
	}
	var r Reasoned
	if errors.As(err, &r) {
		return r.Reason()
	}
	if errors.Is(err, context.Canceled) {
		return types.ReasonCancelled
	}
	return types.ReasonInternal
}

// IsConstraint reports whether err wraps a ConstraintError
func IsConstraint(err error) bool {
	var c *ConstraintError
	return errors.As(err, &c)
}

// IsJobFatal reports whether err wraps a JobFatalError
func IsJobFatal(err error) bool {
	var f *JobFatalError
	return errors.As(err, &f)
}
