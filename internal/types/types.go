// Package types provides common type definitions for the trail importer.
package types

// Difficulty is the canonical four-level trail difficulty
type Difficulty string

const (
	// DifficultyEasy represents short, well-graded trails
	DifficultyEasy Difficulty = "easy"
	// DifficultyModerate is also the fallback for unrecognized source values
	DifficultyModerate Difficulty = "moderate"
	// DifficultyHard represents steep or long trails
	DifficultyHard Difficulty = "hard"
	// DifficultyExpert represents scrambles and alpine routes
	DifficultyExpert Difficulty = "expert"
)

// AllDifficulties lists every valid difficulty in ascending order
var AllDifficulties = []Difficulty{DifficultyEasy, DifficultyModerate, DifficultyHard, DifficultyExpert}

// IsValid reports whether d is one of the four canonical levels
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyModerate, DifficultyHard, DifficultyExpert:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of an import job
type JobStatus string

const (
	// JobStatusQueued represents a job waiting for a worker
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing represents a job currently running
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted represents a job that added at least one trail
	JobStatusCompleted JobStatus = "completed"
	// JobStatusError represents a job that failed, was cancelled, or added nothing
	JobStatusError JobStatus = "error"
)

// IsTerminal reports whether no further transitions are allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// rank orders statuses so transitions can be checked for direction
func (s JobStatus) rank() int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusError:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next goes strictly forward.
// Terminal states are absorbing.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() || next.rank() < 0 || s.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

// SourceType identifies an upstream trail data provider
type SourceType string

const (
	// SourceHikingProject is the hiking-trail API (colour-coded difficulty, imperial units)
	SourceHikingProject SourceType = "hiking_project"
	// SourceOpenStreetMap is the map-data API (sac_scale difficulty, metric units)
	SourceOpenStreetMap SourceType = "openstreetmap"
	// SourceParks is the government-parks API (numeric difficulty, metric units)
	SourceParks SourceType = "parks"
)

// AllSources lists every known source in processing order
var AllSources = []SourceType{SourceHikingProject, SourceOpenStreetMap, SourceParks}

// IsValid reports whether s names a known source
func (s SourceType) IsValid() bool {
	switch s {
	case SourceHikingProject, SourceOpenStreetMap, SourceParks:
		return true
	}
	return false
}

// SourceStatus is the outcome of one source within a job
type SourceStatus string

const (
	SourceStatusPending   SourceStatus = "pending"
	SourceStatusRunning   SourceStatus = "running"
	SourceStatusCompleted SourceStatus = "completed"
	SourceStatusFailed    SourceStatus = "failed"
	SourceStatusSkipped   SourceStatus = "skipped"
	SourceStatusCancelled SourceStatus = "cancelled"
)

// FailureReason is the machine-readable reason attached to every rejection
type FailureReason string

const (
	ReasonNormalization FailureReason = "normalization"
	ReasonQuality       FailureReason = "quality"
	ReasonDuplicate     FailureReason = "duplicate"
	ReasonInsert        FailureReason = "insert"
	ReasonConstraint    FailureReason = "constraint"
	ReasonFetch         FailureReason = "fetch"
	ReasonSkipped       FailureReason = "skipped"
	ReasonCancelled     FailureReason = "cancelled"
	ReasonFatal         FailureReason = "fatal"
	ReasonInternal      FailureReason = "internal"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
