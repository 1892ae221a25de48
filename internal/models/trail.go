package models

import (
	"encoding/json"
	"time"

	"github.com/trail-importer/internal/types"
)

// RawSourceRecord is one upstream record as fetched. It is handed straight to the
// normalizer and never persisted.
type RawSourceRecord struct {
	Source    types.SourceType `json:"source"`
	SourceID  string           `json:"sourceId"`
	Region    string           `json:"region"`
	FetchedAt time.Time        `json:"fetchedAt"`
	Payload   json.RawMessage  `json:"payload"`
}

// NormalizedTrail is the canonical trail shape shared by every source
type NormalizedTrail struct {
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	Location        string           `json:"location"`
	Country         string           `json:"country"`
	StateProvince   string           `json:"stateProvince"`
	Latitude        float64          `json:"latitude"`
	Longitude       float64          `json:"longitude"`
	Difficulty      types.Difficulty `json:"difficulty"`
	LengthMiles     float64          `json:"lengthMiles"`
	ElevationGainFt int              `json:"elevationGainFt"`
	Surface         string           `json:"surface"`
	TrailType       string           `json:"trailType"`
	Source          types.SourceType `json:"source"`
	SourceID        string           `json:"sourceId"`
	QualityScore    *float64         `json:"qualityScore,omitempty"`
}

// PersistedTrail is a NormalizedTrail as written to storage
type PersistedTrail struct {
	ID string `json:"id" db:"id"`
	NormalizedTrail
	JobID     string    `json:"jobId" db:"job_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// TrailFilter selects trails for counting
type TrailFilter struct {
	Source     types.SourceType `json:"source,omitempty"`
	Difficulty types.Difficulty `json:"difficulty,omitempty"`
	JobID      string           `json:"jobId,omitempty"`
}

// DuplicateRecord is written whenever a candidate is rejected as a duplicate
type DuplicateRecord struct {
	JobID         string           `json:"jobId" db:"job_id"`
	CandidateName string           `json:"candidateName" db:"candidate_name"`
	Source        types.SourceType `json:"source" db:"source"`
	SourceID      string           `json:"sourceId" db:"source_id"`
	OriginalID    string           `json:"originalId" db:"original_id"`
	OriginalName  string           `json:"originalName" db:"original_name"`
	Similarity    float64          `json:"similarity" db:"similarity"`
	DetectedAt    time.Time        `json:"detectedAt" db:"detected_at"`
}

// RejectionEvent is one rejected record in the analytics log
type RejectionEvent struct {
	JobID      string              `json:"jobId" ch:"job_id"`
	Source     types.SourceType    `json:"source" ch:"source"`
	SourceID   string              `json:"sourceId" ch:"source_id"`
	Name       string              `json:"name" ch:"name"`
	Reason     types.FailureReason `json:"reason" ch:"reason"`
	Message    string              `json:"message" ch:"message"`
	OccurredAt time.Time           `json:"occurredAt" ch:"occurred_at"`
}

// TrailRef is the slice of a stored trail the duplicate detector compares against
type TrailRef struct {
	ID        string  `json:"id" db:"id"`
	Name      string  `json:"name" db:"name"`
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
}
