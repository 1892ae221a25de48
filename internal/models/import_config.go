package models

import (
	"fmt"

	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/types"
)

const (
	MaxTrailsPerSource = 1000
	MaxBatchSize       = 500
)

// ImportConfig is the input to StartImport. Nil flags and score take the defaults.
type ImportConfig struct {
	TrailsPerSource          int                `json:"trailsPerSource"`
	BatchSize                int                `json:"batchSize"`
	EnableDuplicateDetection *bool              `json:"enableDuplicateDetection,omitempty"`
	EnableQualityFiltering   *bool              `json:"enableQualityFiltering,omitempty"`
	MinQualityScore          *float64           `json:"minQualityScore,omitempty"`
	Sources                  []types.SourceType `json:"sources,omitempty"`
	ConcurrentSources        bool               `json:"concurrentSources"`
	Target                   *GeoTarget         `json:"target,omitempty"`
}

// ImportDefaults fills the fields a caller leaves empty
type ImportDefaults struct {
	TrailsPerSource int
	BatchSize       int
	MinQualityScore float64
}

// WithDefaults returns a copy with every empty field filled
func (c ImportConfig) WithDefaults(d ImportDefaults) ImportConfig {
	out := c.Clone()
	if out.TrailsPerSource == 0 {
		out.TrailsPerSource = d.TrailsPerSource
	}
	if out.BatchSize == 0 {
		out.BatchSize = d.BatchSize
	}
	if out.EnableDuplicateDetection == nil {
		out.EnableDuplicateDetection = boolPtr(true)
	}
	if out.EnableQualityFiltering == nil {
		out.EnableQualityFiltering = boolPtr(true)
	}
	if out.MinQualityScore == nil {
		score := d.MinQualityScore
		out.MinQualityScore = &score
	}
	return out
}

// Clone returns a copy that shares no pointers with c
func (c ImportConfig) Clone() ImportConfig {
	out := c
	if c.EnableDuplicateDetection != nil {
		out.EnableDuplicateDetection = boolPtr(*c.EnableDuplicateDetection)
	}
	if c.EnableQualityFiltering != nil {
		out.EnableQualityFiltering = boolPtr(*c.EnableQualityFiltering)
	}
	if c.MinQualityScore != nil {
		score := *c.MinQualityScore
		out.MinQualityScore = &score
	}
	if c.Sources != nil {
		out.Sources = append([]types.SourceType(nil), c.Sources...)
	}
	if c.Target != nil {
		target := *c.Target
		out.Target = &target
	}
	return out
}

// Validate checks ranges. Call it after WithDefaults.
func (c ImportConfig) Validate() error {
	if c.TrailsPerSource < 1 || c.TrailsPerSource > MaxTrailsPerSource {
		return apperrors.NewInvalidParameterError("trailsPerSource",
			fmt.Sprintf("must be between 1 and %d", MaxTrailsPerSource))
	}
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		return apperrors.NewInvalidParameterError("batchSize",
			fmt.Sprintf("must be between 1 and %d", MaxBatchSize))
	}
	if score := c.MinScore(); score < 0 || score > 1 {
		return apperrors.NewInvalidParameterError("minQualityScore", "must be between 0 and 1")
	}

	seen := make(map[types.SourceType]bool, len(c.Sources))
	for _, s := range c.Sources {
		if seen[s] {
			return apperrors.NewInvalidParameterError("sources", fmt.Sprintf("duplicate source %q", s))
		}
		seen[s] = true
	}

	if t := c.Target; t != nil {
		if t.Lat < -90 || t.Lat > 90 {
			return apperrors.NewInvalidParameterError("target.lat", "must be between -90 and 90")
		}
		if t.Lng < -180 || t.Lng > 180 {
			return apperrors.NewInvalidParameterError("target.lng", "must be between -180 and 180")
		}
		if t.RadiusMiles <= 0 {
			return apperrors.NewInvalidParameterError("target.radiusMiles", "must be positive")
		}
	}
	return nil
}

// DedupEnabled reports whether duplicate detection runs (default true)
func (c ImportConfig) DedupEnabled() bool {
	return c.EnableDuplicateDetection == nil || *c.EnableDuplicateDetection
}

// QualityEnabled reports whether quality filtering runs (default true)
func (c ImportConfig) QualityEnabled() bool {
	return c.EnableQualityFiltering == nil || *c.EnableQualityFiltering
}

// MinScore returns the quality threshold, zero when unset
func (c ImportConfig) MinScore() float64 {
	if c.MinQualityScore == nil {
		return 0
	}
	return *c.MinQualityScore
}

func boolPtr(b bool) *bool { return &b }
