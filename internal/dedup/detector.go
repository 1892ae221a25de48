// Package dedup flags candidate trails that already exist nearby under a similar name.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/logging"
	"github.com/trail-importer/internal/models"
)

const (
	// DefaultBoxDelta is roughly 111m of latitude
	DefaultBoxDelta = 0.001
	// DefaultThreshold is the similarity a name must exceed to count as a duplicate
	DefaultThreshold = 0.8
	// DefaultMaxCandidates bounds the bounding-box query
	DefaultMaxCandidates = 50
)

// TrailFinder returns trails inside a bounding box, in a stable order
type TrailFinder interface {
	FindInBoundingBox(ctx context.Context, box models.BoundingBox, limit int) ([]models.TrailRef, error)
}

// DuplicateLogger records a detected duplicate
type DuplicateLogger interface {
	RecordDuplicate(ctx context.Context, rec *models.DuplicateRecord) error
}

// Config holds the tunable detection parameters
type Config struct {
	BoxDelta      float64
	Threshold     float64
	MaxCandidates int
}

// DefaultConfig returns the 0.001° box and 0.8 threshold
func DefaultConfig() Config {
	return Config{BoxDelta: DefaultBoxDelta, Threshold: DefaultThreshold, MaxCandidates: DefaultMaxCandidates}
}

// Match is the stored trail a candidate duplicates
type Match struct {
	Original   models.TrailRef
	Similarity float64
}

// Err converts the match into the rejection recorded against the candidate
func (m *Match) Err() error {
	return &apperrors.DuplicateRejected{
		OriginalID:   m.Original.ID,
		OriginalName: m.Original.Name,
		Similarity:   m.Similarity,
	}
}

// Detector checks candidates against a TrailFinder
type Detector struct {
	finder TrailFinder
	dupLog DuplicateLogger
	cfg    Config
	now    func() time.Time
}

// NewDetector creates a detector. dupLog may be nil.
func NewDetector(finder TrailFinder, dupLog DuplicateLogger, cfg Config) *Detector {
	if cfg.BoxDelta <= 0 {
		cfg.BoxDelta = DefaultBoxDelta
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	return &Detector{finder: finder, dupLog: dupLog, cfg: cfg, now: time.Now}
}

// WithFinder returns a detector sharing this one's settings but querying finder
func (d *Detector) WithFinder(finder TrailFinder) *Detector {
	clone := *d
	clone.finder = finder
	return &clone
}

// Check returns the first nearby trail whose name similarity exceeds the threshold,
// or nil. There is no global disambiguation between several matches.
func (d *Detector) Check(ctx context.Context, jobID string, candidate *models.NormalizedTrail) (*Match, error) {
	box := models.BoxAround(candidate.Latitude, candidate.Longitude, d.cfg.BoxDelta)
	nearby, err := d.finder.FindInBoundingBox(ctx, box, d.cfg.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("duplicate lookup failed: %w", err)
	}

	for _, existing := range nearby {
		sim := Similarity(candidate.Name, existing.Name)
		if sim <= d.cfg.Threshold {
			continue
		}

		match := &Match{Original: existing, Similarity: sim}
		d.record(ctx, jobID, candidate, match)
		return match, nil
	}
	return nil, nil
}

// IsDuplicate is Check reduced to a verdict
func (d *Detector) IsDuplicate(ctx context.Context, jobID string, candidate *models.NormalizedTrail) (bool, error) {
	m, err := d.Check(ctx, jobID, candidate)
	return m != nil, err
}

func (d *Detector) record(ctx context.Context, jobID string, candidate *models.NormalizedTrail, m *Match) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		logging.FieldJobID:  jobID,
		logging.FieldSource: candidate.Source,
		"candidate":         candidate.Name,
		"originalId":        m.Original.ID,
		"similarity":        m.Similarity,
	})
	logger.Debug("Duplicate trail detected")

	if d.dupLog == nil {
		return
	}
	rec := &models.DuplicateRecord{
		JobID:         jobID,
		CandidateName: candidate.Name,
		Source:        candidate.Source,
		SourceID:      candidate.SourceID,
		OriginalID:    m.Original.ID,
		OriginalName:  m.Original.Name,
		Similarity:    m.Similarity,
		DetectedAt:    d.now(),
	}
	// the verdict stands even if the record cannot be written
	if err := d.dupLog.RecordDuplicate(ctx, rec); err != nil {
		logger.WithError(err).Warn("Failed to record duplicate")
	}
}

// Similarity is 1 - levenshtein/maxLen over the trimmed, lower-cased names
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}
