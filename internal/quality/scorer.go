// Package quality scores how complete a normalized trail is and admits or rejects it.
package quality

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/normalize"
)

const (
	// DefaultMinScore is the admission threshold when the caller gives none
	DefaultMinScore = 0.6

	weightSumTolerance = 1e-6
	scoreEpsilon       = 1e-9
)

// Weights are the contribution of each completeness signal. They must sum to 1.
type Weights struct {
	Description float64
	Location    float64
	Length      float64
}

// DefaultWeights returns 0.4 description, 0.3 location, 0.3 length
func DefaultWeights() Weights {
	return Weights{Description: 0.4, Location: 0.3, Length: 0.3}
}

// Validate checks that the weights are non-negative and sum to 1
func (w Weights) Validate() error {
	if w.Description < 0 || w.Location < 0 || w.Length < 0 {
		return fmt.Errorf("quality weights must be non-negative: %+v", w)
	}
	if sum := w.Description + w.Location + w.Length; math.Abs(sum-1) > weightSumTolerance {
		return fmt.Errorf("quality weights must sum to 1, got %.6f", sum)
	}
	return nil
}

// Scorer computes the quality score of a trail
type Scorer struct {
	weights              Weights
	minDescriptionLength int
}

// NewScorer creates a scorer. minDescriptionLength is counted in runes after trimming.
func NewScorer(weights Weights, minDescriptionLength int) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if minDescriptionLength < 1 {
		minDescriptionLength = 1
	}
	return &Scorer{weights: weights, minDescriptionLength: minDescriptionLength}, nil
}

// Score returns a value in [0,1]
func (s *Scorer) Score(t *models.NormalizedTrail) float64 {
	score := 0.0
	if utf8.RuneCountInString(strings.TrimSpace(t.Description)) >= s.minDescriptionLength {
		score += s.weights.Description
	}
	if HasResolvableLocation(t) {
		score += s.weights.Location
	}
	if t.LengthMiles > 0 {
		score += s.weights.Length
	}
	return math.Max(0, math.Min(1, score))
}

// Accept stamps the score on the trail and reports whether it reaches minScore
func (s *Scorer) Accept(t *models.NormalizedTrail, minScore float64) bool {
	score := s.Score(t)
	t.QualityScore = &score
	return score+scoreEpsilon >= minScore
}

// Check is Accept returning a QualityRejected error for a trail below minScore
func (s *Scorer) Check(t *models.NormalizedTrail, minScore float64) error {
	if s.Accept(t, minScore) {
		return nil
	}
	return &apperrors.QualityRejected{Score: *t.QualityScore, MinScore: minScore}
}

// HasResolvableLocation reports whether the location names a place rather than
// repeating the coordinates
func HasResolvableLocation(t *models.NormalizedTrail) bool {
	loc := strings.TrimSpace(t.Location)
	return loc != "" && !normalize.IsCoordinateLocation(loc)
}
