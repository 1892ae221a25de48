package normalize

import (
	"strings"

	"github.com/trail-importer/internal/types"
)

// hikingProjectScale maps the colour-coded rating of the hiking-trail API
var hikingProjectScale = map[string]types.Difficulty{
	"green":     types.DifficultyEasy,
	"greenblue": types.DifficultyEasy,
	"blue":      types.DifficultyModerate,
	"blueblack": types.DifficultyHard,
	"black":     types.DifficultyHard,
	"dblack":    types.DifficultyExpert,
}

// sacScale maps the OpenStreetMap sac_scale tag
var sacScale = map[string]types.Difficulty{
	"hiking":                    types.DifficultyEasy,
	"mountain_hiking":           types.DifficultyModerate,
	"demanding_mountain_hiking": types.DifficultyHard,
	"alpine_hiking":             types.DifficultyHard,
	"demanding_alpine_hiking":   types.DifficultyExpert,
	"difficult_alpine_hiking":   types.DifficultyExpert,
}

// HikingProjectDifficulty maps green/greenBlue→easy, blue→moderate,
// blueBlack/black→hard, dblack→expert. Anything else is moderate.
func HikingProjectDifficulty(rating string) types.Difficulty {
	if d, ok := hikingProjectScale[strings.ToLower(strings.TrimSpace(rating))]; ok {
		return d
	}
	return types.DifficultyModerate
}

// SACScaleDifficulty maps the sac_scale vocabulary. Unknown tags are moderate.
func SACScaleDifficulty(tag string) types.Difficulty {
	if d, ok := sacScale[strings.ToLower(strings.TrimSpace(tag))]; ok {
		return d
	}
	return types.DifficultyModerate
}

// ParksRatingDifficulty maps the numeric 1-5 rating:
// <1.5 easy, <2.5 moderate, <3.5 hard, otherwise expert. Missing or non-positive is moderate.
func ParksRatingDifficulty(rating *float64) types.Difficulty {
	if rating == nil || !(*rating > 0) {
		return types.DifficultyModerate
	}
	r := *rating
	switch {
	case r < 1.5:
		return types.DifficultyEasy
	case r < 2.5:
		return types.DifficultyModerate
	case r < 3.5:
		return types.DifficultyHard
	default:
		return types.DifficultyExpert
	}
}
