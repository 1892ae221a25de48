// Package normalize holds the shared rules every source adapter applies when
// mapping an upstream record into a models.NormalizedTrail: unit conversion,
// coordinate validation, location fallback and difficulty vocabularies.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/types"
)

const (
	milesPerKilometer = 0.621371
	feetPerMeter      = 3.28084
	feetPerMile       = 5280.0
)

// Unit is a length unit found in free-text tag values
type Unit string

const (
	UnitMeters     Unit = "m"
	UnitKilometers Unit = "km"
	UnitMiles      Unit = "mi"
	UnitFeet       Unit = "ft"
)

var unitAliases = map[string]Unit{
	"m": UnitMeters, "meter": UnitMeters, "meters": UnitMeters, "metre": UnitMeters, "metres": UnitMeters,
	"km": UnitKilometers, "kilometer": UnitKilometers, "kilometers": UnitKilometers, "kilometre": UnitKilometers, "kilometres": UnitKilometers,
	"mi": UnitMiles, "mile": UnitMiles, "miles": UnitMiles,
	"ft": UnitFeet, "foot": UnitFeet, "feet": UnitFeet, "'": UnitFeet,
}

// ParseQuantity splits values such as "4.2", "4,2 km", "800m" or "1000 ft". A bare number
// takes bare as its unit. ok is false for an empty or negative value; an unknown unit or a
// non-finite number is an error.
func ParseQuantity(v string, bare Unit) (value float64, unit Unit, ok bool, err error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", false, nil
	}

	end := len(v)
	for end > 0 {
		c := v[end-1]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '\'' {
			end--
			continue
		}
		break
	}
	number := strings.TrimSpace(v[:end])
	suffix := strings.ToLower(v[end:])

	unit = bare
	if suffix != "" {
		u, known := unitAliases[suffix]
		if !known {
			return 0, "", false, fmt.Errorf("unknown unit %q", suffix)
		}
		unit = u
	}

	f, perr := strconv.ParseFloat(strings.ReplaceAll(number, ",", "."), 64)
	if perr != nil {
		return 0, "", false, fmt.Errorf("invalid number %q", number)
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, "", false, fmt.Errorf("non-finite value %q", number)
	}
	if f < 0 {
		return 0, "", false, nil
	}
	return f, unit, true, nil
}

// ToMiles converts a length in unit to miles
func ToMiles(v float64, unit Unit) float64 {
	switch unit {
	case UnitMeters:
		return MetersToMiles(v)
	case UnitKilometers:
		return KilometersToMiles(v)
	case UnitFeet:
		return v / feetPerMile
	default:
		return v
	}
}

// ToFeet converts a height in unit to whole feet
func ToFeet(v float64, unit Unit) int {
	switch unit {
	case UnitFeet:
		return int(math.Round(v))
	case UnitKilometers:
		return MetersToFeet(v * 1000)
	case UnitMiles:
		return int(math.Round(v * feetPerMile))
	default:
		return MetersToFeet(v)
	}
}

// KilometersToMiles converts a distance in kilometres
func KilometersToMiles(km float64) float64 {
	return km * milesPerKilometer
}

// MetersToMiles converts a distance in metres
func MetersToMiles(m float64) float64 {
	return KilometersToMiles(m / 1000)
}

// MetersToFeet converts an elevation in metres, rounded to whole feet
func MetersToFeet(m float64) int {
	return int(math.Round(m * feetPerMeter))
}

// Coordinates are optional on the wire so a missing value is distinguishable from 0
type Coordinates struct {
	Lat *float64
	Lng *float64
}

// ValidateCoordinates returns the pair or a NormalizationError. Out-of-range values are
// rejected, never clamped.
func ValidateCoordinates(source types.SourceType, sourceID string, c Coordinates) (float64, float64, error) {
	if c.Lat == nil || c.Lng == nil {
		return 0, 0, apperrors.NewNormalizationError(source, sourceID, "coordinates", "missing latitude or longitude")
	}
	lat, lng := *c.Lat, *c.Lng
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return 0, 0, apperrors.NewNormalizationError(source, sourceID, "coordinates", "not a finite number")
	}
	if lat < -90 || lat > 90 {
		return 0, 0, apperrors.NewNormalizationError(source, sourceID, "latitude",
			fmt.Sprintf("%v outside [-90, 90]", lat))
	}
	if lng < -180 || lng > 180 {
		return 0, 0, apperrors.NewNormalizationError(source, sourceID, "longitude",
			fmt.Sprintf("%v outside [-180, 180]", lng))
	}
	return lat, lng, nil
}

// CoordinateLocation formats the fallback location used when a source names no place
func CoordinateLocation(lat, lng float64) string {
	return fmt.Sprintf("%.4f, %.4f", lat, lng)
}

// IsCoordinateLocation reports whether loc is the coordinate fallback rather than a place name
func IsCoordinateLocation(loc string) bool {
	parts := strings.Split(loc, ",")
	if len(parts) != 2 {
		return false
	}
	for _, p := range parts {
		if _, err := strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
			return false
		}
	}
	return true
}

// JoinLocation joins the non-empty parts with ", ", or falls back to the coordinates
func JoinLocation(lat, lng float64, parts ...string) string {
	kept := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[strings.ToLower(p)] {
			continue
		}
		seen[strings.ToLower(p)] = true
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return CoordinateLocation(lat, lng)
	}
	return strings.Join(kept, ", ")
}

// Finish trims text fields and rejects values storage cannot hold. Adapters call it last.
func Finish(t *models.NormalizedTrail) error {
	t.Name = strings.TrimSpace(t.Name)
	t.Description = strings.TrimSpace(t.Description)
	t.Location = strings.TrimSpace(t.Location)
	t.Country = strings.TrimSpace(t.Country)
	t.StateProvince = strings.TrimSpace(t.StateProvince)

	if t.Name == "" {
		return apperrors.NewNormalizationError(t.Source, t.SourceID, "name", "empty")
	}
	if t.Latitude < -90 || t.Latitude > 90 || t.Longitude < -180 || t.Longitude > 180 {
		return apperrors.NewNormalizationError(t.Source, t.SourceID, "coordinates", "out of range")
	}
	if t.Location == "" {
		t.Location = CoordinateLocation(t.Latitude, t.Longitude)
	}
	if !t.Difficulty.IsValid() {
		t.Difficulty = types.DifficultyModerate
	}
	if math.IsInf(t.LengthMiles, 0) {
		return apperrors.NewNormalizationError(t.Source, t.SourceID, "lengthMiles", "not finite")
	}
	if t.LengthMiles < 0 || math.IsNaN(t.LengthMiles) {
		t.LengthMiles = 0
	}
	if t.ElevationGainFt > math.MaxInt32 {
		return apperrors.NewNormalizationError(t.Source, t.SourceID, "elevationGainFt", fmt.Sprintf("%d exceeds %d", t.ElevationGainFt, math.MaxInt32))
	}
	if t.ElevationGainFt < 0 {
		t.ElevationGainFt = 0
	}
	return nil
}
