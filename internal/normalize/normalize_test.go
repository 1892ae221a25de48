package normalize

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/types"
)

func f(v float64) *float64 { return &v }

func TestUnitConversions(t *testing.T) {
	assert.InDelta(t, 6.21371, KilometersToMiles(10), 1e-9)
	assert.InDelta(t, 1.0, MetersToMiles(1609.344), 1e-3)
	assert.Equal(t, 3281, MetersToFeet(1000))
	assert.Equal(t, 0, MetersToFeet(0))
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in    string
		value float64
		unit  Unit
		ok    bool
	}{
		{"4.2", 4.2, UnitKilometers, true},
		{"4,2 km", 4.2, UnitKilometers, true},
		{"800 m", 800, UnitMeters, true},
		{"800m", 800, UnitMeters, true},
		{"2 mi", 2, UnitMiles, true},
		{"1000 ft", 1000, UnitFeet, true},
		{"3 Miles", 3, UnitMiles, true},
		{"", 0, "", false},
		{"-3", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, unit, ok, err := ParseQuantity(tt.in, UnitKilometers)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.value, v)
			assert.Equal(t, tt.unit, unit)
		})
	}

	for _, bad := range []string{"inf", "+Inf", "NaN", "12 furlongs", "km", "abc"} {
		_, _, _, err := ParseQuantity(bad, UnitMeters)
		assert.Error(t, err, bad)
	}
}

func TestToMilesAndFeet(t *testing.T) {
	assert.InDelta(t, 0.497097, ToMiles(800, UnitMeters), 1e-6)
	assert.InDelta(t, 2.0, ToMiles(2, UnitMiles), 1e-9)
	assert.InDelta(t, 0.189394, ToMiles(1000, UnitFeet), 1e-6)
	assert.InDelta(t, 6.21371, ToMiles(10, UnitKilometers), 1e-9)

	assert.Equal(t, 1000, ToFeet(1000, UnitFeet))
	assert.Equal(t, 1699, ToFeet(518, UnitMeters))
	assert.Equal(t, 3281, ToFeet(1, UnitKilometers))
	assert.Equal(t, 5280, ToFeet(1, UnitMiles))
}

func TestValidateCoordinates(t *testing.T) {
	lat, lng, err := ValidateCoordinates(types.SourceParks, "p1", Coordinates{Lat: f(44.5), Lng: f(-121.2)})
	require.NoError(t, err)
	assert.Equal(t, 44.5, lat)
	assert.Equal(t, -121.2, lng)

	tests := []struct {
		name  string
		c     Coordinates
		field string
	}{
		{"missing lat", Coordinates{Lng: f(10)}, "coordinates"},
		{"missing both", Coordinates{}, "coordinates"},
		{"lat too high", Coordinates{Lat: f(90.0001), Lng: f(0)}, "latitude"},
		{"lng too low", Coordinates{Lat: f(0), Lng: f(-180.5)}, "longitude"},
		{"nan", Coordinates{Lat: f(math.NaN()), Lng: f(0)}, "coordinates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ValidateCoordinates(types.SourceParks, "p1", tt.c)
			var nerr *apperrors.NormalizationError
			require.ErrorAs(t, err, &nerr)
			assert.Equal(t, tt.field, nerr.Field)
			assert.Equal(t, types.ReasonNormalization, apperrors.ReasonOf(err))
		})
	}
}

func TestLocationFallback(t *testing.T) {
	assert.Equal(t, "Bend, Oregon", JoinLocation(44, -121, " Bend ", "", "Oregon", "oregon"))

	loc := JoinLocation(44.12346, -121.56789)
	assert.Equal(t, "44.1235, -121.5679", loc)
	assert.True(t, IsCoordinateLocation(loc))
	assert.False(t, IsCoordinateLocation("Bend, Oregon"))
	assert.False(t, IsCoordinateLocation("Mount Hood"))
}

func TestFinish(t *testing.T) {
	trail := &models.NormalizedTrail{Name: "  Lake Loop ", Latitude: 10, Longitude: 20, Difficulty: "scary", LengthMiles: -1}
	require.NoError(t, Finish(trail))
	assert.Equal(t, "Lake Loop", trail.Name)
	assert.Equal(t, types.DifficultyModerate, trail.Difficulty)
	assert.Equal(t, "10.0000, 20.0000", trail.Location)
	assert.Zero(t, trail.LengthMiles)

	err := Finish(&models.NormalizedTrail{Name: "   ", Source: types.SourceHikingProject, SourceID: "9"})
	assert.Equal(t, types.ReasonNormalization, apperrors.ReasonOf(err))
}

func TestDifficultyMappings(t *testing.T) {
	assert.Equal(t, types.DifficultyEasy, HikingProjectDifficulty("greenBlue"))
	assert.Equal(t, types.DifficultyModerate, HikingProjectDifficulty("blue"))
	assert.Equal(t, types.DifficultyHard, HikingProjectDifficulty("blueBlack"))
	assert.Equal(t, types.DifficultyExpert, HikingProjectDifficulty("dblack"))
	assert.Equal(t, types.DifficultyModerate, HikingProjectDifficulty("purple"))

	assert.Equal(t, types.DifficultyEasy, SACScaleDifficulty("hiking"))
	assert.Equal(t, types.DifficultyHard, SACScaleDifficulty("alpine_hiking"))
	assert.Equal(t, types.DifficultyExpert, SACScaleDifficulty("difficult_alpine_hiking"))
	assert.Equal(t, types.DifficultyModerate, SACScaleDifficulty(""))

	assert.Equal(t, types.DifficultyEasy, ParksRatingDifficulty(f(1)))
	assert.Equal(t, types.DifficultyModerate, ParksRatingDifficulty(f(1.5)))
	assert.Equal(t, types.DifficultyHard, ParksRatingDifficulty(f(3.49)))
	assert.Equal(t, types.DifficultyExpert, ParksRatingDifficulty(f(3.5)))
	assert.Equal(t, types.DifficultyModerate, ParksRatingDifficulty(f(0)))
	assert.Equal(t, types.DifficultyModerate, ParksRatingDifficulty(nil))
}

// Property: every vocabulary maps into the four-level enum
func TestDifficultyEnumClosureProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("colour and sac_scale strings map into the enum", prop.ForAll(
		func(s string) bool {
			return HikingProjectDifficulty(s).IsValid() && SACScaleDifficulty(s).IsValid()
		},
		gen.AnyString(),
	))

	properties.Property("numeric ratings map into the enum", prop.ForAll(
		func(r float64) bool {
			return ParksRatingDifficulty(&r).IsValid()
		},
		gen.Float64(),
	))

	properties.TestingRun(t)
}

// Property: accepted coordinates are in range, and out-of-range ones are never clamped
func TestCoordinateBoundsProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("validation accepts exactly the valid range", prop.ForAll(
		func(lat, lng float64) bool {
			gotLat, gotLng, err := ValidateCoordinates(types.SourceOpenStreetMap, "x", Coordinates{Lat: &lat, Lng: &lng})
			inRange := lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
			if inRange {
				return err == nil && gotLat == lat && gotLng == lng
			}
			return err != nil
		},
		gen.Float64Range(-200, 200),
		gen.Float64Range(-400, 400),
	))

	properties.TestingRun(t)
}

func TestFinish_RejectsUnstorableValues(t *testing.T) {
	base := func() *models.NormalizedTrail {
		return &models.NormalizedTrail{Name: "Ridge", Latitude: 1, Longitude: 1, Source: types.SourceOpenStreetMap, SourceID: "way/7"}
	}

	inf := base()
	inf.LengthMiles = math.Inf(1)
	var nerr *apperrors.NormalizationError
	require.ErrorAs(t, Finish(inf), &nerr)
	assert.Equal(t, "lengthMiles", nerr.Field)

	high := base()
	high.ElevationGainFt = MetersToFeet(1e12)
	require.ErrorAs(t, Finish(high), &nerr)
	assert.Equal(t, "elevationGainFt", nerr.Field)
	assert.Equal(t, types.ReasonNormalization, apperrors.ReasonOf(Finish(high)))

	edge := base()
	edge.ElevationGainFt = math.MaxInt32
	assert.NoError(t, Finish(edge))
}
