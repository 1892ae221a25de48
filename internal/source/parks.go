package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/normalize"
	"github.com/trail-importer/internal/types"
)

// Parks reads the government-parks API. Lengths are kilometres, elevation metres,
// difficulty a 1-5 rating.
type Parks struct {
	client     *resty.Client
	credential string
	now        func() time.Time
}

// NewParks creates the adapter against baseURL
func NewParks(baseURL, credential, userAgent string) *Parks {
	return &Parks{
		client:     newClient(baseURL, userAgent),
		credential: credential,
		now:        time.Now,
	}
}

func (a *Parks) Type() types.SourceType { return types.SourceParks }
func (a *Parks) Credential() string     { return a.credential }

type parksResponse struct {
	Total int               `json:"total"`
	Data  []json.RawMessage `json:"data"`
}

type parksTrail struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	ParkName         string   `json:"parkName"`
	States           string   `json:"states"`
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	LengthKm         float64  `json:"lengthKm"`
	ElevationGainM   float64  `json:"elevationGainM"`
	DifficultyRating *float64 `json:"difficultyRating"`
	Surface          string   `json:"surface"`
	TrailType        string   `json:"trailType"`
}

// Fetch queries one region with the key in the X-Api-Key header
func (a *Parks) Fetch(ctx context.Context, region models.Region, limit int, apiKey string) ([]models.RawSourceRecord, error) {
	var body parksResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("X-Api-Key", apiKey).
		SetQueryParams(map[string]string{
			"lat":    strconv.FormatFloat(region.Lat, 'f', 6, 64),
			"lng":    strconv.FormatFloat(region.Lng, 'f', 6, 64),
			"radius": strconv.FormatFloat(region.RadiusMiles, 'f', 1, 64),
			"limit":  strconv.Itoa(limit),
		}).
		ForceContentType("application/json").
		SetResult(&body).
		Get("/api/v1/trails")
	if err != nil {
		return nil, fmt.Errorf("parks request: %w", err)
	}
	if err := checkResponse(a.Type(), resp); err != nil {
		return nil, err
	}

	fetchedAt := a.now().UTC()
	records := make([]models.RawSourceRecord, 0, len(body.Data))
	for _, item := range body.Data {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, fmt.Errorf("%w: trail id: %v", ErrDecode, err)
		}
		records = append(records, models.RawSourceRecord{
			Source:    a.Type(),
			SourceID:  head.ID,
			Region:    region.Name,
			FetchedAt: fetchedAt,
			Payload:   item,
		})
	}
	return records, nil
}

// Normalize maps one parks record
func (a *Parks) Normalize(raw models.RawSourceRecord) (*models.NormalizedTrail, error) {
	var t parksTrail
	if err := json.Unmarshal(raw.Payload, &t); err != nil {
		return nil, apperrors.NewNormalizationError(a.Type(), raw.SourceID, "payload", err.Error())
	}

	lat, lng, err := normalize.ValidateCoordinates(a.Type(), raw.SourceID, normalize.Coordinates{Lat: t.Latitude, Lng: t.Longitude})
	if err != nil {
		return nil, err
	}

	trail := &models.NormalizedTrail{
		Name:            t.Name,
		Description:     t.Description,
		Location:        normalize.JoinLocation(lat, lng, t.ParkName, t.States),
		Country:         "United States",
		StateProvince:   t.States,
		Latitude:        lat,
		Longitude:       lng,
		Difficulty:      normalize.ParksRatingDifficulty(t.DifficultyRating),
		LengthMiles:     normalize.KilometersToMiles(t.LengthKm),
		ElevationGainFt: normalize.MetersToFeet(t.ElevationGainM),
		Surface:         t.Surface,
		TrailType:       t.TrailType,
		Source:          a.Type(),
		SourceID:        raw.SourceID,
	}
	if err := normalize.Finish(trail); err != nil {
		return nil, err
	}
	return trail, nil
}
