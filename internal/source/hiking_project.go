package source

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/normalize"
	"github.com/trail-importer/internal/types"
)

// hiking-trail API caps one request at 500 results
const hikingProjectMaxResults = 500

// HikingProject reads the hiking-trail API. Lengths are miles and ascent is feet.
type HikingProject struct {
	client     *resty.Client
	credential string
	now        func() time.Time
}

// NewHikingProject creates the adapter against baseURL
func NewHikingProject(baseURL, credential, userAgent string) *HikingProject {
	return &HikingProject{
		client:     newClient(baseURL, userAgent),
		credential: credential,
		now:        time.Now,
	}
}

func (a *HikingProject) Type() types.SourceType { return types.SourceHikingProject }
func (a *HikingProject) Credential() string     { return a.credential }

type hikingProjectResponse struct {
	Trails  []json.RawMessage `json:"trails"`
	Success int               `json:"success"`
}

type hikingProjectTrail struct {
	ID         json.Number `json:"id"`
	Name       string      `json:"name"`
	Summary    string      `json:"summary"`
	Difficulty string      `json:"difficulty"`
	Location   string      `json:"location"`
	Latitude   *float64    `json:"latitude"`
	Longitude  *float64    `json:"longitude"`
	Length     float64     `json:"length"`
	Ascent     float64     `json:"ascent"`
	Type       string      `json:"type"`
}

// Fetch queries one region. The API key travels as a query parameter.
func (a *HikingProject) Fetch(ctx context.Context, region models.Region, limit int, apiKey string) ([]models.RawSourceRecord, error) {
	if limit > hikingProjectMaxResults {
		limit = hikingProjectMaxResults
	}

	var body hikingProjectResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":         strconv.FormatFloat(region.Lat, 'f', 6, 64),
			"lon":         strconv.FormatFloat(region.Lng, 'f', 6, 64),
			"maxDistance": strconv.FormatFloat(math.Ceil(region.RadiusMiles), 'f', 0, 64),
			"maxResults":  strconv.Itoa(limit),
			"key":         apiKey,
		}).
		ForceContentType("application/json").
		SetResult(&body).
		Get("/get-trails")
	if err != nil {
		return nil, fmt.Errorf("hiking project request: %w", err)
	}
	if err := checkResponse(a.Type(), resp); err != nil {
		return nil, err
	}

	fetchedAt := a.now().UTC()
	records := make([]models.RawSourceRecord, 0, len(body.Trails))
	for _, item := range body.Trails {
		var head struct {
			ID json.Number `json:"id"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, fmt.Errorf("%w: trail id: %v", ErrDecode, err)
		}
		records = append(records, models.RawSourceRecord{
			Source:    a.Type(),
			SourceID:  head.ID.String(),
			Region:    region.Name,
			FetchedAt: fetchedAt,
			Payload:   item,
		})
	}
	return records, nil
}

// Normalize maps one hiking-trail record. "Bend, Oregon" yields state Oregon.
func (a *HikingProject) Normalize(raw models.RawSourceRecord) (*models.NormalizedTrail, error) {
	var t hikingProjectTrail
	if err := json.Unmarshal(raw.Payload, &t); err != nil {
		return nil, apperrors.NewNormalizationError(a.Type(), raw.SourceID, "payload", err.Error())
	}

	lat, lng, err := normalize.ValidateCoordinates(a.Type(), raw.SourceID, normalize.Coordinates{Lat: t.Latitude, Lng: t.Longitude})
	if err != nil {
		return nil, err
	}

	var state string
	if parts := strings.Split(t.Location, ","); len(parts) > 1 {
		state = strings.TrimSpace(parts[len(parts)-1])
	}

	trail := &models.NormalizedTrail{
		Name:            t.Name,
		Description:     t.Summary,
		Location:        normalize.JoinLocation(lat, lng, t.Location),
		Country:         "United States",
		StateProvince:   state,
		Latitude:        lat,
		Longitude:       lng,
		Difficulty:      normalize.HikingProjectDifficulty(t.Difficulty),
		LengthMiles:     t.Length,
		ElevationGainFt: int(math.Round(t.Ascent)),
		TrailType:       t.Type,
		Source:          a.Type(),
		SourceID:        raw.SourceID,
	}
	if err := normalize.Finish(trail); err != nil {
		return nil, err
	}
	return trail, nil
}
