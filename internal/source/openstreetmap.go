package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/normalize"
	"github.com/trail-importer/internal/types"
)

// OpenStreetMap queries an Overpass endpoint for named footpaths and hiking routes.
// Tags are metric.
type OpenStreetMap struct {
	client *resty.Client
	now    func() time.Time
}

// NewOpenStreetMap creates the adapter against an Overpass baseURL
func NewOpenStreetMap(baseURL, userAgent string) *OpenStreetMap {
	return &OpenStreetMap{
		client: newClient(baseURL, userAgent),
		now:    time.Now,
	}
}

func (a *OpenStreetMap) Type() types.SourceType { return types.SourceOpenStreetMap }
func (a *OpenStreetMap) Credential() string     { return "" }

type overpassResponse struct {
	Elements []json.RawMessage `json:"elements"`
}

type overpassPoint struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

type overpassElement struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    *float64          `json:"lat"`
	Lon    *float64          `json:"lon"`
	Center *overpassPoint    `json:"center"`
	Tags   map[string]string `json:"tags"`
}

// overpassQuery selects named paths and hiking route relations around the region centre
func overpassQuery(region models.Region, limit int) string {
	around := fmt.Sprintf("around:%.0f,%.6f,%.6f", region.RadiusMeters(), region.Lat, region.Lng)
	return fmt.Sprintf(`[out:json][timeout:25];
(
  way["highway"~"^(path|footway|track)$"]["name"](%s);
  relation["route"="hiking"]["name"](%s);
);
out center tags %d;`, around, around, limit)
}

// Fetch posts the Overpass QL query for one region
func (a *OpenStreetMap) Fetch(ctx context.Context, region models.Region, limit int, _ string) ([]models.RawSourceRecord, error) {
	var body overpassResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"data": overpassQuery(region, limit)}).
		ForceContentType("application/json").
		SetResult(&body).
		Post("/api/interpreter")
	if err != nil {
		return nil, fmt.Errorf("overpass request: %w", err)
	}
	if err := checkResponse(a.Type(), resp); err != nil {
		return nil, err
	}

	fetchedAt := a.now().UTC()
	records := make([]models.RawSourceRecord, 0, len(body.Elements))
	for _, item := range body.Elements {
		var head struct {
			Type string `json:"type"`
			ID   int64  `json:"id"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, fmt.Errorf("%w: element id: %v", ErrDecode, err)
		}
		records = append(records, models.RawSourceRecord{
			Source:    a.Type(),
			SourceID:  head.Type + "/" + strconv.FormatInt(head.ID, 10),
			Region:    region.Name,
			FetchedAt: fetchedAt,
			Payload:   item,
		})
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Normalize maps one Overpass element. Ways and relations carry a centre point, nodes
// their own lat/lon. A bare distance is kilometres and a bare ascent metres; an explicit m, km, mi or ft suffix wins.
func (a *OpenStreetMap) Normalize(raw models.RawSourceRecord) (*models.NormalizedTrail, error) {
	var el overpassElement
	if err := json.Unmarshal(raw.Payload, &el); err != nil {
		return nil, apperrors.NewNormalizationError(a.Type(), raw.SourceID, "payload", err.Error())
	}

	coords := normalize.Coordinates{Lat: el.Lat, Lng: el.Lon}
	if el.Center != nil {
		coords = normalize.Coordinates{Lat: el.Center.Lat, Lng: el.Center.Lon}
	}
	lat, lng, err := normalize.ValidateCoordinates(a.Type(), raw.SourceID, coords)
	if err != nil {
		return nil, err
	}

	tags := el.Tags
	state := firstTag(tags, "is_in:state", "addr:state")
	country := firstTag(tags, "is_in:country", "addr:country")

	trail := &models.NormalizedTrail{
		Name:          tags["name"],
		Description:   firstTag(tags, "description", "note"),
		Location:      normalize.JoinLocation(lat, lng, firstTag(tags, "is_in:city", "addr:city", "is_in"), state),
		Country:       country,
		StateProvince: state,
		Latitude:      lat,
		Longitude:     lng,
		Difficulty:    normalize.SACScaleDifficulty(tags["sac_scale"]),
		Surface:       tags["surface"],
		TrailType:     firstTag(tags, "highway", "route"),
		Source:        a.Type(),
		SourceID:      raw.SourceID,
	}
	if v, unit, ok, err := normalize.ParseQuantity(tags["distance"], normalize.UnitKilometers); err != nil {
		return nil, apperrors.NewNormalizationError(a.Type(), raw.SourceID, "distance", err.Error())
	} else if ok {
		trail.LengthMiles = normalize.ToMiles(v, unit)
	}
	if v, unit, ok, err := normalize.ParseQuantity(tags["ascent"], normalize.UnitMeters); err != nil {
		return nil, apperrors.NewNormalizationError(a.Type(), raw.SourceID, "ascent", err.Error())
	} else if ok {
		trail.ElevationGainFt = normalize.ToFeet(v, unit)
	}

	if err := normalize.Finish(trail); err != nil {
		return nil, err
	}
	return trail, nil
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(tags[k]); v != "" {
			return v
		}
	}
	return ""
}
