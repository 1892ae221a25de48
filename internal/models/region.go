package models

import (
	"math"
)

// milesPerDegreeLat is the length of one degree of latitude
const milesPerDegreeLat = 69.0

// Region is one geographic sub-request of a fetch
type Region struct {
	Name        string  `json:"name"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	RadiusMiles float64 `json:"radiusMiles"`
}

// BoundingBox is an axis-aligned lat/lng rectangle
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLng float64 `json:"minLng"`
	MaxLng float64 `json:"maxLng"`
}

// BoxAround returns the box lat±delta, lng±delta
func BoxAround(lat, lng, delta float64) BoundingBox {
	return BoundingBox{
		MinLat: lat - delta,
		MaxLat: lat + delta,
		MinLng: lng - delta,
		MaxLng: lng + delta,
	}
}

// Contains reports whether the point lies inside the box, edges included
func (b BoundingBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// BoundingBox approximates the region's circle with a rectangle, clamped to valid coordinates
func (r Region) BoundingBox() BoundingBox {
	latDelta := r.RadiusMiles / milesPerDegreeLat
	lngDelta := latDelta
	if c := math.Cos(r.Lat * math.Pi / 180); c > 0.01 {
		lngDelta = r.RadiusMiles / (milesPerDegreeLat * c)
	}
	return BoundingBox{
		MinLat: math.Max(r.Lat-latDelta, -90),
		MaxLat: math.Min(r.Lat+latDelta, 90),
		MinLng: math.Max(r.Lng-lngDelta, -180),
		MaxLng: math.Min(r.Lng+lngDelta, 180),
	}
}

// RadiusMeters converts the radius for APIs that take metres
func (r Region) RadiusMeters() float64 {
	return r.RadiusMiles * 1609.344
}

// DefaultRegions are used when neither a target nor a regions file is configured
func DefaultRegions() []Region {
	return []Region{
		{Name: "Pacific Northwest", Lat: 47.0, Lng: -121.5, RadiusMiles: 150},
		{Name: "Sierra Nevada", Lat: 37.5, Lng: -119.3, RadiusMiles: 120},
		{Name: "Rocky Mountains", Lat: 39.6, Lng: -105.8, RadiusMiles: 150},
		{Name: "Appalachians", Lat: 35.6, Lng: -83.5, RadiusMiles: 150},
	}
}

// GeoTarget narrows an import to one circle
type GeoTarget struct {
	Name        string  `json:"name"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	RadiusMiles float64 `json:"radiusMiles"`
}

// Split divides the target into four quadrant regions of half the radius,
// each centred half a radius from the target towards NE, NW, SE and SW.
func (g GeoTarget) Split() []Region {
	half := g.RadiusMiles / 2
	// diagonal offset of length half
	offset := half / math.Sqrt2
	dLat := offset / milesPerDegreeLat
	dLng := dLat
	if c := math.Cos(g.Lat * math.Pi / 180); c > 0.01 {
		dLng = offset / (milesPerDegreeLat * c)
	}

	name := g.Name
	if name == "" {
		name = "target"
	}

	quadrants := []struct {
		suffix  string
		latSign float64
		lngSign float64
	}{
		{"NE", 1, 1},
		{"NW", 1, -1},
		{"SE", -1, 1},
		{"SW", -1, -1},
	}

	regions := make([]Region, 0, len(quadrants))
	for _, q := range quadrants {
		regions = append(regions, Region{
			Name:        name + " " + q.suffix,
			Lat:         clamp(g.Lat+q.latSign*dLat, -90, 90),
			Lng:         wrapLongitude(g.Lng + q.lngSign*dLng),
			RadiusMiles: half,
		})
	}
	return regions
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func wrapLongitude(lng float64) float64 {
	for lng > 180 {
		lng -= 360
	}
	for lng < -180 {
		lng += 360
	}
	return lng
}
