// Package proximity computes great-circle distances between two coarse
// coordinates and buckets them into the discrete tiers shown on the radar.
// Everything here is a pure function; a missing or out-of-range coordinate
// yields an "unknown" result instead of an error.
package proximity

import "math"

// earthRadiusMeters is the mean Earth radius used by the Haversine formula.
const earthRadiusMeters = 6371000.0

// Tier thresholds in meters. A distance equal to a threshold belongs to the
// closer tier.
const (
	RoomMaxMeters   = 10.0
	VenueMaxMeters  = 100.0
	NearbyMaxMeters = 1000.0
)

// Tier is a discrete proximity bucket.
type Tier string

const (
	TierUnknown Tier = "" // at least one side has no usable location
	TierRoom    Tier = "room"
	TierVenue   Tier = "venue"
	TierNearby  Tier = "nearby"
	TierFar     Tier = "far"
)

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether p is finite and inside the WGS84 ranges.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// DistanceMeters returns the Haversine distance between a and b. It returns
// +Inf when either point is nil or invalid.
func DistanceMeters(a, b *Point) float64 {
	if a == nil || b == nil || !a.Valid() || !b.Valid() {
		return math.Inf(1)
	}

	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push h a hair outside [0,1] for antipodal points.
	h = math.Min(1, math.Max(0, h))

	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Classify maps a distance to its tier. Non-finite or negative distances are
// TierUnknown, which keeps the +Inf sentinel from DistanceMeters distinct
// from a resolved "far".
func Classify(distance float64) Tier {
	switch {
	case math.IsNaN(distance) || math.IsInf(distance, 0) || distance < 0:
		return TierUnknown
	case distance <= RoomMaxMeters:
		return TierRoom
	case distance <= VenueMaxMeters:
		return TierVenue
	case distance <= NearbyMaxMeters:
		return TierNearby
	default:
		return TierFar
	}
}

// Between classifies the distance between two optional points.
func Between(a, b *Point) Tier {
	return Classify(DistanceMeters(a, b))
}

// Multiplier returns the scoring weight of a tier. Unknown contributes zero,
// the same as far.
func Multiplier(t Tier) int {
	switch t {
	case TierRoom:
		return 3
	case TierVenue:
		return 2
	case TierNearby:
		return 1
	default:
		return 0
	}
}

// Coarsen rounds p to the given number of decimal places before it is stored.
// Four decimals is roughly 11m at the equator.
func Coarsen(p Point, decimals int) Point {
	if decimals < 0 {
		decimals = 0
	}
	scale := math.Pow(10, float64(decimals))
	return Point{
		Lat: math.Round(p.Lat*scale) / scale,
		Lng: math.Round(p.Lng*scale) / scale,
	}
}
