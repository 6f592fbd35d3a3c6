package proximity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Boundaries(t *testing.T) {
	cases := []struct {
		distance float64
		want     Tier
	}{
		{0, TierRoom},
		{10.0, TierRoom},
		{10.01, TierVenue},
		{100.0, TierVenue},
		{100.5, TierNearby},
		{1000.0, TierNearby},
		{1000.01, TierFar},
		{250000, TierFar},
		{math.Inf(1), TierUnknown},
		{math.NaN(), TierUnknown},
		{-1, TierUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.distance), "Classify(%v)", tc.distance)
	}
}

func TestMultiplier(t *testing.T) {
	assert.Equal(t, 3, Multiplier(TierRoom))
	assert.Equal(t, 2, Multiplier(TierVenue))
	assert.Equal(t, 1, Multiplier(TierNearby))
	assert.Equal(t, 0, Multiplier(TierFar))
	assert.Equal(t, 0, Multiplier(TierUnknown))
}

func TestDistanceMeters_KnownPair(t *testing.T) {
	// One degree of latitude is ~111.19km on the mean-radius sphere.
	a := &Point{Lat: 0, Lng: 0}
	b := &Point{Lat: 1, Lng: 0}

	d := DistanceMeters(a, b)
	require.False(t, math.IsInf(d, 0))
	assert.InDelta(t, 111195, d, 10)
	assert.InDelta(t, d, DistanceMeters(b, a), 1e-9, "distance must be symmetric")
}

func TestDistanceMeters_SamePoint(t *testing.T) {
	p := &Point{Lat: 52.52, Lng: 13.405}
	assert.Equal(t, 0.0, DistanceMeters(p, p))
}

func TestDistanceMeters_Unknown(t *testing.T) {
	ok := &Point{Lat: 10, Lng: 10}
	cases := map[string][2]*Point{
		"nil a":         {nil, ok},
		"nil b":         {ok, nil},
		"lat too big":   {{Lat: 91, Lng: 0}, ok},
		"lng too small": {ok, {Lat: 0, Lng: -180.5}},
		"nan":           {{Lat: math.NaN(), Lng: 0}, ok},
		"inf":           {ok, {Lat: 0, Lng: math.Inf(1)}},
	}
	for name, pts := range cases {
		t.Run(name, func(t *testing.T) {
			assert.True(t, math.IsInf(DistanceMeters(pts[0], pts[1]), 1))
			assert.Equal(t, TierUnknown, Between(pts[0], pts[1]))
		})
	}
}

func TestBetween_FarIsResolved(t *testing.T) {
	a := &Point{Lat: 48.8566, Lng: 2.3522}
	b := &Point{Lat: 51.5074, Lng: -0.1278}
	assert.Equal(t, TierFar, Between(a, b))
}

func TestCoarsen(t *testing.T) {
	p := Coarsen(Point{Lat: 52.520008, Lng: 13.404954}, 4)
	assert.InDelta(t, 52.52, p.Lat, 1e-9)
	assert.InDelta(t, 13.405, p.Lng, 1e-9)

	whole := Coarsen(Point{Lat: 1.6, Lng: -1.6}, -3)
	assert.Equal(t, Point{Lat: 2, Lng: -2}, whole)
}
