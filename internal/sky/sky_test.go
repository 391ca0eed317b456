package sky

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeparation(t *testing.T) {
	testCases := []struct {
		name                   string
		lon1, lat1, lon2, lat2 float64
		want                   float64
	}{
		{"same point", 10, 20, 10, 20, 0},
		{"along equator", 0, 0, 1, 0, 1},
		{"along meridian", 45, 10, 45, 12.5, 2.5},
		{"pole to equator", 0, 90, 123, 0, 90},
		{"antipodes", 0, 0, 180, 0, 180},
		{"wrap in longitude", 359.5, 0, 0.5, 0, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Separation(tc.lon1, tc.lat1, tc.lon2, tc.lat2), 1e-9)
		})
	}
}

func TestSeparation_ShrinksWithCosLat(t *testing.T) {
	got := Separation(0, 60, 1, 60)
	assert.InDelta(t, math.Cos(60*math.Pi/180), got, 1e-4)
}

func TestProjector_RoundTrip(t *testing.T) {
	p := NewProjector(54.2, -35.4)
	points := [][2]float64{{54.2, -35.4}, {54.5, -35.1}, {53.1, -36.9}, {56.0, -33.0}}
	for _, pt := range points {
		x, y, ok := p.SphereToImage(pt[0], pt[1])
		assert.True(t, ok)
		lon, lat := p.ImageToSphere(x, y)
		assert.InDelta(t, pt[0], lon, 1e-9)
		assert.InDelta(t, pt[1], lat, 1e-9)
	}
}

func TestProjector_Orientation(t *testing.T) {
	p := NewProjector(100, 0)

	x, y, _ := p.SphereToImage(100.1, 0)
	assert.Greater(t, x, 0.0, "east should map to +x")
	assert.InDelta(t, 0, y, 1e-12)

	x, y, _ = p.SphereToImage(100, 0.1)
	assert.InDelta(t, 0, x, 1e-12)
	assert.InDelta(t, 0.1, y, 1e-6, "small offsets are nearly undistorted")
}

func TestProjector_FarHemisphere(t *testing.T) {
	p := NewProjector(0, 0)
	_, _, ok := p.SphereToImage(180, 0)
	assert.False(t, ok)
}

func TestNormalizeLon(t *testing.T) {
	assert.InDelta(t, 350, NormalizeLon(-10), 1e-12)
	assert.InDelta(t, 0, NormalizeLon(360), 1e-12)
	assert.InDelta(t, 5, NormalizeLon(725), 1e-12)
}

func TestThetaRoundTrip(t *testing.T) {
	theta, phi := ToTheta(-30, 45)
	lon, lat := FromTheta(theta, phi)
	assert.InDelta(t, 330, lon, 1e-9)
	assert.InDelta(t, 45, lat, 1e-9)
}
