package simulate

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ultrafaint/internal/catalog"
	"github.com/banshee-data/ultrafaint/internal/isochrone"
	"github.com/banshee-data/ultrafaint/internal/kernel"
	"github.com/banshee-data/ultrafaint/internal/mask"
	"github.com/banshee-data/ultrafaint/internal/sky"
)

func newRand() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func TestDistanceModulus(t *testing.T) {
	tests := []struct {
		kpc, dm float64
	}{
		{0.01, 0},
		{10, 15},
		{100, 20},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.dm, DistanceModulus(tt.kpc), 1e-12)
		assert.InDelta(t, tt.kpc, Distance(tt.dm), 1e-9*tt.kpc)
	}
}

func TestErrorModel(t *testing.T) {
	e := ErrorModel{Floor: 0.01, Scale: 0.1, MagLim: 24}
	assert.InDelta(t, 0.11, e.Err(24), 1e-12)
	assert.Less(t, e.Err(20), e.Err(22))
	assert.Equal(t, 0.03, ErrorModel{Floor: 0.03}.Err(18))
}

func TestToyLibrary(t *testing.T) {
	lib, err := DefaultLibrary()
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 12, 13.5}, lib.Ages())
	assert.True(t, lib.Contains(12, 0.0002))

	tpl, err := lib.Template(12, 0.0002)
	require.NoError(t, err)
	var w float64
	for _, p := range tpl.Points {
		w += p.Weight
	}
	assert.InDelta(t, 1, w, 1e-9)
	assert.Greater(t, tpl.StellarMass(), 0.15)
	assert.Less(t, tpl.StellarMass(), 0.85)

	_, err = ToyTemplate(12, 0.0002, 50, isochrone.Kroupa{})
	assert.NoError(t, err)
}

func TestBackground(t *testing.T) {
	f := Field{
		Lon: 10, Lat: 60, Radius: 1, N: 500,
		ColorMin: 0, ColorMax: 1, MagMin: 18, MagMax: 22,
		Errors: ErrorModel{Floor: 0.02},
	}
	objs := Background(newRand(), f)
	require.Len(t, objs, f.N)

	var inner int
	for _, o := range objs {
		d := sky.Separation(f.Lon, f.Lat, o.Lon, o.Lat)
		assert.LessOrEqual(t, d, f.Radius+1e-9)
		if d < f.Radius/math.Sqrt2 {
			inner++
		}
		assert.Equal(t, catalog.SourceObserved, o.Source)
		assert.InDelta(t, 0.02, o.MagErr1, 1e-12)
	}
	// Half the area lies inside radius/sqrt(2).
	assert.InDelta(t, f.N/2, inner, 4*math.Sqrt(float64(f.N)/4))
}

func TestInjection(t *testing.T) {
	lib, err := DefaultLibrary()
	require.NoError(t, err)
	sat := Satellite{
		Kind:            kernel.KindPlummer,
		Spatial:         kernel.Params{Lon: 200, Lat: 20, Extension: 0.1},
		Age:             12,
		Z:               0.0002,
		DistanceModulus: 18,
		Stars:           400,
	}

	objs, err := Injection(newRand(), lib, sat, ErrorModel{Floor: 0.02}, mask.Uniform{Fraction: 1, MagLim: 25}, nil, 1000)
	require.NoError(t, err)
	require.Len(t, objs, sat.Stars)

	var within int
	for i, o := range objs {
		assert.Equal(t, int64(1000+i), o.ID)
		assert.Equal(t, catalog.SourceSimulated, o.Source)
		assert.Greater(t, o.Mag1, 16.0)
		assert.Less(t, o.Mag1, 24.0)
		if sky.Separation(200, 20, o.Lon, o.Lat) < sat.Spatial.Extension {
			within++
		}
	}
	// Half of a Plummer profile's stars fall inside the half-light radius.
	assert.InDelta(t, sat.Stars/2, within, 4*math.Sqrt(float64(sat.Stars)/4))

	// A completeness model that rejects everything fainter than the turnoff.
	comp, err := mask.NewCompleteness([]float64{-10, -3.01, -3, 10}, []float64{1, 1, 0, 0})
	require.NoError(t, err)
	cut, err := Injection(newRand(), lib, sat, ErrorModel{Floor: 0.02}, mask.Uniform{Fraction: 1, MagLim: 25}, comp, 0)
	require.NoError(t, err)
	assert.Less(t, len(cut), sat.Stars)
	for _, o := range cut {
		assert.Less(t, o.Mag1, 22.1)
	}

	_, err = Injection(newRand(), lib, Satellite{Kind: "bogus", Spatial: sat.Spatial, Age: 12, Z: 0.0002}, ErrorModel{}, nil, nil, 0)
	assert.Error(t, err)
}

func TestPopulation(t *testing.T) {
	lib, err := DefaultLibrary()
	require.NoError(t, err)
	tpl, err := lib.Template(12, 0.0002)
	require.NoError(t, err)

	r := DefaultPopulationRanges()
	pop := Population(newRand(), 200, 50, -40, 5, r, tpl)
	require.Len(t, pop, 200)
	for _, m := range pop {
		assert.GreaterOrEqual(t, m.Distance, r.Distance[0])
		assert.LessOrEqual(t, m.Distance, r.Distance[1])
		assert.GreaterOrEqual(t, m.StellarMass, r.StellarMass[0])
		assert.LessOrEqual(t, m.StellarMass, r.StellarMass[1])
		assert.GreaterOrEqual(t, m.Spatial.Ellipticity, r.Ellipticity[0])
		assert.Less(t, m.Spatial.Ellipticity, r.Ellipticity[1])
		assert.LessOrEqual(t, sky.Separation(50, -40, m.Spatial.Lon, m.Spatial.Lat), 5+1e-9)
		assert.InDelta(t, m.DistanceModulus, DistanceModulus(m.Distance), 1e-12)
		assert.InDelta(t, m.StellarMass/tpl.StellarMass(), m.Richness, 1e-9)
		assert.NoError(t, m.Spatial.Validate())
	}
}
