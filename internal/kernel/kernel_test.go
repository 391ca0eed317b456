package kernel

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ultrafaint/internal/healpix"
	"github.com/banshee-data/ultrafaint/internal/mask"
	"github.com/banshee-data/ultrafaint/internal/sky"
)

func TestParams_Validate(t *testing.T) {
	good := Params{Lon: 10, Lat: -20, Extension: 0.1, Ellipticity: 0.3, PositionAngle: 45}
	require.NoError(t, good.Validate())

	testCases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"negative extension", func(p *Params) { p.Extension = -0.01 }},
		{"ellipticity one", func(p *Params) { p.Ellipticity = 1 }},
		{"negative ellipticity", func(p *Params) { p.Ellipticity = -0.1 }},
		{"nan lon", func(p *Params) { p.Lon = math.NaN() }},
		{"inf position angle", func(p *Params) { p.PositionAngle = math.Inf(1) }},
		{"latitude past pole", func(p *Params) { p.Lat = 91 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := good
			tc.mutate(&p)
			err := p.Validate()
			assert.True(t, errors.Is(err, ErrInvalidParameter), "got %v", err)
			_, err = New(KindPlummer, p)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}

	_, err := New("king", good)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestExtensionFloor(t *testing.T) {
	k, err := NewPlummer(Params{Lon: 1, Lat: 1, Extension: 0})
	require.NoError(t, err)
	assert.Equal(t, MinExtension, k.Extension())
	assert.False(t, math.IsInf(k.SurfaceDensity(1, 1), 0))
}

// planeIntegral integrates the kernel on a fine tangent-plane grid.
func planeIntegral(k *Elliptical, half, step float64) float64 {
	p := k.Params()
	proj := sky.NewProjector(p.Lon, p.Lat)
	var total float64
	for x := -half; x < half; x += step {
		for y := -half; y < half; y += step {
			lon, lat := proj.ImageToSphere(x+step/2, y+step/2)
			total += k.SurfaceDensity(lon, lat) * step * step
		}
	}
	return total
}

func TestProfiles_UnitIntegral(t *testing.T) {
	testCases := []struct {
		kind Kind
		want float64
	}{
		{KindPlummer, 1 - 0.05*0.05/(0.05*0.05+0.6*0.6)},
		{KindExponential, 1},
		{KindGaussian, 1},
		{KindDisk, 1},
	}
	for _, tc := range testCases {
		t.Run(string(tc.kind), func(t *testing.T) {
			k, err := New(tc.kind, Params{Lon: 80, Lat: -30, Extension: 0.05, Ellipticity: 0.4, PositionAngle: 30})
			require.NoError(t, err)
			got := planeIntegral(k, 0.6, 0.002)
			// The Plummer tail beyond the grid is not captured.
			assert.InDelta(t, tc.want, got, 0.02)
		})
	}
}

func TestEllipticalRadius_Orientation(t *testing.T) {
	k, err := NewPlummer(Params{Lon: 0, Lat: 0, Extension: 0.1, Ellipticity: 0.5, PositionAngle: 0})
	require.NoError(t, err)
	// Major axis points north at position angle zero.
	assert.InDelta(t, 0.1, k.EllipticalRadius(0, 0.1), 1e-6)
	assert.InDelta(t, 0.2, k.EllipticalRadius(0.1, 0), 1e-6)
	assert.Greater(t, k.SurfaceDensity(0, 0.1), k.SurfaceDensity(0.1, 0))

	rot, err := NewPlummer(Params{Lon: 0, Lat: 0, Extension: 0.1, Ellipticity: 0.5, PositionAngle: 90})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, rot.EllipticalRadius(0.1, 0), 1e-6)
}

func TestSample_HalfLight(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for _, kind := range []Kind{KindPlummer, KindExponential, KindGaussian, KindDisk} {
		t.Run(string(kind), func(t *testing.T) {
			k, err := New(kind, Params{Lon: 120, Lat: 15, Extension: 0.08, Ellipticity: 0.3, PositionAngle: 60})
			require.NoError(t, err)
			const n = 20000
			inside := 0
			for i := 0; i < n; i++ {
				lon, lat := k.Sample(rng.Float64)
				if k.EllipticalRadius(lon, lat) <= 0.08 {
					inside++
				}
			}
			assert.InDelta(t, 0.5, float64(inside)/n, 0.02, "half the draws fall inside the half-light ellipse")
		})
	}
}

func footprint(t *testing.T, nside int, lon, lat, radius float64, m mask.Adapter) *Footprint {
	t.Helper()
	s, err := healpix.New(nside)
	require.NoError(t, err)
	return NewFootprint(s, s.QueryDisc(lon, lat, radius, false), m)
}

func TestNormalizationOverFootprint_Unmasked(t *testing.T) {
	fp := footprint(t, 2048, 40, -40, 1.0, mask.Uniform{Fraction: 1, MagLim: 25})
	for _, kind := range []Kind{KindPlummer, KindExponential, KindGaussian} {
		k, err := New(kind, Params{Lon: 40, Lat: -40, Extension: 0.1, Ellipticity: 0.2, PositionAngle: 10})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, NormalizationOverFootprint(k, fp), 0.03, string(kind))
	}
}

func TestNormalizationOverFootprint_HalfMasked(t *testing.T) {
	// Observed only east of the candidate: half the light is lost.
	m := eastOnly{lon: 40}
	fp := footprint(t, 2048, 40, -40, 1.0, m)
	k, err := New(KindGaussian, Params{Lon: 40, Lat: -40, Extension: 0.2})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, NormalizationOverFootprint(k, fp), 0.03)
}

func TestNormalizationOverFootprint_Unresolved(t *testing.T) {
	fp := footprint(t, 2048, 40, -40, 1.0, mask.Uniform{Fraction: 1, MagLim: 25})
	res := fp.Scheme().Resolution()
	for _, kind := range []Kind{KindPlummer, KindExponential, KindGaussian, KindDisk} {
		for _, scale := range []float64{0.5, 0.6, 1, 2} {
			for _, e := range []float64{0, 0.8} {
				k, err := New(kind, Params{Lon: 40, Lat: -40, Extension: scale * res, Ellipticity: e, PositionAngle: 25})
				require.NoError(t, err)
				assert.InDelta(t, 1.0, NormalizationOverFootprint(k, fp), 1e-9,
					"%s extension %.1f pixels ellipticity %.1f", kind, scale, e)
			}
		}
	}
}

func TestNormalizationOverFootprint_ContinuousAcrossResolution(t *testing.T) {
	fp := footprint(t, 2048, 40, -40, 1.0, mask.Uniform{Fraction: 1, MagLim: 25})
	res := fp.Scheme().Resolution()
	for _, kind := range []Kind{KindExponential, KindGaussian} {
		var got []float64
		for _, minor := range []float64{0.99 * resolvedWidths, 1.01 * resolvedWidths} {
			k, err := New(kind, Params{Lon: 40, Lat: -40, Extension: 2 * minor * res, Ellipticity: 0.5, PositionAngle: 70})
			require.NoError(t, err)
			got = append(got, NormalizationOverFootprint(k, fp))
		}
		assert.InDelta(t, 1.0, got[0], 0.01, string(kind))
		assert.InDelta(t, got[0], got[1], 0.02, string(kind))
	}
}

func TestPosition_HalfLight(t *testing.T) {
	for _, kind := range []Kind{KindPlummer, KindExponential, KindGaussian, KindDisk} {
		k, err := New(kind, Params{Lon: 120, Lat: 15, Extension: 0.08, Ellipticity: 0.3, PositionAngle: 60})
		require.NoError(t, err)
		for _, phi := range []float64{0, 1, 2.5, 4} {
			lon, lat := k.Position(0.5, phi)
			assert.InDelta(t, 0.08, k.EllipticalRadius(lon, lat), 1e-6, string(kind))
		}
	}
}

type eastOnly struct{ lon float64 }

func (e eastOnly) ObservedFraction(lon, lat float64) (float64, error) {
	if lon > e.lon {
		return 1, nil
	}
	return 0, nil
}

func (e eastOnly) LimitingMagnitude(lon, lat float64) (float64, error) { return 24, nil }

func TestNormalizationOverFootprint_PointMass(t *testing.T) {
	fp := footprint(t, 256, 40, -40, 1.0, mask.Uniform{Fraction: 0.7, MagLim: 25})
	k, err := NewPlummer(Params{Lon: 40, Lat: -40, Extension: 0.001})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, NormalizationOverFootprint(k, fp), 1e-12)

	outside, err := NewPlummer(Params{Lon: 45, Lat: -40, Extension: 0.001})
	require.NoError(t, err)
	assert.Equal(t, 0.0, NormalizationOverFootprint(outside, fp))
}

func TestFootprint_ObservedArea(t *testing.T) {
	fp := footprint(t, 512, 10, 10, 1.0, mask.Uniform{Fraction: 0.5, MagLim: 25})
	assert.InDelta(t, 0.5*math.Pi, fp.ObservedArea(), 0.05)
	assert.Equal(t, 25.0, fp.MagLim(0))

	weighted := fp.Integrate(mustGaussian(t), func(int) float64 { return 0.5 })
	plain := fp.Integrate(mustGaussian(t), nil)
	assert.InDelta(t, plain/2, weighted, 1e-12)
}

func mustGaussian(t *testing.T) *Elliptical {
	t.Helper()
	k, err := New(KindGaussian, Params{Lon: 10, Lat: 10, Extension: 0.1})
	require.NoError(t, err)
	return k
}
