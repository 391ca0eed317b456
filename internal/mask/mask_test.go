package mask

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ultrafaint/internal/healpix"
)

func TestUniform(t *testing.T) {
	u := Uniform{Fraction: 0.8, MagLim: 24.5}
	f, err := u.ObservedFraction(10, 10)
	require.NoError(t, err)
	assert.Equal(t, 0.8, f)
	m, err := u.LimitingMagnitude(10, 10)
	require.NoError(t, err)
	assert.Equal(t, 24.5, m)
}

func TestDisc(t *testing.T) {
	d := Disc{Lon: 50, Lat: -20, Radius: 1, MagLim: 24}
	assert.Equal(t, 1.0, Fraction(d, 50.5, -20))
	assert.Equal(t, 0.0, Fraction(d, 52, -20))
}

func TestPixelMap(t *testing.T) {
	s, err := healpix.New(16)
	require.NoError(t, err)
	pix := s.Ang2Pix(30, 10)

	m, err := NewPixelMap(16, []PixelValue{{Pixel: pix, Fraction: 0.6, MagLim: 23.2}})
	require.NoError(t, err)
	assert.Equal(t, []int{pix}, m.Pixels())

	f, err := m.ObservedFraction(30, 10)
	require.NoError(t, err)
	assert.Equal(t, 0.6, f)

	_, err = m.LimitingMagnitude(200, -60)
	assert.True(t, errors.Is(err, ErrMaskUnavailable), "got %v", err)
	assert.Equal(t, 0.0, Fraction(m, 200, -60), "unavailable coverage reads as unobserved")
}

func TestNewPixelMap_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		nside   int
		entries []PixelValue
	}{
		{"bad nside", 3, nil},
		{"pixel out of range", 1, []PixelValue{{Pixel: 12, Fraction: 1}}},
		{"negative pixel", 1, []PixelValue{{Pixel: -1, Fraction: 1}}},
		{"fraction above one", 1, []PixelValue{{Pixel: 0, Fraction: 1.5}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPixelMap(tc.nside, tc.entries)
			assert.Error(t, err)
		})
	}
}

func TestCompleteness(t *testing.T) {
	c, err := NewCompleteness([]float64{-1, 0, 1}, []float64{1, 0.5, 0})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, c.At(20, 24), 1e-12, "clamped bright end")
	assert.InDelta(t, 0.75, c.At(23.5, 24), 1e-12)
	assert.InDelta(t, 0.5, c.At(24, 24), 1e-12)
	assert.InDelta(t, 0.0, c.At(27, 24), 1e-12, "clamped faint end")
}

func TestNewCompleteness_Errors(t *testing.T) {
	_, err := NewCompleteness([]float64{0}, []float64{1})
	assert.Error(t, err)
	_, err = NewCompleteness([]float64{1, 0}, []float64{1, 0})
	assert.Error(t, err)
	_, err = NewCompleteness([]float64{0, 0}, []float64{1, 0})
	assert.Error(t, err)
	_, err = NewCompleteness([]float64{0, 1}, []float64{1, 2})
	assert.Error(t, err)
}

func TestLogisticCompleteness(t *testing.T) {
	c := LogisticCompleteness(0.2)
	assert.InDelta(t, 0.5, c.At(24, 24), 1e-3)
	assert.Greater(t, c.At(22, 24), 0.99)
	assert.Less(t, c.At(26, 24), 0.01)
}

func TestEfficiency(t *testing.T) {
	c := LogisticCompleteness(0.2)
	u := Uniform{Fraction: 0.5, MagLim: 24}
	assert.InDelta(t, 0.25, Efficiency(u, c, 0, 0, 24), 1e-3)
	assert.Equal(t, 0.0, Efficiency(Disc{Radius: 1, MagLim: 24}, c, 10, 10, 20))
}

func TestCompleteness_NilIsComplete(t *testing.T) {
	var c *Completeness
	assert.Equal(t, 1.0, c.At(30, 20))
	assert.Equal(t, 1.0, Efficiency(Uniform{Fraction: 1, MagLim: 20}, nil, 0, 0, 30))
}
