package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ultrafaint/internal/likelihood"
	"github.com/banshee-data/ultrafaint/internal/search"
)

func scan() *search.ScanResult {
	res := &search.ScanResult{Complete: true}
	for pix := 0; pix < 3; pix++ {
		for _, dm := range []float64{17.5, 18, 18.5} {
			ts := float64(10 * pix)
			if dm == 18 {
				ts += 5
			}
			res.Points = append(res.Points, search.GridPoint{
				Pixel: pix, Lon: 35 + 0.1*float64(pix), Lat: -30,
				Iso:    likelihood.IsoParams{Age: 12, Z: 0.0002, DistanceModulus: dm},
				Result: likelihood.Result{TS: ts, Richness: ts / 2, RichnessErr: 1, StellarMass: 100},
			})
		}
	}
	res.Points = append(res.Points,
		search.GridPoint{Pixel: 3, Err: errors.New("outside library")},
		search.GridPoint{Pixel: 4, Result: likelihood.Result{TS: 99, Flags: likelihood.FlagExcluded}},
	)
	return res
}

func chain() *search.Chain {
	c := &search.Chain{Names: []string{"richness", "lon/lat?"}, Walkers: 4, Steps: 20, Complete: true}
	for step := 1; step <= 20; step++ {
		for w := 0; w < 4; w++ {
			c.Samples = append(c.Samples, search.Sample{
				Walker: w, Step: step,
				Params: []float64{50 + float64(w) - float64(step%3), 35 + 0.01*float64(w)},
			})
		}
	}
	return c
}

func TestSanitizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"richness", "richness"},
		{"distance_modulus", "distance_modulus"},
		{"lon/lat?", "lon_lat"},
		{"../../etc/passwd", "etc_passwd"},
		{"a  b", "a_b"},
		{"", "unnamed"},
		{"///", "unnamed"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}

func TestBestPerPixel(t *testing.T) {
	got := BestPerPixel(scan())
	require.Len(t, got, 3, "invalid and excluded points are dropped")
	for i, p := range got {
		assert.Equal(t, i, p.Pixel)
		assert.Equal(t, 18.0, p.DM)
		assert.Equal(t, float64(10*i+5), p.TS)
	}
}

func TestWriteTSMap(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTSMap(&buf, scan(), "injection scan"))
	html := buf.String()
	assert.Contains(t, html, "injection scan")
	assert.Contains(t, html, "echarts")

	assert.Error(t, WriteTSMap(&buf, nil, "x"))
	assert.Error(t, WriteTSMap(&buf, &search.ScanResult{}, "x"))
}

func TestDistanceProfile(t *testing.T) {
	pts, err := DistanceProfile(scan())
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, 17.5, pts[0].X)
	assert.Equal(t, 25.0, pts[1].Y)

	_, err = DistanceProfile(&search.ScanResult{})
	assert.Error(t, err)
}

func TestSaveDistanceProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", "profile.png")
	require.NoError(t, SaveDistanceProfile(path, scan()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, scan()))
	out := buf.String()
	assert.Contains(t, out, "TS                25.00")
	assert.Contains(t, out, "distance modulus  18.00 [18.00, 18.00]")
	assert.NotContains(t, out, "incomplete")

	buf.Reset()
	require.NoError(t, WriteSummary(&buf, &search.ScanResult{}))
	assert.True(t, strings.HasPrefix(buf.String(), "no candidates"))
}

func TestSaveChainPlots(t *testing.T) {
	dir := t.TempDir()
	files, err := SaveChainPlots(dir, "run 1", chain(), 5)
	require.NoError(t, err)
	require.Len(t, files, 4)
	assert.Equal(t, filepath.Join(dir, "run_1_richness_trace.png"), files[0])
	assert.Equal(t, filepath.Join(dir, "run_1_lon_lat_hist.png"), files[3])
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	_, err = SaveChainPlots(dir, "x", &search.Chain{}, 0)
	assert.Error(t, err)
	_, err = SaveChainPlots(dir, "x", chain(), 100)
	assert.Error(t, err, "burn-in past the chain leaves nothing to histogram")
}

func TestWalkerColors(t *testing.T) {
	assert.Nil(t, walkerColors(0))
	cs := walkerColors(6)
	require.Len(t, cs, 6)
	assert.NotEqual(t, cs[0], cs[3])
}
