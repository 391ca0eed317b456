package pipeline

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ultrafaint/internal/config"
	"github.com/banshee-data/ultrafaint/internal/likelihood"
	"github.com/banshee-data/ultrafaint/internal/monitoring"
	"github.com/banshee-data/ultrafaint/internal/roi"
	"github.com/banshee-data/ultrafaint/internal/search"
	"github.com/banshee-data/ultrafaint/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

func sceneInputs(t *testing.T) (*testutil.Scene, Inputs) {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	s := testutil.NewScene(t, testutil.DefaultScene())
	cfg := config.EmptySearchConfig()
	cfg.Extension = ptr(s.Config.Extension)
	cfg.DistanceModulus = ptr("17.5,18,18.5")
	cfg.Age = ptr("12")
	cfg.Metallicity = ptr("0.0002")
	cfg.Workers = ptr(2)
	require.NoError(t, cfg.Validate())
	return s, Inputs{Objects: s.Objects, Mask: s.Mask, Library: s.Library, Config: cfg}
}

func TestInputs_Validation(t *testing.T) {
	_, in := sceneInputs(t)

	tests := []struct {
		name   string
		mutate func(*Inputs)
	}{
		{"no objects", func(in *Inputs) { in.Objects = nil }},
		{"no mask", func(in *Inputs) { in.Mask = nil }},
		{"no library", func(in *Inputs) { in.Library = nil }},
		{"no config", func(in *Inputs) { in.Config = nil }},
		{"bad config", func(in *Inputs) {
			cfg := config.EmptySearchConfig()
			cfg.Walkers = ptr(2)
			in.Config = cfg
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := in
			tt.mutate(&bad)
			_, err := bad.Manager()
			assert.Error(t, err)
			_, err = bad.ScanRequest(roi.Disc{Lon: 35, Lat: -30, Radius: 1})
			assert.Error(t, err)
		})
	}
}

func TestScanRequest_FindsInjection(t *testing.T) {
	s, in := sceneInputs(t)

	req, err := in.ScanRequest(roi.Disc{Lon: s.Truth.Lon, Lat: s.Truth.Lat, Radius: 0.01})
	require.NoError(t, err)
	assert.Equal(t, []int{s.Pixel}, req.Pixels)
	assert.Equal(t, []float64{17.5, 18, 18.5}, req.Grid.DistanceModulus)
	assert.Equal(t, s.Config.Extension, req.Shape.Extension)

	res, err := search.GridScan(context.Background(), req)
	require.NoError(t, err)
	est, ok := res.MLE()
	require.True(t, ok)
	assert.Greater(t, est.Best.Result.TS, 25.0)
	assert.InDelta(t, 50, est.Best.Result.Richness, 3*math.Sqrt(50))

	start, ok := StartFromScan(res, search.Point{Spatial: req.Shape})
	require.True(t, ok)
	assert.Equal(t, est.Best.Lon, start.Spatial.Lon)
	assert.Equal(t, est.Best.Iso, start.Iso)
	assert.Equal(t, s.Config.Extension, start.Spatial.Extension)

	_, ok = StartFromScan(&search.ScanResult{}, search.Point{})
	assert.False(t, ok)
}

func TestBounds(t *testing.T) {
	start := search.Point{}
	start.Spatial.Lon, start.Spatial.Lat = 10, 60
	b := Bounds(start, 0.5, search.IsoGrid{DistanceModulus: []float64{18, 16, 20}}, nil)

	assert.InDelta(t, 9, b[search.ParamLon].Lo, 1e-9, "longitude range widens by 1/cos(lat)")
	assert.InDelta(t, 11, b[search.ParamLon].Hi, 1e-9)
	assert.Equal(t, search.Bound{Lo: 59.5, Hi: 60.5}, b[search.ParamLat])
	assert.Equal(t, search.Bound{Lo: 16, Hi: 20}, b[search.ParamDistanceModulus])
	assert.True(t, b[search.ParamRichness].Contains(1e6))
	_, ok := b[search.ParamAge]
	assert.False(t, ok)
}

func TestSample_RichnessOnly(t *testing.T) {
	s, in := sceneInputs(t)
	in.Config.Free = []string{search.ParamRichness}
	in.Config.Walkers = ptr(8)
	in.Config.Steps = ptr(300)
	in.Config.Burn = ptr(100)

	start := search.Point{
		Richness: 10,
		Spatial:  s.Truth,
		Iso:      likelihood.IsoParams{Age: s.Config.Age, Z: s.Config.Z, DistanceModulus: s.Config.Distance},
	}
	res, err := in.Sample(context.Background(), start)
	require.NoError(t, err)
	require.True(t, res.Chain.Complete)
	assert.Equal(t, 300, res.Chain.Steps)
	assert.Len(t, res.Chain.Samples, 8*300)

	est := res.Estimates()
	require.Len(t, est, 1)
	assert.Equal(t, search.ParamRichness, est[0].Name)
	assert.InDelta(t, 50, est[0].Median, 3*math.Sqrt(50))
	assert.InDelta(t, est[0].MaximumLikelihood, est[0].Median, 0.5*(est[0].Upper-est[0].Lower))
	assert.Less(t, est[0].Lower, est[0].Median)
	assert.Greater(t, est[0].Upper, est[0].Median)
}

func TestSample_Cancelled(t *testing.T) {
	s, in := sceneInputs(t)
	in.Config.Free = []string{search.ParamRichness}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := search.Point{Richness: 10, Spatial: s.Truth, Iso: likelihood.IsoParams{Age: 12, Z: 0.0002, DistanceModulus: 18}}
	res, err := in.Sample(ctx, start)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res, "the fitted point survives cancellation")
	require.NotNil(t, res.Fit)
	assert.Nil(t, res.Chain)
	assert.Equal(t, 10.0, res.Fit.Point.Richness)
	assert.Positive(t, res.Fit.Profile.Richness)
	assert.Nil(t, res.Estimates())
}
