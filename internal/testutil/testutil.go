// Package testutil provides shared test utilities and fixtures.
//
// The Scene fixture places a simulated field and, optionally, an injected
// Plummer satellite at the centre of a coarse HEALPix pixel, and builds the
// region of interest and background model around it.
package testutil

import (
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/ultrafaint/internal/background"
	"github.com/banshee-data/ultrafaint/internal/catalog"
	"github.com/banshee-data/ultrafaint/internal/healpix"
	"github.com/banshee-data/ultrafaint/internal/isochrone"
	"github.com/banshee-data/ultrafaint/internal/kernel"
	"github.com/banshee-data/ultrafaint/internal/mask"
	"github.com/banshee-data/ultrafaint/internal/roi"
	"github.com/banshee-data/ultrafaint/internal/simulate"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// SceneConfig describes a synthetic field with an optional satellite.
type SceneConfig struct {
	Seed        uint64
	Lon, Lat    float64 // snapped to the centre of the containing nside 64 pixel
	Field       int     // field stars inside FieldRadius
	Members     int     // satellite stars; zero for a pure field
	Extension   float64 // deg
	Distance    float64 // distance modulus
	Age, Z      float64
	MagErr      float64
	FieldRadius float64
}

// DefaultScene is a 1000-star field with a 50-star Plummer satellite at
// distance modulus 18.
func DefaultScene() SceneConfig {
	return SceneConfig{
		Seed:        7,
		Lon:         35,
		Lat:         -30,
		Field:       1000,
		Members:     50,
		Extension:   0.05,
		Distance:    18,
		Age:         12,
		Z:           0.0002,
		MagErr:      0.03,
		FieldRadius: 1.5,
	}
}

// Scene is a ready-to-evaluate synthetic region.
type Scene struct {
	Config     SceneConfig
	Pixel      int // coarse pixel at nside 64
	Truth      kernel.Params
	Objects    []catalog.Object
	Members    []catalog.Object
	Mask       mask.Adapter
	Library    *isochrone.Library
	ROI        *roi.ROI
	Background *background.Model
	Model      isochrone.Model
}

// ROIOptions are the region options used by scenes.
func ROIOptions() roi.Options {
	return roi.Options{
		NsideTarget:      64,
		NsideLikelihood:  512,
		NsideIntegration: 2048,
		RegionRadius:     0.5,
		AnnulusInner:     0.5,
		AnnulusOuter:     1.5,
	}
}

// IsochroneModel is the CMD model used by scenes.
func IsochroneModel() isochrone.Model {
	return isochrone.Model{Smoothing: 0.05, MagMin: 16, MagMax: 24, ColorMin: -0.5, ColorMax: 1.5}
}

// NewScene simulates and assembles a scene, failing the test on error.
func NewScene(t testing.TB, cfg SceneConfig) *Scene {
	t.Helper()
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	coarse, err := healpix.New(64)
	AssertNoError(t, err)
	pix := coarse.Ang2Pix(cfg.Lon, cfg.Lat)
	lon, lat := coarse.Pix2Ang(pix)

	lib, err := simulate.DefaultLibrary()
	AssertNoError(t, err)
	m := mask.Uniform{Fraction: 1, MagLim: 25}
	errs := simulate.ErrorModel{Floor: cfg.MagErr}
	model := IsochroneModel()

	objs := simulate.Background(rng, simulate.Field{
		Lon: lon, Lat: lat, Radius: cfg.FieldRadius, N: cfg.Field,
		ColorMin: model.ColorMin, ColorMax: model.ColorMax,
		MagMin: model.MagMin, MagMax: model.MagMax,
		Errors: errs,
	})

	truth := kernel.Params{Lon: lon, Lat: lat, Extension: cfg.Extension}
	var members []catalog.Object
	if cfg.Members > 0 {
		members, err = simulate.Injection(rng, lib, simulate.Satellite{
			Kind:            kernel.KindPlummer,
			Spatial:         truth,
			Age:             cfg.Age,
			Z:               cfg.Z,
			DistanceModulus: cfg.Distance,
			Stars:           cfg.Members,
		}, errs, m, nil, int64(cfg.Field))
		AssertNoError(t, err)
		objs = append(objs, members...)
	}

	r, err := roi.New(pix, m, ROIOptions())
	AssertNoError(t, err)
	bg, err := background.Build(objs, r, m, background.DefaultOptions())
	AssertNoError(t, err)

	return &Scene{
		Config:     cfg,
		Pixel:      pix,
		Truth:      truth,
		Objects:    objs,
		Members:    members,
		Mask:       m,
		Library:    lib,
		ROI:        r,
		Background: bg,
		Model:      model,
	}
}
