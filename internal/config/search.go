package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/ultrafaint/internal/background"
	"github.com/banshee-data/ultrafaint/internal/catalog"
	"github.com/banshee-data/ultrafaint/internal/isochrone"
	"github.com/banshee-data/ultrafaint/internal/kernel"
	"github.com/banshee-data/ultrafaint/internal/likelihood"
	"github.com/banshee-data/ultrafaint/internal/roi"
	"github.com/banshee-data/ultrafaint/internal/search"
)

// DefaultConfigPath is the path to the canonical search defaults file.
const DefaultConfigPath = "config/search.defaults.json"

// SearchConfig is the root configuration of a scan or sampling run. Every
// field is optional; the Get* accessors supply defaults for omitted fields.
type SearchConfig struct {
	// Geometry
	NsideTarget      *int     `json:"nside_target,omitempty"`
	NsideLikelihood  *int     `json:"nside_likelihood,omitempty"`
	NsideIntegration *int     `json:"nside_integration,omitempty"`
	RegionRadius     *float64 `json:"region_radius,omitempty"`
	AnnulusInner     *float64 `json:"annulus_inner,omitempty"`
	AnnulusOuter     *float64 `json:"annulus_outer,omitempty"`

	// Spatial kernel
	Kernel        *string  `json:"kernel,omitempty"`
	Extension     *float64 `json:"extension,omitempty"`
	Ellipticity   *float64 `json:"ellipticity,omitempty"`
	PositionAngle *float64 `json:"position_angle,omitempty"`

	// Isochrone grid, each "min:max:step" or a comma list
	DistanceModulus *string `json:"distance_modulus,omitempty"`
	Age             *string `json:"age,omitempty"`
	Metallicity     *string `json:"metallicity,omitempty"`

	// Colour-magnitude window and background model
	Band          *int     `json:"band,omitempty"`
	ColorMin      *float64 `json:"color_min,omitempty"`
	ColorMax      *float64 `json:"color_max,omitempty"`
	ColorBin      *float64 `json:"color_bin,omitempty"`
	MagMin        *float64 `json:"mag_min,omitempty"`
	MagMax        *float64 `json:"mag_max,omitempty"`
	MagBin        *float64 `json:"mag_bin,omitempty"`
	SmoothingBins *float64 `json:"smoothing_bins,omitempty"`
	MinObjects    *int     `json:"min_objects,omitempty"`
	FloorFraction *float64 `json:"floor_fraction,omitempty"`
	IsoSmoothing  *float64 `json:"iso_smoothing,omitempty"` // mag

	NegativeRichnessPolicy *string `json:"negative_richness_policy,omitempty"`
	FullPDF                *bool   `json:"full_pdf,omitempty"`

	// Execution
	Workers *int    `json:"workers,omitempty"`
	Timeout *string `json:"timeout,omitempty"` // duration string like "10m"

	// Ensemble sampler
	Walkers *int     `json:"walkers,omitempty"`
	Steps   *int     `json:"steps,omitempty"`
	Burn    *int     `json:"burn,omitempty"`
	Stretch *float64 `json:"stretch,omitempty"`
	Seed    *uint64  `json:"seed,omitempty"`
	Free    []string `json:"free,omitempty"`
}

// EmptySearchConfig returns a SearchConfig with every field unset.
func EmptySearchConfig() *SearchConfig {
	return &SearchConfig{}
}

// LoadSearchConfig loads a SearchConfig from a JSON file. The file must have
// a .json extension and be under 1MB. Omitted fields keep their defaults.
func LoadSearchConfig(path string) (*SearchConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySearchConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. It panics if the file cannot be loaded and is
// intended for test setup.
func MustLoadDefaultConfig() *SearchConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/satscan/ subpackages
	}
	for _, path := range candidates {
		if cfg, err := LoadSearchConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the configuration is internally consistent.
func (c *SearchConfig) Validate() error {
	if err := c.ROIOptions().Validate(); err != nil {
		return err
	}
	if err := c.BackgroundOptions().Validate(); err != nil {
		return err
	}
	if _, err := c.Grid(); err != nil {
		return err
	}
	if _, err := c.LikelihoodOptions(); err != nil {
		return err
	}
	shape := c.Shape()
	if _, err := kernel.New(c.GetKernel(), shape); err != nil {
		return err
	}
	if c.Timeout != nil && *c.Timeout != "" {
		if _, err := time.ParseDuration(*c.Timeout); err != nil {
			return fmt.Errorf("invalid timeout '%s': %w", *c.Timeout, err)
		}
	}
	if c.Band != nil && *c.Band != 1 && *c.Band != 2 {
		return fmt.Errorf("band must be 1 or 2, got %d", *c.Band)
	}
	if c.GetWalkers() < 4 {
		return fmt.Errorf("walkers must be at least 4, got %d", c.GetWalkers())
	}
	if c.GetSteps() <= 0 {
		return fmt.Errorf("steps must be positive, got %d", c.GetSteps())
	}
	if c.GetBurn() < 0 || c.GetBurn() >= c.GetSteps() {
		return fmt.Errorf("burn must be in [0, steps), got %d", c.GetBurn())
	}
	if c.Stretch != nil && *c.Stretch <= 1 {
		return fmt.Errorf("stretch must exceed 1, got %f", *c.Stretch)
	}
	for _, name := range c.GetFree() {
		if _, err := (search.Point{}).Get(name); err != nil {
			return fmt.Errorf("free: %w", err)
		}
	}
	return nil
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

// ROIOptions returns the region geometry.
func (c *SearchConfig) ROIOptions() roi.Options {
	d := roi.DefaultOptions()
	return roi.Options{
		NsideTarget:      getInt(c.NsideTarget, d.NsideTarget),
		NsideLikelihood:  getInt(c.NsideLikelihood, d.NsideLikelihood),
		NsideIntegration: getInt(c.NsideIntegration, d.NsideIntegration),
		RegionRadius:     getFloat(c.RegionRadius, d.RegionRadius),
		AnnulusInner:     getFloat(c.AnnulusInner, d.AnnulusInner),
		AnnulusOuter:     getFloat(c.AnnulusOuter, d.AnnulusOuter),
	}
}

// GetBand returns the detection band; "band": 1 selects Mag1, 2 selects Mag2.
func (c *SearchConfig) GetBand() catalog.Band {
	if getInt(c.Band, 1) == 2 {
		return catalog.Band2
	}
	return catalog.Band1
}

// BackgroundOptions returns the field density histogram settings.
func (c *SearchConfig) BackgroundOptions() background.Options {
	d := background.DefaultOptions()
	return background.Options{
		Band:          c.GetBand(),
		ColorMin:      getFloat(c.ColorMin, d.ColorMin),
		ColorMax:      getFloat(c.ColorMax, d.ColorMax),
		ColorBin:      getFloat(c.ColorBin, d.ColorBin),
		MagMin:        getFloat(c.MagMin, d.MagMin),
		MagMax:        getFloat(c.MagMax, d.MagMax),
		MagBin:        getFloat(c.MagBin, d.MagBin),
		SmoothingBins: getFloat(c.SmoothingBins, d.SmoothingBins),
		MinObjects:    getInt(c.MinObjects, d.MinObjects),
		FloorFraction: getFloat(c.FloorFraction, d.FloorFraction),
	}
}

// IsochroneModel returns the CMD model sharing the background's window.
func (c *SearchConfig) IsochroneModel() isochrone.Model {
	b := c.BackgroundOptions()
	return isochrone.Model{
		Smoothing: getFloat(c.IsoSmoothing, 0.05),
		MagMin:    b.MagMin,
		MagMax:    b.MagMax,
		ColorMin:  b.ColorMin,
		ColorMax:  b.ColorMax,
	}
}

// GetKernel returns the spatial profile, default Plummer.
func (c *SearchConfig) GetKernel() kernel.Kind {
	return kernel.Kind(getString(c.Kernel, string(kernel.KindPlummer)))
}

// Shape returns the kernel shape used by grid scans.
func (c *SearchConfig) Shape() kernel.Params {
	return kernel.Params{
		Extension:     getFloat(c.Extension, 0.1),
		Ellipticity:   getFloat(c.Ellipticity, 0),
		PositionAngle: getFloat(c.PositionAngle, 0),
	}
}

// LikelihoodOptions returns the evaluator settings.
func (c *SearchConfig) LikelihoodOptions() (likelihood.Options, error) {
	policy, err := likelihood.ParsePolicy(getString(c.NegativeRichnessPolicy, string(likelihood.PolicyFloor)))
	if err != nil {
		return likelihood.Options{}, err
	}
	return likelihood.Options{
		Kernel:         c.GetKernel(),
		Iso:            c.IsochroneModel(),
		NegativePolicy: policy,
		Band:           c.GetBand(),
	}, nil
}

// Grid expands the isochrone grid.
func (c *SearchConfig) Grid() (search.IsoGrid, error) {
	var g search.IsoGrid
	var err error
	if g.DistanceModulus, err = search.ParseParamList(getString(c.DistanceModulus, "16:20:0.5")); err != nil {
		return g, fmt.Errorf("distance_modulus: %w", err)
	}
	if g.Age, err = search.ParseParamList(getString(c.Age, "12")); err != nil {
		return g, fmt.Errorf("age: %w", err)
	}
	if g.Z, err = search.ParseParamList(getString(c.Metallicity, "0.0002")); err != nil {
		return g, fmt.Errorf("metallicity: %w", err)
	}
	if _, err := g.Points(); err != nil {
		return g, err
	}
	return g, nil
}

// GetFullPDF reports whether scans compute richness intervals.
func (c *SearchConfig) GetFullPDF() bool {
	if c.FullPDF == nil {
		return false
	}
	return *c.FullPDF
}

// GetWorkers returns the worker count; zero means one per CPU.
func (c *SearchConfig) GetWorkers() int { return getInt(c.Workers, 0) }

// GetTimeout parses the wall-clock budget; zero means none.
func (c *SearchConfig) GetTimeout() time.Duration {
	if c.Timeout == nil || *c.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// GetWalkers returns the ensemble size.
func (c *SearchConfig) GetWalkers() int { return getInt(c.Walkers, 32) }

// GetSteps returns the number of ensemble steps.
func (c *SearchConfig) GetSteps() int { return getInt(c.Steps, 1000) }

// GetBurn returns the number of burn-in steps discarded in summaries.
func (c *SearchConfig) GetBurn() int { return getInt(c.Burn, 200) }

// GetStretch returns the stretch-move scale.
func (c *SearchConfig) GetStretch() float64 { return getFloat(c.Stretch, search.DefaultStretch) }

// GetSeed returns the random seed.
func (c *SearchConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetFree returns the sampled parameters.
func (c *SearchConfig) GetFree() []string {
	if len(c.Free) == 0 {
		return []string{search.ParamRichness, search.ParamLon, search.ParamLat, search.ParamExtension, search.ParamDistanceModulus}
	}
	return c.Free
}

// Budget returns the sampler budget.
func (c *SearchConfig) Budget() search.Budget {
	return search.Budget{Steps: c.GetSteps(), Timeout: c.GetTimeout()}
}
