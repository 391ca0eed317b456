// Package roi defines regions of interest and the manager that partitions a
// catalog among them.
//
// A unit of work is one coarse HEALPix pixel. Its ROI is centred on the pixel
// and has three nested zones: the target (candidate positions, the fine
// pixels inside the coarse pixel), the likelihood region (objects and
// integration pixels entering the likelihood), and the background annulus
// (objects used to build the field density model).
package roi

import (
	"fmt"
	"sort"

	"github.com/banshee-data/ultrafaint/internal/healpix"
	"github.com/banshee-data/ultrafaint/internal/kernel"
	"github.com/banshee-data/ultrafaint/internal/mask"
	"github.com/banshee-data/ultrafaint/internal/sky"
)

// Options sets the ROI geometry. Radii are in degrees.
type Options struct {
	NsideTarget      int // coarse pixels, one per unit of work
	NsideLikelihood  int // candidate centroids
	NsideIntegration int // kernel normalization grid
	RegionRadius     float64
	AnnulusInner     float64
	AnnulusOuter     float64
}

// DefaultOptions returns the geometry used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		NsideTarget:      64,
		NsideLikelihood:  512,
		NsideIntegration: 2048,
		RegionRadius:     0.5,
		AnnulusInner:     0.5,
		AnnulusOuter:     1.5,
	}
}

// Validate checks the geometry is consistent.
func (o Options) Validate() error {
	if _, err := healpix.New(o.NsideTarget); err != nil {
		return fmt.Errorf("nside_target: %w", err)
	}
	if _, err := healpix.New(o.NsideLikelihood); err != nil {
		return fmt.Errorf("nside_likelihood: %w", err)
	}
	if _, err := healpix.New(o.NsideIntegration); err != nil {
		return fmt.Errorf("nside_integration: %w", err)
	}
	if o.NsideLikelihood < o.NsideTarget {
		return fmt.Errorf("nside_likelihood (%d) must be >= nside_target (%d)", o.NsideLikelihood, o.NsideTarget)
	}
	if o.RegionRadius <= 0 {
		return fmt.Errorf("region_radius must be positive, got %f", o.RegionRadius)
	}
	if o.AnnulusInner < 0 || o.AnnulusOuter <= o.AnnulusInner {
		return fmt.Errorf("annulus must satisfy 0 <= inner < outer, got [%f, %f]", o.AnnulusInner, o.AnnulusOuter)
	}
	return nil
}

// ROI is the geometry around one coarse target pixel. It is immutable.
type ROI struct {
	Lon, Lat float64
	Pixel    int
	opts     Options

	target     healpix.Scheme
	fine       healpix.Scheme
	targets    []int
	footprint  *kernel.Footprint
	annulusObs float64
}

// New builds the ROI centred on coarse pixel pix.
func New(pix int, m mask.Adapter, opts Options) (*ROI, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	ts, _ := healpix.New(opts.NsideTarget)
	if pix < 0 || pix >= ts.Npix() {
		return nil, fmt.Errorf("target pixel %d out of range for nside %d", pix, opts.NsideTarget)
	}
	lon, lat := ts.Pix2Ang(pix)
	fs, _ := healpix.New(opts.NsideLikelihood)

	r := &ROI{Lon: lon, Lat: lat, Pixel: pix, opts: opts, target: ts, fine: fs}

	// Fine pixels whose centres fall inside the coarse pixel.
	for _, p := range fs.QueryDisc(lon, lat, ts.MaxPixRad(), false) {
		plon, plat := fs.Pix2Ang(p)
		if ts.Ang2Pix(plon, plat) == pix {
			r.targets = append(r.targets, p)
		}
	}

	is, _ := healpix.New(opts.NsideIntegration)
	r.footprint = kernel.NewFootprint(is, is.QueryDisc(lon, lat, opts.RegionRadius, false), m)
	r.annulusObs = annulusArea(lon, lat, opts, m)
	return r, nil
}

// annulusArea measures the observed annulus area on a grid no finer than
// nside 1024.
func annulusArea(lon, lat float64, opts Options, m mask.Adapter) float64 {
	nside := opts.NsideIntegration
	if nside > 1024 {
		nside = 1024
	}
	s, _ := healpix.New(nside)
	area := s.PixelArea()
	var total float64
	for _, p := range s.QueryDisc(lon, lat, opts.AnnulusOuter, false) {
		plon, plat := s.Pix2Ang(p)
		if sky.Separation(lon, lat, plon, plat) < opts.AnnulusInner {
			continue
		}
		total += area * mask.Fraction(m, plon, plat)
	}
	return total
}

// Options returns the geometry the ROI was built with.
func (r *ROI) Options() Options { return r.opts }

// Targets returns the fine pixels that are candidate centroids, sorted.
func (r *ROI) Targets() []int { return append([]int(nil), r.targets...) }

// TargetPosition returns the sky position of fine pixel pix.
func (r *ROI) TargetPosition(pix int) (lon, lat float64) { return r.fine.Pix2Ang(pix) }

// FineScheme returns the likelihood pixelization.
func (r *ROI) FineScheme() healpix.Scheme { return r.fine }

// Footprint returns the integration pixels of the likelihood region.
func (r *ROI) Footprint() *kernel.Footprint { return r.footprint }

// AnnulusArea returns the observed area of the background annulus, deg².
func (r *ROI) AnnulusArea() float64 { return r.annulusObs }

// Separation returns the distance in degrees from the ROI centre.
func (r *ROI) Separation(lon, lat float64) float64 {
	return sky.Separation(r.Lon, r.Lat, lon, lat)
}

// InRegion reports whether a position is inside the likelihood region.
func (r *ROI) InRegion(lon, lat float64) bool {
	return r.Separation(lon, lat) <= r.opts.RegionRadius
}

// InAnnulus reports whether a position is inside the background annulus.
func (r *ROI) InAnnulus(lon, lat float64) bool {
	d := r.Separation(lon, lat)
	return d >= r.opts.AnnulusInner && d <= r.opts.AnnulusOuter
}

// Margin is the object margin a manager must keep around the target pixel
// for this geometry.
func (o Options) Margin() float64 {
	if o.AnnulusOuter > o.RegionRadius {
		return o.AnnulusOuter
	}
	return o.RegionRadius
}

func sortedCopy(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	return out
}
