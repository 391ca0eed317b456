package kernel

import (
	"math"

	"github.com/banshee-data/ultrafaint/internal/healpix"
	"github.com/banshee-data/ultrafaint/internal/mask"
)

// Footprint is a fixed set of fine integration pixels with their centres
// and observed area. Kernels are integrated over it to get the fraction of a
// candidate's light that falls on observed sky.
type Footprint struct {
	scheme healpix.Scheme
	pixels []int
	lons   []float64
	lats   []float64
	area   []float64 // observed area per pixel, deg²
	index  map[int]int
	maglim []float64
}

// NewFootprint evaluates the mask at each pixel centre. Pixels where the
// mask is unavailable carry zero area.
func NewFootprint(s healpix.Scheme, pixels []int, m mask.Adapter) *Footprint {
	fp := &Footprint{
		scheme: s,
		pixels: append([]int(nil), pixels...),
		lons:   make([]float64, len(pixels)),
		lats:   make([]float64, len(pixels)),
		area:   make([]float64, len(pixels)),
		maglim: make([]float64, len(pixels)),
		index:  make(map[int]int, len(pixels)),
	}
	pixArea := s.PixelArea()
	for i, p := range pixels {
		lon, lat := s.Pix2Ang(p)
		fp.lons[i], fp.lats[i] = lon, lat
		fp.area[i] = pixArea * mask.Fraction(m, lon, lat)
		if ml, err := m.LimitingMagnitude(lon, lat); err == nil {
			fp.maglim[i] = ml
		}
		fp.index[p] = i
	}
	return fp
}

// Scheme returns the pixelization of the footprint.
func (fp *Footprint) Scheme() healpix.Scheme { return fp.scheme }

// Len returns the number of pixels.
func (fp *Footprint) Len() int { return len(fp.pixels) }

// Pixel returns pixel i with its centre and observed area.
func (fp *Footprint) Pixel(i int) (pix int, lon, lat, area float64) {
	return fp.pixels[i], fp.lons[i], fp.lats[i], fp.area[i]
}

// MagLim returns the limiting magnitude at pixel i (zero if unknown).
func (fp *Footprint) MagLim(i int) float64 { return fp.maglim[i] }

// ObservedArea returns the total observed area in deg².
func (fp *Footprint) ObservedArea() float64 {
	var a float64
	for _, v := range fp.area {
		a += v
	}
	return a
}

// Quadrature grid for kernels the pixel grid does not resolve.
const (
	resolvedWidths = 4
	radialNodes    = 32
	angularNodes   = 48
)

// Integrate returns the integral of k over the footprint with each pixel's
// observed area additionally scaled by weight(i). A nil weight means 1.
//
// Kernels whose minor axis spans at least a few pixel widths are summed at
// pixel centres. Narrower kernels are integrated on a grid of equal-light
// cells in enclosed fraction and angle, each cell taking the observed
// fraction of the pixel it lands in.
func (fp *Footprint) Integrate(k Kernel, weight func(i int) float64) float64 {
	if weight == nil {
		weight = func(int) float64 { return 1 }
	}
	minor := k.Extension() * (1 - k.Params().Ellipticity)
	if minor < resolvedWidths*fp.scheme.Resolution() {
		return fp.subsample(k, weight)
	}
	var total float64
	for i := range fp.pixels {
		if fp.area[i] == 0 {
			continue
		}
		d := k.SurfaceDensity(fp.lons[i], fp.lats[i])
		if d == 0 {
			continue
		}
		total += d * fp.area[i] * weight(i)
	}
	return total
}

func (fp *Footprint) subsample(k Kernel, weight func(i int) float64) float64 {
	pixArea := fp.scheme.PixelArea()
	var total float64
	for a := 0; a < radialNodes; a++ {
		q := (float64(a) + 0.5) / radialNodes
		for b := 0; b < angularNodes; b++ {
			phi := 2 * math.Pi * (float64(b) + 0.5) / angularNodes
			i, ok := fp.index[fp.scheme.Ang2Pix(k.Position(q, phi))]
			if !ok || fp.area[i] == 0 {
				continue
			}
			total += fp.area[i] / pixArea * weight(i)
		}
	}
	return total / (radialNodes * angularNodes)
}

// NormalizationOverFootprint is the fraction of the kernel's unit integral
// that lands on observed footprint pixels.
func NormalizationOverFootprint(k Kernel, fp *Footprint) float64 {
	return fp.Integrate(k, nil)
}
