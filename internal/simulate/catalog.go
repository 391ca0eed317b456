package simulate

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/ultrafaint/internal/catalog"
	"github.com/banshee-data/ultrafaint/internal/isochrone"
	"github.com/banshee-data/ultrafaint/internal/kernel"
	"github.com/banshee-data/ultrafaint/internal/mask"
	"github.com/banshee-data/ultrafaint/internal/sky"
)

// ErrorModel is the photometric uncertainty as a function of magnitude:
// Floor + Scale * 10^(0.4 (mag - MagLim)).
type ErrorModel struct {
	Floor  float64
	Scale  float64
	MagLim float64
}

// Err returns the magnitude uncertainty at mag.
func (e ErrorModel) Err(mag float64) float64 {
	return e.Floor + e.Scale*math.Pow(10, 0.4*(mag-e.MagLim))
}

// Field describes a uniform field population inside a disc.
type Field struct {
	Lon, Lat, Radius   float64
	N                  int
	ColorMin, ColorMax float64
	MagMin, MagMax     float64
	Errors             ErrorModel
}

// Background draws the field: positions uniform in solid angle inside the
// disc, colors and magnitudes uniform in the window.
func Background(rng *rand.Rand, f Field) []catalog.Object {
	objs := make([]catalog.Object, f.N)
	proj := sky.NewProjector(f.Lon, f.Lat)
	cosR := math.Cos(f.Radius * math.Pi / 180)
	for i := range objs {
		// Uniform on the spherical cap, then rotated onto the disc centre.
		cosd := 1 - rng.Float64()*(1-cosR)
		d := math.Acos(cosd) * 180 / math.Pi
		a := 2 * math.Pi * rng.Float64()
		rho := math.Tan(d*math.Pi/180) * 180 / math.Pi
		lon, lat := proj.ImageToSphere(rho*math.Sin(a), rho*math.Cos(a))

		c := f.ColorMin + (f.ColorMax-f.ColorMin)*rng.Float64()
		m := f.MagMin + (f.MagMax-f.MagMin)*rng.Float64()
		objs[i] = observe(rng, int64(i), lon, lat, m, m-c, f.Errors)
	}
	return objs
}

func observe(rng *rand.Rand, id int64, lon, lat, mag1, mag2 float64, errs ErrorModel) catalog.Object {
	e1, e2 := errs.Err(mag1), errs.Err(mag2)
	return catalog.Object{
		ID:      id,
		Lon:     lon,
		Lat:     lat,
		Mag1:    mag1 + e1*rng.NormFloat64(),
		Mag2:    mag2 + e2*rng.NormFloat64(),
		MagErr1: e1,
		MagErr2: e2,
	}
}

// Satellite describes a satellite to inject.
type Satellite struct {
	Kind            kernel.Kind
	Spatial         kernel.Params
	Age, Z          float64
	DistanceModulus float64
	// Stars is the number of stars drawn before detection.
	Stars int
}

// Injection draws a satellite's stars. Magnitudes follow the isochrone with
// IMF weights; if comp is non-nil each star survives with its detection
// efficiency. IDs start at firstID and objects are tagged as simulated.
func Injection(rng *rand.Rand, lib *isochrone.Library, sat Satellite, errs ErrorModel, m mask.Adapter, comp *mask.Completeness, firstID int64) ([]catalog.Object, error) {
	k, err := kernel.New(sat.Kind, sat.Spatial)
	if err != nil {
		return nil, err
	}
	pts, err := lib.Sample(sat.Age, sat.Z, sat.DistanceModulus)
	if err != nil {
		return nil, err
	}
	cum := make([]float64, len(pts))
	var acc float64
	for i, p := range pts {
		acc += p.Weight
		cum[i] = acc
	}
	if acc <= 0 {
		return nil, fmt.Errorf("isochrone has no weight")
	}

	var out []catalog.Object
	for n := 0; n < sat.Stars; n++ {
		p := pts[pick(cum, acc*rng.Float64())]
		lon, lat := k.Sample(rng.Float64)
		if comp != nil && rng.Float64() >= mask.Efficiency(m, comp, lon, lat, p.Mag) {
			continue
		}
		mag2 := p.Mag - p.Color
		o := observe(rng, firstID+int64(n), lon, lat, p.Mag, mag2, errs)
		o.Source = catalog.SourceSimulated
		out = append(out, o)
	}
	return out, nil
}

func pick(cum []float64, u float64) int {
	lo, hi := 0, len(cum)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if cum[mid] < u {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
