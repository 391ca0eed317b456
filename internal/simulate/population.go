package simulate

import (
	"math"
	"math/rand/v2"

	"github.com/banshee-data/ultrafaint/internal/isochrone"
	"github.com/banshee-data/ultrafaint/internal/kernel"
	"github.com/banshee-data/ultrafaint/internal/sky"
)

// PopulationRanges bound a synthetic satellite population. Distances are in
// kpc, stellar masses in Msun and physical half-light radii in kpc.
type PopulationRanges struct {
	Distance    [2]float64
	StellarMass [2]float64
	RPhysical   [2]float64
	Ellipticity [2]float64
}

// DefaultPopulationRanges mirrors common Milky Way satellite search setups.
func DefaultPopulationRanges() PopulationRanges {
	return PopulationRanges{
		Distance:    [2]float64{5, 500},
		StellarMass: [2]float64{1e1, 1e6},
		RPhysical:   [2]float64{1e-3, 2},
		Ellipticity: [2]float64{0.1, 0.8},
	}
}

// Member is one satellite of a synthetic population.
type Member struct {
	Spatial         kernel.Params
	Distance        float64 // kpc
	DistanceModulus float64
	StellarMass     float64 // Msun
	RPhysical       float64 // kpc
	Richness        float64
}

// DistanceModulus converts a distance in kpc to a distance modulus.
func DistanceModulus(kpc float64) float64 {
	return 5*math.Log10(kpc*1000) - 5
}

// Distance converts a distance modulus to kpc.
func Distance(dm float64) float64 {
	return math.Pow(10, dm/5+1) / 1000
}

func logUniform(rng *rand.Rand, r [2]float64) float64 {
	lo, hi := math.Log10(r[0]), math.Log10(r[1])
	return math.Pow(10, lo+(hi-lo)*rng.Float64())
}

// Population draws n satellites inside a disc footprint. Distance, stellar
// mass and physical size are log-uniform; ellipticity and position angle are
// uniform. Richness converts stellar mass with the template's mean mass.
func Population(rng *rand.Rand, n int, lon, lat, radius float64, r PopulationRanges, tpl *isochrone.Template) []Member {
	proj := sky.NewProjector(lon, lat)
	cosR := math.Cos(radius * math.Pi / 180)
	meanMass := tpl.StellarMass()

	out := make([]Member, n)
	for i := range out {
		d := logUniform(rng, r.Distance)
		mass := logUniform(rng, r.StellarMass)
		rphys := logUniform(rng, r.RPhysical)
		ell := r.Ellipticity[0] + (r.Ellipticity[1]-r.Ellipticity[0])*rng.Float64()

		cosd := 1 - rng.Float64()*(1-cosR)
		sep := math.Acos(cosd)
		a := 2 * math.Pi * rng.Float64()
		rho := math.Tan(sep) * 180 / math.Pi
		plon, plat := proj.ImageToSphere(rho*math.Sin(a), rho*math.Cos(a))

		out[i] = Member{
			Spatial: kernel.Params{
				Lon:           plon,
				Lat:           plat,
				Extension:     math.Atan(rphys/d) * 180 / math.Pi,
				Ellipticity:   ell,
				PositionAngle: 180 * rng.Float64(),
			},
			Distance:        d,
			DistanceModulus: DistanceModulus(d),
			StellarMass:     mass,
			RPhysical:       rphys,
			Richness:        mass / meanMass,
		}
	}
	return out
}
