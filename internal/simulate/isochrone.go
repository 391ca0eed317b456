// Package simulate generates synthetic inputs: a toy isochrone library,
// uniform field populations, injected satellites and satellite populations.
// It backs the end-to-end tests and the CLI simulate command.
package simulate

import (
	"math"

	"github.com/banshee-data/ultrafaint/internal/isochrone"
)

// ToyTemplate returns an old, metal-poor-looking track: a main sequence that
// turns off near M = 3.5 and climbs a giant branch to M = -1.5. Older ages
// shift the turnoff fainter and higher metallicity makes the track redder.
func ToyTemplate(age, z float64, n int, imf isochrone.IMF) (*isochrone.Template, error) {
	if n < 2 {
		n = 2
	}
	color := make([]float64, n)
	mag := make([]float64, n)
	mass := make([]float64, n)
	for i := 0; i < n; i++ {
		u := float64(i) / float64(n-1)
		mass[i] = 0.15 + 0.7*u
		ageShift := 0.3 * math.Log10(age/12)
		zShift := 0.15 * math.Log10(z/0.0002)
		if u < 0.8 {
			v := u / 0.8
			mag[i] = 5.5 - 2.0*v + ageShift
			color[i] = 0.75 - 0.35*v + zShift
		} else {
			v := (u - 0.8) / 0.2
			mag[i] = 3.5 - 5.0*v + ageShift
			color[i] = 0.40 + 0.55*v + zShift
		}
	}
	return isochrone.NewTemplate(age, z, color, mag, mass, imf)
}

// ToyLibrary builds a library of toy templates on the given grid.
func ToyLibrary(ages, zs []float64, points int) (*isochrone.Library, error) {
	var tpls []*isochrone.Template
	for _, a := range ages {
		for _, z := range zs {
			t, err := ToyTemplate(a, z, points, isochrone.Chabrier{})
			if err != nil {
				return nil, err
			}
			tpls = append(tpls, t)
		}
	}
	return isochrone.NewLibrary(tpls)
}

// DefaultLibrary is the toy library used by the CLI and tests.
func DefaultLibrary() (*isochrone.Library, error) {
	return ToyLibrary([]float64{10, 12, 13.5}, []float64{0.0001, 0.0002, 0.0004}, 120)
}
