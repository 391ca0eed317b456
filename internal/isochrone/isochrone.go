// Package isochrone models the color-magnitude distribution of a simple
// stellar population.
//
// A Library holds templates tabulated on an (age, metallicity) grid and
// interpolates between them. Each Template is a list of points along the
// isochrone carrying the IMF weight of the mass bin it represents, normalized
// so that one unit of richness corresponds to one star. A Model turns a
// template shifted to a distance modulus into a smoothed probability density
// in (color, magnitude) space.
package isochrone

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrOutOfLibraryBounds is returned for (age, metallicity) outside the grid.
	ErrOutOfLibraryBounds = errors.New("isochrone: parameters outside library bounds")
	// ErrMalformedLibrary is returned when templates do not form a usable grid.
	ErrMalformedLibrary = errors.New("isochrone: malformed library")
)

// Point is one sample along an isochrone. Mag is absolute until shifted.
type Point struct {
	Color  float64
	Mag    float64
	Mass   float64
	Weight float64
}

// Template is an isochrone at fixed age (Gyr) and metallicity Z.
type Template struct {
	Age    float64
	Z      float64
	Points []Point
}

// NewTemplate builds a template from parallel arrays ordered by increasing
// initial mass and assigns IMF weights normalized to unit sum.
func NewTemplate(age, z float64, color, mag, mass []float64, imf IMF) (*Template, error) {
	n := len(mass)
	if n == 0 || len(color) != n || len(mag) != n {
		return nil, fmt.Errorf("%w: template (%g, %g) needs equal non-empty arrays", ErrMalformedLibrary, age, z)
	}
	for i := 1; i < n; i++ {
		if mass[i] <= mass[i-1] {
			return nil, fmt.Errorf("%w: template (%g, %g) masses must increase", ErrMalformedLibrary, age, z)
		}
	}
	w := weightsFromIMF(imf, mass)
	t := &Template{Age: age, Z: z, Points: make([]Point, n)}
	for i := range mass {
		t.Points[i] = Point{Color: color[i], Mag: mag[i], Mass: mass[i], Weight: w[i]}
	}
	if err := t.normalize(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Template) normalize() error {
	var sum float64
	for _, p := range t.Points {
		if !(p.Weight >= 0) || math.IsInf(p.Weight, 0) {
			return fmt.Errorf("%w: template (%g, %g) has invalid weight %g", ErrMalformedLibrary, t.Age, t.Z, p.Weight)
		}
		sum += p.Weight
	}
	if sum <= 0 {
		return fmt.Errorf("%w: template (%g, %g) has zero total weight", ErrMalformedLibrary, t.Age, t.Z)
	}
	if math.Abs(sum-1) < 1e-12 {
		return nil
	}
	for i := range t.Points {
		t.Points[i].Weight /= sum
	}
	return nil
}

// StellarMass is the mean initial stellar mass per unit richness; richness
// times this gives the total stellar mass in solar masses.
func (t *Template) StellarMass() float64 {
	var m float64
	for _, p := range t.Points {
		m += p.Weight * p.Mass
	}
	return m
}

// Shift returns the points moved to distance modulus dm.
func (t *Template) Shift(dm float64) []Point {
	out := make([]Point, len(t.Points))
	for i, p := range t.Points {
		p.Mag += dm
		out[i] = p
	}
	return out
}

// Library is an immutable grid of templates over age and metallicity.
type Library struct {
	ages []float64
	zs   []float64
	grid [][]*Template // [age][z]
	nPts int
}

// NewLibrary arranges templates on their (age, Z) grid. Every grid node must
// be present exactly once and all templates must share a point count.
func NewLibrary(templates []*Template) (*Library, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("%w: no templates", ErrMalformedLibrary)
	}
	ageSet := map[float64]bool{}
	zSet := map[float64]bool{}
	index := make(map[[2]float64]*Template, len(templates))
	nPts := len(templates[0].Points)
	for _, t := range templates {
		if t == nil {
			return nil, fmt.Errorf("%w: nil template", ErrMalformedLibrary)
		}
		if !(t.Age > 0) || !(t.Z > 0) {
			return nil, fmt.Errorf("%w: age and Z must be positive, got (%g, %g)", ErrMalformedLibrary, t.Age, t.Z)
		}
		if len(t.Points) != nPts || nPts == 0 {
			return nil, fmt.Errorf("%w: template (%g, %g) has %d points, want %d", ErrMalformedLibrary, t.Age, t.Z, len(t.Points), nPts)
		}
		key := [2]float64{t.Age, t.Z}
		if _, dup := index[key]; dup {
			return nil, fmt.Errorf("%w: duplicate template (%g, %g)", ErrMalformedLibrary, t.Age, t.Z)
		}
		index[key] = t
		ageSet[t.Age] = true
		zSet[t.Z] = true
	}

	l := &Library{ages: sortedKeys(ageSet), zs: sortedKeys(zSet), nPts: nPts}
	l.grid = make([][]*Template, len(l.ages))
	for i, a := range l.ages {
		l.grid[i] = make([]*Template, len(l.zs))
		for j, z := range l.zs {
			t, ok := index[[2]float64{a, z}]
			if !ok {
				return nil, fmt.Errorf("%w: missing grid node (%g, %g)", ErrMalformedLibrary, a, z)
			}
			c := *t
			c.Points = append([]Point(nil), t.Points...)
			if err := c.normalize(); err != nil {
				return nil, err
			}
			l.grid[i][j] = &c
		}
	}
	return l, nil
}

func sortedKeys(m map[float64]bool) []float64 {
	out := make([]float64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}

// Ages returns the tabulated ages.
func (l *Library) Ages() []float64 { return append([]float64(nil), l.ages...) }

// Metallicities returns the tabulated metallicities.
func (l *Library) Metallicities() []float64 { return append([]float64(nil), l.zs...) }

// Bounds returns the tabulated age and metallicity ranges.
func (l *Library) Bounds() (ageMin, ageMax, zMin, zMax float64) {
	return l.ages[0], l.ages[len(l.ages)-1], l.zs[0], l.zs[len(l.zs)-1]
}

// Contains reports whether (age, z) lies inside the tabulated grid.
func (l *Library) Contains(age, z float64) bool {
	a0, a1, z0, z1 := l.Bounds()
	return age >= a0 && age <= a1 && z >= z0 && z <= z1
}

// cell locates v on axis and returns the bracketing indices and the
// interpolation fraction in log space. frac is exactly 0 on a node.
func cell(axis []float64, v float64) (lo, hi int, frac float64, ok bool) {
	n := len(axis)
	if math.IsNaN(v) || v < axis[0] || v > axis[n-1] {
		return 0, 0, 0, false
	}
	i := sort.SearchFloat64s(axis, v)
	if i < n && axis[i] == v {
		return i, i, 0, true
	}
	lo, hi = i-1, i
	frac = (math.Log(v) - math.Log(axis[lo])) / (math.Log(axis[hi]) - math.Log(axis[lo]))
	return lo, hi, frac, true
}

// Template returns the isochrone at (age, z), bilinearly interpolated in
// log(age) and log(Z) between the four surrounding grid nodes. On a grid node
// the stored template is returned unchanged.
func (l *Library) Template(age, z float64) (*Template, error) {
	ai, aj, af, okA := cell(l.ages, age)
	zi, zj, zf, okZ := cell(l.zs, z)
	if !okA || !okZ {
		a0, a1, z0, z1 := l.Bounds()
		return nil, fmt.Errorf("%w: (age %g, Z %g) not in [%g, %g] x [%g, %g]",
			ErrOutOfLibraryBounds, age, z, a0, a1, z0, z1)
	}

	type node struct {
		t *Template
		w float64
	}
	nodes := []node{
		{l.grid[ai][zi], (1 - af) * (1 - zf)},
		{l.grid[aj][zi], af * (1 - zf)},
		{l.grid[ai][zj], (1 - af) * zf},
		{l.grid[aj][zj], af * zf},
	}
	if af == 0 && zf == 0 {
		t := *l.grid[ai][zi]
		t.Points = append([]Point(nil), t.Points...)
		return &t, nil
	}

	out := &Template{Age: age, Z: z, Points: make([]Point, l.nPts)}
	for _, nd := range nodes {
		if nd.w == 0 {
			continue
		}
		for k, p := range nd.t.Points {
			q := &out.Points[k]
			q.Color += nd.w * p.Color
			q.Mag += nd.w * p.Mag
			q.Mass += nd.w * p.Mass
			q.Weight += nd.w * p.Weight
		}
	}
	if err := out.normalize(); err != nil {
		return nil, err
	}
	return out, nil
}

// Sample returns the isochrone at (age, z) shifted to distance modulus dm.
func (l *Library) Sample(age, z, dm float64) ([]Point, error) {
	t, err := l.Template(age, z)
	if err != nil {
		return nil, err
	}
	return t.Shift(dm), nil
}
