// Package catalog holds the immutable object catalog the likelihood is
// evaluated against. A Catalog is built once, shared read-only across scan
// workers and replaced (never mutated) when the input changes.
package catalog

import (
	"encoding/binary"
	"errors"
	"hash/fnv"
	"math"
	"math/rand/v2"
)

// ErrEmptyCatalog is returned when a search is started without any objects.
var ErrEmptyCatalog = errors.New("catalog: no objects")

// Band selects which magnitude is used as the detection band.
type Band int

const (
	// Band1 is the bluer band; Color = Mag1 - Mag2.
	Band1 Band = iota
	// Band2 is the redder band.
	Band2
)

// Source flags record where an object came from.
type Source uint8

const (
	SourceObserved  Source = 0
	SourceSimulated Source = 1 << iota
	SourceBootstrap
)

// Object is a single detected source. Positions are in degrees.
type Object struct {
	ID      int64
	Lon     float64
	Lat     float64
	Mag1    float64
	Mag2    float64
	MagErr1 float64
	MagErr2 float64
	// Efficiency is the per-object detection efficiency. Zero means it was
	// not supplied and the completeness model is used instead.
	Efficiency float64
	Source     Source
}

// Color returns Mag1 - Mag2.
func (o Object) Color() float64 { return o.Mag1 - o.Mag2 }

// ColorErr returns the color uncertainty assuming independent band errors.
func (o Object) ColorErr() float64 { return math.Hypot(o.MagErr1, o.MagErr2) }

// Mag returns the magnitude in band b.
func (o Object) Mag(b Band) float64 {
	if b == Band2 {
		return o.Mag2
	}
	return o.Mag1
}

// MagErr returns the magnitude uncertainty in band b.
func (o Object) MagErr(b Band) float64 {
	if b == Band2 {
		return o.MagErr2
	}
	return o.MagErr1
}

// Catalog is an ordered, immutable collection of objects.
type Catalog struct {
	objects []Object
	band    Band
	version uint64
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithBand sets the detection band (default Band1).
func WithBand(b Band) Option { return func(c *Catalog) { c.band = b } }

// New copies objects into a new catalog.
func New(objects []Object, opts ...Option) *Catalog {
	c := &Catalog{objects: append([]Object(nil), objects...)}
	for _, o := range opts {
		o(c)
	}
	c.version = hashObjects(c.objects, c.band)
	return c
}

// Len returns the number of objects.
func (c *Catalog) Len() int { return len(c.objects) }

// At returns object i.
func (c *Catalog) At(i int) Object { return c.objects[i] }

// Band returns the detection band.
func (c *Catalog) Band() Band { return c.band }

// Version is a content hash; two catalogs with equal versions hold the same
// objects in the same order.
func (c *Catalog) Version() uint64 { return c.version }

// Objects returns a copy of the objects.
func (c *Catalog) Objects() []Object {
	return append([]Object(nil), c.objects...)
}

// Each calls fn for every object in order without copying the slice.
func (c *Catalog) Each(fn func(i int, o Object)) {
	for i, o := range c.objects {
		fn(i, o)
	}
}

// Filter returns a new catalog with the objects for which keep is true.
func (c *Catalog) Filter(keep func(Object) bool) *Catalog {
	out := make([]Object, 0, len(c.objects))
	for _, o := range c.objects {
		if keep(o) {
			out = append(out, o)
		}
	}
	return New(out, WithBand(c.band))
}

// MagnitudeCut keeps objects whose detection magnitude is in [lo, hi] and
// whose color is in [cLo, cHi].
func MagnitudeCut(b Band, lo, hi, cLo, cHi float64) func(Object) bool {
	return func(o Object) bool {
		m := o.Mag(b)
		col := o.Color()
		return m >= lo && m <= hi && col >= cLo && col <= cHi
	}
}

// Merge concatenates catalogs in order. The band of the first catalog wins.
func Merge(cats ...*Catalog) *Catalog {
	var out []Object
	band := Band1
	for i, c := range cats {
		if c == nil {
			continue
		}
		if i == 0 {
			band = c.band
		}
		out = append(out, c.objects...)
	}
	return New(out, WithBand(band))
}

// Bootstrap returns a catalog where each object's magnitudes are redrawn from
// its photometric errors. Positions are kept.
func (c *Catalog) Bootstrap(rng *rand.Rand) *Catalog {
	out := make([]Object, len(c.objects))
	for i, o := range c.objects {
		o.Mag1 += o.MagErr1 * rng.NormFloat64()
		o.Mag2 += o.MagErr2 * rng.NormFloat64()
		o.Source |= SourceBootstrap
		out[i] = o
	}
	return New(out, WithBand(c.band))
}

func hashObjects(objs []Object, band Band) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	put := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(band))
	h.Write(buf[:])
	for _, o := range objs {
		binary.LittleEndian.PutUint64(buf[:], uint64(o.ID))
		h.Write(buf[:])
		put(o.Lon)
		put(o.Lat)
		put(o.Mag1)
		put(o.Mag2)
		put(o.MagErr1)
		put(o.MagErr2)
		put(o.Efficiency)
	}
	return h.Sum64()
}
