package catalog

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleObjects() []Object {
	return []Object{
		{ID: 1, Lon: 10.0, Lat: -5.0, Mag1: 21.0, Mag2: 20.5, MagErr1: 0.03, MagErr2: 0.04},
		{ID: 2, Lon: 10.1, Lat: -5.1, Mag1: 23.5, Mag2: 22.7, MagErr1: 0.10, MagErr2: 0.12},
		{ID: 3, Lon: 10.2, Lat: -4.9, Mag1: 18.2, Mag2: 18.6, MagErr1: 0.01, MagErr2: 0.01},
	}
}

func TestObject_Derived(t *testing.T) {
	o := sampleObjects()[0]
	assert.InDelta(t, 0.5, o.Color(), 1e-12)
	assert.InDelta(t, 0.05, o.ColorErr(), 1e-12)
	assert.Equal(t, 21.0, o.Mag(Band1))
	assert.Equal(t, 20.5, o.Mag(Band2))
	assert.Equal(t, 0.04, o.MagErr(Band2))
}

func TestNew_CopiesInput(t *testing.T) {
	objs := sampleObjects()
	c := New(objs)
	objs[0].Lon = 99
	assert.Equal(t, 10.0, c.At(0).Lon, "catalog must not alias caller slice")

	out := c.Objects()
	out[1].Lat = 45
	assert.Equal(t, -5.1, c.At(1).Lat, "Objects must return a copy")
}

func TestVersion(t *testing.T) {
	a := New(sampleObjects())
	b := New(sampleObjects())
	assert.Equal(t, a.Version(), b.Version())

	objs := sampleObjects()
	objs[2].Mag1 += 0.001
	c := New(objs)
	assert.NotEqual(t, a.Version(), c.Version())

	d := New(sampleObjects(), WithBand(Band2))
	assert.NotEqual(t, a.Version(), d.Version())
}

func TestFilter_MagnitudeCut(t *testing.T) {
	c := New(sampleObjects())
	cut := c.Filter(MagnitudeCut(Band1, 18, 23, -1, 1))
	require.Equal(t, 2, cut.Len())

	var ids []int64
	cut.Each(func(_ int, o Object) { ids = append(ids, o.ID) })
	if diff := cmp.Diff([]int64{1, 3}, ids); diff != "" {
		t.Errorf("filtered ids (-want +got):\n%s", diff)
	}
}

func TestMerge(t *testing.T) {
	a := New(sampleObjects()[:1], WithBand(Band2))
	b := New(sampleObjects()[1:])
	m := Merge(a, nil, b)
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, Band2, m.Band())
	assert.Equal(t, int64(3), m.At(2).ID)
}

func TestBootstrap(t *testing.T) {
	objs := make([]Object, 5000)
	for i := range objs {
		objs[i] = Object{ID: int64(i), Lon: 1, Lat: 2, Mag1: 22, Mag2: 21.5, MagErr1: 0.1, MagErr2: 0.1}
	}
	c := New(objs)
	boot := c.Bootstrap(rand.New(rand.NewPCG(7, 11)))
	require.Equal(t, c.Len(), boot.Len())

	var sum, sumSq float64
	boot.Each(func(i int, o Object) {
		assert.Equal(t, 1.0, o.Lon)
		assert.NotZero(t, o.Source&SourceBootstrap)
		d := o.Mag1 - 22
		sum += d
		sumSq += d * d
	})
	n := float64(boot.Len())
	assert.InDelta(t, 0, sum/n, 0.01)
	assert.InDelta(t, 0.1, math.Sqrt(sumSq/n), 0.01)
	assert.NotEqual(t, c.Version(), boot.Version())
}
