package roi

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/banshee-data/ultrafaint/internal/catalog"
	"github.com/banshee-data/ultrafaint/internal/healpix"
	"github.com/banshee-data/ultrafaint/internal/mask"
	"github.com/banshee-data/ultrafaint/internal/monitoring"
	"github.com/banshee-data/ultrafaint/internal/sky"
)

// Disc is a circular footprint on the sky.
type Disc struct {
	Lon, Lat float64
	Radius   float64
}

type cacheKey struct {
	pix    int
	margin float64
}

// Manager partitions an immutable catalog and mask snapshot into pixels. Pixel
// object lists are built lazily, cached, and shared read-only. Concurrent
// requests for the same pixel build it once.
type Manager struct {
	scheme healpix.Scheme

	mu      sync.RWMutex
	cat     *catalog.Catalog
	mask    mask.Adapter
	index   map[int][]int // object indices binned by pixel
	cache   map[cacheKey][]catalog.Object
	version uint64

	group singleflight.Group
}

// NewManager returns a manager over cat and m at resolution nside.
func NewManager(cat *catalog.Catalog, m mask.Adapter, nside int) (*Manager, error) {
	s, err := healpix.New(nside)
	if err != nil {
		return nil, err
	}
	if cat == nil || cat.Len() == 0 {
		return nil, catalog.ErrEmptyCatalog
	}
	mgr := &Manager{scheme: s}
	mgr.reset(cat, m)
	return mgr, nil
}

func (m *Manager) reset(cat *catalog.Catalog, msk mask.Adapter) {
	m.cat = cat
	m.mask = msk
	m.index = make(map[int][]int)
	cat.Each(func(i int, o catalog.Object) {
		p := m.scheme.Ang2Pix(o.Lon, o.Lat)
		m.index[p] = append(m.index[p], i)
	})
	m.cache = make(map[cacheKey][]catalog.Object)
	m.version++
}

// Scheme returns the manager's pixelization.
func (m *Manager) Scheme() healpix.Scheme { return m.scheme }

// Catalog returns the current catalog snapshot.
func (m *Manager) Catalog() *catalog.Catalog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cat
}

// Mask returns the current mask snapshot.
func (m *Manager) Mask() mask.Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mask
}

// Pixelize returns the sorted pixels whose centres are inside the footprint
// and observed. The result depends only on the footprint, resolution and mask.
func (m *Manager) Pixelize(fp Disc) ([]int, error) {
	if fp.Radius <= 0 {
		return nil, fmt.Errorf("footprint radius must be positive, got %f", fp.Radius)
	}
	msk := m.Mask()
	var out []int
	for _, p := range m.scheme.QueryDisc(fp.Lon, fp.Lat, fp.Radius, false) {
		lon, lat := m.scheme.Pix2Ang(p)
		if mask.Fraction(msk, lon, lat) > 0 {
			out = append(out, p)
		}
	}
	return sortedCopy(out), nil
}

// ObjectsInPixel returns the objects within margin degrees of pixel pix, in
// catalog order. An object belongs if its distance to the pixel centre is at
// most the pixel's maximum radius plus margin.
func (m *Manager) ObjectsInPixel(pix int, margin float64) ([]catalog.Object, error) {
	if pix < 0 || pix >= m.scheme.Npix() {
		return nil, fmt.Errorf("pixel %d out of range for nside %d", pix, m.scheme.Nside())
	}
	if margin < 0 {
		return nil, fmt.Errorf("margin must be non-negative, got %f", margin)
	}
	key := cacheKey{pix, margin}

	m.mu.RLock()
	objs, ok := m.cache[key]
	version := m.version
	m.mu.RUnlock()
	if ok {
		return objs, nil
	}

	v, err, _ := m.group.Do(fmt.Sprintf("%d/%d/%g", version, pix, margin), func() (interface{}, error) {
		m.mu.RLock()
		cat, index := m.cat, m.index
		m.mu.RUnlock()

		built := m.collect(cat, index, pix, margin)

		m.mu.Lock()
		if m.version == version {
			m.cache[key] = built
		}
		m.mu.Unlock()
		monitoring.Debugf("roi: pixel %d margin %.3f built with %d objects", pix, margin, len(built))
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]catalog.Object), nil
}

func (m *Manager) collect(cat *catalog.Catalog, index map[int][]int, pix int, margin float64) []catalog.Object {
	lon, lat := m.scheme.Pix2Ang(pix)
	reach := m.scheme.MaxPixRad() + margin

	var idx []int
	for _, p := range m.scheme.QueryDisc(lon, lat, reach, true) {
		for _, i := range index[p] {
			o := cat.At(i)
			if sky.Separation(lon, lat, o.Lon, o.Lat) <= reach {
				idx = append(idx, i)
			}
		}
	}
	sort.Ints(idx)
	out := make([]catalog.Object, len(idx))
	for k, i := range idx {
		out[k] = cat.At(i)
	}
	return out
}

// Neighbors returns the sorted pixels adjacent to pix.
func (m *Manager) Neighbors(pix int) []int {
	return m.scheme.Neighbors(pix)
}

// ROI builds the region of interest for target pixel pix. The manager's
// resolution must match opts.NsideTarget.
func (m *Manager) ROI(pix int, opts Options) (*ROI, error) {
	if opts.NsideTarget != m.scheme.Nside() {
		return nil, fmt.Errorf("roi nside_target %d does not match manager nside %d", opts.NsideTarget, m.scheme.Nside())
	}
	return New(pix, m.Mask(), opts)
}

// Invalidate drops every cached pixel. Call it after the catalog or mask
// the manager reads from has changed.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[cacheKey][]catalog.Object)
	m.version++
}

// Replace swaps in a new catalog and mask snapshot and invalidates the cache.
func (m *Manager) Replace(cat *catalog.Catalog, msk mask.Adapter) error {
	if cat == nil || cat.Len() == 0 {
		return catalog.ErrEmptyCatalog
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset(cat, msk)
	return nil
}

// Cached reports how many pixel entries are cached.
func (m *Manager) Cached() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}
