package healpix

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ultrafaint/internal/sky"
)

func mustScheme(t *testing.T, nside int) Scheme {
	t.Helper()
	s, err := New(nside)
	require.NoError(t, err)
	return s
}

func TestNew_RejectsBadNside(t *testing.T) {
	for _, nside := range []int{0, -4, 3, 12, 1000} {
		_, err := New(nside)
		if !errors.Is(err, ErrInvalidNside) {
			t.Errorf("New(%d) error = %v, want ErrInvalidNside", nside, err)
		}
	}
}

func TestPixelArea_CoversSphere(t *testing.T) {
	s := mustScheme(t, 64)
	total := s.PixelArea() * float64(s.Npix())
	assert.InDelta(t, 4*math.Pi*sky.SquareDegreesPerSteradian, total, 1e-6)
}

func TestPix2Ang_RoundTrip(t *testing.T) {
	for _, nside := range []int{1, 2, 4, 16, 32} {
		s := mustScheme(t, nside)
		for p := 0; p < s.Npix(); p++ {
			lon, lat := s.Pix2Ang(p)
			if got := s.Ang2Pix(lon, lat); got != p {
				t.Fatalf("nside %d: Ang2Pix(Pix2Ang(%d)) = %d", nside, p, got)
			}
		}
	}
}

func TestMaxPixRad(t *testing.T) {
	s := mustScheme(t, 1)
	assert.InDelta(t, math.Acos(2.0/3.0)*180/math.Pi, s.MaxPixRad(), 1e-9)

	// Every point lies within MaxPixRad of the centre of its pixel.
	rng := rand.New(rand.NewPCG(1, 2))
	for _, nside := range []int{4, 16, 128} {
		s := mustScheme(t, nside)
		maxRad := s.MaxPixRad()
		for i := 0; i < 2000; i++ {
			lon := 360 * rng.Float64()
			lat := math.Asin(2*rng.Float64()-1) * 180 / math.Pi
			clon, clat := s.Pix2Ang(s.Ang2Pix(lon, lat))
			d := sky.Separation(lon, lat, clon, clat)
			if d > maxRad+1e-6 {
				t.Fatalf("nside %d: (%.4f, %.4f) is %.5f deg from its pixel centre, max %.5f", nside, lon, lat, d, maxRad)
			}
		}
	}
}

func bruteDisc(s Scheme, lon, lat, radius float64) []int {
	var out []int
	for p := 0; p < s.Npix(); p++ {
		plon, plat := s.Pix2Ang(p)
		if sky.Separation(lon, lat, plon, plat) <= radius {
			out = append(out, p)
		}
	}
	return out
}

func TestQueryDisc_MatchesBruteForce(t *testing.T) {
	s := mustScheme(t, 16)
	testCases := []struct {
		name             string
		lon, lat, radius float64
	}{
		{"equator", 45.3, 1.2, 7.7},
		{"north cap", 200.1, 71.3, 11.1},
		{"south cap", 12.7, -63.9, 5.3},
		{"longitude wrap", 359.1, -10.2, 9.4},
		{"around pole", 10, 89.5, 6.1},
		{"tiny", 123.4, -20.5, 0.5},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.QueryDisc(tc.lon, tc.lat, tc.radius, false)
			want := bruteDisc(s, tc.lon, tc.lat, tc.radius)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("QueryDisc mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestQueryDisc_InclusiveContainsOwnPixel(t *testing.T) {
	s := mustScheme(t, 64)
	lon, lat := 33.3, -44.4
	pix := s.Ang2Pix(lon, lat)
	got := s.QueryDisc(lon, lat, 0, true)
	assert.Contains(t, got, pix)
	assert.Empty(t, s.QueryDisc(lon, lat, -1, false))
}

func TestQueryDisc_Deterministic(t *testing.T) {
	s := mustScheme(t, 256)
	a := s.QueryDisc(150, 2, 1.5, false)
	b := s.QueryDisc(150, 2, 1.5, false)
	require.NotEmpty(t, a)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("repeated QueryDisc differs:\n%s", diff)
	}
}

func TestFaceCoordinates_RoundTrip(t *testing.T) {
	for _, nside := range []int{1, 2, 16} {
		s := mustScheme(t, nside)
		for pix := 0; pix < s.Npix(); pix++ {
			ix, iy, face := s.xyf(pix)
			require.Equal(t, pix, s.ringPix(ix, iy, face), "nside %d pixel %d", nside, pix)
		}
	}
}

func TestNeighbors(t *testing.T) {
	for _, nside := range []int{2, 8, 64} {
		t.Run(fmt.Sprintf("nside %d", nside), func(t *testing.T) {
			s := mustScheme(t, nside)
			adj := make([]map[int]bool, s.Npix())
			counts := map[int]int{}
			for pix := range adj {
				nb := s.Neighbors(pix)
				require.NotContains(t, nb, pix)
				require.True(t, sort.IntsAreSorted(nb))
				counts[len(nb)]++
				adj[pix] = make(map[int]bool, len(nb))
				clon, clat := s.Pix2Ang(pix)
				for _, n := range nb {
					adj[pix][n] = true
					nlon, nlat := s.Pix2Ang(n)
					require.Less(t, sky.Separation(clon, clat, nlon, nlat), 2.2*s.Resolution(), "pixel %d neighbour %d", pix, n)
				}
			}
			// Three pixels meet at each of the eight vertices shared by only three base faces.
			assert.Equal(t, map[int]int{7: 24, 8: s.Npix() - 24}, counts)
			for pix, nb := range adj {
				for n := range nb {
					require.True(t, adj[n][pix], "%d lists %d but not the reverse", pix, n)
				}
			}
		})
	}
}
