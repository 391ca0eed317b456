// Package healpix implements the subset of the HEALPix RING scheme needed to
// partition the survey footprint: pixel lookup in both directions, pixel
// size, disc queries and neighbour lookup.
//
// Pixel indices follow the RING ordering of Górski et al. (2005) so maps built
// here line up with survey masks produced by other HEALPix tooling.
package healpix

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/ultrafaint/internal/sky"
)

// ErrInvalidNside is returned for resolutions that are not a positive power of two.
var ErrInvalidNside = errors.New("healpix: nside must be a positive power of two")

const maxNside = 1 << 29

// Scheme is a RING-ordered HEALPix tessellation at a fixed resolution.
type Scheme struct {
	nside int
	npix  int
	ncap  int
}

// New returns the scheme for nside.
func New(nside int) (Scheme, error) {
	if nside <= 0 || nside > maxNside || nside&(nside-1) != 0 {
		return Scheme{}, fmt.Errorf("%w: got %d", ErrInvalidNside, nside)
	}
	return Scheme{nside: nside, npix: 12 * nside * nside, ncap: 2 * nside * (nside - 1)}, nil
}

// Nside returns the resolution parameter.
func (s Scheme) Nside() int { return s.nside }

// Npix returns the number of pixels on the sphere.
func (s Scheme) Npix() int { return s.npix }

// PixelArea returns the area of one pixel in deg².
func (s Scheme) PixelArea() float64 {
	return 4 * math.Pi / float64(s.npix) * sky.SquareDegreesPerSteradian
}

// Resolution returns the square root of the pixel area in degrees.
func (s Scheme) Resolution() float64 { return math.Sqrt(s.PixelArea()) }

// Ang2Pix returns the pixel containing (lon, lat) in degrees.
func (s Scheme) Ang2Pix(lon, lat float64) int {
	theta, phi := sky.ToTheta(lon, lat)
	return s.zphi2pix(math.Cos(theta), phi)
}

func (s Scheme) zphi2pix(z, phi float64) int {
	nside := s.nside
	za := math.Abs(z)
	tt := math.Mod(phi*2/math.Pi, 4)
	if tt < 0 {
		tt += 4
	}

	if za <= 2.0/3.0 {
		temp1 := float64(nside) * (0.5 + tt)
		temp2 := float64(nside) * z * 0.75
		jp := int(temp1 - temp2)
		jm := int(temp1 + temp2)
		ir := nside + 1 + jp - jm
		kshift := 1 - (ir & 1)
		ip := (jp + jm - nside + kshift + 1 + 8*nside) / 2
		ip = mod(ip, 4*nside)
		return s.ncap + (ir-1)*4*nside + ip
	}

	tp := tt - math.Floor(tt)
	tmp := float64(nside) * math.Sqrt(3*(1-za))
	jp := int(tp * tmp)
	jm := int((1 - tp) * tmp)
	ir := jp + jm + 1
	ip := int(tt * float64(ir))
	ip = mod(ip, 4*ir)
	if z > 0 {
		return 2*ir*(ir-1) + ip
	}
	return s.npix - 2*ir*(ir+1) + ip
}

// Pix2Ang returns the centre of pixel pix as (lon, lat) in degrees.
func (s Scheme) Pix2Ang(pix int) (lon, lat float64) {
	z, phi := s.pix2zphi(pix)
	return sky.FromTheta(math.Acos(z), phi)
}

func (s Scheme) pix2zphi(pix int) (z, phi float64) {
	r := s.ringOf(pix)
	ri := s.ring(r)
	j := pix - ri.start
	return ri.z, ri.phi(j)
}

// ring describes one iso-latitude ring of pixel centres.
type ring struct {
	start   int
	n       int
	z       float64
	shifted bool
}

func (r ring) phi(j int) float64 {
	off := 0.0
	if r.shifted {
		off = 0.5
	}
	return (float64(j) + off) * 2 * math.Pi / float64(r.n)
}

// ring returns the geometry of ring i, numbered 1..4*nside-1 from the north pole.
func (s Scheme) ring(i int) ring {
	nside := s.nside
	fn := float64(nside)
	switch {
	case i < nside:
		fi := float64(i)
		return ring{start: 2 * i * (i - 1), n: 4 * i, z: 1 - fi*fi/(3*fn*fn), shifted: true}
	case i <= 3*nside:
		return ring{
			start:   s.ncap + (i-nside)*4*nside,
			n:       4 * nside,
			z:       float64(2*nside-i) * 2 / (3 * fn),
			shifted: (i-nside)&1 == 0,
		}
	default:
		ii := 4*nside - i
		fi := float64(ii)
		return ring{start: s.npix - 2*ii*(ii+1), n: 4 * ii, z: -(1 - fi*fi/(3*fn*fn)), shifted: true}
	}
}

func (s Scheme) ringOf(pix int) int {
	switch {
	case pix < s.ncap:
		return (1 + isqrt(1+2*pix)) / 2
	case pix < s.npix-s.ncap:
		return (pix-s.ncap)/(4*s.nside) + s.nside
	default:
		ip := s.npix - pix
		return 4*s.nside - (1+isqrt(2*ip-1))/2
	}
}

// MaxPixRad returns the largest angular distance in degrees between any
// pixel centre and its corners.
func (s Scheme) MaxPixRad() float64 {
	t1 := 1 - 1/float64(s.nside)
	t1 *= t1
	va := vec(2.0/3.0, math.Pi/(4*float64(s.nside)))
	vb := vec(1-t1/3, 0)
	return angle(va, vb) * 180 / math.Pi
}

// QueryDisc returns the sorted pixels whose centres lie within radius degrees
// of (lon, lat). Set inclusive to also keep pixels that merely overlap the
// disc (centre within radius + MaxPixRad).
func (s Scheme) QueryDisc(lon, lat, radius float64, inclusive bool) []int {
	if radius < 0 {
		return nil
	}
	if inclusive {
		radius += s.MaxPixRad()
	}
	theta0, phi0 := sky.ToTheta(lon, lat)
	rad := radius * math.Pi / 180
	if rad >= math.Pi {
		out := make([]int, s.npix)
		for i := range out {
			out[i] = i
		}
		return out
	}
	z0 := math.Cos(theta0)
	sinTheta0 := math.Sin(theta0)
	cosRad := math.Cos(rad)

	thetaLo := math.Max(0, theta0-rad)
	thetaHi := math.Min(math.Pi, theta0+rad)

	var out []int
	for i := 1; i < 4*s.nside; i++ {
		r := s.ring(i)
		theta := math.Acos(r.z)
		// Ring centres only need to be tested inside the colatitude band.
		if theta < thetaLo-1e-12 || theta > thetaHi+1e-12 {
			continue
		}
		sinTheta := math.Sqrt(math.Max(0, 1-r.z*r.z))
		denom := sinTheta0 * sinTheta
		var dphi float64
		if denom <= 0 {
			dphi = math.Pi
		} else {
			c := (cosRad - z0*r.z) / denom
			switch {
			case c <= -1:
				dphi = math.Pi
			case c >= 1:
				continue
			default:
				dphi = math.Acos(c)
			}
		}
		out = appendRingRange(out, r, phi0, dphi)
	}
	sort.Ints(out)
	return out
}

// Base-face layout: ring (in units of nside) and longitude index of each
// face's southernmost corner.
var (
	faceRing = [12]int{2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
	facePhi  = [12]int{1, 3, 5, 7, 0, 2, 4, 6, 1, 3, 5, 7}
)

// Steps to the eight surrounding cells in face coordinates.
var (
	xOffset = [8]int{-1, -1, 0, 1, 1, 1, 0, -1}
	yOffset = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
)

// faceAcross[d][f] is the face reached from face f by a step that leaves it,
// with d = 4 + dx + 3*dy for the face-level offsets dx, dy in {-1, 0, 1};
// -1 where three faces meet and no fourth exists.
var faceAcross = [9][12]int{
	{8, 9, 10, 11, -1, -1, -1, -1, 10, 11, 8, 9},
	{5, 6, 7, 4, 8, 9, 10, 11, 9, 10, 11, 8},
	{-1, -1, -1, -1, 5, 6, 7, 4, -1, -1, -1, -1},
	{4, 5, 6, 7, 11, 8, 9, 10, 11, 8, 9, 10},
	{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	{1, 2, 3, 0, 0, 1, 2, 3, 5, 6, 7, 4},
	{-1, -1, -1, -1, 7, 4, 5, 6, -1, -1, -1, -1},
	{3, 0, 1, 2, 3, 0, 1, 2, 4, 5, 6, 7},
	{2, 3, 0, 1, -1, -1, -1, -1, 0, 1, 2, 3},
}

// swapAcross[d][f/4] says how face coordinates transform across the edge:
// bit 1 flips x, bit 2 flips y, bit 4 swaps x and y.
var swapAcross = [9][3]int{
	{0, 0, 3},
	{0, 0, 6},
	{0, 0, 0},
	{0, 0, 5},
	{0, 0, 0},
	{5, 0, 0},
	{0, 0, 0},
	{6, 0, 0},
	{3, 0, 0},
}

// Neighbors returns the sorted pixels sharing an edge or a corner with pix:
// eight everywhere except the eight pixels at the corners where only three
// base faces meet, which have seven.
func (s Scheme) Neighbors(pix int) []int {
	ix, iy, face := s.xyf(pix)
	n := s.nside
	seen := map[int]bool{pix: true}
	out := make([]int, 0, 8)
	for d := range xOffset {
		x, y := ix+xOffset[d], iy+yOffset[d]
		dir := 4
		switch {
		case x < 0:
			x += n
			dir--
		case x >= n:
			x -= n
			dir++
		}
		switch {
		case y < 0:
			y += n
			dir -= 3
		case y >= n:
			y -= n
			dir += 3
		}
		f := faceAcross[dir][face]
		if f < 0 {
			continue
		}
		bits := swapAcross[dir][face/4]
		if bits&1 != 0 {
			x = n - x - 1
		}
		if bits&2 != 0 {
			y = n - y - 1
		}
		if bits&4 != 0 {
			x, y = y, x
		}
		p := s.ringPix(x, y, f)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out
}

// xyf converts a RING index to face coordinates.
func (s Scheme) xyf(pix int) (ix, iy, face int) {
	n := s.nside
	nl2 := 2 * n
	var iring, iphi, kshift, nr int
	switch {
	case pix < s.ncap:
		iring = (1 + isqrt(1+2*pix)) / 2
		iphi = pix + 1 - 2*iring*(iring-1)
		nr = iring
		face = (iphi - 1) / nr
	case pix < s.npix-s.ncap:
		ip := pix - s.ncap
		tmp := ip / (4 * n)
		iring = tmp + n
		iphi = ip - tmp*4*n + 1
		kshift = (iring + n) & 1
		nr = n
		ire := tmp + 1
		irm := nl2 + 2 - ire
		ifm := (iphi - ire/2 + n - 1) / n
		ifp := (iphi - irm/2 + n - 1) / n
		switch {
		case ifp == ifm:
			face = ifp | 4
		case ifp < ifm:
			face = ifp
		default:
			face = ifm + 8
		}
	default:
		ip := s.npix - pix
		iring = (1 + isqrt(2*ip-1)) / 2
		iphi = 4*iring + 1 - (ip - 2*iring*(iring-1))
		nr = iring
		iring = 2*nl2 - iring
		face = 8 + (iphi-1)/nr
	}
	irt := iring - faceRing[face]*n + 1
	ipt := 2*iphi - facePhi[face]*nr - kshift - 1
	if ipt >= nl2 {
		ipt -= 8 * n
	}
	return (ipt - irt) >> 1, (-ipt - irt) >> 1, face
}

// ringPix converts face coordinates to a RING index.
func (s Scheme) ringPix(ix, iy, face int) int {
	n := s.nside
	nl4 := 4 * n
	jr := faceRing[face]*n - ix - iy - 1
	var nr, before, kshift int
	switch {
	case jr < n:
		nr = jr
		before = 2 * nr * (nr - 1)
	case jr > 3*n:
		nr = nl4 - jr
		before = s.npix - 2*(nr+1)*nr
	default:
		nr = n
		before = s.ncap + (jr-n)*nl4
		kshift = (jr - n) & 1
	}
	jp := (facePhi[face]*nr + ix - iy + 1 + kshift) / 2
	switch {
	case jp > nl4:
		jp -= nl4
	case jp < 1:
		jp += nl4
	}
	return before + jp - 1
}

// appendRingRange appends the pixels of r whose centre longitude lies within
// dphi of phi0.
func appendRingRange(out []int, r ring, phi0, dphi float64) []int {
	if dphi >= math.Pi {
		for j := 0; j < r.n; j++ {
			out = append(out, r.start+j)
		}
		return out
	}
	off := 0.0
	if r.shifted {
		off = 0.5
	}
	step := 2 * math.Pi / float64(r.n)
	const eps = 1e-10
	lo := int(math.Ceil((phi0-dphi)/step - off - eps))
	hi := int(math.Floor((phi0+dphi)/step - off + eps))
	if hi-lo+1 >= r.n {
		lo, hi = 0, r.n-1
	}
	for j := lo; j <= hi; j++ {
		out = append(out, r.start+mod(j, r.n))
	}
	return out
}

func vec(z, phi float64) [3]float64 {
	st := math.Sqrt(math.Max(0, (1-z)*(1+z)))
	return [3]float64{st * math.Cos(phi), st * math.Sin(phi), z}
}

func angle(a, b [3]float64) float64 {
	cross := [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
	dot := a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
	return math.Atan2(math.Sqrt(cross[0]*cross[0]+cross[1]*cross[1]+cross[2]*cross[2]), dot)
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}

func isqrt(v int) int {
	r := int(math.Sqrt(float64(v) + 0.5))
	for r*r > v {
		r--
	}
	for (r+1)*(r+1) <= v {
		r++
	}
	return r
}
