// Package sky provides the spherical geometry shared by the likelihood
// components: great-circle separations and the gnomonic (tangent-plane)
// projection used to evaluate spatial kernels in a locally flat frame.
//
// All public functions take and return degrees. Internally angles are carried
// as unit.Angle so radian/degree conversions happen in one place.
package sky

import (
	"math"

	"github.com/soniakeys/unit"
)

// SquareDegreesPerSteradian converts solid angle in steradians to deg².
const SquareDegreesPerSteradian = (180 / math.Pi) * (180 / math.Pi)

// Separation returns the great-circle distance in degrees between two sky
// positions, using the haversine form which is stable at small separations.
func Separation(lon1, lat1, lon2, lat2 float64) float64 {
	φ1 := unit.AngleFromDeg(lat1)
	φ2 := unit.AngleFromDeg(lat2)
	dφ := φ2 - φ1
	dλ := unit.AngleFromDeg(lon2 - lon1)

	sdφ := math.Sin(dφ.Rad() / 2)
	sdλ := math.Sin(dλ.Rad() / 2)
	h := sdφ*sdφ + φ1.Cos()*φ2.Cos()*sdλ*sdλ
	if h > 1 {
		h = 1
	}
	return unit.Angle(2 * math.Asin(math.Sqrt(h))).Deg()
}

// NormalizeLon wraps a longitude into [0, 360).
func NormalizeLon(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	return lon
}

// Projector is a gnomonic projection about a fixed tangent point. Image
// coordinates are in degrees with x increasing toward larger longitude and
// y toward the north pole.
type Projector struct {
	lon0             unit.Angle
	sinLat0, cosLat0 float64
}

// NewProjector returns a projector tangent at (lon0, lat0).
func NewProjector(lon0, lat0 float64) Projector {
	s, c := unit.AngleFromDeg(lat0).Sincos()
	return Projector{lon0: unit.AngleFromDeg(lon0), sinLat0: s, cosLat0: c}
}

// SphereToImage projects (lon, lat) onto the tangent plane. Points on the far
// hemisphere have no gnomonic image; ok is false for them.
func (p Projector) SphereToImage(lon, lat float64) (x, y float64, ok bool) {
	sφ, cφ := unit.AngleFromDeg(lat).Sincos()
	sdλ, cdλ := (unit.AngleFromDeg(lon) - p.lon0).Sincos()

	cosc := p.sinLat0*sφ + p.cosLat0*cφ*cdλ
	if cosc <= 0 {
		return 0, 0, false
	}
	x = cφ * sdλ / cosc
	y = (p.cosLat0*sφ - p.sinLat0*cφ*cdλ) / cosc
	return unit.Angle(x).Deg(), unit.Angle(y).Deg(), true
}

// ImageToSphere inverts SphereToImage.
func (p Projector) ImageToSphere(x, y float64) (lon, lat float64) {
	xr := unit.AngleFromDeg(x).Rad()
	yr := unit.AngleFromDeg(y).Rad()
	ρ := math.Hypot(xr, yr)
	if ρ == 0 {
		return NormalizeLon(p.lon0.Deg()), unit.Angle(math.Asin(p.sinLat0)).Deg()
	}
	c := unit.Angle(math.Atan(ρ))
	sc, cc := c.Sincos()

	φ := math.Asin(cc*p.sinLat0 + yr*sc*p.cosLat0/ρ)
	λ := p.lon0.Rad() + math.Atan2(xr*sc, ρ*p.cosLat0*cc-yr*p.sinLat0*sc)
	return NormalizeLon(unit.Angle(λ).Deg()), unit.Angle(φ).Deg()
}

// ToTheta converts sky coordinates to HEALPix colatitude/longitude in radians.
func ToTheta(lon, lat float64) (theta, phi float64) {
	return math.Pi/2 - unit.AngleFromDeg(lat).Rad(), unit.AngleFromDeg(NormalizeLon(lon)).Rad()
}

// FromTheta converts HEALPix colatitude/longitude in radians to degrees.
func FromTheta(theta, phi float64) (lon, lat float64) {
	return NormalizeLon(unit.Angle(phi).Deg()), unit.Angle(math.Pi/2 - theta).Deg()
}
