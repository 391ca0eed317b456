package isochrone

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// IMF is an initial mass function. Integral returns the (unnormalized)
// number of stars with initial mass in [lo, hi] solar masses.
type IMF interface {
	Integral(lo, hi float64) float64
}

// Kroupa is the Kroupa (2001) broken power law.
type Kroupa struct{}

// Integral implements IMF.
func (Kroupa) Integral(lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	// Segment breaks and slopes; coefficients keep dN/dm continuous.
	breaks := []float64{0, 0.08, 0.5, math.Inf(1)}
	alphas := []float64{0.3, 1.3, 2.3}
	coeffs := []float64{1, 0.08, 0.08 * 0.5}

	var total float64
	for i, a := range alphas {
		l := math.Max(lo, breaks[i])
		h := math.Min(hi, breaks[i+1])
		if h <= l {
			continue
		}
		total += coeffs[i] * powerLawIntegral(l, h, a)
	}
	return total
}

func powerLawIntegral(lo, hi, alpha float64) float64 {
	if alpha == 1 {
		return math.Log(hi / lo)
	}
	k := 1 - alpha
	if lo == 0 {
		return math.Pow(hi, k) / k
	}
	return (math.Pow(hi, k) - math.Pow(lo, k)) / k
}

// Chabrier is the Chabrier (2003) system IMF: log-normal below 1 Msun and a
// Salpeter-like power law above.
type Chabrier struct{}

const (
	chabrierA     = 0.158
	chabrierMc    = 0.079
	chabrierSigma = 0.69
	chabrierSlope = 2.3
)

// Integral implements IMF. In x = log10(m) the log-normal segment is a
// Gaussian of amplitude A, so it integrates through the normal CDF; the tail
// is a power law matched to it at 1 Msun.
func (Chabrier) Integral(lo, hi float64) float64 {
	lo = math.Max(lo, 0)
	if hi <= lo {
		return 0
	}
	var total float64
	if lo < 1 {
		logN := distuv.Normal{Mu: math.Log10(chabrierMc), Sigma: chabrierSigma}
		xlo := math.Inf(-1)
		if lo > 0 {
			xlo = math.Log10(lo)
		}
		xhi := math.Log10(math.Min(hi, 1))
		total += chabrierA * chabrierSigma * math.Sqrt(2*math.Pi) * (logN.CDF(xhi) - logN.CDF(xlo))
	}
	if hi > 1 {
		d := math.Log10(chabrierMc)
		norm := chabrierA / math.Ln10 * math.Exp(-d*d/(2*chabrierSigma*chabrierSigma))
		total += norm * powerLawIntegral(math.Max(lo, 1), hi, chabrierSlope)
	}
	return total
}

// IMFByName returns the named IMF ("chabrier" or "kroupa").
func IMFByName(name string) (IMF, bool) {
	switch name {
	case "chabrier", "":
		return Chabrier{}, true
	case "kroupa":
		return Kroupa{}, true
	}
	return nil, false
}

// weightsFromIMF assigns each mass point the IMF integral over its bin.
// Bin edges are midpoints between neighbours; masses must be increasing.
func weightsFromIMF(imf IMF, masses []float64) []float64 {
	n := len(masses)
	w := make([]float64, n)
	if n == 0 {
		return w
	}
	if n == 1 {
		w[0] = 1
		return w
	}
	edge := func(i int) float64 {
		switch {
		case i == 0:
			return math.Max(0, masses[0]-(masses[1]-masses[0])/2)
		case i == n:
			return masses[n-1] + (masses[n-1]-masses[n-2])/2
		default:
			return (masses[i-1] + masses[i]) / 2
		}
	}
	for i := range masses {
		w[i] = imf.Integral(edge(i), edge(i+1))
	}
	return w
}
