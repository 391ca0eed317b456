package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/ultrafaint/internal/search"
	"github.com/banshee-data/ultrafaint/internal/simulate"
)

// DistanceProfile returns TS against distance modulus at the best pixel and
// the best (age, Z) of res, sorted by distance modulus.
func DistanceProfile(res *search.ScanResult) (plotter.XYs, error) {
	best, ok := res.Max()
	if !ok {
		return nil, fmt.Errorf("scan has no candidate points")
	}
	var pts plotter.XYs
	for _, p := range res.Points {
		if !p.Candidate() || p.Pixel != best.Pixel || p.Iso.Age != best.Iso.Age || p.Iso.Z != best.Iso.Z {
			continue
		}
		pts = append(pts, plotter.XY{X: p.Iso.DistanceModulus, Y: p.Result.TS})
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].X < pts[j].X })
	return pts, nil
}

// SaveDistanceProfile plots DistanceProfile to a PNG at path.
func SaveDistanceProfile(path string, res *search.ScanResult) error {
	pts, err := DistanceProfile(res)
	if err != nil {
		return err
	}
	best, _ := res.Max()

	p := plot.New()
	p.Title.Text = fmt.Sprintf("TS profile at pixel %d (age %.1f Gyr, Z %.4g)", best.Pixel, best.Iso.Age, best.Iso.Z)
	p.X.Label.Text = "Distance modulus"
	p.Y.Label.Text = "TS"
	if err := plotutil.AddLinePoints(p, "TS", pts); err != nil {
		return fmt.Errorf("failed to add profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// WriteSummary prints the maximum-likelihood estimate of res.
func WriteSummary(w io.Writer, res *search.ScanResult) error {
	est, ok := res.MLE()
	if !ok {
		_, err := fmt.Fprintf(w, "no candidates (%d points, %d failed regions)\n", len(res.Points), len(res.Failed))
		return err
	}
	b := est.Best
	r := b.Result
	lines := []string{
		fmt.Sprintf("TS                %.2f", r.TS),
		fmt.Sprintf("richness          %.2f +/- %.2f", r.Richness, r.RichnessErr),
		fmt.Sprintf("stellar mass      %.1f Msun", r.StellarMass),
		fmt.Sprintf("n_signal          %.1f", r.NSignal),
		fmt.Sprintf("observable frac   %.3f", r.Fraction),
		fmt.Sprintf("lon               %.4f [%.4f, %.4f]", b.Lon, est.Lon[0], est.Lon[1]),
		fmt.Sprintf("lat               %.4f [%.4f, %.4f]", b.Lat, est.Lat[0], est.Lat[1]),
		fmt.Sprintf("distance modulus  %.2f [%.2f, %.2f]", b.Iso.DistanceModulus, est.DistanceModulus[0], est.DistanceModulus[1]),
		fmt.Sprintf("distance          %.1f kpc", simulate.Distance(b.Iso.DistanceModulus)),
		fmt.Sprintf("age, Z            %.2f Gyr, %.5f", b.Iso.Age, b.Iso.Z),
	}
	if b.UpperLimit > 0 {
		lines = append(lines, fmt.Sprintf("richness 68%%      [%.2f, %.2f], 95%% UL %.2f", b.Lower, b.Upper, b.UpperLimit))
	}
	if !res.Complete {
		lines = append(lines, "scan incomplete: estimate covers the evaluated pixels only")
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
