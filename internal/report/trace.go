package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/ultrafaint/internal/search"
)

// SanitizeName maps s to a file-name-safe token: letters, digits, '-' and
// '_' are kept, runs of anything else collapse to one '_'.
func SanitizeName(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range s {
		ok := r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if ok {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unnamed"
	}
	return out
}

func paramName(c *search.Chain, d int) string {
	if d < len(c.Names) && c.Names[d] != "" {
		return c.Names[d]
	}
	return fmt.Sprintf("param%d", d)
}

// SaveChainPlots writes, per parameter of c, a trace plot of every walker
// and a marginal histogram of the samples after burn. Files go to dir as
// <prefix>_<param>_trace.png and <prefix>_<param>_hist.png; the paths are
// returned in parameter order.
func SaveChainPlots(dir, prefix string, c *search.Chain, burn int) ([]string, error) {
	if c == nil || len(c.Samples) == 0 {
		return nil, fmt.Errorf("chain has no samples")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	dim := len(c.Samples[0].Params)
	prefix = SanitizeName(prefix)
	colors := walkerColors(c.Walkers)

	var files []string
	for d := 0; d < dim; d++ {
		name := paramName(c, d)

		trace, err := tracePlot(c, d, name, colors)
		if err != nil {
			return files, err
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s_trace.png", prefix, SanitizeName(name)))
		if err := trace.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
			return files, fmt.Errorf("failed to save %s: %w", path, err)
		}
		files = append(files, path)

		hist, err := histPlot(c, d, name, burn)
		if err != nil {
			return files, err
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%s_hist.png", prefix, SanitizeName(name)))
		if err := hist.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
			return files, fmt.Errorf("failed to save %s: %w", path, err)
		}
		files = append(files, path)
	}
	return files, nil
}

func tracePlot(c *search.Chain, d int, name string, colors []color.Color) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s trace (%d walkers)", name, c.Walkers)
	p.X.Label.Text = "Step"
	p.Y.Label.Text = name

	series := make([]plotter.XYs, c.Walkers)
	for _, s := range c.Samples {
		if s.Walker < 0 || s.Walker >= c.Walkers {
			continue
		}
		series[s.Walker] = append(series[s.Walker], plotter.XY{X: float64(s.Step), Y: s.Params[d]})
	}
	for w, pts := range series {
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("walker %d %s: %w", w, name, err)
		}
		line.Width = vg.Points(0.5)
		line.Color = colors[w]
		p.Add(line)
	}
	return p, nil
}

func histPlot(c *search.Chain, d int, name string, burn int) (*plot.Plot, error) {
	values := plotter.Values(c.Column(d, burn))
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: no samples after burn-in %d", name, burn)
	}
	p := plot.New()
	lo, hi := c.Interval(d, burn, 0.68)
	p.Title.Text = fmt.Sprintf("%s  median %.4g  68%% [%.4g, %.4g]", name, c.Median(d, burn), lo, hi)
	p.X.Label.Text = name
	p.Y.Label.Text = "Samples"

	h, err := plotter.NewHist(values, 40)
	if err != nil {
		return nil, fmt.Errorf("%s histogram: %w", name, err)
	}
	p.Add(h)
	return p, nil
}

// walkerColors spreads n hues evenly around the colour wheel.
func walkerColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255), uint8(hueToRGB(p, q, h) * 255), uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
