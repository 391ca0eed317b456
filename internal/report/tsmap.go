// Package report renders scan maps and sampler chains for inspection: an
// interactive HTML test-statistic map and PNG trace plots.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/ultrafaint/internal/search"
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// PixelTS is the best candidate of one target pixel.
type PixelTS struct {
	Pixel    int
	Lon, Lat float64
	TS       float64
	Richness float64
	DM       float64
}

// BestPerPixel reduces a scan to its highest-TS candidate per target pixel,
// ordered by pixel.
func BestPerPixel(res *search.ScanResult) []PixelTS {
	best := make(map[int]PixelTS)
	for _, p := range res.Points {
		if !p.Candidate() {
			continue
		}
		if cur, ok := best[p.Pixel]; ok && cur.TS >= p.Result.TS {
			continue
		}
		best[p.Pixel] = PixelTS{
			Pixel:    p.Pixel,
			Lon:      p.Lon,
			Lat:      p.Lat,
			TS:       p.Result.TS,
			Richness: p.Result.Richness,
			DM:       p.Iso.DistanceModulus,
		}
	}
	out := make([]PixelTS, 0, len(best))
	for _, v := range best {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pixel < out[j].Pixel })
	return out
}

// WriteTSMap renders the per-pixel maximum TS of res as an HTML scatter
// chart in longitude and latitude.
func WriteTSMap(w io.Writer, res *search.ScanResult, title string) error {
	if res == nil {
		return fmt.Errorf("no scan result to render")
	}
	pixels := BestPerPixel(res)
	if len(pixels) == 0 {
		return fmt.Errorf("scan has no candidate points")
	}

	data := make([]opts.ScatterData, 0, len(pixels))
	lonMin, lonMax := math.Inf(1), math.Inf(-1)
	latMin, latMax := math.Inf(1), math.Inf(-1)
	maxTS := 0.0
	for _, p := range pixels {
		data = append(data, opts.ScatterData{
			Name:  fmt.Sprintf("pix %d  richness %.1f  m-M %.2f", p.Pixel, p.Richness, p.DM),
			Value: []interface{}{p.Lon, p.Lat, p.TS},
		})
		lonMin, lonMax = math.Min(lonMin, p.Lon), math.Max(lonMax, p.Lon)
		latMin, latMax = math.Min(latMin, p.Lat), math.Max(latMax, p.Lat)
		maxTS = math.Max(maxTS, p.TS)
	}
	if maxTS == 0 {
		maxTS = 1
	}
	pad := 0.05 * math.Max(lonMax-lonMin, latMax-latMin)

	subtitle := fmt.Sprintf("pixels=%d max TS=%.1f", len(pixels), maxTS)
	if est, ok := res.MLE(); ok {
		subtitle += fmt.Sprintf(" at (%.3f, %.3f) m-M=%.2f", est.Best.Lon, est.Best.Lat, est.Best.Iso.DistanceModulus)
	}
	if !res.Complete {
		subtitle += " (partial)"
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: lonMin - pad, Max: lonMax + pad, Name: "lon (deg)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: latMin - pad, Max: latMax + pad, Name: "lat (deg)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxTS),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("TS", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	return scatter.Render(w)
}
