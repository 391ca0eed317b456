package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/ultrafaint/internal/config"
	"github.com/banshee-data/ultrafaint/internal/report"
	"github.com/banshee-data/ultrafaint/internal/roi"
	"github.com/banshee-data/ultrafaint/internal/search"
	"github.com/banshee-data/ultrafaint/internal/storage/sqlite"
)

type scanOptions struct {
	survey   surveyFlags
	lon, lat float64
	radius   float64
	label    string
	html     string
	profile  string
}

func newScanCmd(g *globals) *cobra.Command {
	o := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a likelihood grid scan over a sky region",
		Long: `Scan every observed coarse pixel whose centre lies in the region, profiling
the richness at each candidate centroid and isochrone of the configured grid.
The maximum-likelihood summary is printed; the map is stored in the results
database and optionally rendered as an HTML TS map and a distance profile.

The configured timeout bounds the scan; an interrupted or timed-out scan
keeps the pixels it finished.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, g, o)
		},
	}
	o.survey.register(cmd)
	f := cmd.Flags()
	f.Float64Var(&o.lon, "lon", 35, "region centre longitude (deg)")
	f.Float64Var(&o.lat, "lat", -30, "region centre latitude (deg)")
	f.Float64Var(&o.radius, "radius", 0.5, "region radius (deg)")
	f.StringVar(&o.label, "label", "", "label stored with the run")
	f.StringVar(&o.html, "html", "", "write the TS map as HTML to this path")
	f.StringVar(&o.profile, "profile", "", "write the TS distance profile PNG to this path")
	return cmd
}

func runScan(cmd *cobra.Command, g *globals, o *scanOptions) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	in, err := o.survey.inputs(cfg)
	if err != nil {
		return err
	}
	req, err := in.ScanRequest(roi.Disc{Lon: o.lon, Lat: o.lat, Radius: o.radius})
	if err != nil {
		return err
	}
	req.Progress = func(done, total int) {
		g.logger.Debug("scan progress", "pixels", done, "of", total)
	}

	ctx := cmd.Context()
	if timeout := cfg.GetTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	g.logger.Info("scan started", "pixels", len(req.Pixels), "isochrones", len(req.Grid.DistanceModulus)*len(req.Grid.Age)*len(req.Grid.Z))
	runner := search.NewRunner()
	if err := runner.Start(ctx, req); err != nil {
		return err
	}
	// The scan stops on its own when ctx ends.
	state, _ := runner.Wait(context.Background())
	res := state.Result
	switch state.Status {
	case search.ScanStatusError:
		return fmt.Errorf("scan failed: %s", state.Error)
	case search.ScanStatusCancelled:
		g.logger.Warn("scan stopped early", "pixels", state.CompletedPixels, "of", state.TotalPixels, "reason", state.Error)
	}
	if res == nil {
		return fmt.Errorf("scan produced no result")
	}
	for pix, perr := range res.Failed {
		g.logger.Warn("pixel skipped", "pixel", pix, "err", perr)
	}

	if err := report.WriteSummary(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if err := saveScan(cmd.Context(), g, o.label, cfg, res); err != nil {
		return err
	}
	if o.html != "" {
		if err := writeTSMap(o.html, res, o.label); err != nil {
			return err
		}
	}
	if o.profile != "" {
		if err := report.SaveDistanceProfile(o.profile, res); err != nil {
			g.logger.Warn("distance profile skipped", "err", err)
		}
	}
	return cmd.Context().Err()
}

func saveScan(ctx context.Context, g *globals, label string, cfg *config.SearchConfig, res *search.ScanResult) error {
	db, err := g.openDB()
	if err != nil || db == nil {
		return err
	}
	defer db.Close()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	run := &sqlite.ScanRun{Label: label, ConfigJSON: cfgJSON}
	// Saved even when ctx was interrupted so partial maps are kept.
	if err := db.Scans().Save(context.WithoutCancel(ctx), run, res); err != nil {
		return fmt.Errorf("save scan: %w", err)
	}
	g.logger.Info("scan stored", "run_id", run.RunID, "points", run.Points, "complete", run.Complete)
	return nil
}

func writeTSMap(path string, res *search.ScanResult, label string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	title := "TS map"
	if label != "" {
		title += " " + label
	}
	if err := report.WriteTSMap(f, res, title); err != nil {
		f.Close()
		return fmt.Errorf("ts map: %w", err)
	}
	return f.Close()
}
