package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/ultrafaint/internal/likelihood"
	"github.com/banshee-data/ultrafaint/internal/pipeline"
	"github.com/banshee-data/ultrafaint/internal/report"
	"github.com/banshee-data/ultrafaint/internal/search"
	"github.com/banshee-data/ultrafaint/internal/storage/sqlite"
)

type sampleOptions struct {
	survey   surveyFlags
	lon, lat float64
	richness float64
	dm       float64
	age, z   float64
	fromScan string
	label    string
	plots    string
}

func newSampleCmd(g *globals) *cobra.Command {
	o := &sampleOptions{}
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Fit a candidate and sample its posterior with the ensemble sampler",
		Long: `Refine a starting point by Nelder-Mead and run the affine-invariant ensemble
sampler around it over the configured free parameters. The start is taken
from the flags or, with --from-scan, from the best candidate of a stored scan.
Marginal medians and 68% intervals are printed and the chain is stored.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSample(cmd, g, o)
		},
	}
	o.survey.register(cmd)
	f := cmd.Flags()
	f.Float64Var(&o.lon, "lon", 35, "start longitude (deg)")
	f.Float64Var(&o.lat, "lat", -30, "start latitude (deg)")
	f.Float64Var(&o.richness, "richness", 10, "start richness")
	f.Float64Var(&o.dm, "distance-modulus", 18, "start distance modulus")
	f.Float64Var(&o.age, "age", 12, "start age (Gyr)")
	f.Float64Var(&o.z, "z", 0.0002, "start metallicity")
	f.StringVar(&o.fromScan, "from-scan", "", "start from the best candidate of this stored scan run")
	f.StringVar(&o.label, "label", "", "label stored with the chain")
	f.StringVar(&o.plots, "plots", "", "write trace and histogram PNGs to this directory")
	return cmd
}

func runSample(cmd *cobra.Command, g *globals, o *sampleOptions) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	in, err := o.survey.inputs(cfg)
	if err != nil {
		return err
	}
	start := search.Point{
		Richness: o.richness,
		Spatial:  cfg.Shape(),
		Iso:      likelihood.IsoParams{Age: o.age, Z: o.z, DistanceModulus: o.dm},
	}
	start.Spatial.Lon, start.Spatial.Lat = o.lon, o.lat

	db, err := g.openDB()
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	if o.fromScan != "" {
		if db == nil {
			return fmt.Errorf("--from-scan needs a results database")
		}
		res, err := db.Scans().Load(cmd.Context(), o.fromScan)
		if err != nil {
			return err
		}
		var ok bool
		if start, ok = pipeline.StartFromScan(res, start); !ok {
			return fmt.Errorf("scan %s has no candidates", o.fromScan)
		}
		g.logger.Info("starting from scan candidate", "lon", start.Spatial.Lon, "lat", start.Spatial.Lat, "richness", start.Richness)
	}

	res, err := in.Sample(cmd.Context(), start)
	if res == nil {
		return err
	}
	out := cmd.OutOrStdout()
	if res.Chain == nil {
		fmt.Fprintf(out, "fit: TS %.2f richness %.2f after %d evaluations (%s)\n", res.Fit.Profile.TS, res.Fit.Point.Richness, res.Fit.Evaluations, res.Fit.Status)
		return err
	}
	if err != nil {
		g.logger.Warn("sampling interrupted, keeping the partial chain", "steps", res.Chain.Steps, "err", err)
	}
	if res.Chain.Steps == 0 {
		return fmt.Errorf("sampler finished no steps")
	}

	fmt.Fprintf(out, "fit: TS %.2f after %d evaluations (%s)\n", res.Fit.Profile.TS, res.Fit.Evaluations, res.Fit.Status)
	fmt.Fprintf(out, "chain: %d walkers x %d steps, burn %d, mean acceptance %.2f\n",
		res.Chain.Walkers, res.Chain.Steps, res.Burn, res.Chain.MeanAcceptance())
	for _, e := range res.Estimates() {
		fmt.Fprintf(out, "%-18s %12.5g  [%.5g, %.5g]  fit %.5g\n", e.Name, e.Median, e.Lower, e.Upper, e.MaximumLikelihood)
	}

	name := o.label
	if db != nil {
		run := &sqlite.ChainRun{ScanRunID: o.fromScan, Label: o.label}
		if err := db.Chains().Save(context.WithoutCancel(cmd.Context()), run, res.Chain); err != nil {
			return fmt.Errorf("save chain: %w", err)
		}
		g.logger.Info("chain stored", "run_id", run.RunID, "samples", len(res.Chain.Samples))
		if name == "" {
			name = run.RunID
		}
	}
	if o.plots != "" {
		if name == "" {
			name = "chain"
		}
		files, err := report.SaveChainPlots(o.plots, name, res.Chain, res.Burn)
		if err != nil {
			return fmt.Errorf("chain plots: %w", err)
		}
		g.logger.Info("chain plots written", "files", len(files), "dir", o.plots)
	}
	return err
}
