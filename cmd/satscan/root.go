package main

import (
	"fmt"
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/banshee-data/ultrafaint/internal/catalog"
	"github.com/banshee-data/ultrafaint/internal/config"
	"github.com/banshee-data/ultrafaint/internal/mask"
	"github.com/banshee-data/ultrafaint/internal/monitoring"
	"github.com/banshee-data/ultrafaint/internal/pipeline"
	"github.com/banshee-data/ultrafaint/internal/simulate"
	"github.com/banshee-data/ultrafaint/internal/storage/sqlite"
	"github.com/banshee-data/ultrafaint/internal/version"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	dbPath     string
	verbose    bool
	logger     *charmlog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:   "satscan",
		Short: "Likelihood search for faint stellar satellites",
		Long: `satscan evaluates a satellite-versus-field likelihood over a grid of sky
positions and isochrones, and samples the posterior of promising candidates.

Commands:
  - simulate a field catalog with an injected satellite
  - scan a sky region and report the test-statistic map
  - sample the posterior around a position or the best scan candidate
  - list stored runs and manage the results database`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			g.setupLogging(cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "search configuration JSON (default: built-in defaults)")
	cmd.PersistentFlags().StringVar(&g.dbPath, "db", "satscan.db", "results database; empty disables storage")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		newSimulateCmd(g),
		newScanCmd(g),
		newSampleCmd(g),
		newRunsCmd(g),
		newMigrateCmd(g),
		newVersionCmd(),
	)
	return cmd
}

func (g *globals) setupLogging(w io.Writer) {
	level := charmlog.InfoLevel
	if g.verbose {
		level = charmlog.DebugLevel
	}
	g.logger = charmlog.NewWithOptions(w, charmlog.Options{
		Level:           level,
		ReportTimestamp: g.verbose,
		Prefix:          "satscan",
	})
	monitoring.UseCharm(g.logger)
}

func (g *globals) loadConfig() (*config.SearchConfig, error) {
	if g.configPath == "" {
		cfg := config.EmptySearchConfig()
		return cfg, cfg.Validate()
	}
	return config.LoadSearchConfig(g.configPath)
}

// openDB opens the results database, or returns nil when storage is off.
func (g *globals) openDB() (*sqlite.DB, error) {
	if g.dbPath == "" {
		return nil, nil
	}
	return sqlite.Open(g.dbPath)
}

// surveyFlags describe the catalog and the uniform survey it came from.
type surveyFlags struct {
	catalogPath string
	fraction    float64
	maglim      float64
}

func (s *surveyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.catalogPath, "catalog", "", "catalog CSV (id,lon,lat,mag1,mag2,magerr1,magerr2[,efficiency,source])")
	cmd.Flags().Float64Var(&s.fraction, "observed-fraction", 1, "observed fraction of every pixel")
	cmd.Flags().Float64Var(&s.maglim, "maglim", 25, "limiting magnitude of the survey")
	_ = cmd.MarkFlagRequired("catalog")
}

func (s *surveyFlags) inputs(cfg *config.SearchConfig) (pipeline.Inputs, error) {
	f, err := os.Open(s.catalogPath)
	if err != nil {
		return pipeline.Inputs{}, err
	}
	defer f.Close()
	objs, err := catalog.ReadCSV(f)
	if err != nil {
		return pipeline.Inputs{}, fmt.Errorf("%s: %w", s.catalogPath, err)
	}
	if s.fraction <= 0 || s.fraction > 1 {
		return pipeline.Inputs{}, fmt.Errorf("observed fraction must be in (0, 1], got %g", s.fraction)
	}
	lib, err := simulate.DefaultLibrary()
	if err != nil {
		return pipeline.Inputs{}, err
	}
	return pipeline.Inputs{
		Objects: objs,
		Mask:    mask.Uniform{Fraction: s.fraction, MagLim: s.maglim},
		Library: lib,
		Config:  cfg,
	}, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "satscan", version.String())
			return nil
		},
	}
}
