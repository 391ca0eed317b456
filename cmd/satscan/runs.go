package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/ultrafaint/internal/report"
	"github.com/banshee-data/ultrafaint/internal/storage/sqlite"
)

func newRunsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List, inspect and delete stored scan runs",
	}
	cmd.AddCommand(newRunsListCmd(g), newRunsShowCmd(g), newRunsDeleteCmd(g))
	return cmd
}

func (g *globals) requireDB() (*sqlite.DB, error) {
	db, err := g.openDB()
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, fmt.Errorf("no results database (--db is empty)")
	}
	return db, nil
}

func newRunsListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored scans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := g.requireDB()
			if err != nil {
				return err
			}
			defer db.Close()
			runs, err := db.Scans().List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tCREATED\tPOINTS\tFAILED\tCOMPLETE\tLABEL")
			for _, r := range runs {
				created := time.Unix(0, r.CreatedAt).UTC().Format(time.RFC3339)
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%t\t%s\n", r.RunID, created, r.Points, r.Failed, r.Complete, r.Label)
			}
			return tw.Flush()
		},
	}
}

func newRunsShowCmd(g *globals) *cobra.Command {
	var html string
	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print the maximum-likelihood summary of a stored scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := g.requireDB()
			if err != nil {
				return err
			}
			defer db.Close()
			res, err := db.Scans().Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			chains, err := db.Chains().ListByScan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := report.WriteSummary(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			for _, id := range chains {
				fmt.Fprintf(cmd.OutOrStdout(), "chain             %s\n", id)
			}
			if html != "" {
				return writeTSMap(html, res, args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&html, "html", "", "write the TS map as HTML to this path")
	return cmd
}

func newRunsDeleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete a stored scan and its points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := g.requireDB()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Scans().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			g.logger.Info("scan deleted", "run_id", args[0])
			return nil
		},
	}
}
