package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/ultrafaint/internal/storage/sqlite"
)

func newMigrateCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the results database schema",
		Long: `Apply or roll back the embedded schema migrations of the results database.
Other commands migrate up automatically; use this to inspect the version,
roll back, or recover from a dirty migration with force.`,
	}
	open := func() (*sqlite.DB, error) {
		if g.dbPath == "" {
			return nil, fmt.Errorf("no results database (--db is empty)")
		}
		return sqlite.OpenDB(g.dbPath)
	}
	withDB := func(fn func(cmd *cobra.Command, db *sqlite.DB, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			return fn(cmd, db, args)
		}
	}
	status := func(cmd *cobra.Command, db *sqlite.DB) error {
		version, dirty, err := db.MigrateVersion()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty %t\n", version, dirty)
		return nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, db *sqlite.DB, _ []string) error {
				if err := db.MigrateUp(); err != nil {
					return err
				}
				return status(cmd, db)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, db *sqlite.DB, _ []string) error {
				if err := db.MigrateDown(); err != nil {
					return err
				}
				return status(cmd, db)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the schema version",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, db *sqlite.DB, _ []string) error {
				return status(cmd, db)
			}),
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: withDB(func(cmd *cobra.Command, db *sqlite.DB, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				if err := db.MigrateForce(v); err != nil {
					return err
				}
				return status(cmd, db)
			}),
		},
	)
	return cmd
}
