package main

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/9in8/juillet/internal/storage"
)

func (c *cli) purgeCmd() *cobra.Command {
	var (
		olderThan time.Duration
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove packages older than a retention period",
		Long: `Purge deletes package folders, cache entries included, whose last
modification is older than --older-than, along with their journal rows.

WARNING: This operation is irreversible. Use --dry-run first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			a, err := c.newApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Purge(cmd.Context(), olderThan, dryRun)
			if err != nil {
				return fmt.Errorf("purge failed: %w", err)
			}

			if c.ui.JSON() {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			verb := "Removed"
			if dryRun {
				verb = "Would remove"
			}
			for _, id := range res.Removed {
				c.ui.Info("%s %s", verb, id)
			}
			c.ui.Success("%s %d package(s) last modified before %s", verb, len(res.Removed), res.Cutoff.Local().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "retention period")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list packages without removing them")
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run inspection journal migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := storage.Open(c.cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			if db == nil {
				c.ui.Warning("The inspection journal is disabled, nothing to migrate")
				return nil
			}
			defer db.Close()

			mm := storage.NewMigrationManager(db, c.cfg.Database.Driver)
			var status *storage.MigrationStatus
			if check {
				status, err = mm.Check(cmd.Context())
			} else {
				status, err = mm.Migrate(cmd.Context())
			}
			if err != nil {
				return err
			}

			if c.ui.JSON() {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(status)
			}
			if !status.UpToDate {
				c.ui.Warning("%d pending migration(s): %v", len(status.Pending), status.Pending)
				return nil
			}
			c.ui.Success("Journal schema is up to date (%s, version %s)", c.cfg.Database.Driver, status.Current)
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "only report pending migrations")
	return cmd
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if c.outputJSON {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
					"version": Version,
					"go":      runtime.Version(),
				})
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "juillet %s (%s)\n", Version, runtime.Version())
		},
	}
}
