package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/9in8/juillet/internal/storage"
)

func (c *cli) historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <packageId>",
		Short: "List the journaled inspections of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := c.newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Journal == nil {
				return fmt.Errorf("the inspection journal is disabled (database driver %q)", c.cfg.Database.Driver)
			}

			id := args[0]
			pkg, err := a.Journal.GetPackage(ctx, id)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			rows, err := a.Journal.ListInspections(ctx, id, limit)
			if err != nil {
				return err
			}
			if pkg == nil && len(rows) == 0 {
				return fmt.Errorf("no journal entries for package %s", id)
			}

			if c.ui.JSON() {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"package": pkg, "inspections": rows})
			}

			if pkg != nil {
				c.ui.Section("Package " + pkg.ID)
				c.ui.KeyValue("Engine", pkg.Tool)
				c.ui.KeyValue("Archive", pkg.FileName)
				c.ui.KeyValue("Document", pkg.Document)
				c.ui.KeyValue("Received", pkg.CreatedAt.Local().Format(time.RFC3339))
			}

			if len(rows) == 0 {
				c.ui.Info("No inspections yet")
				return nil
			}

			table := make([][]string, 0, len(rows))
			for _, in := range rows {
				status := "ok"
				if !in.Success {
					status = in.Failure
				}
				source := "engine"
				if in.CacheHit {
					source = "cache"
				}
				table = append(table, []string{
					in.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					in.Params["units"],
					source,
					status,
					strconv.FormatInt(in.DurationMS, 10) + "ms",
					in.Fingerprint[:12],
				})
			}
			c.ui.Section("Inspections")
			c.ui.Table([]string{"WHEN", "UNITS", "SOURCE", "STATUS", "DURATION", "FINGERPRINT"}, table)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of inspections to list")
	return cmd
}
