package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/9in8/juillet/cmd/juillet/ui"
	"github.com/9in8/juillet/internal/app"
	"github.com/9in8/juillet/internal/bridge"
	"github.com/9in8/juillet/internal/engine"
	"github.com/9in8/juillet/internal/inspection"
	"github.com/9in8/juillet/internal/intake"
)

func (c *cli) inspectCmd() *cobra.Command {
	var (
		tool    string
		units   string
		baseURL string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "inspect <archive|packageId>",
		Short: "Inspect a package and print a summary of its report",
		Long: `Inspect extracts a local .zip or .rar archive into storage, runs the
engine on the document it holds and prints a summary of the report.

Passing the id of a package already in storage inspects it again; the
report is served from the package cache when one exists for the same
parameters.

Asset paths in the report point at the storage folder unless --base-url
is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), c.cfg.Engine.Timeout+time.Minute)
			defer cancel()

			a, err := c.newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			id := args[0]
			if intake.ValidateID(id) != nil {
				pkg, err := c.receive(ctx, a, tool, args[0])
				if err != nil {
					return err
				}
				id = pkg.ID
				c.ui.Success("Package %s extracted (%s)", id, filepath.Base(pkg.Document.Original))
			}

			if baseURL == "" {
				baseURL = filepath.ToSlash(a.Intake.StorageRoot())
			}

			sp := c.ui.Spinner("Inspecting package " + id)
			res, err := a.Resolver.Resolve(ctx, inspection.Request{
				PackageID: id,
				Tool:      tool,
				Params:    map[string]string{"units": units},
				BaseURL:   baseURL,
			})
			sp.Stop()
			if err != nil {
				return err
			}

			if output != "" {
				if err := writeReport(output, res.Outcome); err != nil {
					return err
				}
			}

			if c.ui.JSON() {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res.Outcome); err != nil {
					return err
				}
			}

			if !res.Outcome.Success {
				c.printFailure(res.Outcome)
				return fmt.Errorf("inspection of %s failed (%s)", id, res.Outcome.Failure)
			}

			return c.printSummary(id, res)
		},
	}

	cmd.Flags().StringVar(&tool, "tool", "indesign", "engine to inspect with")
	cmd.Flags().StringVarP(&units, "units", "u", string(engine.DefaultUnits), "measurement units: mm, cm, pt or px")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "value substituted for {hostname} in asset paths")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the full report envelope to this file")
	return cmd
}

// receive spools a local archive into intake with a progress bar.
func (c *cli) receive(ctx context.Context, a *app.App, tool, path string) (*intake.Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	bar := c.ui.ProgressBar(info.Size(), "Reading "+filepath.Base(path))
	up, err := a.Intake.Spool(io.TeeReader(f, bar), filepath.Base(path))
	bar.Finish()
	if err != nil {
		return nil, err
	}

	sp := c.ui.Spinner("Extracting " + filepath.Base(path))
	defer sp.Stop()
	return a.Receive(ctx, tool, up)
}

func writeReport(path string, out bridge.Outcome) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func (c *cli) printFailure(out bridge.Outcome) {
	if exc, ok := out.Exception(); ok {
		c.ui.Error("Engine exception: %s", exc.Error)
		if exc.File != "" {
			c.ui.Error("  at %s:%s", exc.File, string(exc.Line))
		}
		return
	}
	for _, msg := range out.Messages() {
		c.ui.Error("%s", msg)
	}
}

func (c *cli) printSummary(id string, res *inspection.Result) error {
	if c.ui.JSON() {
		return nil
	}

	report, err := engine.ParseReport(res.Outcome.Result)
	if err != nil {
		return err
	}
	summary, err := report.Summarize()
	if err != nil {
		return err
	}

	source := "engine"
	if res.CacheHit {
		source = "cache"
	}

	c.ui.Section("Inspection " + id)
	c.ui.KeyValue("Source", source)
	c.ui.KeyValue("Fingerprint", res.Fingerprint[:12])
	c.ui.KeyValue("Duration", ui.FormatDuration(res.Duration))
	c.ui.KeyValue("Size", ui.FormatBytes(int64(res.Bytes)))
	c.ui.KeyValue("Pages", summary.Pages)
	c.ui.KeyValue("Fonts", summary.Fonts)

	rows := make([][]string, 0, len(summary.Elements))
	for _, t := range summary.Types() {
		rows = append(rows, []string{string(t), strconv.Itoa(summary.Elements[t])})
	}
	if len(rows) > 0 {
		c.ui.Section("Page items")
		c.ui.Table([]string{"TYPE", "COUNT"}, rows)
	}
	return nil
}
