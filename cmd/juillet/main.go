// Package main provides the juillet CLI entrypoint.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/9in8/juillet/cmd/juillet/ui"
	"github.com/9in8/juillet/internal/app"
	"github.com/9in8/juillet/internal/config"
	"github.com/9in8/juillet/internal/observability"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "0.3.0-dev"

// cli holds the state shared by every command of one invocation.
type cli struct {
	cfgFile    string
	verbose    bool
	noColor    bool
	outputJSON bool

	cfg    *config.Config
	logger *observability.Logger
	ui     *ui.UI

	// newApp is replaced in tests to inject a fake engine.
	newApp func(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app.App, error)
}

func newRootCmd() *cobra.Command {
	c := &cli{
		newApp: func(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app.App, error) {
			return app.New(ctx, cfg, logger)
		},
	}
	return c.rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "juillet",
		Short: "Inspect InDesign packages from the command line",
		Long: `juillet extracts document packages, drives the document engine to
inspect them and keeps every report in the package cache.

Use this tool to:
- Inspect a local .zip or .rar package without running the API
- Review the inspection history of a package
- Purge old packages from storage
- Prepare the inspection journal database`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				c.ui = ui.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), c.noColor, c.outputJSON)
				return nil
			}

			if c.cfgFile == "" {
				c.cfgFile = os.Getenv("CONFIG_PATH")
			}
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c.cfg = cfg

			level := "warn"
			if c.verbose {
				level = "debug"
			}
			c.logger = observability.NewLogger(observability.LogConfig{
				Level:       level,
				Format:      "console",
				Output:      cmd.ErrOrStderr(),
				ServiceName: "juillet-cli",
			})
			c.ui = ui.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), c.noColor, c.outputJSON)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "s", "", "settings file path (default: $CONFIG_PATH, then built-in defaults)")
	root.PersistentFlags().BoolVar(&c.verbose, "verbose", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().BoolVar(&c.outputJSON, "json", false, "output in JSON format")

	// -v and --version print the version, as the version command does
	root.SetVersionTemplate("juillet {{.Version}}\n")

	root.AddCommand(c.inspectCmd())
	root.AddCommand(c.historyCmd())
	root.AddCommand(c.purgeCmd())
	root.AddCommand(c.migrateCmd())
	root.AddCommand(c.versionCmd())
	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}
