package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dvloznov/dre-reports/internal/app"
	"github.com/dvloznov/dre-reports/internal/config"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// cli carries what the subcommands share. The application is opened on
// first use so that commands like mapping never touch the database.
type cli struct {
	configFile string
	cfg        *config.Config
	log        zerolog.Logger
	app        *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "dre",
		Short:         "Ingest DRE spreadsheets and report on them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.log = logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
			cmd.SetContext(logger.WithContext(cmd.Context(), c.log))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.close()
		},
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "Path to config.yaml (optional)")

	root.AddCommand(
		newIngestCmd(c),
		newUploadCmd(c),
		newRefreshDimensionsCmd(c),
		newReportCmd(c),
		newBatchesCmd(c),
		newPublishNotionCmd(c),
		newMappingCmd(c),
	)
	return root
}

// open builds the application and brings the schema up to date.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := app.New(ctx, c.cfg)
	if err != nil {
		return nil, err
	}
	if _, err := a.Store.Migrate(ctx, "cli"); err != nil {
		a.Close()
		return nil, fmt.Errorf("open: migrate: %w", err)
	}
	c.app = a
	return a, nil
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}
