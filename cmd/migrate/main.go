package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dvloznov/dre-reports/internal/config"
	"github.com/dvloznov/dre-reports/internal/infra"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/dvloznov/dre-reports/internal/migrations"
)

var (
	configFile = flag.String("config", "", "Path to config.yaml (optional)")
	driver     = flag.String("driver", "", "Database driver (overrides database.driver)")
	appliedBy  = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	list       = flag.Bool("list", false, "List the embedded migrations and exit")
)

func main() {
	flag.Parse()
	log := logger.New()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *driver != "" {
		cfg.Database.Driver = *driver
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("Invalid configuration")
		}
	}

	if *list {
		if err := listMigrations(os.Stdout, cfg.Database.Driver); err != nil {
			log.Fatal().Err(err).Msg("Failed to list migrations")
		}
		return
	}

	ctx := logger.WithContext(context.Background(), log)
	applied, err := run(ctx, cfg, *appliedBy)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	if applied == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", applied).Msg("Migrations applied")
	}
}

// run opens the configured store and applies its pending migrations.
func run(ctx context.Context, cfg *config.Config, appliedBy string) (int, error) {
	st, err := infra.OpenStore(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer st.Close()

	return st.Migrate(ctx, appliedBy)
}

// listMigrations prints the embedded migrations of a driver, one per line.
func listMigrations(w io.Writer, driver string) error {
	ms, err := migrations.Embedded(dialectOf(driver), map[string]string{})
	if err != nil {
		return err
	}
	for _, m := range ms {
		fmt.Fprintf(w, "%04d_%s  %s\n", m.Version, m.Name, m.Checksum[:12])
	}
	return nil
}

func dialectOf(driver string) string {
	switch driver {
	case config.DriverPostgres:
		return migrations.Postgres
	case config.DriverBigQuery:
		return migrations.BigQuery
	}
	return migrations.SQLite
}
