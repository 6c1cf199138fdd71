// Package infra selects and opens the configured persistence backend.
package infra

import (
	"context"
	"fmt"

	"github.com/dvloznov/dre-reports/internal/config"
	"github.com/dvloznov/dre-reports/internal/infra/bigquery"
	"github.com/dvloznov/dre-reports/internal/infra/postgres"
	"github.com/dvloznov/dre-reports/internal/infra/sqlite"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/dvloznov/dre-reports/internal/store"
)

// OpenStore opens the backend named by cfg.Database.Driver.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	log := logger.FromContext(ctx)

	var (
		s   store.Store
		err error
	)
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s, err = postgres.Open(ctx, cfg.Database.URL)
	case config.DriverSQLite:
		s, err = sqlite.Open(ctx, cfg.Database.SQLitePath)
	case config.DriverBigQuery:
		s, err = bigquery.Open(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset)
	default:
		return nil, fmt.Errorf("OpenStore: unknown database driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("OpenStore: %s: %w", cfg.Database.Driver, err)
	}

	log.Info().Str("driver", cfg.Database.Driver).Msg("Store opened")
	return s, nil
}
