package postgres

import (
	"context"
	"fmt"

	"github.com/dvloznov/dre-reports/internal/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type migrator struct {
	pool *pgxpool.Pool
}

func (m *migrator) EnsureTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			name        TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			checksum    TEXT,
			applied_by  TEXT
		)
	`)
	return err
}

func (m *migrator) Applied(ctx context.Context) ([]migrations.AppliedMigration, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT version, name, applied_at, COALESCE(checksum, ''), COALESCE(applied_by, '')
		FROM schema_migrations
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (migrations.AppliedMigration, error) {
		var am migrations.AppliedMigration
		err := row.Scan(&am.Version, &am.Name, &am.AppliedAt, &am.Checksum, &am.AppliedBy)
		return am, err
	})
}

// Apply runs the migration and records it in one transaction. The migration
// text is sent without arguments so multi-statement files are accepted.
func (m *migrator) Apply(ctx context.Context, mig migrations.Migration, appliedBy string) error {
	return pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.SQL); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO schema_migrations (version, name, checksum, applied_by)
			VALUES ($1, $2, $3, $4)
		`, mig.Version, mig.Name, mig.Checksum, appliedBy); err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		return nil
	})
}
