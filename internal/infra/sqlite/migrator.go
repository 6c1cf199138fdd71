package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dvloznov/dre-reports/internal/migrations"
)

type migrator struct {
	db *sql.DB
}

func (m *migrator) EnsureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			name        TEXT NOT NULL,
			applied_at  TEXT NOT NULL,
			checksum    TEXT,
			applied_by  TEXT
		)
	`)
	return err
}

func (m *migrator) Applied(ctx context.Context) ([]migrations.AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT version, name, applied_at, checksum, applied_by
		FROM schema_migrations
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []migrations.AppliedMigration
	for rows.Next() {
		var (
			am                  migrations.AppliedMigration
			appliedAt           string
			checksum, appliedBy sql.NullString
		)
		if err := rows.Scan(&am.Version, &am.Name, &appliedAt, &checksum, &appliedBy); err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}
		am.AppliedAt = parseTime(appliedAt)
		am.Checksum = checksum.String
		am.AppliedBy = appliedBy.String
		applied = append(applied, am)
	}
	return applied, rows.Err()
}

func (m *migrator) Apply(ctx context.Context, mig migrations.Migration, appliedBy string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, name, applied_at, checksum, applied_by)
		VALUES (?, ?, ?, ?, ?)
	`, mig.Version, mig.Name, formatTime(time.Now()), mig.Checksum, appliedBy); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}
