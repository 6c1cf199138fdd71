package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/dre-reports/internal/migrations"
	"google.golang.org/api/iterator"
)

type migrator struct {
	store *Store
}

// EnsureTable creates the schema_migrations table if it doesn't exist.
func (m *migrator) EnsureTable(ctx context.Context) error {
	_, err := m.store.exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, m.store.table("schema_migrations")))
	return err
}

// Applied retrieves the list of already applied migrations.
func (m *migrator) Applied(ctx context.Context) ([]migrations.AppliedMigration, error) {
	it, err := m.store.read(ctx, fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, m.store.table("schema_migrations")))
	if err != nil {
		// If table doesn't exist yet, return empty list
		if isNotFound(err) {
			return []migrations.AppliedMigration{}, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []migrations.AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}

		applied = append(applied, migrations.AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}

	return applied, nil
}

// Apply executes the migration and then records it. BigQuery DDL cannot run
// inside a transaction, so migration files must be idempotent.
func (m *migrator) Apply(ctx context.Context, mig migrations.Migration, appliedBy string) error {
	if _, err := m.store.exec(ctx, mig.SQL); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}

	_, err := m.store.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, m.store.table("schema_migrations")),
		bigquery.QueryParameter{Name: "version", Value: mig.Version},
		bigquery.QueryParameter{Name: "name", Value: mig.Name},
		bigquery.QueryParameter{Name: "checksum", Value: mig.Checksum},
		bigquery.QueryParameter{Name: "applied_by", Value: appliedBy},
	)
	if err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return nil
}
