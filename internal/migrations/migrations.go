// Package migrations reads versioned SQL files and applies the pending ones
// through a backend-specific Executor.
package migrations

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/dre-reports/internal/logger"
)

//go:embed sql
var embedded embed.FS

// Dialect directories under sql/.
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
	BigQuery = "bigquery"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Executor runs migrations against one backend.
type Executor interface {
	// EnsureTable creates schema_migrations if it does not exist.
	EnsureTable(ctx context.Context) error

	// Applied lists migrations recorded in schema_migrations.
	Applied(ctx context.Context) ([]AppliedMigration, error)

	// Apply executes m and records it, atomically where the backend allows.
	Apply(ctx context.Context, m Migration, appliedBy string) error
}

// Pattern to match migration files: 0001_name.sql
var filenamePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// ParseFilename extracts version and name from a migration file name.
func ParseFilename(filename string) (int, string, bool) {
	matches := filenamePattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// Embedded returns the built-in migrations for dialect.
func Embedded(dialect string, replacements map[string]string) ([]Migration, error) {
	return Read(embedded, path.Join("sql", dialect), replacements)
}

// Read loads migration files from dir in fsys, sorted by version.
// Placeholders such as {{DATASET_ID}} are substituted after the checksum is
// computed, so the checksum tracks the logical migration only.
func Read(fsys fs.FS, dir string, replacements map[string]string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("Read: reading migrations directory %s: %w", dir, err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		version, name, ok := ParseFilename(entry.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("Read: duplicate migration version %04d (%s, %s)", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("Read: reading file %s: %w", entry.Name(), err)
		}

		sql := string(content)
		for placeholder, value := range replacements {
			sql = strings.ReplaceAll(sql, placeholder, value)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: entry.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Run applies every migration not yet recorded and returns how many ran.
// A recorded migration whose checksum differs from the file is an error.
func Run(ctx context.Context, exec Executor, migrations []Migration, appliedBy string) (int, error) {
	log := logger.FromContext(ctx)

	if err := exec.EnsureTable(ctx); err != nil {
		return 0, fmt.Errorf("Run: ensure schema_migrations: %w", err)
	}

	applied, err := exec.Applied(ctx)
	if err != nil {
		return 0, fmt.Errorf("Run: get applied migrations: %w", err)
	}

	appliedByVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		appliedByVersion[am.Version] = am
	}

	count := 0
	for _, m := range migrations {
		if am, ok := appliedByVersion[m.Version]; ok {
			if am.Checksum != "" && am.Checksum != m.Checksum {
				return count, fmt.Errorf("Run: migration %04d_%s was modified after being applied", m.Version, m.Name)
			}
			log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("Migration already applied")
			continue
		}

		if err := exec.Apply(ctx, m, appliedBy); err != nil {
			return count, fmt.Errorf("Run: apply %04d_%s: %w", m.Version, m.Name, err)
		}
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Migration applied")
		count++
	}

	return count, nil
}
