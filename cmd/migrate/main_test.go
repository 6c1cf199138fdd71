package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/dvloznov/dre-reports/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "dre.db")
	return cfg
}

func TestRun_AppliesOnce(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)

	applied, err := run(ctx, cfg, "test")
	require.NoError(t, err)
	assert.Positive(t, applied)

	applied, err = run(ctx, cfg, "test")
	require.NoError(t, err)
	assert.Zero(t, applied, "second run finds nothing pending")
}

func TestListMigrations(t *testing.T) {
	for _, driver := range []string{config.DriverSQLite, config.DriverPostgres, config.DriverBigQuery} {
		t.Run(driver, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, listMigrations(&buf, driver))
			assert.Contains(t, buf.String(), "0001_init_schema")
		})
	}
}
