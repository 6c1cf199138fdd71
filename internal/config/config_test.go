package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "uploads/", cfg.Storage.Prefix)
	assert.Equal(t, 4, cfg.Fetch.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Fetch.BaseDelay)
	assert.True(t, cfg.Mapping.Fuzzy)
	assert.False(t, cfg.AI.Enabled)
	assert.Equal(t, int64(32<<20), cfg.MaxUploadBytes())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DRE_DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://dre@localhost/dre")
	t.Setenv("GCS_BUCKET", "dre_reports")
	t.Setenv("DRE_HTTP_PORT", "9090")
	t.Setenv("DRE_FETCH_BASE_DELAY", "2s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://dre@localhost/dre", cfg.Database.URL)
	assert.Equal(t, "dre_reports", cfg.Storage.Bucket)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 2*time.Second, cfg.Fetch.BaseDelay)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	content := `
database:
  driver: sqlite
  sqlite_path: /tmp/test.db
storage:
  prefix: raw
jobs:
  workers: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.Database.SQLitePath)
	assert.Equal(t, "raw/", cfg.Storage.Prefix)
	assert.Equal(t, 5, cfg.Jobs.Workers)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.Database.Driver = DriverSQLite
		c.Database.SQLitePath = "dre.db"
		c.HTTP.Port = 8080
		c.Fetch.MaxAttempts = 1
		c.Jobs.Workers = 1
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"postgres without url", func(c *Config) { c.Database.Driver = DriverPostgres }, true},
		{"bigquery without project", func(c *Config) { c.Database.Driver = DriverBigQuery }, true},
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }, true},
		{"zero attempts", func(c *Config) { c.Fetch.MaxAttempts = 0 }, true},
		{"ai without key", func(c *Config) { c.AI.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
