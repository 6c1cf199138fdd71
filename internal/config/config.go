// Package config loads service configuration from defaults, an optional
// config.yaml, a .env file and environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Database drivers understood by the store factory.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverBigQuery = "bigquery"
)

// Config is the complete service configuration.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	HTTP struct {
		Port         int           `mapstructure:"port"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		MaxUploadMB  int64         `mapstructure:"max_upload_mb"`
	} `mapstructure:"http"`

	Database struct {
		Driver     string `mapstructure:"driver"`
		URL        string `mapstructure:"url"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"database"`

	BigQuery struct {
		ProjectID string `mapstructure:"project_id"`
		Dataset   string `mapstructure:"dataset"`
	} `mapstructure:"bigquery"`

	Storage struct {
		Bucket string `mapstructure:"bucket"`
		Prefix string `mapstructure:"prefix"`
	} `mapstructure:"storage"`

	Fetch struct {
		DefaultURL  string        `mapstructure:"default_url"`
		Timeout     time.Duration `mapstructure:"timeout"`
		MaxAttempts int           `mapstructure:"max_attempts"`
		BaseDelay   time.Duration `mapstructure:"base_delay"`
		MaxDelay    time.Duration `mapstructure:"max_delay"`
	} `mapstructure:"fetch"`

	Mapping struct {
		File  string `mapstructure:"file"`
		Fuzzy bool   `mapstructure:"fuzzy"`
	} `mapstructure:"mapping"`

	AI struct {
		Enabled bool   `mapstructure:"enabled"`
		Model   string `mapstructure:"model"`
		APIKey  string `mapstructure:"api_key"`
	} `mapstructure:"ai"`

	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`

	Jobs struct {
		Workers    int `mapstructure:"workers"`
		MaxRetries int `mapstructure:"max_retries"`
	} `mapstructure:"jobs"`

	Notion struct {
		Token      string `mapstructure:"token"`
		DatabaseID string `mapstructure:"database_id"`
	} `mapstructure:"notion"`
}

// Load reads configuration. configFile may be empty, in which case config.yaml
// is searched in the working directory and $HOME/.dre-reports.
func Load(configFile string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.dre-reports")
	}

	v.SetEnvPrefix("DRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("Load: reading config file: %w", err)
		}
	}

	bindings := map[string]string{
		"database.url":        "DATABASE_URL",
		"storage.bucket":      "GCS_BUCKET",
		"auth.jwt_secret":     "JWT_SECRET",
		"ai.api_key":          "GEMINI_API_KEY",
		"notion.token":        "NOTION_TOKEN",
		"notion.database_id":  "NOTION_DATABASE_ID",
		"fetch.default_url":   "DRE_DOWNLOAD_URL",
		"bigquery.project_id": "GOOGLE_CLOUD_PROJECT",
	}
	for key, env := range bindings {
		// BindEnv replaces the automatic binding, so keep the prefixed name too.
		prefixed := "DRE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("Load: binding %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("Load: unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Load: invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 5*time.Minute)
	v.SetDefault("http.max_upload_mb", 32)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlite_path", "dre.db")

	v.SetDefault("bigquery.project_id", "")
	v.SetDefault("bigquery.dataset", "dre")

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "uploads/")

	v.SetDefault("fetch.default_url", "")
	v.SetDefault("fetch.timeout", 2*time.Minute)
	v.SetDefault("fetch.max_attempts", 4)
	v.SetDefault("fetch.base_delay", 500*time.Millisecond)
	v.SetDefault("fetch.max_delay", 10*time.Second)

	v.SetDefault("mapping.file", "")
	v.SetDefault("mapping.fuzzy", true)

	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.model", "gemini-2.5-flash")
	v.SetDefault("ai.api_key", "")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.max_retries", 3)

	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return errors.New("database.sqlite_path is required for the sqlite driver")
		}
	case DriverBigQuery:
		if c.BigQuery.ProjectID == "" || c.BigQuery.Dataset == "" {
			return errors.New("bigquery.project_id and bigquery.dataset are required for the bigquery driver")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	if c.Fetch.MaxAttempts < 1 {
		return errors.New("fetch.max_attempts must be at least 1")
	}
	if c.Jobs.Workers < 1 {
		return errors.New("jobs.workers must be at least 1")
	}
	if c.AI.Enabled && c.AI.APIKey == "" {
		return errors.New("ai.api_key (GEMINI_API_KEY) is required when ai.enabled is true")
	}
	if c.Storage.Prefix != "" && !strings.HasSuffix(c.Storage.Prefix, "/") {
		c.Storage.Prefix += "/"
	}
	return nil
}

// MaxUploadBytes is the multipart size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.HTTP.MaxUploadMB << 20
}
