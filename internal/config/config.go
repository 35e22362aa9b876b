// Package config loads schemarev settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite3  = "sqlite3"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver            string        `yaml:"driver"`
	DSN               string        `yaml:"dsn"`
	ScriptsDir        string        `yaml:"scripts_dir"`
	HoldLockOnFailure bool          `yaml:"hold_lock_on_failure"`
	Timeout           time.Duration `yaml:"timeout"`
	Log               Log           `yaml:"log"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		Driver:  DriverSQLite3,
		DSN:     "schemarev.db",
		Timeout: 5 * time.Minute,
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults, then applies SCHEMAREV_* environment
// variables. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Driver = getEnvOrDefault("SCHEMAREV_DRIVER", c.Driver)
	c.DSN = getEnvOrDefault("SCHEMAREV_DSN", c.DSN)
	c.ScriptsDir = getEnvOrDefault("SCHEMAREV_SCRIPTS_DIR", c.ScriptsDir)
	c.Log.Level = getEnvOrDefault("SCHEMAREV_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvOrDefault("SCHEMAREV_LOG_FORMAT", c.Log.Format)

	if v := os.Getenv("SCHEMAREV_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SCHEMAREV_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Driver {
	case DriverSQLite3, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q", c.Driver))
	}
	if c.DSN == "" {
		errs = append(errs, errors.New("dsn is required"))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("negative timeout %s", c.Timeout))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
