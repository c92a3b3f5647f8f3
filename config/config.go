/*
Package config loads server configuration from a TOML file.

PURPOSE:
  Holds everything the server binary needs to start: listen address, database
  path and CORS origins. Values come from an optional config.toml; anything
  not set there falls back to DefaultConfig.

USAGE:
  cfg, err := config.Load("./config.toml")   // missing file -> defaults
*/
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// DatabaseConfig controls the SQLite database.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// SchedulerConfig controls the automatic monthly batch scheduler.
type SchedulerConfig struct {
	Enabled            bool   `toml:"enabled"`
	CheckIntervalHours int    `toml:"check_interval_hours"`
	InitiatedBy        string `toml:"initiated_by"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Path: "./data/billing.db",
		},
		Scheduler: SchedulerConfig{
			Enabled:            false,
			CheckIntervalHours: 6,
			InitiatedBy:        "scheduler",
		},
	}
}

// Load reads the TOML file at path on top of DefaultConfig. A missing file is
// not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
