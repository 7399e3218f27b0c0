// Package config holds the client configuration of the offline sync stack.
package config

import (
	"fmt"
	"time"

	"github.com/erauner12/garagesync/internal/scheduler"
	"github.com/rs/zerolog"
)

// Config holds all configuration for the sync client
type Config struct {
	APIBaseURL     string        `yaml:"apiBaseUrl"`
	DatabasePath   string        `yaml:"databasePath"`
	SessionToken   string        `yaml:"sessionToken"`
	DevSubject     string        `yaml:"devSubject"` // sent as X-Debug-Sub to dev-mode servers
	LogLevel       string        `yaml:"logLevel"`
	SyncSchedule   string        `yaml:"syncSchedule"`
	ProbeSchedule  string        `yaml:"probeSchedule"`
	MaxRetries     int           `yaml:"maxRetries"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:     "http://localhost:8080",
		DatabasePath:   "garagesync.db",
		LogLevel:       "info",
		SyncSchedule:   "@every 30s",
		ProbeSchedule:  "@every 15s",
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return ErrMissingAPIBaseURL
	}
	if c.DatabasePath == "" {
		return ErrMissingDatabasePath
	}
	if c.MaxRetries <= 0 {
		return ErrInvalidMaxRetries
	}
	for name, spec := range map[string]string{"syncSchedule": c.SyncSchedule, "probeSchedule": c.ProbeSchedule} {
		if spec == "" {
			continue
		}
		if err := scheduler.ValidateSpec(spec); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, name, err)
		}
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid logLevel %q: %w", c.LogLevel, err)
	}
	return nil
}

// Level returns the zerolog level for LogLevel, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
