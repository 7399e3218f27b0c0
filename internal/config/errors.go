package config

import "errors"

var (
	// ErrMissingAPIBaseURL indicates that the API base URL is not configured
	ErrMissingAPIBaseURL = errors.New("apiBaseUrl is required in configuration")

	// ErrMissingDatabasePath indicates that the local database path is empty
	ErrMissingDatabasePath = errors.New("databasePath is required in configuration")

	// ErrInvalidSchedule indicates a sync or probe schedule that cron cannot parse
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrInvalidMaxRetries indicates a non-positive abandonment threshold
	ErrInvalidMaxRetries = errors.New("maxRetries must be positive")

	// ErrConfigFileNotFound indicates that the config file was not found
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates that the config file has invalid YAML
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")
)
