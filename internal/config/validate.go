package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmap/pkg/adapter"
)

var (
	logLevels   = []string{"debug", "info", "warn", "error"}
	logFormats  = []string{"text", "json"}
	outputModes = []string{"auto", "text", "markdown", "json"}
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !slices.Contains(logLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("log_level must be one of %s, got %q", strings.Join(logLevels, "|"), c.LogLevel)
	}
	if !slices.Contains(logFormats, strings.ToLower(c.LogFormat)) {
		return fmt.Errorf("log_format must be one of %s, got %q", strings.Join(logFormats, "|"), c.LogFormat)
	}
	if !slices.Contains(outputModes, strings.ToLower(c.OutputFormat)) {
		return fmt.Errorf("output must be one of %s, got %q", strings.Join(outputModes, "|"), c.OutputFormat)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Fetch.Timeout < 0 {
		return fmt.Errorf("fetch.timeout must not be negative")
	}
	if c.Hydrate.Workers < 0 {
		return fmt.Errorf("hydrate.workers must not be negative")
	}
	return c.DuckDB.Validate()
}

// Validate checks that the engine type is a registered adapter.
func (d *DuckDBConfig) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("duckdb.type is required")
	}
	if !adapter.IsRegistered(strings.ToLower(d.Type)) {
		return &adapter.UnknownAdapterError{
			Type:      d.Type,
			Available: adapter.ListAdapters(),
		}
	}
	return nil
}
