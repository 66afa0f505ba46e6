// Package config loads leapmap application configuration.
//
// Values come from, lowest to highest precedence: built-in defaults, a
// leapmap.yaml file, LEAPMAP_ environment variables and explicitly set
// command-line flags.
package config

import "time"

// Config holds all application configuration options.
type Config struct {
	MapFile      string        `koanf:"map_file"`
	LogLevel     string        `koanf:"log_level"`
	LogFormat    string        `koanf:"log_format"`
	OutputFormat string        `koanf:"output"`
	StatePath    string        `koanf:"state_path"`
	Verbose      bool          `koanf:"verbose"`
	DuckDB       DuckDBConfig  `koanf:"duckdb"`
	Fetch        FetchConfig   `koanf:"fetch"`
	Server       ServerConfig  `koanf:"server"`
	Hydrate      HydrateConfig `koanf:"hydrate"`

	// ProjectRoot is the directory relative paths were resolved against.
	ProjectRoot string `koanf:"-"`
}

// DuckDBConfig configures the embedded SQL engine.
type DuckDBConfig struct {
	// Type is the adapter registered for the engine.
	Type string `koanf:"type"`
	Path string `koanf:"path"`
	// Params holds every other key of the duckdb block (extensions,
	// settings, secrets) for the adapter to decode.
	Params map[string]any `koanf:"-"`
}

// FetchConfig configures remote data loading.
type FetchConfig struct {
	Timeout time.Duration `koanf:"timeout"`
	// CacheTTL bounds how long computed color domains are reused.
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// ServerConfig configures `leapmap serve`.
type ServerConfig struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Watch    bool          `koanf:"watch"`
	Debounce time.Duration `koanf:"debounce"`
}

// HydrateConfig bounds table loading at map load.
type HydrateConfig struct {
	Workers int `koanf:"workers"`
}

// Default configuration values.
const (
	DefaultMapFile   = "map.json"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultOutput    = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultStateFile = ".leapmap/state.db"
	DefaultDuckDB    = "duckdb"
	DefaultDBPath    = ":memory:"
	DefaultTimeout   = 30 * time.Second
	DefaultCacheTTL  = 10 * time.Minute
	DefaultHost      = "127.0.0.1"
	DefaultPort      = 8787
	DefaultDebounce  = 100 * time.Millisecond
	DefaultWorkers   = 4
)

// defaults returns the flat default key map loaded before any other source.
func defaults() map[string]any {
	return map[string]any{
		"map_file":        DefaultMapFile,
		"log_level":       DefaultLogLevel,
		"log_format":      DefaultLogFormat,
		"output":          DefaultOutput,
		"state_path":      DefaultStateFile,
		"verbose":         false,
		"duckdb.type":     DefaultDuckDB,
		"duckdb.path":     DefaultDBPath,
		"fetch.timeout":   DefaultTimeout.String(),
		"fetch.cache_ttl": DefaultCacheTTL.String(),
		"server.host":     DefaultHost,
		"server.port":     DefaultPort,
		"server.watch":    true,
		"server.debounce": DefaultDebounce.String(),
		"hydrate.workers": DefaultWorkers,
	}
}

// Default returns a Config holding only the built-in defaults.
func Default() *Config {
	return &Config{
		MapFile:      DefaultMapFile,
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
		OutputFormat: DefaultOutput,
		StatePath:    DefaultStateFile,
		DuckDB:       DuckDBConfig{Type: DefaultDuckDB, Path: DefaultDBPath, Params: map[string]any{}},
		Fetch:        FetchConfig{Timeout: DefaultTimeout, CacheTTL: DefaultCacheTTL},
		Server:       ServerConfig{Host: DefaultHost, Port: DefaultPort, Watch: true, Debounce: DefaultDebounce},
		Hydrate:      HydrateConfig{Workers: DefaultWorkers},
	}
}
