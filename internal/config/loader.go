package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config file names, in lookup order.
const (
	ConfigFileName    = "leapmap.yaml"
	ConfigFileNameAlt = "leapmap.yml"
)

// EnvPrefix prefixes every environment variable read. Nested keys use a
// double underscore: LEAPMAP_SERVER__PORT sets server.port.
const EnvPrefix = "LEAPMAP_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// flagKeys maps flag names whose config key is not the snake_case of the
// flag name.
var flagKeys = map[string]string{
	"map":      "map_file",
	"state":    "state_path",
	"database": "duckdb.path",
	"port":     "server.port",
	"host":     "server.host",
	"watch":    "server.watch",
	"workers":  "hydrate.workers",
}

// pathFlags are flags holding paths, resolved against the working directory
// rather than the project root.
var pathFlags = []string{"map", "state", "database"}

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config
)

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

// configIn returns the config file in dir, or "".
func configIn(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// findConfigUpward searches upward from startDir for a config file.
func findConfigUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if p := configIn(dir); p != "" {
			return p
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty, in-memory or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Load loads configuration from file, environment variables and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
// An empty cfgFile searches upward from the working directory.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	// Reset koanf for fresh load
	k = koanf.New(".")
	configFileUsed = ""

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	// 1. Load defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	if cfgFile == "" {
		cfgFile = findConfigUpward(cwd)
	}
	projectRoot := cwd
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
		configFileUsed = cfgFile
		if abs, err := filepath.Abs(cfgFile); err == nil {
			projectRoot = filepath.Dir(abs)
		}
	}

	// 3. Load environment variables
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.DuckDB.Params = engineParams(k.Cut("duckdb").Raw())

	// 6. Resolve paths. Paths given as flags are relative to the working
	// directory; everything else is relative to the project root.
	cfg.ProjectRoot = projectRoot
	cfg.MapFile = expandEnvVars(cfg.MapFile)
	cfg.DuckDB.Path = expandEnvVars(cfg.DuckDB.Path)
	fromFlag := flagPaths(flags)
	cfg.MapFile = resolvePathRelativeTo(cfg.MapFile, baseFor(fromFlag["map"], cwd, projectRoot))
	cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, baseFor(fromFlag["state"], cwd, projectRoot))
	cfg.DuckDB.Path = resolvePathRelativeTo(cfg.DuckDB.Path, baseFor(fromFlag["database"], cwd, projectRoot))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Store config for access by commands
	currentConfig = &cfg
	return &cfg, nil
}

func flagPaths(flags *pflag.FlagSet) map[string]bool {
	out := make(map[string]bool)
	if flags == nil {
		return out
	}
	for _, name := range pathFlags {
		if f := flags.Lookup(name); f != nil && f.Changed {
			out[name] = true
		}
	}
	return out
}

func baseFor(fromFlag bool, cwd, projectRoot string) string {
	if fromFlag {
		return cwd
	}
	return projectRoot
}

// engineParams returns the duckdb block without the keys Config holds
// itself, with ${VAR} references expanded.
func engineParams(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for key, v := range raw {
		if key == "type" || key == "path" {
			continue
		}
		out[key] = expandAny(v)
	}
	return out
}

func expandAny(v any) any {
	switch t := v.(type) {
	case string:
		return expandEnvVars(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, val := range t {
			out[key] = expandAny(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = expandAny(val)
		}
		return out
	default:
		return v
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the configuration from the last successful Load.
func GetCurrentConfig() *Config {
	return currentConfig
}
