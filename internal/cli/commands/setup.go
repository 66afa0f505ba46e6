package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmap/internal/cli/output"
	"github.com/leapstack-labs/leapmap/internal/config"
	"github.com/leapstack-labs/leapmap/internal/mapconfig"
	"github.com/leapstack-labs/leapmap/internal/reconcile"
	"github.com/leapstack-labs/leapmap/internal/session"
	"github.com/leapstack-labs/leapmap/internal/sqlruntime"
	"github.com/leapstack-labs/leapmap/pkg/adapter"
	"github.com/leapstack-labs/leapmap/pkg/core"

	// Registers the duckdb engine.
	_ "github.com/leapstack-labs/leapmap/pkg/adapters/duckdb"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext from the loaded configuration.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}
}

// getConfig returns the configuration loaded by the root command, or the
// defaults when a command runs standalone.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return config.Default()
}

// mapSource reads a map document. The path is args[0] when given, the
// configured map_file otherwise; "-" reads stdin.
func (c *CommandContext) mapSource(cmd *cobra.Command, args []string) ([]byte, mapconfig.Format, string, error) {
	path := c.Cfg.MapFile
	if len(args) > 0 && args[0] != "" {
		path = args[0]
	}
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, "", path, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, mapconfig.FormatAuto, path, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied map path
	if err != nil {
		return nil, "", path, fmt.Errorf("failed to read map file: %w", err)
	}
	return data, mapconfig.FormatFromPath(path), path, nil
}

// =============================================================================
// Live map
// =============================================================================

// liveMap is a session drawn into in-memory renderers, optionally backed by
// the configured SQL engine.
type liveMap struct {
	Session *session.Session
	Map     *reconcile.Recorder
	Overlay *reconcile.Recorder

	adapter core.Adapter
	runtime *sqlruntime.Runtime
}

// openMap builds a live map. With withEngine set it connects the configured
// engine so hex layers get tables.
func (c *CommandContext) openMap(ctx context.Context, withEngine bool) (*liveMap, error) {
	m := &liveMap{
		Map:     reconcile.NewRecorder("map"),
		Overlay: reconcile.NewRecorder("overlay"),
	}
	if withEngine {
		if err := m.connect(ctx, c.Cfg, c.Logger); err != nil {
			return nil, err
		}
	}
	sess, err := session.New(session.Options{
		Map:            m.Map,
		Overlay:        m.Overlay,
		Runtime:        m.runtime,
		HydrateWorkers: c.Cfg.Hydrate.Workers,
		Logger:         c.Logger,
	})
	if err != nil {
		m.Close()
		return nil, err
	}
	m.Session = sess
	return m, nil
}

func (m *liveMap) connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	acfg := core.AdapterConfig{Type: cfg.DuckDB.Type, Path: cfg.DuckDB.Path, Params: cfg.DuckDB.Params}
	adp, err := adapter.Open(ctx, acfg, logger)
	if err != nil {
		return err
	}
	rt, err := sqlruntime.New(adp, sqlruntime.Options{
		HTTPTimeout: cfg.Fetch.Timeout,
		CacheTTL:    cfg.Fetch.CacheTTL,
		Logger:      logger,
	})
	if err != nil {
		_ = adp.Close()
		return err
	}
	m.adapter = adp
	m.runtime = rt
	return nil
}

// Close releases the session, runtime and engine connection.
func (m *liveMap) Close() {
	if m.Session != nil {
		m.Session.Close()
	}
	if m.runtime != nil {
		m.runtime.Close()
	}
	if m.adapter != nil {
		_ = m.adapter.Close()
	}
}

// loadMap reads and loads the map document into a new live map. An invalid
// document is printed and returned as an error.
func (c *CommandContext) loadMap(cmd *cobra.Command, args []string, withEngine bool) (*liveMap, error) {
	data, format, path, err := c.mapSource(cmd, args)
	if err != nil {
		return nil, err
	}
	m, err := c.openMap(cmd.Context(), withEngine)
	if err != nil {
		return nil, err
	}
	result, err := m.Session.Load(cmd.Context(), data, format)
	if err != nil {
		m.Close()
		return nil, err
	}
	if !result.Valid {
		m.Close()
		renderValidation(c.Renderer, path, result)
		return nil, errInvalidMap
	}
	return m, nil
}
