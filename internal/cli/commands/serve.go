package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmap/internal/server"
	"github.com/leapstack-labs/leapmap/internal/state"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var noSnapshots bool
	cmd := &cobra.Command{
		Use:   "serve [file]",
		Short: "Serve a live map over HTTP",
		Long: `Load a map and serve it over HTTP: a JSON API for layer operations, SQL
filters and color compilation, server-sent change events at /api/events and
snapshot routes backed by the state database.

With --watch the map file is reloaded whenever it changes. An edit that does
not validate leaves the running map as it is.`,
		Example: `  # Serve the configured map file
  leapmap serve

  # Serve and reload on change
  leapmap serve maps/city.yaml --watch --port 9000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, args, noSnapshots)
		},
	}
	cmd.Flags().BoolVar(&noSnapshots, "no-snapshots", false, "Disable the snapshot routes")
	return cmd
}

func runServe(cmd *cobra.Command, args []string, noSnapshots bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)

	c := NewCommandContext(cmd)
	m, err := c.loadMap(cmd, args, true)
	if err != nil {
		return err
	}
	defer m.Close()

	mapFile := c.Cfg.MapFile
	if len(args) > 0 {
		mapFile = args[0]
	}

	srvCfg := server.Config{
		Session:   m.Session,
		Renderers: []server.Inspector{m.Map, m.Overlay},
		Host:      c.Cfg.Server.Host,
		Port:      c.Cfg.Server.Port,
		Watch:     c.Cfg.Server.Watch && mapFile != "-",
		Debounce:  c.Cfg.Server.Debounce,
		Logger:    c.Logger,
	}
	if srvCfg.Watch {
		srvCfg.MapFile = mapFile
	}
	if !noSnapshots {
		store, err := state.Open(ctx, c.Cfg.StatePath, c.Logger)
		if err != nil {
			return fmt.Errorf("failed to open state database: %w", err)
		}
		defer func() { _ = store.Close() }()
		srvCfg.Snapshots = store
	}

	for id, ferr := range m.Session.Failures() {
		c.Renderer.Warning(fmt.Sprintf("layer %s: %v", id, ferr))
	}
	c.Renderer.Success(fmt.Sprintf("serving %d layers on http://%s:%d", m.Session.Store().Len(), srvCfg.Host, srvCfg.Port))

	if err := server.New(srvCfg).Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
