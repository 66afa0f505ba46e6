package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapmap/internal/cli/output"
	"github.com/leapstack-labs/leapmap/internal/mapconfig"
	"github.com/leapstack-labs/leapmap/internal/state"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

// NewSnapshotCommand creates the snapshot command and its subcommands.
func NewSnapshotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshot",
		Aliases: []string{"snap"},
		Short:   "Save and restore layer snapshots",
		Long: `Manage snapshots of a map's layers in the state database.

A snapshot holds every layer config and its visibility. Restoring writes a
map document built from the snapshot, keeping the basemap, theme and view of
the current map file.`,
	}
	cmd.AddCommand(
		newSnapshotListCommand(),
		newSnapshotSaveCommand(),
		newSnapshotRestoreCommand(),
		newSnapshotDeleteCommand(),
	)
	return cmd
}

func openSnapshots(cmd *cobra.Command, c *CommandContext) (*state.SQLiteStore, error) {
	store, err := state.Open(cmd.Context(), c.Cfg.StatePath, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return store, nil
}

func newSnapshotListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := NewCommandContext(cmd)
			store, err := openSnapshots(cmd, c)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			snaps, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			r := c.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				if snaps == nil {
					snaps = []state.Snapshot{}
				}
				return r.JSON(snaps)
			}
			if len(snaps) == 0 {
				r.Muted("No snapshots")
				return nil
			}
			r.Header(1, fmt.Sprintf("Snapshots (%d)", len(snaps)))
			rows := make([][]any, len(snaps))
			for i, s := range snaps {
				rows[i] = []any{s.ID, s.Name, s.LayerCount, s.CreatedAt.Local().Format(time.DateTime)}
			}
			r.Table([]string{"id", "name", "layers", "created"}, rows)
			return nil
		},
	}
}

func newSnapshotSaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "save <name> [file]",
		Short: "Snapshot the layers of a map file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := NewCommandContext(cmd)
			m, err := c.loadMap(cmd, args[1:], false)
			if err != nil {
				return err
			}
			defer m.Close()

			store, err := openSnapshots(cmd, c)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			snap, err := store.Save(cmd.Context(), args[0], m.Session.Store().Export())
			if err != nil {
				return err
			}
			if c.Renderer.EffectiveMode() == output.ModeJSON {
				return c.Renderer.JSON(snap)
			}
			c.Renderer.Success(fmt.Sprintf("saved snapshot %s (%s, %d layers)", snap.ID, snap.Name, snap.LayerCount))
			return nil
		},
	}
}

func newSnapshotRestoreCommand() *cobra.Command {
	var out, to string
	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Write a map document from a snapshot",
		Example: `  # Print the restored map as JSON
  leapmap snapshot restore 3f1c...

  # Overwrite the map file; a running "serve --watch" picks it up
  leapmap snapshot restore 3f1c... --out map.yaml --to yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := NewCommandContext(cmd)
			store, err := openSnapshots(cmd, c)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			snap, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			doc := restoredDocument(c.Cfg.MapFile, snap.Export)
			data, err := encodeDocument(doc, to)
			if err != nil {
				return err
			}
			if out == "" {
				_, err = c.Renderer.Writer().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil { //nolint:gosec // map documents are not secret
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			c.Renderer.Success(fmt.Sprintf("restored %s (%d layers) to %s", snap.Name, snap.LayerCount, out))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Write to this file instead of stdout")
	cmd.Flags().StringVar(&to, "to", "json", "Document format: json, yaml")
	return cmd
}

func newSnapshotDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := NewCommandContext(cmd)
			store, err := openSnapshots(cmd, c)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			c.Renderer.Success("deleted snapshot " + args[0])
			return nil
		},
	}
}

// restoredDocument builds a map from a snapshot. Basemap, theme and view come
// from the map file at path when it loads.
func restoredDocument(path string, exp core.Export) core.MapConfig {
	var doc core.MapConfig
	if data, err := os.ReadFile(path); err == nil { //nolint:gosec // configured map path
		if cfg, _, err := mapconfig.Load(data, mapconfig.FormatFromPath(path)); err == nil && cfg != nil {
			doc = core.MapConfig{Basemap: cfg.Basemap, Theme: cfg.Theme, View: cfg.View}
		}
	}
	doc.Layers = make([]core.LayerConfig, len(exp.Layers))
	for i, l := range exp.Layers {
		if v, ok := exp.Visibility[l.ID]; ok {
			l.Visible = &v
		}
		doc.Layers[i] = l
	}
	return doc
}

func encodeDocument(doc core.MapConfig, to string) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	switch to {
	case "json":
		return append(data, '\n'), nil
	case "yaml":
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, err
		}
		return yaml.Marshal(generic)
	default:
		return nil, fmt.Errorf("unsupported format %q (use json or yaml)", to)
	}
}
