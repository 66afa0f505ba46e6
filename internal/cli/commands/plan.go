package commands

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmap/internal/cli/output"
	"github.com/leapstack-labs/leapmap/internal/reconcile"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand() *cobra.Command {
	var noEngine bool
	cmd := &cobra.Command{
		Use:   "plan [file]",
		Short: "Show the renderer objects a map produces",
		Long: `Load a map into in-memory renderers and print what was drawn: one source
per layer and the primitives stacked on top of it, bottom to top, for both
the map and the hex overlay. Per-layer failures are listed at the end.`,
		Example: `  leapmap plan map.yaml
  leapmap plan map.yaml -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, args, noEngine)
		},
	}
	cmd.Flags().BoolVar(&noEngine, "no-engine", false, "Do not load hex layers into the SQL engine")
	return cmd
}

type planOutput struct {
	Drawn    []string                           `json:"drawn"`
	Backends map[string]reconcile.RecorderState `json:"backends"`
	Failures map[string]string                  `json:"failures,omitempty"`
}

func runPlan(cmd *cobra.Command, args []string, noEngine bool) error {
	c := NewCommandContext(cmd)
	m, err := c.loadMap(cmd, args, !noEngine)
	if err != nil {
		return err
	}
	defer m.Close()

	out := planOutput{
		Drawn: m.Session.Engine().Drawn(),
		Backends: map[string]reconcile.RecorderState{
			m.Map.Name():     m.Map.State(),
			m.Overlay.Name(): m.Overlay.State(),
		},
	}
	if f := m.Session.Failures(); len(f) > 0 {
		out.Failures = make(map[string]string, len(f))
		for id, err := range f {
			out.Failures[id] = err.Error()
		}
	}

	r := c.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(1, fmt.Sprintf("Plan (%d layers drawn)", len(out.Drawn)))
	for _, rec := range []*reconcile.Recorder{m.Map, m.Overlay} {
		st := rec.State()
		if len(st.Layers) == 0 {
			continue
		}
		r.Println("")
		r.Header(2, output.Title(rec.Name()))
		rows := make([][]any, 0, len(st.Layers))
		for _, l := range slices.Backward(st.Layers) {
			src := st.Sources[l.Source]
			rows = append(rows, []any{l.ID, l.Type, l.Source, describeSource(src), l.Layout["visibility"]})
		}
		r.Table([]string{"primitive", "type", "source", "data", "visibility"}, rows)
	}

	if len(out.Failures) > 0 {
		r.Println("")
		r.Header(2, "Failures")
		ids := make([]string, 0, len(out.Failures))
		for id := range out.Failures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			r.StatusLine(id, "failed", out.Failures[id])
		}
	}
	return nil
}

func describeSource(s reconcile.SourceSpec) string {
	switch {
	case s.Data != nil:
		return fmt.Sprintf("%s, %d features", s.Type, len(s.Data.Features))
	case len(s.Rows) > 0:
		return fmt.Sprintf("%s, %d rows", s.Type, len(s.Rows))
	case s.URL != "":
		return s.Type + " " + s.URL
	case len(s.Tiles) > 0:
		return s.Type + " " + strings.Join(s.Tiles, " ")
	}
	return s.Type
}
