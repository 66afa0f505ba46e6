package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmap/internal/cli/output"
	"github.com/leapstack-labs/leapmap/internal/session"
	"github.com/leapstack-labs/leapmap/pkg/color"
)

// CompileOptions holds options for the compile command.
type CompileOptions struct {
	Layer    string
	Prop     string
	NoEngine bool
}

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	opts := &CompileOptions{}
	cmd := &cobra.Command{
		Use:   "compile [file]",
		Short: "Resolve one layer color to its renderer expression",
		Long: `Load a map, resolve one color property of a layer against the data the
layer renders and print the result: stops or categories, the domain and the
renderer expression.

Hex layers are loaded into the configured SQL engine first so continuous
domains reflect the whole table. Use --no-engine to compile against inline
data only.`,
		Example: `  leapmap compile map.yaml --layer income
  leapmap compile map.yaml --layer roads --prop lineColor -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Layer, "layer", "l", "", "Layer id (required)")
	cmd.Flags().StringVarP(&opts.Prop, "prop", "p", session.PropFillColor, "Color property: fillColor, lineColor")
	cmd.Flags().BoolVar(&opts.NoEngine, "no-engine", false, "Do not load hex layers into the SQL engine")
	_ = cmd.MarkFlagRequired("layer")
	return cmd
}

func runCompile(cmd *cobra.Command, args []string, opts *CompileOptions) error {
	c := NewCommandContext(cmd)
	m, err := c.loadMap(cmd, args, !opts.NoEngine)
	if err != nil {
		return err
	}
	defer m.Close()

	resolved, err := m.Session.Compile(opts.Layer, opts.Prop)
	if err != nil {
		return err
	}
	if ferr, ok := m.Session.Failures()[opts.Layer]; ok {
		c.Renderer.Warning(fmt.Sprintf("layer %s: %v", opts.Layer, ferr))
	}
	return renderResolved(c.Renderer, opts.Layer, opts.Prop, resolved)
}

type compileOutput struct {
	Layer      string         `json:"layer"`
	Prop       string         `json:"prop"`
	Resolved   color.Resolved `json:"resolved"`
	Expression any            `json:"renderExpression"`
}

func renderResolved(r *output.Renderer, layer, prop string, res color.Resolved) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(compileOutput{Layer: layer, Prop: prop, Resolved: res, Expression: res.Expression()})
	}

	r.Header(1, fmt.Sprintf("%s.%s", layer, prop))
	kv := func(k, v string) {
		if r.EffectiveMode() == output.ModeMarkdown {
			r.Println(output.FormatKeyValue(k, v))
			return
		}
		r.Printf("%s %s\n", r.Styles().Bold.Render(k+":"), v)
	}
	kv("Kind", output.Title(res.Kind.String()))
	if res.Attr != "" {
		kv("Attribute", res.Attr)
	}
	if res.Palette != "" {
		kv("Palette", res.Palette)
	}
	if res.Domain != nil {
		kv("Domain", fmt.Sprintf("[%g, %g]", res.Domain[0], res.Domain[1]))
	}
	if res.DomainPending {
		kv("Domain", "pending")
	}
	if res.Fallback {
		kv("Fallback", "yes")
	}
	kv("Null color", res.Null.CSS())

	switch {
	case len(res.Stops) > 0:
		rows := make([][]any, len(res.Stops))
		for i, s := range res.Stops {
			rows[i] = []any{s.Threshold, s.Color.CSS()}
		}
		r.Println("")
		r.Table([]string{"threshold", "color"}, rows)
	case len(res.Categories) > 0:
		rows := make([][]any, len(res.Categories))
		for i, cat := range res.Categories {
			rows[i] = []any{cat.Label, cat.Color.CSS()}
		}
		r.Println("")
		r.Table([]string{"value", "color"}, rows)
	default:
		kv("Color", res.Literal.CSS())
	}
	return nil
}
