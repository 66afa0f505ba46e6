package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapmap/internal/mapconfig"
)

// NewNormalizeCommand creates the normalize command.
func NewNormalizeCommand() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "normalize [file]",
		Short: "Print a map config in canonical form",
		Long: `Rewrite a map config in its canonical shape: legacy aliases renamed,
color strings expanded into color objects and scale shorthands unfolded.

Problems are reported on stderr; the normalized document is printed either way.`,
		Example: `  leapmap normalize map.yaml
  leapmap normalize map.json --to yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNormalize(cmd, args, to)
		},
	}
	cmd.Flags().StringVar(&to, "to", "json", "Document format: json, yaml")
	_ = cmd.RegisterFlagCompletionFunc("to", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func runNormalize(cmd *cobra.Command, args []string, to string) error {
	c := NewCommandContext(cmd)
	data, format, _, err := c.mapSource(cmd, args)
	if err != nil {
		return err
	}
	raw, err := mapconfig.Parse(data, format)
	if err != nil {
		return err
	}
	normalized := mapconfig.NormalizeInputs(raw)

	result := mapconfig.Validate(normalized)
	for _, e := range result.Errors {
		c.Renderer.Warning(e.String())
	}

	switch to {
	case "json":
		return c.Renderer.JSON(normalized)
	case "yaml":
		enc := yaml.NewEncoder(c.Renderer.Writer())
		enc.SetIndent(2)
		if err := enc.Encode(normalized); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q (use json or yaml)", to)
	}
}
