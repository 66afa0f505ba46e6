package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	Format string
	Input  string
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query <file> <layer> [SQL]",
		Short: "Filter a hex layer with SQL",
		Long: `Load a map, then run SQL against one hex layer's table and print the
rows the layer would draw.

The layer's table is always named "data". A bare expression is treated as a
filter: "income > 50000" runs SELECT * FROM data WHERE income > 50000.

When invoked without SQL on a terminal, enters interactive REPL mode.`,
		Example: `  # Filter rows
  leapmap query map.yaml income "pct > 50"

  # Full statement, JSON output
  leapmap query map.yaml income "SELECT hex, pct FROM data ORDER BY pct DESC LIMIT 5" --format json

  # SQL from a file
  leapmap query map.yaml income -i filter.sql

  # Interactive mode
  leapmap query map.yaml income`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "table", "Output format: table, json, csv, md")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read SQL from file")
	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "json", "csv", "md"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runQuery(cmd *cobra.Command, args []string, opts *QueryOptions) error {
	c := NewCommandContext(cmd)
	m, err := c.loadMap(cmd, args[:1], true)
	if err != nil {
		return err
	}
	defer m.Close()

	layer := args[1]
	if _, err := m.Session.Get(layer); err != nil {
		return err
	}

	var sqlText string
	switch {
	case len(args) > 2:
		sqlText = strings.Join(args[2:], " ")
	case opts.Input != "":
		content, err := os.ReadFile(opts.Input)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		sqlText = string(content)
	case !isTerminal(cmd.InOrStdin()):
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		sqlText = string(content)
	default:
		return runQueryREPL(cmd, m, layer, opts)
	}

	return executeAndRender(cmd.Context(), cmd.OutOrStdout(), m, layer, sqlText, opts.Format)
}

func executeAndRender(ctx context.Context, w io.Writer, m *liveMap, layer, sqlText, format string) error {
	res, err := m.Session.ApplySQL(ctx, layer, strings.TrimSpace(sqlText))
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	return renderResult(w, res, format)
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}
