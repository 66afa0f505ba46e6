package commands

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmap/internal/sqlruntime"
	"github.com/leapstack-labs/leapmap/pkg/adapter"
)

const (
	replPrompt = "leapmap> "
	contPrompt = "    ...> "
)

func runQueryREPL(cmd *cobra.Command, m *liveMap, layer string, opts *QueryOptions) error {
	c := NewCommandContext(cmd)
	historyFile := filepath.Join(filepath.Dir(c.Cfg.StatePath), "query_history")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    newLayerCompleter(m),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "LeapMap Query REPL (layer: %s, table: %s)\n", layer, sqlruntime.DataAlias)
	_, _ = fmt.Fprintln(out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(out)

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if buf.Len() == 0 && strings.HasPrefix(line, ".") {
			quit, next := handleDotCommand(cmd, m, layer, line)
			if quit {
				break
			}
			layer = next
			continue
		}

		// Accumulate multi-line SQL until semicolon
		buf.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			buf.WriteString(" ")
			rl.SetPrompt(contPrompt)
			continue
		}
		rl.SetPrompt(replPrompt)

		query := strings.TrimSuffix(buf.String(), ";")
		buf.Reset()

		if err := executeAndRender(cmd.Context(), out, m, layer, query, opts.Format); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		_, _ = fmt.Fprintln(out)
	}
	return nil
}

// handleDotCommand runs one dot-command. It reports whether the REPL should
// exit and the layer to query next.
func handleDotCommand(cmd *cobra.Command, m *liveMap, layer, line string) (bool, string) {
	parts := strings.Fields(line)
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		return true, layer

	case ".help":
		printREPLHelp(out)

	case ".layers":
		for _, st := range m.Session.Store().List() {
			marker := " "
			if st.Config.ID == layer {
				marker = "*"
			}
			tag := ""
			if sqlruntime.IsTableBacked(st.Config) {
				tag = " (sql)"
			}
			_, _ = fmt.Fprintf(out, "%s %s %s%s\n", marker, st.Config.ID, st.Config.Type(), tag)
		}

	case ".use":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(errOut, "Usage: .use <layer>")
			break
		}
		if _, err := m.Session.Get(parts[1]); err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
			break
		}
		_, _ = fmt.Fprintf(out, "Querying %s\n", parts[1])
		return false, parts[1]

	case ".schema":
		if err := showSchema(cmd, m, layer); err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		}

	case ".clear":
		_, _ = fmt.Fprint(out, "\033[H\033[2J")

	default:
		_, _ = fmt.Fprintf(errOut, "Unknown command: %s (type .help for commands)\n", parts[0])
	}
	return false, layer
}

func showSchema(cmd *cobra.Command, m *liveMap, layer string) error {
	st, err := m.Session.Get(layer)
	if err != nil {
		return err
	}
	if m.runtime == nil || m.adapter == nil {
		return fmt.Errorf("no SQL engine")
	}
	table, err := m.runtime.EnsureTable(cmd.Context(), st.Config)
	if err != nil {
		return err
	}
	meta, err := m.adapter.GetTableMetadata(cmd.Context(), table)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Table: %s (%d rows)\n", sqlruntime.DataAlias, meta.RowCount)
	for _, col := range meta.Columns {
		_, _ = fmt.Fprintf(out, "  %-24s %-12s %s\n", col.Name, col.Type, adapter.ScaleFor(col.Type))
	}
	return nil
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help           Show this help message
  .layers         List layers (* marks the current one)
  .use <layer>    Switch the layer being queried
  .schema         Show the current layer's columns
  .clear          Clear the screen
  .quit / .exit   Exit the REPL

Tips:
  - SQL statements must end with a semicolon (;)
  - The layer's table is named "data"
  - A bare expression like "pct > 50;" is a filter
  - Use arrow keys to navigate history
`
	_, _ = fmt.Fprintln(w, help)
}

// newLayerCompleter completes dot-commands and, after .use, layer ids.
func newLayerCompleter(m *liveMap) *readline.PrefixCompleter {
	var layers []readline.PrefixCompleterInterface
	for _, st := range m.Session.Store().List() {
		layers = append(layers, readline.PcItem(st.Config.ID))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".layers"),
		readline.PcItem(".use", layers...),
		readline.PcItem(".schema"),
		readline.PcItem(".clear"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
		readline.PcItem("SELECT * FROM "+sqlruntime.DataAlias),
	)
}
