package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FormatHeader returns a markdown header.
func FormatHeader(level int, text string) string {
	if level < 1 {
		level = 1
	}
	return strings.Repeat("#", level) + " " + text
}

// FormatKeyValue returns a markdown list item "- **Key:** value".
func FormatKeyValue(key, value string) string {
	return fmt.Sprintf("- **%s:** %s", key, value)
}

// Title capitalizes each word, e.g. "hex layer" becomes "Hex Layer".
func Title(s string) string {
	return cases.Title(language.English).String(s)
}

// FormatValue renders a cell value. Nil is NULL.
func FormatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

// Table writes rows as a boxed table in text mode or a pipe table in
// markdown mode.
func (r *Renderer) Table(header []string, rows [][]any) {
	WriteTable(r.out, r.EffectiveMode(), header, rows)
}

// WriteTable writes rows to w. Markdown mode writes a pipe table; any other
// mode writes a go-pretty light table.
func WriteTable(w io.Writer, mode OutputMode, header []string, rows [][]any) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	hr := make(table.Row, len(header))
	for i, h := range header {
		hr[i] = h
	}
	t.AppendHeader(hr)
	for _, row := range rows {
		tr := make(table.Row, len(row))
		for i, v := range row {
			tr[i] = FormatValue(v)
		}
		t.AppendRow(tr)
	}
	if mode == ModeMarkdown {
		t.RenderMarkdown()
		return
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
