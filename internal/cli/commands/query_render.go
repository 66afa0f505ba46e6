package commands

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/leapstack-labs/leapmap/internal/cli/output"
	"github.com/leapstack-labs/leapmap/internal/sqlruntime"
)

func renderResult(w io.Writer, res *sqlruntime.Result, format string) error {
	switch format {
	case "json":
		return renderJSON(w, res)
	case "csv":
		renderCSV(w, res)
	case "md", "markdown":
		renderMarkdown(w, res)
	default:
		renderTable(w, res)
	}
	return nil
}

func resultTable(w io.Writer, res *sqlruntime.Result) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)

	header := make(table.Row, len(res.Columns))
	for i, col := range res.Columns {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, r := range res.Rows {
		row := make(table.Row, len(res.Columns))
		for i, col := range res.Columns {
			row[i] = output.FormatValue(r[col])
		}
		t.AppendRow(row)
	}
	return t
}

func renderTable(w io.Writer, res *sqlruntime.Result) {
	if len(res.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}
	t := resultTable(w, res)
	t.SetStyle(table.StyleLight)
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows", res.Count)
	if res.Dropped > 0 {
		_, _ = fmt.Fprintf(w, ", %d without a valid cell", res.Dropped)
	}
	_, _ = fmt.Fprintln(w, ")")
}

func renderJSON(w io.Writer, res *sqlruntime.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func renderCSV(w io.Writer, res *sqlruntime.Result) {
	resultTable(w, res).RenderCSV()
}

func renderMarkdown(w io.Writer, res *sqlruntime.Result) {
	if len(res.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}
	resultTable(w, res).RenderMarkdown()
}
