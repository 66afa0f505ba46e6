package sqlruntime

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/leapstack-labs/leapmap/pkg/core"
)

// DataAlias is the name user SQL uses for the layer's table.
const DataAlias = "data"

// Result is the outcome of one RunSQL call.
type Result struct {
	LayerID string `json:"layerId"`
	// SQL is the compiled statement, echoed so callers can match a result to
	// the request that produced it.
	SQL     string           `json:"sql"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Count   int              `json:"count"`
	// Dropped counts rows without a valid spatial key.
	Dropped int `json:"dropped"`
}

var (
	lineComment  = regexp.MustCompile(`^--[^\n]*(\n|$)`)
	blockComment = regexp.MustCompile(`^(?s)/\*.*?\*/`)
	statementRe  = regexp.MustCompile(`(?i)^(select|with)\b`)
	recursiveRe  = regexp.MustCompile(`(?i)^with\s+recursive\b`)
)

// stripLeading removes leading whitespace and comments.
func stripLeading(text string) string {
	s := strings.TrimSpace(text)
	for {
		switch {
		case lineComment.MatchString(s):
			s = strings.TrimSpace(lineComment.ReplaceAllString(s, ""))
		case blockComment.MatchString(s):
			s = strings.TrimSpace(blockComment.ReplaceAllString(s, ""))
		default:
			return s
		}
	}
}

// IsStatement reports whether text is a full SELECT or WITH statement.
func IsStatement(text string) bool {
	return statementRe.MatchString(stripLeading(text))
}

// CompileSQL turns user input into a statement over "data". A full
// statement is used as-is, a bare predicate becomes a WHERE clause and
// empty input selects everything. A predicate that may end in a line
// comment gets its closing parenthesis on a new line.
func CompileSQL(text string) string {
	s := strings.TrimRight(stripLeading(text), "; \t\r\n")
	switch {
	case s == "":
		return "SELECT * FROM " + DataAlias
	case statementRe.MatchString(s):
		return s
	case strings.Contains(s, "--"):
		return fmt.Sprintf("SELECT * FROM %s WHERE (%s\n)", DataAlias, s)
	default:
		return fmt.Sprintf("SELECT * FROM %s WHERE (%s)", DataAlias, s)
	}
}

// bind prefixes compiled SQL with a CTE naming table as "data".
func bind(table, compiled string) string {
	cte := fmt.Sprintf("%s AS (SELECT * FROM %s)", DataAlias, quoteIdent(table))
	if loc := recursiveRe.FindStringIndex(compiled); loc != nil {
		return fmt.Sprintf("WITH RECURSIVE %s, %s", cte, strings.TrimSpace(compiled[loc[1]:]))
	}
	if strings.EqualFold(firstWord(compiled), "with") {
		return fmt.Sprintf("WITH %s, %s", cte, strings.TrimSpace(compiled[len("with"):]))
	}
	return fmt.Sprintf("WITH %s %s", cte, compiled)
}

func firstWord(s string) string {
	if i := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '(' }); i >= 0 {
		return s[:i]
	}
	return s
}

// RunSQL loads the layer's table if needed and runs text against it. Rows
// whose spatial key is missing or not a valid H3 cell are dropped.
func (r *Runtime) RunSQL(ctx context.Context, cfg core.LayerConfig, text string) (*Result, error) {
	table, err := r.EnsureTable(ctx, cfg)
	if err != nil {
		return nil, err
	}
	column := hexColumn(cfg)
	compiled := CompileSQL(text)

	start := time.Now()
	rows, err := r.adapter.Query(ctx, bind(table, compiled))
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", cfg.ID, err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("layer %q: failed to read columns: %w", cfg.ID, err)
	}

	res := &Result{LayerID: cfg.ID, SQL: compiled, Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("layer %q: failed to scan row: %w", cfg.ID, err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(vals[i])
		}
		if _, ok := CellOf(row[column]); !ok {
			res.Dropped++
			continue
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("layer %q: error iterating rows: %w", cfg.ID, err)
	}
	res.Count = len(res.Rows)

	r.logger.Debug("ran layer sql",
		"layer", cfg.ID,
		"sql", compiled,
		"rows", res.Count,
		"dropped", res.Dropped,
		"duration", time.Since(start))
	return res, nil
}

func hexColumn(cfg core.LayerConfig) string {
	if hex, ok := cfg.Source.(*core.HexSource); ok {
		return hex.Column()
	}
	return "hex"
}

// normalizeValue maps driver values onto JSON-friendly types.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	}
	return v
}
