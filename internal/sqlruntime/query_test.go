package sqlruntime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmap/internal/testutil"
	"github.com/leapstack-labs/leapmap/pkg/adapters/duckdb"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

func TestCompileSQL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare predicate", "pct > 50", "SELECT * FROM data WHERE (pct > 50)"},
		{"empty", "   ", "SELECT * FROM data"},
		{"select kept", "SELECT hex FROM data LIMIT 3", "SELECT hex FROM data LIMIT 3"},
		{"lower-case select", "  select * from data", "select * from data"},
		{"with kept", "WITH t AS (SELECT * FROM data) SELECT * FROM t", "WITH t AS (SELECT * FROM data) SELECT * FROM t"},
		{"leading comments", "-- top cells\n/* hot */ SELECT * FROM data", "SELECT * FROM data"},
		{"trailing semicolon", "pct > 50;", "SELECT * FROM data WHERE (pct > 50)"},
		{"selection column is a predicate", "selected = true", "SELECT * FROM data WHERE (selected = true)"},
		{"trailing line comment", "pct > 50 -- hot cells", "SELECT * FROM data WHERE (pct > 50 -- hot cells\n)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompileSQL(tt.in))
		})
	}
}

func TestBind(t *testing.T) {
	tests := []struct {
		name     string
		compiled string
		want     string
	}{
		{
			name:     "select",
			compiled: "SELECT * FROM data",
			want:     `WITH data AS (SELECT * FROM "layer_h") SELECT * FROM data`,
		},
		{
			name:     "with",
			compiled: "with t AS (SELECT 1) SELECT * FROM t",
			want:     `WITH data AS (SELECT * FROM "layer_h"), t AS (SELECT 1) SELECT * FROM t`,
		},
		{
			name:     "recursive",
			compiled: "WITH RECURSIVE r(n) AS (SELECT 1) SELECT * FROM r",
			want:     `WITH RECURSIVE data AS (SELECT * FROM "layer_h"), r(n) AS (SELECT 1) SELECT * FROM r`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bind("layer_h", tt.compiled))
		})
	}
}

func newDuckRuntime(t *testing.T) *Runtime {
	t.Helper()
	adp := duckdb.New(testutil.NewTestLogger(t))
	require.NoError(t, adp.Connect(context.Background(), core.AdapterConfig{Path: ":memory:"}))
	t.Cleanup(func() { _ = adp.Close() })
	return newRuntime(t, adp, nil)
}

func cellsLayer() core.LayerConfig {
	return hexLayer("cells", &core.HexSource{Data: []map[string]any{
		{"hex": "8928308280fffff", "pct": 61.5},
		{"hex": "8928308280bffff", "pct": 12.0},
		{"hex": "8928308283bffff", "pct": 88.0},
		{"hex": "not-a-cell", "pct": 99.0},
		{"hex": nil, "pct": 70.0},
	}})
}

func TestRunSQL_ScenarioD(t *testing.T) {
	rt := newDuckRuntime(t)

	res, err := rt.RunSQL(context.Background(), cellsLayer(), "pct > 50")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM data WHERE (pct > 50)", res.SQL)
	assert.Equal(t, 2, res.Count, "rows without a valid cell are dropped")
	assert.Equal(t, 2, res.Dropped)
	assert.ElementsMatch(t, []string{"hex", "pct"}, res.Columns)

	var hexes []any
	for _, row := range res.Rows {
		hexes = append(hexes, row["hex"])
	}
	assert.ElementsMatch(t, []any{"8928308280fffff", "8928308283bffff"}, hexes)
}

func TestRunSQL_FullStatementAndCustomColumn(t *testing.T) {
	rt := newDuckRuntime(t)
	cfg := hexLayer("cells", &core.HexSource{
		HexColumn: "h3",
		Data: []map[string]any{
			{"h3": "8928308280fffff", "pct": 61.5},
			{"h3": "8928308280bffff", "pct": 12.0},
		},
	})

	res, err := rt.RunSQL(context.Background(), cfg, "SELECT h3, pct * 2 AS doubled FROM data ORDER BY pct")
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)
	assert.Equal(t, 24.0, res.Rows[0]["doubled"])
}

func TestRunSQL_BadSQL(t *testing.T) {
	rt := newDuckRuntime(t)
	_, err := rt.RunSQL(context.Background(), cellsLayer(), "no_such_column > 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `layer "cells"`)
}

func TestRunSQL_PredicateWithTrailingComment(t *testing.T) {
	rt := newDuckRuntime(t)
	res, err := rt.RunSQL(context.Background(), cellsLayer(), "pct > 50 -- hot cells")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
}

func TestGetMinMax_DuckDB(t *testing.T) {
	rt := newDuckRuntime(t)
	bounds, err := rt.GetMinMax(context.Background(), cellsLayer(), "pct")
	require.NoError(t, err)
	require.NotNil(t, bounds)
	assert.Equal(t, [2]float64{12, 99}, *bounds)
}
