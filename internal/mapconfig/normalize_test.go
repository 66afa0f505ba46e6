package mapconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmap/pkg/color"
)

func mustParse(t *testing.T, doc string) any {
	t.Helper()
	v, err := Parse([]byte(doc), FormatAuto)
	require.NoError(t, err)
	return v
}

func firstLayer(t *testing.T, normalized any) map[string]any {
	t.Helper()
	root, ok := normalized.(map[string]any)
	require.True(t, ok)
	layers, ok := root["layers"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, layers)
	l, ok := layers[0].(map[string]any)
	require.True(t, ok)
	return l
}

var idempotenceCorpus = []string{
	`{"layers": []}`,
	`[{"type": "hexagon", "data": [{"hex": "8928308280fffff", "v": 1}]}]`,
	`{"initialViewState": {"center": [40.7, -120.5], "zoom": "9"}, "layers": []}`,
	`{"layers": [{"type": "geojson", "data": {"type": "Point", "coordinates": [1, 2]}, "fillColor": [0.5, 0.25, 1]}]}`,
	`{"layers": [{"type": "vector", "data": [{"type": "Feature", "geometry": null, "properties": {}}]}]}`,
	`{"layers": [{"type": "hex", "config": {"style": {"fillColor": {"@@function": "colorContinuous", "attr": "pct", "domain": [100, 0], "colors": "Sunset", "steps": "5"}}}}]}`,
	`{"layers": [{"type": "vector", "style": {"getFillColor": {"@@function": "colorCategories", "attr": "k", "domain": ["a", "b"], "nullColor": ["50%", "50%", "50%"]}}}]}`,
	`{"layers": [{"type": "vector", "style": {"fillColor": {"nullColor": [0.1, 0.2, 0.3, 1]}}}]}`,
	`{"layers": [{"id": 7, "type": "XYZ", "tile_url": "https://t/{z}/{x}/{y}.png", "tooltip": "name", "opacity": "50%"}]}`,
	`{"basemap": "Dark-Matter", "layers": [{"type": "tiles", "tile_url": "https://t/{z}/{x}/{y}.pbf", "source_layer": "roads", "style": {"lineColor": [255, 0, 0, 0.5]}}]}`,
	`"just a string"`,
	`42`,
	`null`,
	`{"layers": "not a list"}`,
	"layers:\n  - type: h3\n    data_url: https://example.com/h.parquet\n    style:\n      fillColor: {type: linear, field: pct, scheme: TealGrn}\n",
}

func TestNormalizeInputs_Idempotent(t *testing.T) {
	for _, doc := range idempotenceCorpus {
		t.Run(doc, func(t *testing.T) {
			raw := mustParse(t, doc)
			once := NormalizeInputs(raw)
			twice := NormalizeInputs(once)
			assert.Equal(t, once, twice)
		})
	}
}

func TestNormalizeInputs_DoesNotMutateInput(t *testing.T) {
	raw := mustParse(t, `{"layers": [{"type": "hexagon", "fillColor": [0.5, 0.5, 0.5]}]}`)
	before := cloneValue(raw)

	NormalizeInputs(raw)
	assert.Equal(t, before, raw)
}

func TestNormalizeInputs_NonObjectPassthrough(t *testing.T) {
	assert.Equal(t, "x", NormalizeInputs("x"))
	assert.Equal(t, 3.0, NormalizeInputs(3.0))
	assert.Nil(t, NormalizeInputs(nil))
}

func TestNormalizeInputs_LayerAliases(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hexagon", "hex"},
		{"H3", "hex"},
		{"geojson", "vector"},
		{"circle", "vector"},
		{"vector-tile", "mvt"},
		{"xyz", "raster"},
		{"pmtile", "pmtiles"},
		{"Hex", "hex"},
		{"mystery", "mystery"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			out := NormalizeInputs([]any{map[string]any{"type": tt.input}})
			assert.Equal(t, tt.want, firstLayer(t, out)["layerType"])
		})
	}
}

func TestNormalizeInputs_KeysAndStyleHoisting(t *testing.T) {
	out := NormalizeInputs(mustParse(t, `{"layers": [{
		"type": "hex",
		"tile_url": "https://t/{z}/{x}/{y}",
		"tooltip": "pct",
		"config": {"style": {"filled": true}, "tile": {"minZoom": 2}},
		"opacity": 0.4,
		"getFillColor": "#ff0000"
	}]}`))
	l := firstLayer(t, out)

	assert.Equal(t, "https://t/{z}/{x}/{y}", l["tileUrl"])
	assert.Equal(t, []any{"pct"}, l["tooltipColumns"])
	assert.Equal(t, map[string]any{"minZoom": 2.0}, l["tile"])
	assert.NotContains(t, l, "config")
	assert.NotContains(t, l, "opacity")
	assert.Equal(t, map[string]any{"filled": true, "opacity": 0.4, "fillColor": "#ff0000"}, l["style"])
}

func TestNormalizeInputs_FractionalColors(t *testing.T) {
	tests := []struct {
		name  string
		input []any
		want  []any
	}{
		{name: "unit floats scale", input: []any{0.5, 0.0, 1.0}, want: []any{128.0, 0.0, 255.0}},
		{name: "unit with alpha", input: []any{0.5, 0.5, 0.5, 1.0}, want: []any{128.0, 128.0, 128.0, 255.0}},
		{name: "integers untouched", input: []any{1.0, 0.0, 1.0}, want: []any{1.0, 0.0, 1.0}},
		{name: "byte range untouched", input: []any{200.0, 10.0, 30.0}, want: []any{200.0, 10.0, 30.0}},
		{name: "fractional alpha scales", input: []any{255.0, 0.0, 0.0, 0.5}, want: []any{255.0, 0.0, 0.0, 128.0}},
		{name: "percent strings", input: []any{"100%", "0%", "50%"}, want: []any{255.0, 0.0, 128.0}},
		{name: "not a color", input: []any{"a", 1.0, 2.0}, want: []any{"a", 1.0, 2.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NormalizeInputs(map[string]any{"layers": []any{
				map[string]any{"type": "vector", "style": map[string]any{"fillColor": tt.input}},
			}})
			style := firstLayer(t, out)["style"].(map[string]any)
			assert.Equal(t, tt.want, style["fillColor"])
		})
	}
}

func TestNormalizeInputs_GeoJSONCoercion(t *testing.T) {
	geom := map[string]any{"type": "Point", "coordinates": []any{1.0, 2.0}}
	out := NormalizeInputs([]any{map[string]any{"type": "vector", "data": geom}})
	data := firstLayer(t, out)["data"].(map[string]any)

	assert.Equal(t, "FeatureCollection", data["type"])
	features := data["features"].([]any)
	require.Len(t, features, 1)
	f := features[0].(map[string]any)
	assert.Equal(t, "Feature", f["type"])
	assert.Equal(t, geom, f["geometry"])

	feature := map[string]any{"type": "Feature", "geometry": geom, "properties": map[string]any{"a": 1.0}}
	out = NormalizeInputs([]any{map[string]any{"type": "vector", "data": feature}})
	assert.Equal(t, map[string]any{"type": "FeatureCollection", "features": []any{feature}}, firstLayer(t, out)["data"])

	out = NormalizeInputs([]any{map[string]any{"type": "vector", "data": []any{feature, feature}}})
	assert.Len(t, firstLayer(t, out)["data"].(map[string]any)["features"], 2)

	rows := []any{map[string]any{"hex": "8928308280fffff"}}
	out = NormalizeInputs([]any{map[string]any{"type": "hex", "data": rows}})
	assert.Equal(t, rows, firstLayer(t, out)["data"], "hex rows are not GeoJSON")
}

func TestNormalizeInputs_ViewCoordinateOrder(t *testing.T) {
	out := NormalizeInputs(mustParse(t, `{"initialViewState": {"center": [40.7, -120.5], "zoom": 3}, "layers": []}`))
	view := out.(map[string]any)["view"].(map[string]any)
	assert.Equal(t, -120.5, view["longitude"])
	assert.Equal(t, 40.7, view["latitude"])
	assert.NotContains(t, view, "center")

	out = NormalizeInputs(mustParse(t, `{"view": {"lng": -74, "lat": 40.7}, "layers": []}`))
	view = out.(map[string]any)["view"].(map[string]any)
	assert.Equal(t, -74.0, view["longitude"])
	assert.Equal(t, 40.7, view["latitude"])
}

func TestNormalizeInputs_LegacyColorMatchesNewShape(t *testing.T) {
	legacy := NormalizeInputs(mustParse(t, `{"layers": [{"type": "hex", "style": {"fillColor":
		{"@@function": "colorContinuous", "attr": "pct", "domain": [100, 0], "colors": "Sunset", "steps": 5, "nullColor": [0.5, 0.5, 0.5]}}}]}`))
	modern := NormalizeInputs(mustParse(t, `{"layers": [{"type": "hex", "style": {"fillColor":
		{"type": "continuous", "attr": "pct", "domain": [0, 100], "palette": "Sunset", "steps": 5, "nullColor": [128, 128, 128]}}}]}`))

	lc, err := color.FromAny(firstLayer(t, legacy)["style"].(map[string]any)["fillColor"])
	require.NoError(t, err)
	mc, err := color.FromAny(firstLayer(t, modern)["style"].(map[string]any)["fillColor"])
	require.NoError(t, err)

	sample := color.Sample{{"pct": 12.0}, {"pct": 88.0}}
	assert.Equal(t, color.Compile(mc, sample), color.Compile(lc, sample))

	legacyCat := NormalizeInputs(mustParse(t, `{"layers": [{"type": "vector", "style": {"fillColor":
		{"@@function": "colorCategories", "attr": "k", "domain": ["a", "b"], "colors": "Bold"}}}]}`))
	modernCat := NormalizeInputs(mustParse(t, `{"layers": [{"type": "vector", "style": {"fillColor":
		{"type": "categorical", "attr": "k", "categories": ["a", "b"], "palette": "Bold"}}}]}`))
	assert.Equal(t, firstLayer(t, modernCat)["style"], firstLayer(t, legacyCat)["style"])
}

func TestNormalizeInputs_ScaleTypeAliases(t *testing.T) {
	out := NormalizeInputs(mustParse(t, `{"layers": [{"type": "hex", "style": {
		"fillColor": {"type": "Linear", "field": "pct"},
		"lineColor": {"attr": "kind", "categories": ["a"]}
	}}]}`))
	style := firstLayer(t, out)["style"].(map[string]any)

	assert.Equal(t, map[string]any{"type": "continuous", "attr": "pct"}, style["fillColor"])
	assert.Equal(t, "categorical", style["lineColor"].(map[string]any)["type"])
}

func TestNormalizeInputs_NullColorOnlyCollapses(t *testing.T) {
	out := NormalizeInputs(mustParse(t, `{"layers": [{"type": "hex", "style": {"fillColor": {"nullColor": [200, 200, 200]}}}]}`))
	style := firstLayer(t, out)["style"].(map[string]any)
	assert.Equal(t, []any{200.0, 200.0, 200.0}, style["fillColor"])
}
