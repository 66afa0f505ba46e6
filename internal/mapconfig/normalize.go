// Package mapconfig normalizes, validates and decodes map configuration
// documents.
//
// Documents arrive as loosely shaped JSON or YAML. NormalizeInputs rewrites
// them into the canonical shape (aliases resolved, colors scaled, GeoJSON
// wrapped), Validate reports every structural problem as data, and Decode
// turns a canonical document into typed core configs.
package mapconfig

import (
	"fmt"
	"math"
	"strings"

	"github.com/leapstack-labs/leapmap/pkg/color"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

// layerTypeAliases maps alternate layer type names onto canonical ones.
var layerTypeAliases = map[string]string{
	"hexagon":     string(core.LayerHex),
	"hexagons":    string(core.LayerHex),
	"h3":          string(core.LayerHex),
	"geojson":     string(core.LayerVector),
	"geo":         string(core.LayerVector),
	"circle":      string(core.LayerVector),
	"point":       string(core.LayerVector),
	"points":      string(core.LayerVector),
	"scatter":     string(core.LayerVector),
	"polygon":     string(core.LayerVector),
	"line":        string(core.LayerVector),
	"vector-tile": string(core.LayerMVT),
	"vectortile":  string(core.LayerMVT),
	"tiles":       string(core.LayerMVT),
	"image":       string(core.LayerRaster),
	"xyz":         string(core.LayerRaster),
	"tms":         string(core.LayerRaster),
	"pmtile":      string(core.LayerPMTiles),
}

// scaleTypeAliases maps alternate color scale type names onto canonical ones.
var scaleTypeAliases = map[string]string{
	"linear":      color.TypeContinuous,
	"sequential":  color.TypeContinuous,
	"quantize":    color.TypeContinuous,
	"diverging":   color.TypeContinuous,
	"categories":  color.TypeCategorical,
	"category":    color.TypeCategorical,
	"ordinal":     color.TypeCategorical,
	"qualitative": color.TypeCategorical,
}

// legacyFunctions maps '@@function' tags onto scale types.
var legacyFunctions = map[string]string{
	"colorContinuous": color.TypeContinuous,
	"colorBins":       color.TypeContinuous,
	"colorCategories": color.TypeCategorical,
}

var basemapAliases = map[string]string{
	"dark-matter": core.BasemapDark,
	"darkmatter":  core.BasemapDark,
	"positron":    core.BasemapLight,
	"sat":         core.BasemapSatellite,
	"imagery":     core.BasemapSatellite,
}

var layerKeyAliases = [][2]string{
	{"type", "layerType"},
	{"layer_type", "layerType"},
	{"tile_url", "tileUrl"},
	{"data_url", "dataUrl"},
	{"pmtiles_url", "pmtilesUrl"},
	{"pmtilesURL", "pmtilesUrl"},
	{"parquet_url", "parquetUrl"},
	{"parquet_data", "parquetData"},
	{"source_layer", "sourceLayer"},
	{"hex_column", "hexColumn"},
	{"tile_size", "tileSize"},
	{"tooltip", "tooltipColumns"},
	{"tooltip_columns", "tooltipColumns"},
}

var styleKeyAliases = [][2]string{
	{"getFillColor", "fillColor"},
	{"fill_color", "fillColor"},
	{"color", "fillColor"},
	{"getLineColor", "lineColor"},
	{"line_color", "lineColor"},
	{"line_width", "lineWidth"},
	{"getLineWidth", "lineWidth"},
	{"radius", "pointRadius"},
	{"getRadius", "pointRadius"},
	{"point_radius", "pointRadius"},
	{"elevation_scale", "elevationScale"},
}

var colorKeyAliases = [][2]string{
	{"colors", "palette"},
	{"colorScheme", "palette"},
	{"scheme", "palette"},
	{"field", "attr"},
	{"attribute", "attr"},
	{"column", "attr"},
	{"null_color", "nullColor"},
	{"label_attr", "labelAttr"},
	{"auto_domain", "autoDomain"},
}

// styleKeys may appear at the top level of a layer and are moved into style.
var styleKeys = []string{
	"fillColor", "lineColor", "opacity", "filled", "stroked", "extruded",
	"elevationScale", "lineWidth", "pointRadius", "getFillColor", "getLineColor",
}

var geometryTypes = map[string]bool{
	"Point": true, "MultiPoint": true, "LineString": true, "MultiLineString": true,
	"Polygon": true, "MultiPolygon": true, "GeometryCollection": true,
}

// NormalizeInputs rewrites a raw document into canonical form. It is total:
// any input is accepted and returned unchanged when it cannot be interpreted.
// The input is never mutated, and normalizing twice equals normalizing once.
func NormalizeInputs(raw any) any {
	switch t := raw.(type) {
	case []any:
		return normalizeRoot(map[string]any{"layers": cloneValue(t)})
	case map[string]any:
		return normalizeRoot(cloneValue(t).(map[string]any))
	default:
		return raw
	}
}

func normalizeRoot(m map[string]any) map[string]any {
	renameKey(m, "initialViewState", "view")
	renameKey(m, "viewState", "view")
	renameKey(m, "mapStyle", "basemap")

	if b, ok := m["basemap"].(string); ok {
		b = strings.ToLower(strings.TrimSpace(b))
		if alias, ok := basemapAliases[b]; ok {
			b = alias
		}
		m["basemap"] = b
	}
	if v, ok := m["view"].(map[string]any); ok {
		normalizeView(v)
	}
	if layers, ok := m["layers"].([]any); ok {
		for _, l := range layers {
			if lm, ok := l.(map[string]any); ok {
				normalizeLayer(lm)
			}
		}
	}
	return m
}

func normalizeView(v map[string]any) {
	renameKey(v, "lon", "longitude")
	renameKey(v, "lng", "longitude")
	renameKey(v, "lat", "latitude")

	if c, ok := v["center"].([]any); ok && len(c) == 2 {
		a, okA := color.ToFloat(c[0])
		b, okB := color.ToFloat(c[1])
		if okA && okB {
			if _, has := v["longitude"]; !has {
				v["longitude"] = a
			}
			if _, has := v["latitude"]; !has {
				v["latitude"] = b
			}
			delete(v, "center")
		}
	}
	for _, k := range []string{"longitude", "latitude", "zoom", "pitch", "bearing"} {
		if f, ok := color.ToFloat(v[k]); ok {
			v[k] = f
		}
	}

	// Detect [lat, lng] order: a latitude outside +-90 paired with a value that
	// fits as a latitude means the pair was swapped.
	lng, okLng := v["longitude"].(float64)
	lat, okLat := v["latitude"].(float64)
	if okLng && okLat && math.Abs(lat) > 90 && math.Abs(lat) <= 180 && math.Abs(lng) <= 90 {
		v["longitude"], v["latitude"] = lat, lng
	}
}

func normalizeLayer(l map[string]any) {
	if cfg, ok := l["config"].(map[string]any); ok {
		for k, val := range cfg {
			if _, exists := l[k]; !exists {
				l[k] = val
			}
		}
		delete(l, "config")
	}
	for _, a := range layerKeyAliases {
		renameKey(l, a[0], a[1])
	}

	if id, ok := l["id"].(float64); ok && id == math.Trunc(id) {
		l["id"] = fmt.Sprintf("%d", int64(id))
	}
	if id, ok := l["id"].(int); ok {
		l["id"] = fmt.Sprintf("%d", id)
	}

	if t, ok := l["layerType"].(string); ok {
		t = strings.ToLower(strings.TrimSpace(t))
		if alias, ok := layerTypeAliases[t]; ok {
			t = alias
		}
		l["layerType"] = t
	}

	if s, ok := l["tooltipColumns"].(string); ok {
		l["tooltipColumns"] = []any{s}
	}

	style, _ := l["style"].(map[string]any)
	for _, k := range styleKeys {
		val, ok := l[k]
		if !ok {
			continue
		}
		if style == nil {
			style = map[string]any{}
		}
		if _, exists := style[k]; !exists {
			style[k] = val
		}
		delete(l, k)
	}
	if style != nil {
		normalizeStyle(style)
		l["style"] = style
	}

	if data, ok := l["data"]; ok {
		l["data"] = coerceGeoJSON(data)
	}
}

func normalizeStyle(s map[string]any) {
	for _, a := range styleKeyAliases {
		renameKey(s, a[0], a[1])
	}
	if op, ok := s["opacity"].(string); ok {
		if pct, isPct := strings.CutSuffix(strings.TrimSpace(op), "%"); isPct {
			if f, ok := color.ToFloat(pct); ok {
				s["opacity"] = f / 100
			}
		} else if f, ok := color.ToFloat(op); ok {
			s["opacity"] = f
		}
	}
	for _, k := range []string{"opacity", "lineWidth", "pointRadius", "elevationScale"} {
		if f, ok := color.ToFloat(s[k]); ok {
			s[k] = f
		}
	}
	for _, k := range []string{"fillColor", "lineColor"} {
		if v, ok := s[k]; ok {
			s[k] = normalizeColor(v)
		}
	}
}

// normalizeColor canonicalizes a color value: channel arrays are scaled to
// 0-255, legacy '@@function' maps are rewritten to {type, attr, ...}, and
// scale domains are ordered.
func normalizeColor(v any) any {
	switch t := v.(type) {
	case []any:
		return normalizeChannels(t)
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return normalizeScale(t)
	default:
		return v
	}
}

func normalizeScale(m map[string]any) any {
	if fn, ok := m["@@function"].(string); ok {
		if typ, known := legacyFunctions[fn]; known {
			if _, has := m["type"]; !has {
				m["type"] = typ
			}
			delete(m, "@@function")
		}
	}
	for _, a := range colorKeyAliases {
		renameKey(m, a[0], a[1])
	}

	if nc, ok := m["nullColor"]; ok {
		m["nullColor"] = normalizeColor(nc)
	}

	typ, hasType := m["type"].(string)
	if hasType {
		typ = strings.ToLower(strings.TrimSpace(typ))
		if alias, ok := scaleTypeAliases[typ]; ok {
			typ = alias
		}
		m["type"] = typ
	}
	_, hasAttr := m["attr"]
	if !hasType {
		if !hasAttr {
			if nc, ok := m["nullColor"]; ok {
				return nc
			}
			return m
		}
		if _, ok := m["categories"]; ok {
			typ = color.TypeCategorical
		} else {
			typ = color.TypeContinuous
		}
		m["type"] = typ
	}

	switch typ {
	case color.TypeContinuous:
		if d, ok := m["domain"].([]any); ok && len(d) == 2 {
			lo, okLo := color.ToFloat(d[0])
			hi, okHi := color.ToFloat(d[1])
			if okLo && okHi {
				if lo > hi {
					lo, hi = hi, lo
				}
				m["domain"] = []any{lo, hi}
			}
		}
		if _, isString := m["steps"].(string); isString {
			if f, ok := color.ToFloat(m["steps"]); ok {
				m["steps"] = f
			}
		}
	case color.TypeCategorical:
		// The legacy shape listed categories under domain.
		if d, ok := m["domain"]; ok {
			if _, has := m["categories"]; !has {
				m["categories"] = d
			}
			delete(m, "domain")
		}
	}
	return m
}

// normalizeChannels scales 0-1 channel arrays to 0-255 when any RGB channel is
// fractional, and converts percentage strings. Non-color arrays are returned
// unchanged.
func normalizeChannels(arr []any) any {
	if len(arr) != 3 && len(arr) != 4 {
		return arr
	}
	vals := make([]float64, len(arr))
	for i, c := range arr {
		if s, ok := c.(string); ok {
			pct, isPct := strings.CutSuffix(strings.TrimSpace(s), "%")
			f, okF := color.ToFloat(pct)
			if !isPct || !okF {
				return arr
			}
			if i == 3 {
				vals[i] = f / 100
			} else {
				vals[i] = math.Round(f * 255 / 100)
			}
			continue
		}
		f, ok := color.ToFloat(c)
		if !ok {
			return arr
		}
		vals[i] = f
	}

	unit := true
	fractional := false
	for _, f := range vals[:3] {
		if f < 0 || f > 1 {
			unit = false
		}
		if f != math.Trunc(f) {
			fractional = true
		}
	}
	if unit && fractional {
		for i := range vals[:3] {
			vals[i] = math.Round(vals[i] * 255)
		}
		if len(vals) == 4 && vals[3] <= 1 {
			vals[3] = math.Round(vals[3] * 255)
		}
	} else if len(vals) == 4 && vals[3] > 0 && vals[3] < 1 {
		vals[3] = math.Round(vals[3] * 255)
	}

	out := make([]any, len(vals))
	for i, f := range vals {
		out[i] = f
	}
	return out
}

// coerceGeoJSON wraps a bare geometry into a Feature and a Feature, or a list
// of Features, into a FeatureCollection.
func coerceGeoJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		typ, _ := t["type"].(string)
		if geometryTypes[typ] {
			t = map[string]any{"type": "Feature", "geometry": t, "properties": map[string]any{}}
			typ = "Feature"
		}
		if typ == "Feature" {
			return map[string]any{"type": "FeatureCollection", "features": []any{t}}
		}
		return t
	case []any:
		if len(t) == 0 {
			return t
		}
		for _, e := range t {
			f, ok := e.(map[string]any)
			if !ok || f["type"] != "Feature" {
				return t
			}
		}
		return map[string]any{"type": "FeatureCollection", "features": t}
	default:
		return v
	}
}

// renameKey moves from to to. When both exist the canonical key wins.
func renameKey(m map[string]any, from, to string) {
	v, ok := m[from]
	if !ok {
		return
	}
	if _, exists := m[to]; !exists {
		m[to] = v
	}
	delete(m, from)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
