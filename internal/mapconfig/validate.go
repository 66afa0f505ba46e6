package mapconfig

import (
	"encoding/base64"
	"fmt"
	"math"
	"strings"

	"github.com/leapstack-labs/leapmap/pkg/color"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

// Numeric bounds enforced by Validate.
const (
	MinZoom  = 0
	MaxZoom  = 22
	MaxPitch = 85
)

// sourceRule lists the data-source fields a layer type accepts, in priority
// order. A layer needs at least one of them.
type sourceRule struct {
	fields []string
}

type sourceRules struct{}

func (sourceRules) VisitHex(*core.HexSource) sourceRule {
	return sourceRule{fields: []string{"parquetData", "parquetUrl", "data", "dataUrl", "tileUrl"}}
}

func (sourceRules) VisitVector(*core.VectorSource) sourceRule {
	return sourceRule{fields: []string{"data", "dataUrl"}}
}

func (sourceRules) VisitMVT(*core.MVTSource) sourceRule {
	return sourceRule{fields: []string{"tileUrl"}}
}

func (sourceRules) VisitRaster(*core.RasterSource) sourceRule {
	return sourceRule{fields: []string{"tileUrl"}}
}

func (sourceRules) VisitPMTiles(*core.PMTilesSource) sourceRule {
	return sourceRule{fields: []string{"pmtilesUrl"}}
}

// newSource returns an empty source of the given type.
func newSource(t core.LayerType) (core.Source, bool) {
	switch t {
	case core.LayerHex:
		return &core.HexSource{}, true
	case core.LayerVector:
		return &core.VectorSource{}, true
	case core.LayerMVT:
		return &core.MVTSource{}, true
	case core.LayerRaster:
		return &core.RasterSource{}, true
	case core.LayerPMTiles:
		return &core.PMTilesSource{}, true
	default:
		return nil, false
	}
}

type validator struct {
	errors   []core.ValidationError
	warnings []string
}

func (v *validator) errorf(path, suggestion, format string, args ...any) {
	v.errors = append(v.errors, core.ValidationError{
		Path:       path,
		Message:    fmt.Sprintf(format, args...),
		Suggestion: suggestion,
	})
}

func (v *validator) warnf(path, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if path != "" {
		msg = path + ": " + msg
	}
	v.warnings = append(v.warnings, msg)
}

// Validate checks a normalized document and reports every problem found.
// Only a non-object root stops validation early.
func Validate(config any) core.ValidationResult {
	v := &validator{}
	root, ok := config.(map[string]any)
	if !ok {
		v.errorf("", "", "config must be an object, got %s", typeName(config))
		return v.result()
	}

	if b, ok := root["basemap"]; ok {
		v.validateBasemap(b)
	}
	if view, ok := root["view"]; ok {
		v.validateView("view", view)
	}

	layers, ok := root["layers"]
	switch {
	case !ok:
		v.errorf("layers", "", "layers is required")
	default:
		list, isList := layers.([]any)
		if !isList {
			v.errorf("layers", "", "layers must be an array, got %s", typeName(layers))
			break
		}
		if len(list) == 0 {
			v.warnf("layers", "no layers defined")
		}
		ids := make(map[string]int)
		for i, l := range list {
			v.validateLayer(fmt.Sprintf("layers[%d]", i), l, ids, i)
		}
	}
	return v.result()
}

func (v *validator) result() core.ValidationResult {
	return core.ValidationResult{
		Valid:    len(v.errors) == 0,
		Errors:   v.errors,
		Warnings: v.warnings,
	}
}

// IsValid reports whether config has no validation errors.
func IsValid(config any) bool {
	return Validate(config).Valid
}

// FormatErrors renders a result as one line per error and warning.
func FormatErrors(r core.ValidationResult) string {
	var b strings.Builder
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "error: %s\n", e.String())
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	return b.String()
}

func (v *validator) validateBasemap(b any) {
	s, ok := b.(string)
	if !ok {
		v.errorf("basemap", "", "basemap must be a string, got %s", typeName(b))
		return
	}
	for _, known := range core.Basemaps() {
		if s == known {
			return
		}
	}
	// Style URLs are passed through to the map backend.
	if strings.Contains(s, "://") {
		return
	}
	if sug := SuggestBasemap(s); sug != "" {
		v.warnf("basemap", "unknown basemap %q, did you mean %q?", s, sug)
		return
	}
	v.warnf("basemap", "unknown basemap %q", s)
}

func (v *validator) validateView(path string, raw any) {
	view, ok := raw.(map[string]any)
	if !ok {
		v.errorf(path, "", "view must be an object, got %s", typeName(raw))
		return
	}
	v.numberInRange(path+".longitude", view, "longitude", -180, 180)
	v.numberInRange(path+".latitude", view, "latitude", -90, 90)
	v.numberInRange(path+".zoom", view, "zoom", MinZoom, MaxZoom)
	v.numberInRange(path+".pitch", view, "pitch", 0, MaxPitch)
	v.numberInRange(path+".bearing", view, "bearing", -360, 360)
}

// numberInRange checks m[key] when present.
func (v *validator) numberInRange(path string, m map[string]any, key string, lo, hi float64) (float64, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := number(raw)
	if !ok {
		v.errorf(path, "", "%s must be a number, got %s", key, typeName(raw))
		return 0, false
	}
	if f < lo || f > hi {
		v.errorf(path, "", "%s must be between %g and %g, got %g", key, lo, hi, f)
		return f, false
	}
	return f, true
}

func (v *validator) validateLayer(path string, raw any, ids map[string]int, index int) {
	l, ok := raw.(map[string]any)
	if !ok {
		v.errorf(path, "", "layer must be an object, got %s", typeName(raw))
		return
	}

	if id, ok := l["id"]; ok {
		s, isString := id.(string)
		switch {
		case !isString:
			v.errorf(path+".id", "", "id must be a string, got %s", typeName(id))
		case s == "":
			v.errorf(path+".id", "", "id must not be empty")
		default:
			if prev, dup := ids[s]; dup {
				v.errorf(path+".id", "", "duplicate id %q (also used by layers[%d])", s, prev)
			} else {
				ids[s] = index
			}
		}
	}
	if name, ok := l["name"]; ok {
		if _, isString := name.(string); !isString {
			v.errorf(path+".name", "", "name must be a string, got %s", typeName(name))
		}
	}
	if vis, ok := l["visible"]; ok {
		if _, isBool := vis.(bool); !isBool {
			v.errorf(path+".visible", "", "visible must be a boolean, got %s", typeName(vis))
		}
	}
	if tc, ok := l["tooltipColumns"]; ok {
		v.validateStringList(path+".tooltipColumns", tc)
	}

	if style, ok := l["style"]; ok {
		v.validateStyle(path+".style", style)
	}
	if tile, ok := l["tile"]; ok {
		v.validateTile(path+".tile", tile)
	}

	rawType, ok := l["layerType"]
	if !ok {
		v.errorf(path+".layerType", "", "layerType is required")
		return
	}
	typeStr, ok := rawType.(string)
	if !ok {
		v.errorf(path+".layerType", "", "layerType must be a string, got %s", typeName(rawType))
		return
	}
	lt, ok := core.ParseLayerType(typeStr)
	if !ok {
		v.errorf(path+".layerType", SuggestLayerType(typeStr), "unknown layerType %q", typeStr)
		return
	}
	src, _ := newSource(lt)
	v.validateSource(path, lt, core.VisitSource[sourceRule](src, sourceRules{}), l)
}

func (v *validator) validateSource(path string, lt core.LayerType, rule sourceRule, l map[string]any) {
	var present []string
	for _, f := range rule.fields {
		if val, ok := l[f]; ok && val != nil && val != "" {
			present = append(present, f)
		}
	}
	switch {
	case len(present) == 0:
		v.errorf(path, "", "%s layer requires one of: %s", lt, strings.Join(rule.fields, ", "))
	case len(present) > 1:
		v.warnf(path, "multiple data sources (%s); %s is used", strings.Join(present, ", "), present[0])
	}

	for _, f := range present {
		fp := path + "." + f
		val := l[f]
		switch f {
		case "data":
			if lt == core.LayerVector {
				v.validateFeatureCollection(fp, val)
			} else {
				v.validateRows(fp, val)
			}
		case "parquetData":
			s, ok := val.(string)
			if !ok {
				v.errorf(fp, "", "parquetData must be a base64 string, got %s", typeName(val))
				continue
			}
			if _, err := base64.StdEncoding.DecodeString(s); err != nil {
				v.errorf(fp, "", "parquetData is not valid base64: %v", err)
			}
		default:
			if _, ok := val.(string); !ok {
				v.errorf(fp, "", "%s must be a string, got %s", f, typeName(val))
			}
		}
	}

	switch lt {
	case core.LayerMVT:
		if _, ok := l["sourceLayer"]; !ok {
			v.warnf(path, "mvt layer has no sourceLayer; the first layer in each tile is used")
		}
	case core.LayerRaster:
		if ts, ok := l["tileSize"]; ok {
			if f, ok := number(ts); !ok || f <= 0 {
				v.errorf(path+".tileSize", "", "tileSize must be a positive number")
			}
		}
	case core.LayerHex:
		if hc, ok := l["hexColumn"]; ok {
			if s, ok := hc.(string); !ok || s == "" {
				v.errorf(path+".hexColumn", "", "hexColumn must be a non-empty string")
			}
		}
		if sql, ok := l["sql"]; ok {
			if _, ok := sql.(string); !ok {
				v.errorf(path+".sql", "", "sql must be a string, got %s", typeName(sql))
			}
		}
	}
}

func (v *validator) validateFeatureCollection(path string, raw any) {
	fc, ok := raw.(map[string]any)
	if !ok || fc["type"] != "FeatureCollection" {
		v.errorf(path, "", "data must be a GeoJSON FeatureCollection")
		return
	}
	if _, ok := fc["features"].([]any); !ok {
		v.errorf(path+".features", "", "features must be an array")
	}
}

func (v *validator) validateRows(path string, raw any) {
	rows, ok := raw.([]any)
	if !ok {
		v.errorf(path, "", "data must be an array of rows, got %s", typeName(raw))
		return
	}
	for i, r := range rows {
		if _, ok := r.(map[string]any); !ok {
			v.errorf(fmt.Sprintf("%s[%d]", path, i), "", "row must be an object, got %s", typeName(r))
		}
	}
}

func (v *validator) validateStringList(path string, raw any) {
	list, ok := raw.([]any)
	if !ok {
		v.errorf(path, "", "must be an array of strings, got %s", typeName(raw))
		return
	}
	for i, e := range list {
		if _, ok := e.(string); !ok {
			v.errorf(fmt.Sprintf("%s[%d]", path, i), "", "must be a string, got %s", typeName(e))
		}
	}
}

func (v *validator) validateTile(path string, raw any) {
	tile, ok := raw.(map[string]any)
	if !ok {
		v.errorf(path, "", "tile must be an object, got %s", typeName(raw))
		return
	}
	minZ, okMin := v.numberInRange(path+".minZoom", tile, "minZoom", MinZoom, MaxZoom)
	maxZ, okMax := v.numberInRange(path+".maxZoom", tile, "maxZoom", MinZoom, MaxZoom)
	if okMin && okMax && minZ > maxZ {
		v.errorf(path, "", "minZoom (%g) must not exceed maxZoom (%g)", minZ, maxZ)
	}
	if off, ok := tile["zoomOffset"]; ok {
		if _, ok := number(off); !ok {
			v.errorf(path+".zoomOffset", "", "zoomOffset must be a number, got %s", typeName(off))
		}
	}
}

func (v *validator) validateStyle(path string, raw any) {
	style, ok := raw.(map[string]any)
	if !ok {
		v.errorf(path, "", "style must be an object, got %s", typeName(raw))
		return
	}
	v.numberInRange(path+".opacity", style, "opacity", 0, 1)
	v.numberInRange(path+".lineWidth", style, "lineWidth", 0, math.MaxFloat64)
	v.numberInRange(path+".pointRadius", style, "pointRadius", 0, math.MaxFloat64)
	v.numberInRange(path+".elevationScale", style, "elevationScale", 0, math.MaxFloat64)
	for _, k := range []string{"filled", "stroked", "extruded"} {
		if b, ok := style[k]; ok {
			if _, isBool := b.(bool); !isBool {
				v.errorf(path+"."+k, "", "%s must be a boolean, got %s", k, typeName(b))
			}
		}
	}
	for _, k := range []string{"fillColor", "lineColor"} {
		if c, ok := style[k]; ok {
			v.validateColor(path+"."+k, c)
		}
	}
}

func (v *validator) validateColor(path string, raw any) {
	switch c := raw.(type) {
	case string:
		if strings.HasPrefix(c, color.ExpressionPrefix) {
			return
		}
		if _, ok := color.ParseCSS(c); !ok {
			v.errorf(path, "", "unparseable color %q", c)
		}
	case []any:
		if _, ok := color.ParseChannels(c); !ok {
			v.errorf(path, "", "color array must have 3 or 4 channels in 0-255")
		}
	case map[string]any:
		v.validateScale(path, c)
	default:
		v.errorf(path, "", "color must be a string, array or object, got %s", typeName(raw))
	}
}

func (v *validator) validateScale(path string, m map[string]any) {
	typ, _ := m["type"].(string)
	switch typ {
	case color.TypeContinuous, color.TypeCategorical:
	case "":
		v.errorf(path+".type", "", "color scale requires a type")
		return
	default:
		sug := Suggest(typ, []string{color.TypeContinuous, color.TypeCategorical}, scaleTypeAliases)
		v.errorf(path+".type", sug, "unknown color scale type %q", typ)
		return
	}

	if attr, ok := m["attr"].(string); !ok || attr == "" {
		v.errorf(path+".attr", "", "%s color requires attr", typ)
	}
	if p, ok := m["palette"]; ok {
		name, isString := p.(string)
		switch {
		case !isString:
			v.errorf(path+".palette", "", "palette must be a string, got %s", typeName(p))
		default:
			if _, known := color.FindPalette(name); !known {
				v.errorf(path+".palette", SuggestPalette(name), "unknown palette %q", name)
			}
		}
	}
	if nc, ok := m["nullColor"]; ok {
		switch nc.(type) {
		case string, []any:
			v.validateColor(path+".nullColor", nc)
		default:
			v.errorf(path+".nullColor", "", "nullColor must be a color string or array")
		}
	}

	if typ == color.TypeContinuous {
		if d, ok := m["domain"]; ok {
			list, isList := d.([]any)
			if !isList || len(list) != 2 {
				v.errorf(path+".domain", "", "domain must be an array of two numbers")
			} else {
				for i, e := range list {
					f, ok := number(e)
					if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
						v.errorf(fmt.Sprintf("%s.domain[%d]", path, i), "", "domain bound must be a finite number")
					}
				}
			}
		}
		if s, ok := m["steps"]; ok {
			f, isNum := number(s)
			switch {
			case !isNum || f != math.Trunc(f):
				v.errorf(path+".steps", "", "steps must be an integer")
			case f < color.MinSteps || f > color.MaxSteps:
				v.errorf(path+".steps", "", "steps must be between %d and %d, got %g", color.MinSteps, color.MaxSteps, f)
			}
		}
		for _, k := range []string{"reverse", "autoDomain"} {
			if b, ok := m[k]; ok {
				if _, isBool := b.(bool); !isBool {
					v.errorf(path+"."+k, "", "%s must be a boolean", k)
				}
			}
		}
		return
	}

	if cats, ok := m["categories"]; ok {
		if _, isList := cats.([]any); !isList {
			v.errorf(path+".categories", "", "categories must be an array")
		}
	}
	if la, ok := m["labelAttr"]; ok {
		if _, isString := la.(string); !isString {
			v.errorf(path+".labelAttr", "", "labelAttr must be a string")
		}
	}
}

// number accepts JSON and YAML numeric types, but not numeric strings.
func number(v any) (float64, bool) {
	if _, isString := v.(string); isString {
		return 0, false
	}
	return color.ToFloat(v)
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		if _, ok := number(v); ok {
			return "number"
		}
		return fmt.Sprintf("%T", v)
	}
}
