package mapconfig

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapmap/pkg/color"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

// Format is a document encoding.
type Format string

// Supported document formats.
const (
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".geojson":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatAuto
	}
}

// Parse decodes a JSON or YAML document into plain values. FormatAuto treats
// input starting with '{' or '[' as JSON.
func Parse(data []byte, format Format) (any, error) {
	if format == FormatAuto {
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
			format = FormatJSON
		} else {
			format = FormatYAML
		}
	}

	var out any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	return out, nil
}

// Load parses, normalizes and validates a document, then decodes it when it
// is valid. The returned config is nil when the result is not valid.
func Load(data []byte, format Format) (*core.MapConfig, core.ValidationResult, error) {
	raw, err := Parse(data, format)
	if err != nil {
		return nil, core.ValidationResult{}, err
	}
	normalized := NormalizeInputs(raw)
	result := Validate(normalized)
	if !result.Valid {
		return nil, result, nil
	}
	cfg, err := Decode(normalized)
	if err != nil {
		return nil, result, err
	}
	return cfg, result, nil
}

// Decode converts a normalized, valid document into a typed MapConfig.
// Layers without an id keep an empty ID for the store to assign.
func Decode(normalized any) (*core.MapConfig, error) {
	root, ok := normalized.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config must be an object, got %s", typeName(normalized))
	}

	cfg := &core.MapConfig{}
	cfg.Basemap, _ = root["basemap"].(string)
	cfg.Theme, _ = root["theme"].(string)
	if view, ok := root["view"].(map[string]any); ok {
		cfg.View = &core.View{}
		if err := weakDecode(view, cfg.View); err != nil {
			return nil, fmt.Errorf("view: %w", err)
		}
	}

	layers, _ := root["layers"].([]any)
	for i, l := range layers {
		m, ok := l.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("layers[%d]: layer must be an object", i)
		}
		layer, err := DecodeLayer(m)
		if err != nil {
			return nil, fmt.Errorf("layers[%d]: %w", i, err)
		}
		cfg.Layers = append(cfg.Layers, layer)
	}
	return cfg, nil
}

// DecodeLayer converts one normalized layer object.
func DecodeLayer(m map[string]any) (core.LayerConfig, error) {
	var cfg core.LayerConfig
	typeStr, _ := m["layerType"].(string)
	lt, ok := core.ParseLayerType(typeStr)
	if !ok {
		return cfg, fmt.Errorf("unknown layerType %q", typeStr)
	}

	cfg.ID, _ = m["id"].(string)
	cfg.Name, _ = m["name"].(string)
	if v, ok := m["visible"].(bool); ok {
		cfg.Visible = &v
	}
	if tc, ok := m["tooltipColumns"].([]any); ok {
		for _, c := range tc {
			if s, ok := c.(string); ok {
				cfg.TooltipColumns = append(cfg.TooltipColumns, s)
			}
		}
	}
	if s, ok := m["style"].(map[string]any); ok {
		style, err := DecodeStyle(s)
		if err != nil {
			return cfg, fmt.Errorf("style: %w", err)
		}
		cfg.Style = style
	}

	src, _ := newSource(lt)
	if err := core.VisitSource[error](src, &sourceDecoder{m: m}); err != nil {
		return cfg, err
	}
	cfg.Source = src
	return cfg, nil
}

// DecodeStyle converts a normalized style object.
func DecodeStyle(m map[string]any) (core.Style, error) {
	var s core.Style
	var err error
	if s.FillColor, err = color.FromAny(m["fillColor"]); err != nil {
		return s, fmt.Errorf("fillColor: %w", err)
	}
	if s.LineColor, err = color.FromAny(m["lineColor"]); err != nil {
		return s, fmt.Errorf("lineColor: %w", err)
	}
	s.Opacity = floatField(m, "opacity")
	s.ElevationScale = floatField(m, "elevationScale")
	s.LineWidth = floatField(m, "lineWidth")
	s.PointRadius = floatField(m, "pointRadius")
	s.Filled = boolField(m, "filled")
	s.Stroked = boolField(m, "stroked")
	s.Extruded = boolField(m, "extruded")
	return s, nil
}

func floatField(m map[string]any, key string) *float64 {
	if f, ok := number(m[key]); ok {
		return &f
	}
	return nil
}

func boolField(m map[string]any, key string) *bool {
	if b, ok := m[key].(bool); ok {
		return &b
	}
	return nil
}

// sourceDecoder fills a source variant from a layer object.
type sourceDecoder struct {
	m map[string]any
}

func (d *sourceDecoder) str(key string) string {
	s, _ := d.m[key].(string)
	return s
}

func (d *sourceDecoder) tile() (*core.TileOptions, error) {
	raw, ok := d.m["tile"].(map[string]any)
	if !ok {
		return nil, nil
	}
	var t core.TileOptions
	if err := weakDecode(raw, &t); err != nil {
		return nil, fmt.Errorf("tile: %w", err)
	}
	return &t, nil
}

func (d *sourceDecoder) VisitHex(s *core.HexSource) error {
	s.DataURL = d.str("dataUrl")
	s.TileURL = d.str("tileUrl")
	s.ParquetURL = d.str("parquetUrl")
	s.HexColumn = d.str("hexColumn")
	s.SQL = d.str("sql")
	if enc := d.str("parquetData"); enc != "" {
		b, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return fmt.Errorf("parquetData: %w", err)
		}
		s.ParquetData = b
	}
	if rows, ok := d.m["data"].([]any); ok {
		s.Data = make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			if row, ok := r.(map[string]any); ok {
				s.Data = append(s.Data, row)
			}
		}
	}
	var err error
	s.Tile, err = d.tile()
	return err
}

func (d *sourceDecoder) VisitVector(s *core.VectorSource) error {
	s.DataURL = d.str("dataUrl")
	if raw, ok := d.m["data"]; ok && raw != nil {
		fc, err := DecodeFeatureCollection(raw)
		if err != nil {
			return fmt.Errorf("data: %w", err)
		}
		s.Data = fc
	}
	return nil
}

func (d *sourceDecoder) VisitMVT(s *core.MVTSource) error {
	s.TileURL = d.str("tileUrl")
	s.SourceLayer = d.str("sourceLayer")
	var err error
	s.Tile, err = d.tile()
	return err
}

func (d *sourceDecoder) VisitRaster(s *core.RasterSource) error {
	s.TileURL = d.str("tileUrl")
	if f, ok := number(d.m["tileSize"]); ok {
		s.TileSize = int(f)
	}
	var err error
	s.Tile, err = d.tile()
	return err
}

func (d *sourceDecoder) VisitPMTiles(s *core.PMTilesSource) error {
	s.PMTilesURL = d.str("pmtilesUrl")
	s.SourceLayer = d.str("sourceLayer")
	return nil
}

// DecodeFeatureCollection converts a plain GeoJSON value into a typed
// FeatureCollection.
func DecodeFeatureCollection(raw any) (*geojson.FeatureCollection, error) {
	b, err := json.Marshal(coerceGeoJSON(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to encode GeoJSON: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("invalid GeoJSON: %w", err)
	}
	return fc, nil
}

func weakDecode(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
