package core

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"
)

// =============================================================================
// LayerType
// =============================================================================

// LayerType is the discriminator of the layer config union.
type LayerType string

// Layer types.
const (
	LayerHex     LayerType = "hex"
	LayerVector  LayerType = "vector"
	LayerMVT     LayerType = "mvt"
	LayerRaster  LayerType = "raster"
	LayerPMTiles LayerType = "pmtiles"
)

// LayerTypes returns every layer type in declaration order.
func LayerTypes() []LayerType {
	return []LayerType{LayerHex, LayerVector, LayerMVT, LayerRaster, LayerPMTiles}
}

// ParseLayerType converts an exact, case-insensitive type name.
func ParseLayerType(s string) (LayerType, bool) {
	for _, t := range LayerTypes() {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return "", false
}

// DefaultHexColumn is the spatial key column of hex layers.
const DefaultHexColumn = "hex"

// DefaultRasterTileSize is the tile size of raster layers in pixels.
const DefaultRasterTileSize = 256

// =============================================================================
// Source
// =============================================================================

// Source is the type-specific data source of a layer. The set of
// implementations is closed; each is paired with a SourceVisitor method so
// that adding a variant breaks every visitor until it is handled.
type Source interface {
	// LayerType returns the discriminator for this source.
	LayerType() LayerType
	// Fields returns the source's document fields keyed by config name.
	Fields() map[string]any
	isSource()
}

// SourceVisitor dispatches on the concrete Source variant.
type SourceVisitor[T any] interface {
	VisitHex(*HexSource) T
	VisitVector(*VectorSource) T
	VisitMVT(*MVTSource) T
	VisitRaster(*RasterSource) T
	VisitPMTiles(*PMTilesSource) T
}

// VisitSource calls the visitor method matching s.
func VisitSource[T any](s Source, v SourceVisitor[T]) T {
	switch src := s.(type) {
	case *HexSource:
		return v.VisitHex(src)
	case *VectorSource:
		return v.VisitVector(src)
	case *MVTSource:
		return v.VisitMVT(src)
	case *RasterSource:
		return v.VisitRaster(src)
	case *PMTilesSource:
		return v.VisitPMTiles(src)
	default:
		panic(fmt.Sprintf("core: unhandled source type %T", s))
	}
}

// TileOptions bounds the zoom range a tiled source is requested for.
type TileOptions struct {
	MinZoom    *int `json:"minZoom,omitempty" mapstructure:"minZoom"`
	MaxZoom    *int `json:"maxZoom,omitempty" mapstructure:"maxZoom"`
	ZoomOffset int  `json:"zoomOffset,omitempty" mapstructure:"zoomOffset"`
}

// HexSource backs a hex layer. Rows are keyed by an H3 cell column.
type HexSource struct {
	Data        []map[string]any
	DataURL     string
	TileURL     string
	ParquetURL  string
	ParquetData []byte
	HexColumn   string
	SQL         string
	Tile        *TileOptions
}

// VectorSource backs a vector layer with GeoJSON.
type VectorSource struct {
	Data    *geojson.FeatureCollection
	DataURL string
}

// MVTSource backs a vector tile layer.
type MVTSource struct {
	TileURL     string
	SourceLayer string
	Tile        *TileOptions
}

// RasterSource backs a raster tile layer.
type RasterSource struct {
	TileURL  string
	TileSize int
	Tile     *TileOptions
}

// PMTilesSource backs a layer read from a PMTiles archive.
type PMTilesSource struct {
	PMTilesURL  string
	SourceLayer string
}

func (*HexSource) isSource()     {}
func (*VectorSource) isSource()  {}
func (*MVTSource) isSource()     {}
func (*RasterSource) isSource()  {}
func (*PMTilesSource) isSource() {}

// LayerType implements Source.
func (*HexSource) LayerType() LayerType { return LayerHex }

// LayerType implements Source.
func (*VectorSource) LayerType() LayerType { return LayerVector }

// LayerType implements Source.
func (*MVTSource) LayerType() LayerType { return LayerMVT }

// LayerType implements Source.
func (*RasterSource) LayerType() LayerType { return LayerRaster }

// LayerType implements Source.
func (*PMTilesSource) LayerType() LayerType { return LayerPMTiles }

// Column returns the spatial key column, defaulting to "hex".
func (s *HexSource) Column() string {
	if s.HexColumn == "" {
		return DefaultHexColumn
	}
	return s.HexColumn
}

// Size returns the tile size, defaulting to 256.
func (s *RasterSource) Size() int {
	if s.TileSize <= 0 {
		return DefaultRasterTileSize
	}
	return s.TileSize
}

func putString(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}

func putTile(m map[string]any, t *TileOptions) {
	if t == nil {
		return
	}
	tile := map[string]any{}
	if t.MinZoom != nil {
		tile["minZoom"] = *t.MinZoom
	}
	if t.MaxZoom != nil {
		tile["maxZoom"] = *t.MaxZoom
	}
	if t.ZoomOffset != 0 {
		tile["zoomOffset"] = t.ZoomOffset
	}
	m["tile"] = tile
}

// Fields implements Source.
func (s *HexSource) Fields() map[string]any {
	m := map[string]any{}
	if s.Data != nil {
		rows := make([]any, len(s.Data))
		for i, r := range s.Data {
			rows[i] = r
		}
		m["data"] = rows
	}
	putString(m, "dataUrl", s.DataURL)
	putString(m, "tileUrl", s.TileURL)
	putString(m, "parquetUrl", s.ParquetURL)
	if len(s.ParquetData) > 0 {
		m["parquetData"] = base64.StdEncoding.EncodeToString(s.ParquetData)
	}
	putString(m, "hexColumn", s.HexColumn)
	putString(m, "sql", s.SQL)
	putTile(m, s.Tile)
	return m
}

// Fields implements Source.
func (s *VectorSource) Fields() map[string]any {
	m := map[string]any{}
	if s.Data != nil {
		m["data"] = s.Data
	}
	putString(m, "dataUrl", s.DataURL)
	return m
}

// Fields implements Source.
func (s *MVTSource) Fields() map[string]any {
	m := map[string]any{}
	putString(m, "tileUrl", s.TileURL)
	putString(m, "sourceLayer", s.SourceLayer)
	putTile(m, s.Tile)
	return m
}

// Fields implements Source.
func (s *RasterSource) Fields() map[string]any {
	m := map[string]any{}
	putString(m, "tileUrl", s.TileURL)
	if s.TileSize != 0 {
		m["tileSize"] = s.TileSize
	}
	putTile(m, s.Tile)
	return m
}

// Fields implements Source.
func (s *PMTilesSource) Fields() map[string]any {
	m := map[string]any{}
	putString(m, "pmtilesUrl", s.PMTilesURL)
	putString(m, "sourceLayer", s.SourceLayer)
	return m
}

// Fingerprint returns a stable digest of a source's fields. Two sources with
// equal fingerprints load the same data.
func Fingerprint(s Source) string {
	if s == nil {
		return ""
	}
	// Map keys are marshaled in sorted order, so the encoding is canonical.
	b, err := json.Marshal(s.Fields())
	if err != nil {
		b = fmt.Appendf(nil, "%v", s.Fields())
	}
	return fmt.Sprintf("%s:%016x", s.LayerType(), xxhash.Sum64(b))
}
