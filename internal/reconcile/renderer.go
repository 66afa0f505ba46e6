package reconcile

import (
	"context"

	"github.com/paulmach/orb/geojson"
)

// Renderer is the drawing backend. Sources hold data; layers draw a source
// and are stacked bottom to top. AddLayer and MoveLayer place a layer
// directly below beforeID, or on top when beforeID is empty.
type Renderer interface {
	AddSource(ctx context.Context, id string, src SourceSpec) error
	RemoveSource(ctx context.Context, id string) error
	SetSourceData(ctx context.Context, id string, data *geojson.FeatureCollection) error

	AddLayer(ctx context.Context, layer LayerSpec, beforeID string) error
	RemoveLayer(ctx context.Context, id string) error
	MoveLayer(ctx context.Context, id, beforeID string) error
	SetPaintProperty(ctx context.Context, layerID, name string, value any) error
	SetLayoutProperty(ctx context.Context, layerID, name string, value any) error

	QueryRenderedFeatures(ctx context.Context, q PickQuery) ([]RenderedFeature, error)
	PickObject(ctx context.Context, q PickQuery) (*RenderedFeature, error)

	// Reset discards every source and layer, as a style swap does.
	Reset(ctx context.Context) error
}

// Source types.
const (
	SourceGeoJSON = "geojson"
	SourceVector  = "vector"
	SourceRaster  = "raster"
	SourceHex     = "hex"
)

// SourceSpec describes renderer data.
type SourceSpec struct {
	Type     string                     `json:"type"`
	Data     *geojson.FeatureCollection `json:"data,omitempty"`
	Rows     []map[string]any           `json:"rows,omitempty"`
	URL      string                     `json:"url,omitempty"`
	Tiles    []string                   `json:"tiles,omitempty"`
	TileSize int                        `json:"tileSize,omitempty"`
	MinZoom  *int                       `json:"minzoom,omitempty"`
	MaxZoom  *int                       `json:"maxzoom,omitempty"`
}

// Layer types.
const (
	LayerFill          = "fill"
	LayerFillExtrusion = "fill-extrusion"
	LayerLine          = "line"
	LayerCircle        = "circle"
	LayerRaster        = "raster"
	LayerHexagon       = "h3-hexagon"
)

// LayerSpec is one drawing primitive.
type LayerSpec struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Source      string         `json:"source"`
	SourceLayer string         `json:"source-layer,omitempty"`
	Filter      any            `json:"filter,omitempty"`
	Paint       map[string]any `json:"paint,omitempty"`
	Layout      map[string]any `json:"layout,omitempty"`
}

// PickQuery is a point query. X and Y are longitude and latitude, Radius is
// in the same units.
type PickQuery struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

// RenderedFeature is a feature hit by a query.
type RenderedFeature struct {
	// LayerID is the primitive that drew the feature.
	LayerID    string         `json:"layerId"`
	Properties map[string]any `json:"properties"`
}
