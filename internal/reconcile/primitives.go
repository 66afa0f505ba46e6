package reconcile

import (
	"log/slog"

	"github.com/paulmach/orb/geojson"

	"github.com/leapstack-labs/leapmap/pkg/color"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

// Style defaults applied when a field is unset.
var (
	defaultFill = color.Literal{0, 128, 255, 255}
	defaultLine = color.Literal{255, 255, 255, 255}
)

const (
	defaultOpacity     = 1.0
	defaultLineWidth   = 1.0
	defaultPointRadius = 4.0
	defaultElevation   = 1.0
	pmtilesScheme      = "pmtiles://"
	visibilityProperty = "visibility"
)

// build is the full set of renderer objects for one layer.
type build struct {
	source SourceSpec
	layers []LayerSpec
	// pending is set when a color scale is waiting for data.
	pending bool
}

func (b build) ids() []string {
	out := make([]string, len(b.layers))
	for i, l := range b.layers {
		out[i] = l.ID
	}
	return out
}

// builder turns a layer state into renderer objects. It implements
// core.SourceVisitor so a new source variant must be handled here.
type builder struct {
	state  core.LayerState
	logger *slog.Logger
}

func newBuild(state core.LayerState, logger *slog.Logger) build {
	b := core.VisitSource[build](state.Config.Source, &builder{state: state, logger: logger})
	vis := visibilityValue(state.Visible)
	for i := range b.layers {
		b.layers[i].Source = state.Config.ID
		if b.layers[i].Layout == nil {
			b.layers[i].Layout = map[string]any{}
		}
		b.layers[i].Layout[visibilityProperty] = vis
	}
	return b
}

func visibilityValue(visible bool) string {
	if visible {
		return "visible"
	}
	return "none"
}

func (b *builder) id(suffix string) string {
	return b.state.Config.ID + "-" + suffix
}

func (b *builder) style() core.Style {
	return b.state.Config.Style
}

// resolve compiles one color channel against the layer's sample.
func (b *builder) resolve(v color.Value, def color.Value, sample color.Sample) color.Resolved {
	if v == nil {
		v = def
	}
	return color.CompileWithOptions(v, sample, color.Options{
		Logger: b.logger.With("layer", b.state.Config.ID),
	})
}

func sampleOf(fc *geojson.FeatureCollection) color.Sample {
	if fc == nil {
		return nil
	}
	return color.SampleFromFeatures(fc)
}

// geometry returns derived geometry when present, else the declared data.
func (b *builder) geometry(declared *geojson.FeatureCollection) *geojson.FeatureCollection {
	if b.state.GeoJSON != nil {
		return b.state.GeoJSON
	}
	return declared
}

func (b *builder) VisitHex(src *core.HexSource) build {
	s := b.style()
	var sample color.Sample
	if b.state.GeoJSON != nil {
		sample = sampleOf(b.state.GeoJSON)
	} else if src.Data != nil {
		sample = color.Sample(src.Data)
	}
	fill := b.resolve(s.FillColor, defaultFill, sample)
	line := b.resolve(s.LineColor, defaultLine, sample)

	out := build{
		source:  SourceSpec{Type: SourceHex, Data: b.state.GeoJSON, Rows: src.Data},
		pending: fill.DomainPending || line.DomainPending,
	}
	switch {
	case src.ParquetURL != "":
		out.source.URL = src.ParquetURL
	case src.DataURL != "":
		out.source.URL = src.DataURL
	case src.TileURL != "":
		out.source.Tiles = []string{src.TileURL}
	}
	applyTile(&out.source, src.Tile)

	out.layers = []LayerSpec{{
		ID:   b.id("hex"),
		Type: LayerHexagon,
		Paint: map[string]any{
			"getFillColor":   fill,
			"getLineColor":   line,
			"opacity":        s.OpacityOr(defaultOpacity),
			"filled":         core.Flag(s.Filled, true),
			"stroked":        core.Flag(s.Stroked, false),
			"extruded":       core.Flag(s.Extruded, false),
			"elevationScale": core.Number(s.ElevationScale, defaultElevation),
			"lineWidth":      core.Number(s.LineWidth, defaultLineWidth),
		},
		Layout: map[string]any{"hexColumn": src.Column()},
	}}
	return out
}

func (b *builder) VisitVector(src *core.VectorSource) build {
	data := b.geometry(src.Data)
	out := b.vectorLayers("", sampleOf(data))
	out.source = SourceSpec{Type: SourceGeoJSON, Data: data}
	if data == nil {
		out.source.URL = src.DataURL
	}
	return out
}

func (b *builder) VisitMVT(src *core.MVTSource) build {
	out := b.vectorLayers(src.SourceLayer, nil)
	out.source = SourceSpec{Type: SourceVector, Tiles: []string{src.TileURL}}
	applyTile(&out.source, src.Tile)
	return out
}

func (b *builder) VisitRaster(src *core.RasterSource) build {
	out := build{
		source: SourceSpec{Type: SourceRaster, Tiles: []string{src.TileURL}, TileSize: src.Size()},
		layers: []LayerSpec{{
			ID:    b.id("raster"),
			Type:  LayerRaster,
			Paint: map[string]any{"raster-opacity": b.style().OpacityOr(defaultOpacity)},
		}},
	}
	applyTile(&out.source, src.Tile)
	return out
}

func (b *builder) VisitPMTiles(src *core.PMTilesSource) build {
	out := b.vectorLayers(src.SourceLayer, nil)
	out.source = SourceSpec{Type: SourceVector, URL: pmtilesScheme + src.PMTilesURL}
	return out
}

// vectorLayers builds the map primitives for feature data: an area layer
// (flat or extruded), a circle layer for points and an optional outline.
func (b *builder) vectorLayers(sourceLayer string, sample color.Sample) build {
	s := b.style()
	fill := b.resolve(s.FillColor, defaultFill, sample)
	line := b.resolve(s.LineColor, defaultLine, sample)
	opacity := s.OpacityOr(defaultOpacity)
	out := build{pending: fill.DomainPending || line.DomainPending}

	polygons := []any{"==", []any{"geometry-type"}, "Polygon"}
	points := []any{"==", []any{"geometry-type"}, "Point"}

	switch {
	case core.Flag(s.Extruded, false):
		out.layers = append(out.layers, LayerSpec{
			ID: b.id("extrusion"), Type: LayerFillExtrusion, Filter: polygons,
			Paint: map[string]any{
				"fill-extrusion-color":   fill.Expression(),
				"fill-extrusion-opacity": opacity,
				"fill-extrusion-height": []any{
					"*", []any{"coalesce", []any{"get", "height"}, 0}, core.Number(s.ElevationScale, defaultElevation),
				},
			},
		})
	case core.Flag(s.Filled, true):
		out.layers = append(out.layers, LayerSpec{
			ID: b.id("fill"), Type: LayerFill, Filter: polygons,
			Paint: map[string]any{
				"fill-color":   fill.Expression(),
				"fill-opacity": opacity,
			},
		})
	}

	out.layers = append(out.layers, LayerSpec{
		ID: b.id("circle"), Type: LayerCircle, Filter: points,
		Paint: map[string]any{
			"circle-color":   fill.Expression(),
			"circle-radius":  core.Number(s.PointRadius, defaultPointRadius),
			"circle-opacity": opacity,
		},
	})

	if core.Flag(s.Stroked, true) {
		out.layers = append(out.layers, LayerSpec{
			ID: b.id("line"), Type: LayerLine,
			Paint: map[string]any{
				"line-color":   line.Expression(),
				"line-width":   core.Number(s.LineWidth, defaultLineWidth),
				"line-opacity": opacity,
			},
		})
	}

	for i := range out.layers {
		out.layers[i].SourceLayer = sourceLayer
	}
	return out
}

func applyTile(src *SourceSpec, t *core.TileOptions) {
	if t == nil {
		return
	}
	src.MinZoom = t.MinZoom
	src.MaxZoom = t.MaxZoom
}
