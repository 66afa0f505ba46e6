package core

import "github.com/paulmach/orb/geojson"

// LayerState is the store-owned state of one layer.
type LayerState struct {
	Config  LayerConfig
	Visible bool
	// Order is the dense, zero-based stacking rank. Order 0 is drawn on top.
	Order int
	// GeoJSON is derived geometry, e.g. the result of a SQL filter. It is not
	// part of the declared config.
	GeoJSON *geojson.FeatureCollection
}

// Export is the persisted form of a store: configs in ascending order plus
// the visibility of each layer.
type Export struct {
	Layers     []LayerConfig   `json:"layers"`
	Visibility map[string]bool `json:"visibility"`
}
