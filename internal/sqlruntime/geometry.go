package sqlruntime

import (
	"math"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/uber/h3-go/v3"
)

// CellOf parses a spatial key. Strings are read as hex cell ids, integers
// as raw indexes.
func CellOf(v any) (h3.H3Index, bool) {
	var cell h3.H3Index
	switch x := v.(type) {
	case string:
		if x == "" {
			return 0, false
		}
		cell = h3.FromString(x)
	case int64:
		cell = h3.H3Index(x)
	case int32:
		cell = h3.H3Index(x)
	case int:
		cell = h3.H3Index(x)
	case uint64:
		cell = h3.H3Index(x)
	case float64:
		if x < 0 || x > math.MaxUint64 || x != math.Trunc(x) {
			return 0, false
		}
		cell = h3.H3Index(x)
	case json.Number:
		n, err := strconv.ParseUint(string(x), 10, 64)
		if err != nil {
			return 0, false
		}
		cell = h3.H3Index(n)
	default:
		return 0, false
	}
	if cell == 0 || !h3.IsValid(cell) {
		return 0, false
	}
	return cell, true
}

// CellPolygon returns the closed boundary ring of cell as lng/lat.
func CellPolygon(cell h3.H3Index) orb.Polygon {
	boundary := h3.ToGeoBoundary(cell)
	ring := make(orb.Ring, 0, len(boundary)+1)
	for _, c := range boundary {
		ring = append(ring, orb.Point{c.Longitude, c.Latitude})
	}
	if len(ring) > 0 {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// ToFeatureCollection derives one polygon feature per row from its H3 cell.
// Rows without a valid cell are skipped. Properties are the row itself.
func ToFeatureCollection(rows []map[string]any, column string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, row := range rows {
		cell, ok := CellOf(row[column])
		if !ok {
			continue
		}
		f := geojson.NewFeature(CellPolygon(cell))
		for k, v := range row {
			f.Properties[k] = v
		}
		fc.Append(f)
	}
	return fc
}
