package session

import (
	"fmt"

	"github.com/leapstack-labs/leapmap/pkg/color"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

// Color properties accepted by Compile.
const (
	PropFillColor = "fillColor"
	PropLineColor = "lineColor"
)

// Compile resolves one color property of a layer against the data it
// currently renders: derived geometry, else inline rows or features.
func (s *Session) Compile(id, prop string) (color.Resolved, error) {
	st, err := s.Get(id)
	if err != nil {
		return color.Resolved{}, err
	}

	var v color.Value
	switch prop {
	case PropFillColor:
		v = st.Config.Style.FillColor
	case PropLineColor:
		v = st.Config.Style.LineColor
	default:
		return color.Resolved{}, fmt.Errorf("%w: %q", ErrUnknownProperty, prop)
	}
	if v == nil {
		return color.Resolved{}, fmt.Errorf("layer %q has no %s", id, prop)
	}
	return color.CompileWithOptions(v, sampleOf(st), color.Options{Logger: s.logger.With("layer", id)}), nil
}

func sampleOf(st core.LayerState) color.Sample {
	if st.GeoJSON != nil {
		return color.SampleFromFeatures(st.GeoJSON)
	}
	switch src := st.Config.Source.(type) {
	case *core.HexSource:
		return color.Sample(src.Data)
	case *core.VectorSource:
		return color.SampleFromFeatures(src.Data)
	}
	return nil
}
