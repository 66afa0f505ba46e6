package core

import (
	"reflect"
	"slices"

	"github.com/goccy/go-json"

	"github.com/leapstack-labs/leapmap/pkg/color"
)

// =============================================================================
// Style
// =============================================================================

// Style is the visual block of a layer. Nil fields are unset, which lets a
// partial Style be merged over an existing one.
type Style struct {
	FillColor      color.Value
	LineColor      color.Value
	Opacity        *float64
	Filled         *bool
	Stroked        *bool
	Extruded       *bool
	ElevationScale *float64
	LineWidth      *float64
	PointRadius    *float64
}

// Merge returns s with every set field of patch applied over it.
func (s Style) Merge(patch Style) Style {
	out := s
	if patch.FillColor != nil {
		out.FillColor = patch.FillColor
	}
	if patch.LineColor != nil {
		out.LineColor = patch.LineColor
	}
	if patch.Opacity != nil {
		out.Opacity = patch.Opacity
	}
	if patch.Filled != nil {
		out.Filled = patch.Filled
	}
	if patch.Stroked != nil {
		out.Stroked = patch.Stroked
	}
	if patch.Extruded != nil {
		out.Extruded = patch.Extruded
	}
	if patch.ElevationScale != nil {
		out.ElevationScale = patch.ElevationScale
	}
	if patch.LineWidth != nil {
		out.LineWidth = patch.LineWidth
	}
	if patch.PointRadius != nil {
		out.PointRadius = patch.PointRadius
	}
	return out
}

// ToMap returns the document form of the style.
func (s Style) ToMap() map[string]any {
	m := map[string]any{}
	if s.FillColor != nil {
		m["fillColor"] = s.FillColor.ToAny()
	}
	if s.LineColor != nil {
		m["lineColor"] = s.LineColor.ToAny()
	}
	putFloat(m, "opacity", s.Opacity)
	putBool(m, "filled", s.Filled)
	putBool(m, "stroked", s.Stroked)
	putBool(m, "extruded", s.Extruded)
	putFloat(m, "elevationScale", s.ElevationScale)
	putFloat(m, "lineWidth", s.LineWidth)
	putFloat(m, "pointRadius", s.PointRadius)
	return m
}

// Equal reports whether two styles have the same document form.
func (s Style) Equal(o Style) bool {
	return reflect.DeepEqual(s.ToMap(), o.ToMap())
}

// OpacityOr returns the opacity or def when unset.
func (s Style) OpacityOr(def float64) float64 {
	if s.Opacity == nil {
		return def
	}
	return *s.Opacity
}

// Flag returns *b or def when unset.
func Flag(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Number returns *f or def when unset.
func Number(f *float64, def float64) float64 {
	if f == nil {
		return def
	}
	return *f
}

func putFloat(m map[string]any, key string, f *float64) {
	if f != nil {
		m[key] = *f
	}
}

func putBool(m map[string]any, key string, b *bool) {
	if b != nil {
		m[key] = *b
	}
}

// =============================================================================
// LayerConfig
// =============================================================================

// LayerConfig is the declarative description of one layer.
type LayerConfig struct {
	ID             string
	Name           string
	Visible        *bool
	TooltipColumns []string
	Style          Style
	Source         Source
}

// Type returns the layer type, taken from the source variant.
func (c LayerConfig) Type() LayerType {
	if c.Source == nil {
		return ""
	}
	return c.Source.LayerType()
}

// DisplayName returns Name, falling back to ID.
func (c LayerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// IsVisible returns the declared visibility, default true.
func (c LayerConfig) IsVisible() bool {
	return Flag(c.Visible, true)
}

// Clone returns a copy that shares no slices with c.
func (c LayerConfig) Clone() LayerConfig {
	out := c
	out.TooltipColumns = slices.Clone(c.TooltipColumns)
	if c.Visible != nil {
		v := *c.Visible
		out.Visible = &v
	}
	return out
}

// Config diff keys.
const (
	KeyLayerType      = "layerType"
	KeySource         = "source"
	KeyStyle          = "style"
	KeyName           = "name"
	KeyTooltipColumns = "tooltipColumns"
	KeyVisible        = "visible"
)

// DiffKeys returns the top-level keys whose values differ between c and o.
// Visibility is owned by the store and is not compared here.
func (c LayerConfig) DiffKeys(o LayerConfig) []string {
	var keys []string
	if c.Type() != o.Type() {
		keys = append(keys, KeyLayerType)
	}
	if Fingerprint(c.Source) != Fingerprint(o.Source) {
		keys = append(keys, KeySource)
	}
	if !c.Style.Equal(o.Style) {
		keys = append(keys, KeyStyle)
	}
	if c.DisplayName() != o.DisplayName() {
		keys = append(keys, KeyName)
	}
	if !slices.Equal(c.TooltipColumns, o.TooltipColumns) {
		keys = append(keys, KeyTooltipColumns)
	}
	return keys
}

// ToMap returns the canonical document form of the config.
func (c LayerConfig) ToMap() map[string]any {
	m := map[string]any{
		"layerType": string(c.Type()),
	}
	if c.ID != "" {
		m["id"] = c.ID
	}
	if c.Name != "" {
		m["name"] = c.Name
	}
	if c.Visible != nil {
		m["visible"] = *c.Visible
	}
	if len(c.TooltipColumns) > 0 {
		m["tooltipColumns"] = slices.Clone(c.TooltipColumns)
	}
	if style := c.Style.ToMap(); len(style) > 0 {
		m["style"] = style
	}
	if c.Source != nil {
		for k, v := range c.Source.Fields() {
			m[k] = v
		}
	}
	return m
}

// MarshalJSON encodes the canonical document form.
func (c LayerConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToMap())
}

// LayerPatch is a partial update. Nil fields are left unchanged; Style is
// merged one level deep.
type LayerPatch struct {
	Name           *string
	Visible        *bool
	TooltipColumns []string
	Style          *Style
	Source         Source
}

// Apply returns c with the patch applied. ok is false when the patch would
// change the layer type.
func (p LayerPatch) Apply(c LayerConfig) (LayerConfig, bool) {
	out := c.Clone()
	if p.Source != nil {
		if p.Source.LayerType() != c.Type() {
			return c, false
		}
		out.Source = p.Source
	}
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Visible != nil {
		v := *p.Visible
		out.Visible = &v
	}
	if p.TooltipColumns != nil {
		out.TooltipColumns = slices.Clone(p.TooltipColumns)
	}
	if p.Style != nil {
		out.Style = out.Style.Merge(*p.Style)
	}
	return out, true
}
