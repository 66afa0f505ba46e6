// Package color compiles declarative color encodings into renderer-ready
// values.
//
// A color encoding is one of:
//   - a CSS color string ("#ff0000", "rgb(255,0,0)", "red")
//   - an RGB(A) literal
//   - an accessor expression passthrough ("@@=...")
//   - a continuous scale over a numeric attribute
//   - a categorical scale over a discrete attribute
//
// Compile turns any of these, plus optional sample data, into a Resolved value
// that can be evaluated per feature or emitted as a map style expression.
package color

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// ExpressionPrefix marks a string color as an accessor expression that is
// handed to the overlay backend untouched.
const ExpressionPrefix = "@@="

// Scale type names used in config documents.
const (
	TypeContinuous  = "continuous"
	TypeCategorical = "categorical"
)

// DefaultNullColor is used for missing or unparseable attribute values.
var DefaultNullColor = RGBA{128, 128, 128, 255}

// =============================================================================
// RGBA
// =============================================================================

// RGBA is a color with 0-255 channels.
type RGBA [4]uint8

// CSS returns the color as a CSS rgba() string.
func (c RGBA) CSS() string {
	return fmt.Sprintf("rgba(%d,%d,%d,%s)", c[0], c[1], c[2], strconv.FormatFloat(float64(c[3])/255, 'f', -1, 64))
}

// Hex returns the color as #rrggbb, or #rrggbbaa when not opaque.
func (c RGBA) Hex() string {
	if c[3] == 255 {
		return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", c[0], c[1], c[2], c[3])
}

// Array returns the channels as a JSON-friendly slice.
func (c RGBA) Array() []any {
	return []any{int(c[0]), int(c[1]), int(c[2]), int(c[3])}
}

// =============================================================================
// Value
// =============================================================================

// Value is a declarative color encoding. The set of implementations is closed.
type Value interface {
	// ToAny returns the canonical document form of the value.
	ToAny() any
	isValue()
}

// CSS is a CSS color string.
type CSS string

// Literal is a fixed RGBA color.
type Literal RGBA

// Expression is an accessor expression passed through to the overlay backend.
type Expression string

// Continuous maps a numeric attribute onto a stepped palette.
type Continuous struct {
	Attr       string
	Palette    string
	Domain     *[2]float64
	Steps      int
	Reverse    bool
	NullColor  *RGBA
	AutoDomain bool
}

// Categorical maps discrete attribute values onto palette swatches.
type Categorical struct {
	Attr       string
	Palette    string
	Categories []any
	LabelAttr  string
	NullColor  *RGBA
}

func (CSS) isValue()          {}
func (Literal) isValue()      {}
func (Expression) isValue()   {}
func (*Continuous) isValue()  {}
func (*Categorical) isValue() {}

// ToAny implements Value.
func (c CSS) ToAny() any { return string(c) }

// ToAny implements Value.
func (l Literal) ToAny() any { return RGBA(l).Array() }

// ToAny implements Value.
func (e Expression) ToAny() any { return string(e) }

// ToAny implements Value.
func (c *Continuous) ToAny() any {
	m := map[string]any{
		"type": TypeContinuous,
		"attr": c.Attr,
	}
	if c.Palette != "" {
		m["palette"] = c.Palette
	}
	if c.Domain != nil {
		m["domain"] = []any{c.Domain[0], c.Domain[1]}
	}
	if c.Steps != 0 {
		m["steps"] = c.Steps
	}
	if c.Reverse {
		m["reverse"] = true
	}
	if c.NullColor != nil {
		m["nullColor"] = c.NullColor.Array()
	}
	if c.AutoDomain {
		m["autoDomain"] = true
	}
	return m
}

// ToAny implements Value.
func (c *Categorical) ToAny() any {
	m := map[string]any{
		"type": TypeCategorical,
		"attr": c.Attr,
	}
	if c.Palette != "" {
		m["palette"] = c.Palette
	}
	if c.Categories != nil {
		cats := make([]any, len(c.Categories))
		copy(cats, c.Categories)
		m["categories"] = cats
	}
	if c.LabelAttr != "" {
		m["labelAttr"] = c.LabelAttr
	}
	if c.NullColor != nil {
		m["nullColor"] = c.NullColor.Array()
	}
	return m
}

// FromAny builds a Value from its normalized document form.
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.HasPrefix(t, ExpressionPrefix) {
			return Expression(t), nil
		}
		return CSS(t), nil
	case []any:
		c, ok := ParseChannels(t)
		if !ok {
			return nil, fmt.Errorf("color array must have 3 or 4 channels in 0-255, got %v", t)
		}
		return Literal(c), nil
	case map[string]any:
		return fromMap(t)
	default:
		return nil, fmt.Errorf("unsupported color value of type %T", v)
	}
}

func fromMap(m map[string]any) (Value, error) {
	typ, _ := m["type"].(string)
	attr, _ := m["attr"].(string)
	palette, _ := m["palette"].(string)

	var nullColor *RGBA
	if raw, ok := m["nullColor"]; ok {
		c, err := parseAnyColor(raw)
		if err != nil {
			return nil, fmt.Errorf("nullColor: %w", err)
		}
		nullColor = &c
	}

	switch typ {
	case TypeContinuous:
		c := &Continuous{Attr: attr, Palette: palette, NullColor: nullColor}
		if d, ok := m["domain"].([]any); ok && len(d) == 2 {
			lo, ok1 := ToFloat(d[0])
			hi, ok2 := ToFloat(d[1])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("domain must contain two numbers, got %v", d)
			}
			if lo > hi {
				lo, hi = hi, lo
			}
			c.Domain = &[2]float64{lo, hi}
		}
		if s, ok := ToFloat(m["steps"]); ok {
			c.Steps = int(s)
		}
		c.Reverse, _ = m["reverse"].(bool)
		c.AutoDomain, _ = m["autoDomain"].(bool)
		return c, nil
	case TypeCategorical:
		c := &Categorical{Attr: attr, Palette: palette, NullColor: nullColor}
		if cats, ok := m["categories"].([]any); ok {
			c.Categories = append([]any{}, cats...)
		}
		c.LabelAttr, _ = m["labelAttr"].(string)
		return c, nil
	case "":
		if nullColor != nil && attr == "" {
			return Literal(*nullColor), nil
		}
		return nil, fmt.Errorf("color scale is missing a type")
	default:
		return nil, fmt.Errorf("unknown color scale type %q", typ)
	}
}

func parseAnyColor(v any) (RGBA, error) {
	switch t := v.(type) {
	case string:
		c, ok := ParseCSS(t)
		if !ok {
			return RGBA{}, fmt.Errorf("unparseable color %q", t)
		}
		return c, nil
	case []any:
		c, ok := ParseChannels(t)
		if !ok {
			return RGBA{}, fmt.Errorf("color array must have 3 or 4 channels in 0-255, got %v", t)
		}
		return c, nil
	default:
		return RGBA{}, fmt.Errorf("unsupported color of type %T", v)
	}
}

// =============================================================================
// Parsing
// =============================================================================

// ParseChannels reads a 3 or 4 element numeric array with 0-255 channels.
func ParseChannels(arr []any) (RGBA, bool) {
	if len(arr) != 3 && len(arr) != 4 {
		return RGBA{}, false
	}
	out := RGBA{0, 0, 0, 255}
	for i, v := range arr {
		f, ok := ToFloat(v)
		if !ok || f < 0 || f > 255 {
			return RGBA{}, false
		}
		out[i] = uint8(math.Round(f))
	}
	return out, true
}

var namedColors = map[string]RGBA{
	"black":       {0, 0, 0, 255},
	"white":       {255, 255, 255, 255},
	"red":         {255, 0, 0, 255},
	"green":       {0, 128, 0, 255},
	"blue":        {0, 0, 255, 255},
	"yellow":      {255, 255, 0, 255},
	"orange":      {255, 165, 0, 255},
	"purple":      {128, 0, 128, 255},
	"gray":        {128, 128, 128, 255},
	"grey":        {128, 128, 128, 255},
	"cyan":        {0, 255, 255, 255},
	"magenta":     {255, 0, 255, 255},
	"teal":        {0, 128, 128, 255},
	"navy":        {0, 0, 128, 255},
	"transparent": {0, 0, 0, 0},
}

// ParseCSS parses hex, rgb()/rgba() and a small set of named colors.
func ParseCSS(s string) (RGBA, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if c, ok := namedColors[s]; ok {
		return c, true
	}
	if strings.HasPrefix(s, "#") {
		return parseHex(s)
	}
	if strings.HasPrefix(s, "rgb(") || strings.HasPrefix(s, "rgba(") {
		return parseFunctional(s)
	}
	return RGBA{}, false
}

func parseHex(s string) (RGBA, bool) {
	alpha := uint8(255)
	switch len(s) {
	case 5, 9:
		// #rgba and #rrggbbaa carry a trailing alpha channel.
		aHex := s[len(s)-1:]
		if len(s) == 9 {
			aHex = s[len(s)-2:]
		} else {
			aHex += aHex
		}
		a, err := strconv.ParseUint(aHex, 16, 8)
		if err != nil {
			return RGBA{}, false
		}
		alpha = uint8(a)
		s = s[:len(s)-(len(s)-1)/4]
	case 4, 7:
	default:
		return RGBA{}, false
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return RGBA{}, false
	}
	r, g, b := c.Clamped().RGB255()
	return RGBA{r, g, b, alpha}, true
}

func parseFunctional(s string) (RGBA, bool) {
	open := strings.IndexByte(s, '(')
	if !strings.HasSuffix(s, ")") || open < 0 {
		return RGBA{}, false
	}
	parts := strings.Split(s[open+1:len(s)-1], ",")
	if len(parts) != 3 && len(parts) != 4 {
		return RGBA{}, false
	}
	out := RGBA{0, 0, 0, 255}
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if i == 3 {
			a, err := strconv.ParseFloat(p, 64)
			if err != nil || a < 0 || a > 1 {
				return RGBA{}, false
			}
			out[3] = uint8(math.Round(a * 255))
			continue
		}
		f, ok := parseChannel(p)
		if !ok {
			return RGBA{}, false
		}
		out[i] = f
	}
	return out, true
}

func parseChannel(p string) (uint8, bool) {
	if pct, ok := strings.CutSuffix(p, "%"); ok {
		f, err := strconv.ParseFloat(pct, 64)
		if err != nil || f < 0 || f > 100 {
			return 0, false
		}
		return uint8(math.Round(f * 255 / 100)), true
	}
	f, err := strconv.ParseFloat(p, 64)
	if err != nil || f < 0 || f > 255 {
		return 0, false
	}
	return uint8(math.Round(f)), true
}

// ToFloat converts JSON-ish numeric values, including numeric strings.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
