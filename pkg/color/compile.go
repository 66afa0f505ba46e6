package color

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb/geojson"
)

// DefaultSteps is the number of classes used when a continuous scale does not
// configure steps.
const DefaultSteps = 7

// Step bounds for continuous scales.
const (
	MinSteps = 2
	MaxSteps = 12
)

// Kind identifies the shape of a Resolved color.
type Kind int

const (
	// KindLiteral is a single fixed color.
	KindLiteral Kind = iota
	// KindContinuous is a stepped numeric scale.
	KindContinuous
	// KindCategorical is a value-to-swatch lookup.
	KindCategorical
	// KindExpression is an accessor expression passthrough.
	KindExpression
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindContinuous:
		return TypeContinuous
	case KindCategorical:
		return TypeCategorical
	case KindExpression:
		return "expression"
	default:
		return "unknown"
	}
}

// Sample is the attribute rows a scale is fitted to.
type Sample []map[string]any

// SampleFromFeatures extracts feature properties as a Sample.
func SampleFromFeatures(fc *geojson.FeatureCollection) Sample {
	if fc == nil {
		return nil
	}
	out := make(Sample, 0, len(fc.Features))
	for _, f := range fc.Features {
		out = append(out, f.Properties)
	}
	return out
}

// Stop is one class of a continuous scale. Values at or above Threshold and
// below the next stop's threshold get Color.
type Stop struct {
	Threshold float64 `json:"threshold"`
	Color     RGBA    `json:"color"`
}

// Category is one entry of a categorical scale.
type Category struct {
	Value any    `json:"value"`
	Label string `json:"label"`
	Color RGBA   `json:"color"`
}

// Resolved is a compiled color encoding. It is immutable once returned.
type Resolved struct {
	Kind          Kind        `json:"kind"`
	Literal       RGBA        `json:"literal"`
	Attr          string      `json:"attr,omitempty"`
	Stops         []Stop      `json:"stops,omitempty"`
	Categories    []Category  `json:"categories,omitempty"`
	Null          RGBA        `json:"nullColor"`
	Domain        *[2]float64 `json:"domain,omitempty"`
	DomainPending bool        `json:"domainPending,omitempty"`
	Palette       string      `json:"palette,omitempty"`
	Fallback      bool        `json:"fallback,omitempty"`
	Expr          string      `json:"expression,omitempty"`

	index map[string]int
}

// Options tunes Compile.
type Options struct {
	// Logger receives warnings when a palette or literal degrades. Optional.
	Logger *slog.Logger
}

// Compile resolves v against sample.
func Compile(v Value, sample Sample) Resolved {
	return CompileWithOptions(v, sample, Options{})
}

// CompileWithOptions resolves v against sample. It never fails: unknown
// palettes fall back to a built-in ramp and unparseable literals to the null
// color, with Fallback set.
func CompileWithOptions(v Value, sample Sample, opts Options) Resolved {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var r Resolved
	switch t := v.(type) {
	case nil:
		r = Resolved{Kind: KindLiteral, Literal: DefaultNullColor, Null: DefaultNullColor}
	case CSS:
		c, ok := ParseCSS(string(t))
		if !ok {
			logger.Warn("unparseable color, using null color", slog.String("color", string(t)))
			r = Resolved{Kind: KindLiteral, Literal: DefaultNullColor, Null: DefaultNullColor, Fallback: true}
			break
		}
		r = Resolved{Kind: KindLiteral, Literal: c, Null: DefaultNullColor}
	case Literal:
		r = Resolved{Kind: KindLiteral, Literal: RGBA(t), Null: DefaultNullColor}
	case Expression:
		r = Resolved{Kind: KindExpression, Expr: string(t), Null: DefaultNullColor}
	case *Continuous:
		r = compileContinuous(t, sample)
	case *Categorical:
		r = compileCategorical(t, sample)
	}

	if r.Fallback && r.Kind != KindLiteral {
		logger.Warn("unknown palette, using fallback",
			slog.String("attr", r.Attr),
			slog.String("fallback", r.Palette))
	}
	return r
}

func nullOf(c *RGBA) RGBA {
	if c != nil {
		return *c
	}
	return DefaultNullColor
}

func compileContinuous(c *Continuous, sample Sample) Resolved {
	r := Resolved{Kind: KindContinuous, Attr: c.Attr, Null: nullOf(c.NullColor)}

	steps := c.Steps
	if steps == 0 {
		steps = DefaultSteps
	}
	steps = min(max(steps, MinSteps), MaxSteps)

	colors, name, ok := LookupPalette(c.Palette, steps, FallbackContinuous)
	r.Palette = name
	r.Fallback = !ok && c.Palette != ""
	if c.Reverse {
		colors = reversed(colors)
	}

	var domain *[2]float64
	if c.Domain != nil && !c.AutoDomain {
		lo, hi := c.Domain[0], c.Domain[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		domain = &[2]float64{lo, hi}
	}
	if domain == nil {
		domain = inferDomain(c.Attr, sample)
	}
	if domain == nil && c.Domain != nil {
		// autoDomain with no usable data keeps the configured domain.
		lo, hi := c.Domain[0], c.Domain[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		domain = &[2]float64{lo, hi}
	}
	if domain == nil {
		r.DomainPending = true
		return r
	}
	r.Domain = domain

	lo, hi := domain[0], domain[1]
	if lo == hi {
		r.Stops = []Stop{{Threshold: lo, Color: colors[0]}}
		return r
	}
	n := len(colors)
	r.Stops = make([]Stop, n)
	for i, col := range colors {
		r.Stops[i] = Stop{Threshold: lo + float64(i)*(hi-lo)/float64(n), Color: col}
	}
	return r
}

// inferDomain returns [min, max] of attr over sample, ignoring missing and
// non-finite values, or nil when nothing usable is present.
func inferDomain(attr string, sample Sample) *[2]float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range sample {
		f, ok := ToFloat(row[attr])
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		lo = min(lo, f)
		hi = max(hi, f)
	}
	if lo > hi {
		return nil
	}
	return &[2]float64{lo, hi}
}

func compileCategorical(c *Categorical, sample Sample) Resolved {
	r := Resolved{Kind: KindCategorical, Attr: c.Attr, Null: nullOf(c.NullColor)}

	p, ok := FindPalette(c.Palette)
	if !ok {
		p, _ = FindPalette(FallbackCategorical)
		r.Fallback = c.Palette != ""
	}
	r.Palette = p.Name
	colors := p.Largest()

	type entry struct {
		value any
		label string
	}
	var entries []entry
	if c.Categories != nil {
		for _, v := range c.Categories {
			entries = append(entries, entry{value: v, label: fmt.Sprint(v)})
		}
	} else {
		seen := make(map[string]bool)
		for _, row := range sample {
			v, present := row[c.Attr]
			if !present || v == nil {
				continue
			}
			key := fmt.Sprint(v)
			if seen[key] {
				continue
			}
			seen[key] = true
			label := key
			if c.LabelAttr != "" {
				if l, ok := row[c.LabelAttr]; ok && l != nil {
					label = fmt.Sprint(l)
				}
			}
			entries = append(entries, entry{value: v, label: label})
		}
	}

	r.Categories = make([]Category, 0, len(entries))
	r.index = make(map[string]int, len(entries))
	for i, e := range entries {
		key := fmt.Sprint(e.value)
		if _, dup := r.index[key]; dup {
			continue
		}
		r.index[key] = len(r.Categories)
		r.Categories = append(r.Categories, Category{Value: e.value, Label: e.label, Color: colors[i%len(colors)]})
	}
	return r
}

func reversed(in []RGBA) []RGBA {
	out := make([]RGBA, len(in))
	for i, c := range in {
		out[len(in)-1-i] = c
	}
	return out
}

// DependsOnData reports whether compiling v depends on the layer's data.
func DependsOnData(v Value) bool {
	switch t := v.(type) {
	case *Continuous:
		return t.Domain == nil || t.AutoDomain
	case *Categorical:
		return t.Categories == nil
	default:
		return false
	}
}

// Eval returns the color for one feature's properties.
func (r Resolved) Eval(props map[string]any) RGBA {
	switch r.Kind {
	case KindLiteral:
		return r.Literal
	case KindContinuous:
		if r.DomainPending || len(r.Stops) == 0 {
			return r.Null
		}
		f, ok := ToFloat(props[r.Attr])
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return r.Null
		}
		out := r.Stops[0].Color
		for _, s := range r.Stops[1:] {
			if f < s.Threshold {
				break
			}
			out = s.Color
		}
		return out
	case KindCategorical:
		v, ok := props[r.Attr]
		if !ok || v == nil {
			return r.Null
		}
		idx, ok := r.lookup(fmt.Sprint(v))
		if !ok {
			return r.Null
		}
		return r.Categories[idx].Color
	default:
		return r.Null
	}
}

func (r Resolved) lookup(key string) (int, bool) {
	if r.index != nil {
		i, ok := r.index[key]
		return i, ok
	}
	for i, c := range r.Categories {
		if fmt.Sprint(c.Value) == key {
			return i, true
		}
	}
	return 0, false
}

// Expression returns the value as a map style expression: a color string for
// literals, or a step/match expression guarded against missing values.
func (r Resolved) Expression() any {
	switch r.Kind {
	case KindLiteral:
		return r.Literal.CSS()
	case KindExpression:
		return r.Expr
	case KindContinuous:
		if r.DomainPending || len(r.Stops) == 0 {
			return r.Null.CSS()
		}
		step := []any{"step", []any{"to-number", []any{"get", r.Attr}}, r.Stops[0].Color.CSS()}
		for _, s := range r.Stops[1:] {
			step = append(step, s.Threshold, s.Color.CSS())
		}
		return []any{
			"case",
			[]any{"==", []any{"typeof", []any{"get", r.Attr}}, "number"}, step,
			r.Null.CSS(),
		}
	case KindCategorical:
		if len(r.Categories) == 0 {
			return r.Null.CSS()
		}
		match := []any{"match", []any{"to-string", []any{"get", r.Attr}}}
		for _, c := range r.Categories {
			match = append(match, fmt.Sprint(c.Value), c.Color.CSS())
		}
		return append(match, r.Null.CSS())
	default:
		return r.Null.CSS()
	}
}

// Equal reports whether two resolved values render identically.
func (r Resolved) Equal(o Resolved) bool {
	if r.Kind != o.Kind || r.Literal != o.Literal || r.Attr != o.Attr || r.Null != o.Null ||
		r.DomainPending != o.DomainPending || r.Expr != o.Expr ||
		len(r.Stops) != len(o.Stops) || len(r.Categories) != len(o.Categories) {
		return false
	}
	for i := range r.Stops {
		if r.Stops[i] != o.Stops[i] {
			return false
		}
	}
	for i := range r.Categories {
		a, b := r.Categories[i], o.Categories[i]
		if fmt.Sprint(a.Value) != fmt.Sprint(b.Value) || a.Label != b.Label || a.Color != b.Color {
			return false
		}
	}
	return true
}
