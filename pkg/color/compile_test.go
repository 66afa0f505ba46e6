package color

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Literals(t *testing.T) {
	tests := []struct {
		name     string
		value    Value
		want     RGBA
		fallback bool
	}{
		{name: "hex", value: CSS("#ff0000"), want: RGBA{255, 0, 0, 255}},
		{name: "short hex", value: CSS("#0f0"), want: RGBA{0, 255, 0, 255}},
		{name: "hex with alpha", value: CSS("#0000ff80"), want: RGBA{0, 0, 255, 128}},
		{name: "rgba", value: CSS("rgba(10, 20, 30, 0.5)"), want: RGBA{10, 20, 30, 128}},
		{name: "named", value: CSS("Orange"), want: RGBA{255, 165, 0, 255}},
		{name: "array", value: Literal{1, 2, 3, 255}, want: RGBA{1, 2, 3, 255}},
		{name: "garbage degrades", value: CSS("not-a-color"), want: DefaultNullColor, fallback: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Compile(tt.value, nil)
			assert.Equal(t, KindLiteral, r.Kind)
			assert.Equal(t, tt.want, r.Literal)
			assert.Equal(t, tt.fallback, r.Fallback)
			assert.Equal(t, tt.want, r.Eval(map[string]any{"x": 1}))
		})
	}
}

func TestCompile_ExpressionPassthrough(t *testing.T) {
	r := Compile(Expression("@@=[properties.r, properties.g, 0]"), nil)
	assert.Equal(t, KindExpression, r.Kind)
	assert.Equal(t, "@@=[properties.r, properties.g, 0]", r.Expression())
}

func TestCompile_ContinuousDomainSwap(t *testing.T) {
	forward := Compile(&Continuous{Attr: "v", Palette: "Sunset", Domain: &[2]float64{0, 10}}, nil)
	inverted := Compile(&Continuous{Attr: "v", Palette: "Sunset", Domain: &[2]float64{10, 0}}, nil)

	assert.Equal(t, forward, inverted)
	require.NotNil(t, forward.Domain)
	assert.Equal(t, [2]float64{0, 10}, *forward.Domain)
}

func TestCompile_ContinuousInfersDomain(t *testing.T) {
	sample := Sample{
		{"pct": 10.0},
		{"pct": nil},
		{"pct": "40"},
		{"pct": 70},
		{"other": 1000.0},
	}
	r := Compile(&Continuous{Attr: "pct", Palette: "TealGrn"}, sample)

	require.False(t, r.DomainPending)
	require.NotNil(t, r.Domain)
	assert.Equal(t, [2]float64{10, 70}, *r.Domain)
	require.Len(t, r.Stops, 7)
	assert.InDelta(t, 10.0, r.Stops[0].Threshold, 1e-9)
	assert.InDelta(t, 10.0+60.0/7, r.Stops[1].Threshold, 1e-9)

	assert.Equal(t, r.Stops[0].Color, r.Eval(map[string]any{"pct": 10.0}))
	assert.Equal(t, r.Stops[6].Color, r.Eval(map[string]any{"pct": 70.0}))
	assert.Equal(t, r.Stops[0].Color, r.Eval(map[string]any{"pct": -5.0}))
	assert.Equal(t, DefaultNullColor, r.Eval(map[string]any{"pct": nil}))
	assert.Equal(t, DefaultNullColor, r.Eval(map[string]any{}))
}

func TestCompile_ContinuousDomainPending(t *testing.T) {
	c := &Continuous{Attr: "pct"}

	r := Compile(c, nil)
	assert.True(t, r.DomainPending)
	assert.Empty(t, r.Stops)
	assert.Equal(t, DefaultNullColor, r.Eval(map[string]any{"pct": 3.0}))
	assert.Equal(t, DefaultNullColor.CSS(), r.Expression())
	assert.True(t, DependsOnData(c))

	r = Compile(c, Sample{{"pct": "NaN"}, {"pct": nil}})
	assert.True(t, r.DomainPending, "non-finite values never produce a domain")

	r = Compile(c, Sample{{"pct": 1.0}, {"pct": 3.0}})
	assert.False(t, r.DomainPending)
}

func TestCompile_AutoDomainPrefersData(t *testing.T) {
	c := &Continuous{Attr: "v", Domain: &[2]float64{0, 1000}, AutoDomain: true}

	r := Compile(c, Sample{{"v": 5.0}, {"v": 15.0}})
	require.NotNil(t, r.Domain)
	assert.Equal(t, [2]float64{5, 15}, *r.Domain)

	r = Compile(c, nil)
	require.NotNil(t, r.Domain)
	assert.Equal(t, [2]float64{0, 1000}, *r.Domain)
}

func TestCompile_ContinuousStepsAndReverse(t *testing.T) {
	base := Compile(&Continuous{Attr: "v", Palette: "cb_RdYlGn", Steps: 5, Domain: &[2]float64{0, 1}}, nil)
	rev := Compile(&Continuous{Attr: "v", Palette: "cb_RdYlGn", Steps: 5, Reverse: true, Domain: &[2]float64{0, 1}}, nil)

	require.Len(t, base.Stops, 5)
	require.Len(t, rev.Stops, 5)
	for i := range base.Stops {
		assert.Equal(t, base.Stops[i].Color, rev.Stops[4-i].Color)
	}

	// 4 is equidistant from the 3 and 5 variants; the larger wins.
	four := Compile(&Continuous{Attr: "v", Palette: "cb_RdYlGn", Steps: 4, Domain: &[2]float64{0, 1}}, nil)
	assert.Len(t, four.Stops, 5)

	clamped := Compile(&Continuous{Attr: "v", Palette: "Sunset", Steps: 40, Domain: &[2]float64{0, 1}}, nil)
	assert.Len(t, clamped.Stops, 7)
}

func TestCompile_UnknownPaletteFallsBack(t *testing.T) {
	r := Compile(&Continuous{Attr: "v", Palette: "Sunsett", Domain: &[2]float64{0, 1}}, nil)
	assert.True(t, r.Fallback)
	assert.Equal(t, FallbackContinuous, r.Palette)
	assert.NotEmpty(t, r.Stops)

	c := Compile(&Categorical{Attr: "k", Palette: "Bolder"}, Sample{{"k": "a"}})
	assert.True(t, c.Fallback)
	assert.Equal(t, FallbackCategorical, c.Palette)

	d := Compile(&Continuous{Attr: "v", Domain: &[2]float64{0, 1}}, nil)
	assert.False(t, d.Fallback, "an omitted palette is not a degrade")
}

func TestCompile_CategoricalFirstSeenOrder(t *testing.T) {
	sample := Sample{
		{"kind": "park", "label": "Park"},
		{"kind": "road", "label": "Road"},
		{"kind": "park", "label": "Other"},
		{"kind": nil},
		{"kind": "lake"},
	}
	r := Compile(&Categorical{Attr: "kind", Palette: "Bold", LabelAttr: "label"}, sample)

	require.Len(t, r.Categories, 3)
	assert.Equal(t, "park", r.Categories[0].Value)
	assert.Equal(t, "Park", r.Categories[0].Label)
	assert.Equal(t, "road", r.Categories[1].Value)
	assert.Equal(t, "lake", r.Categories[2].Value)
	assert.Equal(t, "lake", r.Categories[2].Label)

	bold, ok := FindPalette("Bold")
	require.True(t, ok)
	swatches := bold.Largest()
	for i, c := range r.Categories {
		assert.Equal(t, swatches[i], c.Color)
	}
	assert.Equal(t, DefaultNullColor, r.Eval(map[string]any{"kind": nil}))
}

func TestCompile_CategoricalCoverage(t *testing.T) {
	var sample Sample
	for i := range 30 {
		sample = append(sample, map[string]any{"n": float64(i % 15)})
	}
	r := Compile(&Categorical{Attr: "n"}, sample)

	require.Len(t, r.Categories, 15)
	seen := map[string]bool{}
	for _, row := range sample {
		c := r.Eval(row)
		assert.NotEqual(t, r.Null, c)
		seen[c.Hex()] = true
	}
	// 15 categories over 12 swatches wrap around.
	assert.Len(t, seen, 12)
	assert.Equal(t, r.Categories[0].Color, r.Categories[12].Color)
}

func TestCompile_CategoricalExplicitCategories(t *testing.T) {
	null := RGBA{1, 1, 1, 255}
	r := Compile(&Categorical{Attr: "k", Palette: "Vivid", Categories: []any{"a", "b"}, NullColor: &null},
		Sample{{"k": "c"}})

	require.Len(t, r.Categories, 2)
	assert.Equal(t, null, r.Eval(map[string]any{"k": "c"}))
	assert.NotEqual(t, null, r.Eval(map[string]any{"k": "b"}))

	expr, ok := r.Expression().([]any)
	require.True(t, ok)
	assert.Equal(t, "match", expr[0])
	assert.Equal(t, null.CSS(), expr[len(expr)-1])
}

func TestCompile_ContinuousExpression(t *testing.T) {
	r := Compile(&Continuous{Attr: "v", Palette: "Sunset", Steps: 3, Domain: &[2]float64{0, 30}}, nil)

	expr, ok := r.Expression().([]any)
	require.True(t, ok)
	assert.Equal(t, "case", expr[0])
	step, ok := expr[2].([]any)
	require.True(t, ok)
	assert.Equal(t, "step", step[0])
	assert.Equal(t, []any{
		"step", []any{"to-number", []any{"get", "v"}}, r.Stops[0].Color.CSS(),
		10.0, r.Stops[1].Color.CSS(),
		20.0, r.Stops[2].Color.CSS(),
	}, step)
}

func TestSampleFromFeatures(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Point{1, 2})
	f.Properties["v"] = 3.0
	fc.Append(f)

	assert.Equal(t, Sample{{"v": 3.0}}, SampleFromFeatures(fc))
	assert.Nil(t, SampleFromFeatures(nil))
}
