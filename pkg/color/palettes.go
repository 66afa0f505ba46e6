package color

import (
	"sort"
	"strings"
)

// PaletteKind distinguishes ordered ramps from swatch sets.
type PaletteKind int

const (
	// Sequential palettes are ordered ramps suited to continuous scales.
	Sequential PaletteKind = iota
	// Diverging palettes are ordered ramps with a neutral midpoint.
	Diverging
	// Qualitative palettes are unordered swatch sets suited to categories.
	Qualitative
)

// Fallback palettes used when a configured name is unknown.
const (
	FallbackContinuous  = "Sunset"
	FallbackCategorical = "Bold"
)

// Palette is a named color list with one variant per built-in step count.
type Palette struct {
	Name     string
	Kind     PaletteKind
	Variants map[int][]string
}

var palettes = map[string]Palette{}

func register(p Palette) {
	palettes[strings.ToLower(p.Name)] = p
}

func init() {
	register(Palette{Name: "Sunset", Kind: Sequential, Variants: map[int][]string{
		2: {"#f3e79b", "#5c53a5"},
		3: {"#f3e79b", "#eb7f86", "#5c53a5"},
		4: {"#f3e79b", "#f8a07e", "#ce6693", "#5c53a5"},
		5: {"#f3e79b", "#fab27f", "#eb7f86", "#b95e9a", "#5c53a5"},
		6: {"#f3e79b", "#fabc82", "#f59280", "#dc6f8e", "#ab5b9e", "#5c53a5"},
		7: {"#f3e79b", "#fac484", "#f8a07e", "#eb7f86", "#ce6693", "#a059a0", "#5c53a5"},
	}})
	register(Palette{Name: "TealGrn", Kind: Sequential, Variants: map[int][]string{
		7: {"#b0f2bc", "#89e8ac", "#67dba5", "#4cc8a3", "#38b2a3", "#2c98a0", "#257d98"},
	}})
	register(Palette{Name: "Teal", Kind: Sequential, Variants: map[int][]string{
		7: {"#d1eeea", "#a8dbd9", "#85c4c9", "#68abb8", "#4f90a6", "#3b738f", "#2a5674"},
	}})
	register(Palette{Name: "Viridis", Kind: Sequential, Variants: map[int][]string{
		7: {"#440154", "#443983", "#31688e", "#21918c", "#35b779", "#90d743", "#fde725"},
	}})
	register(Palette{Name: "Earth", Kind: Diverging, Variants: map[int][]string{
		7: {"#a16928", "#bd925a", "#d6bd8d", "#edeac2", "#b5c8b8", "#79a7ac", "#2887a1"},
	}})
	register(Palette{Name: "Fall", Kind: Diverging, Variants: map[int][]string{
		7: {"#3d5941", "#778868", "#b5b991", "#f6edbd", "#edbb8a", "#de8a5a", "#ca562c"},
	}})
	register(Palette{Name: "Temps", Kind: Diverging, Variants: map[int][]string{
		7: {"#009392", "#39b185", "#9ccb86", "#e9e29c", "#eeb479", "#e88471", "#cf597e"},
	}})
	register(Palette{Name: "cb_RdYlGn", Kind: Diverging, Variants: map[int][]string{
		3:  {"#fc8d59", "#ffffbf", "#91cf60"},
		5:  {"#d7191c", "#fdae61", "#ffffbf", "#a6d96a", "#1a9641"},
		7:  {"#d73027", "#fc8d59", "#fee08b", "#ffffbf", "#d9ef8b", "#91cf60", "#1a9850"},
		9:  {"#d73027", "#f46d43", "#fdae61", "#fee08b", "#ffffbf", "#d9ef8b", "#a6d96a", "#66bd63", "#1a9850"},
		11: {"#a50026", "#d73027", "#f46d43", "#fdae61", "#fee08b", "#ffffbf", "#d9ef8b", "#a6d96a", "#66bd63", "#1a9850", "#006837"},
	}})
	register(Palette{Name: "cb_Blues", Kind: Sequential, Variants: map[int][]string{
		3: {"#deebf7", "#9ecae1", "#3182bd"},
		5: {"#eff3ff", "#bdd7e7", "#6baed6", "#3182bd", "#08519c"},
		7: {"#eff3ff", "#c6dbef", "#9ecae1", "#6baed6", "#4292c6", "#2171b5", "#084594"},
		9: {"#f7fbff", "#deebf7", "#c6dbef", "#9ecae1", "#6baed6", "#4292c6", "#2171b5", "#08519c", "#08306b"},
	}})
	register(Palette{Name: "Bold", Kind: Qualitative, Variants: map[int][]string{
		12: {"#7f3c8d", "#11a579", "#3969ac", "#f2b701", "#e73f74", "#80ba5a", "#e68310", "#008695", "#cf1c90", "#f97b72", "#4b4b8f", "#a5aa99"},
	}})
	register(Palette{Name: "Vivid", Kind: Qualitative, Variants: map[int][]string{
		12: {"#e58606", "#5d69b1", "#52bca3", "#99c945", "#cc61b0", "#24796c", "#daa51b", "#2f8ac4", "#764e9f", "#ed645a", "#cc3a8e", "#a5aa99"},
	}})
	register(Palette{Name: "Prism", Kind: Qualitative, Variants: map[int][]string{
		12: {"#5f4690", "#1d6996", "#38a6a5", "#0f8554", "#73af48", "#edad08", "#e17c05", "#cc503e", "#94346e", "#6f4070", "#994e95", "#666666"},
	}})
	register(Palette{Name: "Pastel", Kind: Qualitative, Variants: map[int][]string{
		12: {"#66c5cc", "#f6cf71", "#f89c74", "#dcb0f2", "#87c55f", "#9eb9f3", "#fe88b1", "#c9db74", "#8be0a4", "#b497e7", "#d3b484", "#b3b3b3"},
	}})
	register(Palette{Name: "Safe", Kind: Qualitative, Variants: map[int][]string{
		12: {"#88ccee", "#cc6677", "#ddcc77", "#117733", "#332288", "#aa4499", "#44aa99", "#999933", "#882255", "#661100", "#6699cc", "#888888"},
	}})
}

// PaletteNames returns the built-in palette names, sorted.
func PaletteNames() []string {
	names := make([]string, 0, len(palettes))
	for _, p := range palettes {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// FindPalette looks a palette up by case-insensitive name.
func FindPalette(name string) (Palette, bool) {
	p, ok := palettes[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Steps returns the built-in step counts, ascending.
func (p Palette) Steps() []int {
	steps := make([]int, 0, len(p.Variants))
	for k := range p.Variants {
		steps = append(steps, k)
	}
	sort.Ints(steps)
	return steps
}

// Colors returns the variant whose step count is nearest to steps. Ties go to
// the larger variant. Qualitative swatch sets are truncated to steps since any
// prefix of them is itself a valid palette.
func (p Palette) Colors(steps int) []RGBA {
	best := -1
	for _, k := range p.Steps() {
		if best < 0 || absInt(k-steps) <= absInt(best-steps) {
			best = k
		}
	}
	hexes := p.Variants[best]
	if p.Kind == Qualitative && steps > 0 && steps < len(hexes) {
		hexes = hexes[:steps]
	}
	out := make([]RGBA, 0, len(hexes))
	for _, h := range hexes {
		c, _ := ParseCSS(h)
		out = append(out, c)
	}
	return out
}

// Largest returns the palette's widest variant.
func (p Palette) Largest() []RGBA {
	steps := p.Steps()
	return p.Colors(steps[len(steps)-1])
}

// LookupPalette resolves name to a color list sized near steps. When the name
// is unknown the fallback palette is used and ok is false.
func LookupPalette(name string, steps int, fallback string) (colors []RGBA, resolved string, ok bool) {
	p, ok := FindPalette(name)
	if !ok {
		p = palettes[strings.ToLower(fallback)]
	}
	return p.Colors(steps), p.Name, ok
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
