package mapconfig

import (
	"maps"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmap/pkg/color"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

// paletteAliases maps common alternate palette names onto built-in ones.
var paletteAliases = map[string]string{
	"rdylgn":   "cb_RdYlGn",
	"blues":    "cb_Blues",
	"tealgrn":  "TealGrn",
	"teal_grn": "TealGrn",
}

// Suggest finds the closest vocabulary entry for a mistyped input. Matching
// runs in priority order: exact case-insensitive match, alias table, then
// prefix match in either direction where the shortest candidate wins. Alias
// keys take part in prefix matching and resolve to their target. Returns ""
// when nothing matches.
func Suggest(input string, vocabulary []string, aliases map[string]string) string {
	in := strings.ToLower(strings.TrimSpace(input))
	if in == "" {
		return ""
	}

	for _, w := range vocabulary {
		if strings.ToLower(w) == in {
			return w
		}
	}
	if target, ok := aliases[in]; ok {
		return target
	}

	type candidate struct {
		key    string
		target string
	}
	candidates := make([]candidate, 0, len(vocabulary)+len(aliases))
	for _, w := range vocabulary {
		candidates = append(candidates, candidate{key: strings.ToLower(w), target: w})
	}
	for _, k := range slices.Sorted(maps.Keys(aliases)) {
		candidates = append(candidates, candidate{key: strings.ToLower(k), target: aliases[k]})
	}

	best := candidate{}
	for _, c := range candidates {
		if !strings.HasPrefix(c.key, in) && !strings.HasPrefix(in, c.key) {
			continue
		}
		if best.key == "" || len(c.key) < len(best.key) {
			best = c
		}
	}
	return best.target
}

// SuggestLayerType suggests a layer type for a mistyped input.
func SuggestLayerType(input string) string {
	vocab := make([]string, 0, len(core.LayerTypes()))
	for _, t := range core.LayerTypes() {
		vocab = append(vocab, string(t))
	}
	return Suggest(input, vocab, layerTypeAliases)
}

// SuggestPalette suggests a built-in palette for a mistyped name.
func SuggestPalette(input string) string {
	return Suggest(input, color.PaletteNames(), paletteAliases)
}

// SuggestBasemap suggests a known basemap for a mistyped name.
func SuggestBasemap(input string) string {
	return Suggest(input, core.Basemaps(), basemapAliases)
}
