// Package reconcile keeps a rendering surface in step with the layer store.
//
// Every mutation is classified once into a visibility toggle, an in-place
// paint patch or a structural rebuild, and the cheapest applicable action is
// pushed to the renderer backends. Hex layers are drawn by the overlay
// backend, every other layer type by the map backend.
package reconcile

import (
	"slices"

	"github.com/leapstack-labs/leapmap/pkg/core"
)

// Action is the rendering work needed for a layer change.
type Action int

// Actions, cheapest first.
const (
	ActionVisibility Action = iota
	ActionPatch
	ActionRebuild
)

func (a Action) String() string {
	switch a {
	case ActionVisibility:
		return "visibility"
	case ActionPatch:
		return "patch"
	case ActionRebuild:
		return "rebuild"
	default:
		return "unknown"
	}
}

// Plan is the outcome of Classify.
type Plan struct {
	Action Action
	// Keys are the top-level config keys that differ.
	Keys []string
}

// Has reports whether key is among the differing keys.
func (p Plan) Has(key string) bool {
	return slices.Contains(p.Keys, key)
}

// Classify decides the action for a transition from before to after. A nil
// before is a new layer. A layer type or source change rebuilds, a style
// change patches, and anything else (including no change) only re-asserts
// visibility.
func Classify(before *core.LayerConfig, after core.LayerConfig, visibleBefore, visibleAfter bool) Plan {
	if before == nil {
		return Plan{Action: ActionRebuild, Keys: []string{core.KeyLayerType, core.KeySource}}
	}

	keys := before.DiffKeys(after)
	if visibleBefore != visibleAfter {
		keys = append(keys, core.KeyVisible)
	}
	p := Plan{Keys: keys}
	switch {
	case p.Has(core.KeyLayerType) || p.Has(core.KeySource):
		p.Action = ActionRebuild
	case p.Has(core.KeyStyle):
		p.Action = ActionPatch
	default:
		p.Action = ActionVisibility
	}
	return p
}
