package layerstore

import "github.com/leapstack-labs/leapmap/pkg/core"

// EventKind identifies a store mutation.
type EventKind string

// Event kinds.
const (
	EventAdd        EventKind = "add"
	EventRemove     EventKind = "remove"
	EventUpdate     EventKind = "update"
	EventVisibility EventKind = "visibility"
	EventReorder    EventKind = "reorder"
	EventGeoJSON    EventKind = "geojson"
	EventBatch      EventKind = "batch"
)

// EventKinds returns every event kind.
func EventKinds() []EventKind {
	return []EventKind{EventAdd, EventRemove, EventUpdate, EventVisibility, EventReorder, EventGeoJSON, EventBatch}
}

// Change is a before/after pair for one layer. Before is nil for a layer
// that did not exist; After is nil for a layer that no longer exists.
type Change struct {
	Before *core.LayerState
	After  *core.LayerState
}

// LayerID returns the id of the changed layer.
func (c Change) LayerID() string {
	if c.After != nil {
		return c.After.Config.ID
	}
	if c.Before != nil {
		return c.Before.Config.ID
	}
	return ""
}

// Event describes one completed mutation. Single-layer events set ID and
// Change; batch events carry one Change per affected layer in Changes.
type Event struct {
	Kind EventKind
	ID   string
	Change
	Changes []Change
}

// Listener receives store events.
type Listener func(Event)

type subscription struct {
	id int
	fn Listener
}
