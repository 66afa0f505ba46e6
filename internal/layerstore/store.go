// Package layerstore holds the authoritative per-layer state of a map:
// config, visibility, stacking order and derived geometry.
//
// Mutations are applied under a mutex. The resulting events are queued and
// delivered in FIFO order after the lock is released, so a listener always
// observes a consistent store and may itself mutate the store.
package layerstore

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/leapstack-labs/leapmap/pkg/core"
)

// Store is the single source of truth for layer state.
type Store struct {
	mu     sync.Mutex
	layers map[string]*core.LayerState
	order  []string // index is the layer's order; 0 is the top
	ids    *IDCounter
	logger *slog.Logger

	subs    map[EventKind][]subscription
	all     []subscription
	nextSub int

	queue       []Event
	dispatching bool
}

// Option configures a Store.
type Option func(*Store)

// WithIDCounter injects the id generator used for layers without an id.
func WithIDCounter(c *IDCounter) Option {
	return func(s *Store) { s.ids = c }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		layers: make(map[string]*core.LayerState),
		subs:   make(map[EventKind][]subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ids == nil {
		s.ids = NewIDCounter()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// IDs returns the store's id counter.
func (s *Store) IDs() *IDCounter {
	return s.ids
}

// =============================================================================
// Subscriptions
// =============================================================================

// On registers fn for one event kind and returns a function that removes it.
func (s *Store) On(kind EventKind, fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs[kind] = append(s.subs[kind], subscription{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subs[kind] = slices.DeleteFunc(s.subs[kind], func(sub subscription) bool { return sub.id == id })
	}
}

// OnAll registers fn for every event kind.
func (s *Store) OnAll(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.all = append(s.all, subscription{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.all = slices.DeleteFunc(s.all, func(sub subscription) bool { return sub.id == id })
	}
}

// emit queues an event. Caller holds s.mu.
func (s *Store) emit(ev Event) {
	s.queue = append(s.queue, ev)
}

// dispatch delivers queued events. Only one goroutine drains the queue at a
// time; events queued by listeners are delivered after the current listener
// returns. Listeners for a kind run before wildcard listeners, each group in
// registration order.
func (s *Store) dispatch() {
	s.mu.Lock()
	if s.dispatching {
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	defer func() {
		s.dispatching = false
		s.mu.Unlock()
	}()

	for len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		targets := make([]Listener, 0, len(s.subs[ev.Kind])+len(s.all))
		for _, sub := range s.subs[ev.Kind] {
			targets = append(targets, sub.fn)
		}
		for _, sub := range s.all {
			targets = append(targets, sub.fn)
		}

		s.mu.Unlock()
		for _, fn := range targets {
			s.deliver(fn, ev)
		}
		s.mu.Lock()
	}
}

func (s *Store) deliver(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("layer store listener panicked", "event", ev.Kind, "layer", ev.ID, "panic", r)
		}
	}()
	fn(ev)
}

// =============================================================================
// Internal helpers (caller holds s.mu)
// =============================================================================

func (s *Store) snapshot(id string) *core.LayerState {
	st, ok := s.layers[id]
	if !ok {
		return nil
	}
	out := *st
	out.Config = st.Config.Clone()
	return &out
}

func (s *Store) recomputeOrders() {
	for i, id := range s.order {
		s.layers[id].Order = i
	}
}

func (s *Store) assignID(cfg *core.LayerConfig) {
	for cfg.ID == "" {
		id := s.ids.Next()
		if _, taken := s.layers[id]; !taken {
			cfg.ID = id
		}
	}
}

func (s *Store) insert(cfg core.LayerConfig, at int) string {
	cfg = cfg.Clone()
	s.assignID(&cfg)
	at = min(max(at, 0), len(s.order))
	s.layers[cfg.ID] = &core.LayerState{Config: cfg, Visible: cfg.IsVisible()}
	s.order = slices.Insert(s.order, at, cfg.ID)
	s.recomputeOrders()
	return cfg.ID
}

func (s *Store) indexOf(id string) int {
	return slices.Index(s.order, id)
}

func (s *Store) clearLocked() []Change {
	changes := make([]Change, 0, len(s.order))
	for _, id := range s.order {
		changes = append(changes, Change{Before: s.snapshot(id)})
	}
	s.layers = make(map[string]*core.LayerState)
	s.order = nil
	return changes
}

// =============================================================================
// Lifecycle
// =============================================================================

// Init replaces all state with layers, ordered by position. Layers without
// an id are assigned one; a repeated id is skipped. One batch event lists
// every removed and added layer.
func (s *Store) Init(layers []core.LayerConfig) {
	s.mu.Lock()
	changes := s.clearLocked()
	for _, cfg := range layers {
		if cfg.ID != "" {
			if _, dup := s.layers[cfg.ID]; dup {
				s.logger.Warn("skipping duplicate layer id", "layer", cfg.ID)
				continue
			}
		}
		id := s.insert(cfg, len(s.order))
		changes = append(changes, Change{After: s.snapshot(id)})
	}
	s.emit(Event{Kind: EventBatch, Changes: changes})
	s.mu.Unlock()

	s.logger.Debug("layer store initialized", "layers", len(layers))
	s.dispatch()
}

// Clear removes every layer.
func (s *Store) Clear() {
	s.mu.Lock()
	changes := s.clearLocked()
	if len(changes) > 0 {
		s.emit(Event{Kind: EventBatch, Changes: changes})
	}
	s.mu.Unlock()
	s.dispatch()
}

// AddOption configures Add.
type AddOption func(*addOptions)

type addOptions struct {
	order int
	set   bool
}

// WithOrder inserts the layer at order n. Existing layers at or below n
// shift down by one.
func WithOrder(n int) AddOption {
	return func(o *addOptions) {
		o.order = n
		o.set = true
	}
}

// Add inserts a layer, at the end unless WithOrder is given, and returns its
// id. ok is false when the id is already present or the config has no source.
func (s *Store) Add(cfg core.LayerConfig, opts ...AddOption) (string, bool) {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Source == nil {
		return "", false
	}

	s.mu.Lock()
	if _, exists := s.layers[cfg.ID]; cfg.ID != "" && exists {
		s.mu.Unlock()
		return "", false
	}
	at := len(s.order)
	if o.set {
		at = o.order
	}
	id := s.insert(cfg, at)
	s.emit(Event{Kind: EventAdd, ID: id, Change: Change{After: s.snapshot(id)}})
	s.mu.Unlock()

	s.logger.Debug("layer added", "layer", id, "type", cfg.Type())
	s.dispatch()
	return id, true
}

// Remove deletes a layer and its cached geometry.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	before := s.snapshot(id)
	if before == nil {
		s.mu.Unlock()
		return false
	}
	delete(s.layers, id)
	s.order = slices.Delete(s.order, before.Order, before.Order+1)
	s.recomputeOrders()
	s.emit(Event{Kind: EventRemove, ID: id, Change: Change{Before: before}})
	s.mu.Unlock()

	s.logger.Debug("layer removed", "layer", id)
	s.dispatch()
	return true
}

// Update merges patch into a layer's config. It returns false for an unknown
// id or when the patch would change the layer type. A patch that sets
// Visible also changes the layer's visibility.
func (s *Store) Update(id string, patch core.LayerPatch) bool {
	s.mu.Lock()
	st, ok := s.layers[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	next, ok := patch.Apply(st.Config)
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("rejected layer type change", "layer", id, "from", st.Config.Type(), "to", patch.Source.LayerType())
		return false
	}
	before := s.snapshot(id)
	next.ID = id
	dropStaleGeometry(st, next)
	st.Config = next
	if patch.Visible != nil {
		st.Visible = *patch.Visible
	}
	s.emit(Event{Kind: EventUpdate, ID: id, Change: Change{Before: before, After: s.snapshot(id)}})
	s.mu.Unlock()

	s.dispatch()
	return true
}

// Replace swaps a layer's whole config, keeping its id and order. It returns
// false for an unknown id or a layer type change. Visibility follows the new
// config; cached geometry is dropped when the data source changes.
func (s *Store) Replace(id string, cfg core.LayerConfig) bool {
	s.mu.Lock()
	st, ok := s.layers[id]
	if !ok || cfg.Source == nil || cfg.Type() != st.Config.Type() {
		s.mu.Unlock()
		return false
	}
	before := s.snapshot(id)
	next := cfg.Clone()
	next.ID = id
	dropStaleGeometry(st, next)
	st.Config = next
	st.Visible = next.IsVisible()
	s.emit(Event{Kind: EventUpdate, ID: id, Change: Change{Before: before, After: s.snapshot(id)}})
	s.mu.Unlock()

	s.dispatch()
	return true
}

// =============================================================================
// Accessors
// =============================================================================

// Get returns a copy of a layer's state.
func (s *Store) Get(id string) (core.LayerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.snapshot(id)
	if st == nil {
		return core.LayerState{}, false
	}
	return *st, true
}

// List returns copies of every layer state in ascending order.
func (s *Store) List() []core.LayerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.LayerState, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.snapshot(id))
	}
	return out
}

// Len returns the number of layers.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Export returns the configs in ascending order and the visibility of each.
func (s *Store) Export() core.Export {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := core.Export{
		Layers:     make([]core.LayerConfig, 0, len(s.order)),
		Visibility: make(map[string]bool, len(s.order)),
	}
	for _, id := range s.order {
		st := s.layers[id]
		out.Layers = append(out.Layers, st.Config.Clone())
		out.Visibility[id] = st.Visible
	}
	return out
}

// =============================================================================
// Visibility
// =============================================================================

// setVisibleLocked returns the change, or nil when nothing changed.
func (s *Store) setVisibleLocked(id string, visible bool) (*Change, bool) {
	st, ok := s.layers[id]
	if !ok {
		return nil, false
	}
	if st.Visible == visible {
		return nil, true
	}
	before := s.snapshot(id)
	st.Visible = visible
	st.Config.Visible = &visible
	return &Change{Before: before, After: s.snapshot(id)}, true
}

// SetVisible shows or hides a layer. Order is never affected.
func (s *Store) SetVisible(id string, visible bool) bool {
	s.mu.Lock()
	change, ok := s.setVisibleLocked(id, visible)
	if change != nil {
		s.emit(Event{Kind: EventVisibility, ID: id, Change: *change})
	}
	s.mu.Unlock()

	s.dispatch()
	return ok
}

// ToggleVisible flips a layer's visibility and returns the new value.
func (s *Store) ToggleVisible(id string) (visible, ok bool) {
	s.mu.Lock()
	st, exists := s.layers[id]
	if !exists {
		s.mu.Unlock()
		return false, false
	}
	visible = !st.Visible
	change, _ := s.setVisibleLocked(id, visible)
	s.emit(Event{Kind: EventVisibility, ID: id, Change: *change})
	s.mu.Unlock()

	s.dispatch()
	return visible, true
}

// SetVisibleBatch applies several visibility changes and emits one batch
// event. Unknown ids are ignored. It returns the number of layers changed.
func (s *Store) SetVisibleBatch(visibility map[string]bool) int {
	s.mu.Lock()
	var changes []Change
	for _, id := range s.order {
		v, ok := visibility[id]
		if !ok {
			continue
		}
		if change, _ := s.setVisibleLocked(id, v); change != nil {
			changes = append(changes, *change)
		}
	}
	if len(changes) > 0 {
		s.emit(Event{Kind: EventBatch, Changes: changes})
	}
	s.mu.Unlock()

	s.dispatch()
	return len(changes)
}

// =============================================================================
// Ordering
// =============================================================================

// Reorder moves a layer to order n, clamped to the valid range. It returns
// false for an unknown id or when the order does not change.
func (s *Store) Reorder(id string, n int) bool {
	return s.move(id, func(int, int) int { return n })
}

// MoveUp moves a layer one step toward the top. It is a no-op returning
// false for the top layer.
func (s *Store) MoveUp(id string) bool {
	return s.move(id, func(from, _ int) int { return from - 1 })
}

// MoveDown moves a layer one step toward the bottom. It is a no-op returning
// false for the bottom layer.
func (s *Store) MoveDown(id string) bool {
	return s.move(id, func(from, _ int) int { return from + 1 })
}

// MoveToTop moves a layer to order 0.
func (s *Store) MoveToTop(id string) bool {
	return s.move(id, func(int, int) int { return 0 })
}

// MoveToBottom moves a layer to the last order.
func (s *Store) MoveToBottom(id string) bool {
	return s.move(id, func(_, last int) int { return last })
}

// move relocates id to target(from, last), clamped.
func (s *Store) move(id string, target func(from, last int) int) bool {
	s.mu.Lock()
	from := s.indexOf(id)
	if from < 0 {
		s.mu.Unlock()
		return false
	}
	last := len(s.order) - 1
	to := min(max(target(from, last), 0), last)
	if to == from {
		s.mu.Unlock()
		return false
	}
	before := s.snapshot(id)
	s.order = slices.Delete(s.order, from, from+1)
	s.order = slices.Insert(s.order, to, id)
	s.recomputeOrders()
	s.emit(Event{Kind: EventReorder, ID: id, Change: Change{Before: before, After: s.snapshot(id)}})
	s.mu.Unlock()

	s.logger.Debug("layer moved", "layer", id, "from", from, "to", to)
	s.dispatch()
	return true
}

// =============================================================================
// Derived geometry
// =============================================================================

// dropStaleGeometry forgets geometry derived from a data source the next
// config no longer uses.
func dropStaleGeometry(st *core.LayerState, next core.LayerConfig) {
	if st.GeoJSON != nil && core.Fingerprint(st.Config.Source) != core.Fingerprint(next.Source) {
		st.GeoJSON = nil
	}
}

// SetGeoJSON caches derived geometry for a layer.
func (s *Store) SetGeoJSON(id string, fc *geojson.FeatureCollection) bool {
	s.mu.Lock()
	st, ok := s.layers[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	before := s.snapshot(id)
	st.GeoJSON = fc
	s.emit(Event{Kind: EventGeoJSON, ID: id, Change: Change{Before: before, After: s.snapshot(id)}})
	s.mu.Unlock()

	s.dispatch()
	return true
}

// GeoJSON returns a layer's cached geometry.
func (s *Store) GeoJSON(id string) (*geojson.FeatureCollection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.layers[id]
	if !ok || st.GeoJSON == nil {
		return nil, false
	}
	return st.GeoJSON, true
}
