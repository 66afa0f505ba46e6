package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/leapstack-labs/leapmap/internal/layerstore"
	"github.com/leapstack-labs/leapmap/pkg/color"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

// Options configures an Engine.
type Options struct {
	// Map draws every layer type except hex.
	Map Renderer
	// Overlay draws hex layers. Defaults to Map when nil.
	Overlay Renderer
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
	// OnError receives per-layer failures. Optional.
	OnError func(*LayerError)
}

// applied is what the engine last pushed for one layer.
type applied struct {
	backend Renderer
	config  core.LayerConfig
	visible bool
	order   int
	build   build
}

// Engine applies layer state transitions to the renderer backends.
type Engine struct {
	mu      sync.Mutex
	mapR    Renderer
	overlay Renderer
	logger  *slog.Logger
	onError func(*LayerError)
	applied map[string]*applied
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Map == nil {
		return nil, errors.New("reconcile: map renderer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	overlay := opts.Overlay
	if overlay == nil {
		overlay = opts.Map
	}
	return &Engine{
		mapR:    opts.Map,
		overlay: overlay,
		logger:  logger,
		onError: opts.OnError,
		applied: make(map[string]*applied),
	}, nil
}

// backendVisitor routes a source to its backend.
type backendVisitor struct{ e *Engine }

func (v backendVisitor) VisitHex(*core.HexSource) Renderer         { return v.e.overlay }
func (v backendVisitor) VisitVector(*core.VectorSource) Renderer   { return v.e.mapR }
func (v backendVisitor) VisitMVT(*core.MVTSource) Renderer         { return v.e.mapR }
func (v backendVisitor) VisitRaster(*core.RasterSource) Renderer   { return v.e.mapR }
func (v backendVisitor) VisitPMTiles(*core.PMTilesSource) Renderer { return v.e.mapR }

func (e *Engine) backendFor(cfg core.LayerConfig) Renderer {
	return core.VisitSource[Renderer](cfg.Source, backendVisitor{e})
}

func (e *Engine) backends() []Renderer {
	if e.overlay == e.mapR {
		return []Renderer{e.mapR}
	}
	return []Renderer{e.mapR, e.overlay}
}

func (e *Engine) report(err error) {
	var le *LayerError
	if !errors.As(err, &le) {
		return
	}
	e.logger.Error("layer render failed", "layer", le.LayerID, "action", le.Action.String(), "error", le.Err)
	if e.onError != nil {
		e.onError(le)
	}
}

// =============================================================================
// Public operations
// =============================================================================

// Apply moves the rendering of one layer from before to after. A layer the
// engine has not drawn yet is always built. Patch failures are retried as a
// rebuild; a failed rebuild is returned as a *LayerError.
func (e *Engine) Apply(ctx context.Context, before *core.LayerState, after core.LayerState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.apply(ctx, before, after)
	e.report(err)
	return err
}

func (e *Engine) apply(ctx context.Context, before *core.LayerState, after core.LayerState) error {
	id := after.Config.ID
	a, drawn := e.applied[id]

	var plan Plan
	switch {
	case !drawn:
		plan = Classify(nil, after.Config, false, after.Visible)
	case before != nil:
		plan = Classify(&before.Config, after.Config, before.Visible, after.Visible)
	default:
		plan = Classify(&a.config, after.Config, a.visible, after.Visible)
	}
	e.logger.Debug("reconciling layer", "layer", id, "action", plan.Action.String(), "keys", plan.Keys)

	switch plan.Action {
	case ActionVisibility:
		if err := e.setVisibility(ctx, a, after.Visible); err != nil {
			return e.rebuild(ctx, after)
		}
		a.config = after.Config.Clone()
		a.order = after.Order
		return nil
	case ActionPatch:
		if err := e.patch(ctx, a, after); err != nil {
			e.logger.Warn("patch rejected, rebuilding layer", "layer", id, "error", err)
			return e.rebuild(ctx, after)
		}
		return nil
	default:
		return e.rebuild(ctx, after)
	}
}

// Remove tears down a layer's sources and primitives.
func (e *Engine) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.applied[id]
	if !ok {
		return nil
	}
	delete(e.applied, id)
	return e.teardown(ctx, id, a)
}

// Restack moves primitives so the backends match the orders in states.
func (e *Engine) Restack(ctx context.Context, states []core.LayerState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restack(ctx, states)
}

func (e *Engine) restack(ctx context.Context, states []core.LayerState) error {
	var errs []error
	for _, st := range bottomUp(states) {
		a, ok := e.applied[st.Config.ID]
		if !ok {
			continue
		}
		a.order = st.Order
		for _, l := range a.build.layers {
			if err := a.backend.MoveLayer(ctx, l.ID, ""); err != nil {
				errs = append(errs, fmt.Errorf("move %s: %w", l.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// SetData pushes newly derived geometry for a layer and recolors scales
// that were waiting for data.
func (e *Engine) SetData(ctx context.Context, state core.LayerState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.applied[state.Config.ID]
	if !ok {
		err := e.rebuild(ctx, state)
		e.report(err)
		return err
	}
	if err := a.backend.SetSourceData(ctx, state.Config.ID, state.GeoJSON); err != nil {
		e.logger.Warn("source data rejected, rebuilding layer", "layer", state.Config.ID, "error", err)
		err = e.rebuild(ctx, state)
		e.report(err)
		return err
	}
	a.build.source.Data = state.GeoJSON
	if !a.build.pending && !dataDependent(state.Config) {
		return nil
	}
	if err := e.patch(ctx, a, state); err != nil {
		err = e.rebuild(ctx, state)
		e.report(err)
		return err
	}
	return nil
}

// ReplayAll resets the backends and draws every layer again, bottom to top.
// Running it twice leaves the backends in the same state.
func (e *Engine) ReplayAll(ctx context.Context, states []core.LayerState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.backends() {
		if err := r.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset renderer: %w", err)
		}
	}
	clear(e.applied)

	var errs []error
	for _, st := range bottomUp(states) {
		if err := e.rebuild(ctx, st); err != nil {
			e.report(err)
			errs = append(errs, err)
		}
	}
	e.logger.Debug("replayed layers", "layers", len(states), "failed", len(errs))
	return errors.Join(errs...)
}

// Drawn returns the ids of layers currently drawn, sorted.
func (e *Engine) Drawn() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Sorted(maps.Keys(e.applied))
}

// Pick returns the topmost feature under q together with its layer id.
// Properties are limited to the layer's tooltip columns when it has any.
// The overlay is queried first since it draws above the map.
func (e *Engine) Pick(ctx context.Context, q PickQuery) (string, map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hit, err := e.overlay.PickObject(ctx, q)
	if err != nil {
		return "", nil, fmt.Errorf("overlay pick failed: %w", err)
	}
	if hit == nil && e.overlay != e.mapR {
		features, err := e.mapR.QueryRenderedFeatures(ctx, q)
		if err != nil {
			return "", nil, fmt.Errorf("map query failed: %w", err)
		}
		if len(features) > 0 {
			hit = &features[0]
		}
	}
	if hit == nil {
		return "", nil, nil
	}

	for id, a := range e.applied {
		if !slices.Contains(a.build.ids(), hit.LayerID) {
			continue
		}
		props := hit.Properties
		if cols := a.config.TooltipColumns; len(cols) > 0 {
			props = make(map[string]any, len(cols))
			for _, c := range cols {
				if v, ok := hit.Properties[c]; ok {
					props[c] = v
				}
			}
		}
		return id, props, nil
	}
	return "", nil, nil
}

// =============================================================================
// Store binding
// =============================================================================

// Attach applies every store event to the backends and returns a function
// that detaches the engine.
func (e *Engine) Attach(ctx context.Context, store *layerstore.Store) func() {
	return store.OnAll(func(ev layerstore.Event) {
		switch ev.Kind {
		case layerstore.EventAdd:
			e.syncOrders(store.List())
			_ = e.Apply(ctx, nil, *ev.After)
		case layerstore.EventRemove:
			e.reportAs(ev.ID, ActionRebuild, e.Remove(ctx, ev.ID))
			e.syncOrders(store.List())
		case layerstore.EventUpdate, layerstore.EventVisibility:
			_ = e.Apply(ctx, ev.Before, *ev.After)
		case layerstore.EventReorder:
			e.reportAs(ev.ID, ActionRebuild, e.Restack(ctx, store.List()))
		case layerstore.EventGeoJSON:
			_ = e.SetData(ctx, *ev.After)
		case layerstore.EventBatch:
			e.applyBatch(ctx, ev.Changes, store.List())
		}
	})
}

func (e *Engine) applyBatch(ctx context.Context, changes []layerstore.Change, current []core.LayerState) {
	for _, c := range changes {
		if c.After == nil {
			e.reportAs(c.LayerID(), ActionRebuild, e.Remove(ctx, c.LayerID()))
		}
	}
	e.syncOrders(current)
	for _, c := range changes {
		if c.After != nil {
			_ = e.Apply(ctx, c.Before, *c.After)
		}
	}
	e.reportAs("", ActionRebuild, e.Restack(ctx, current))
}

func (e *Engine) reportAs(id string, action Action, err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.report(&LayerError{LayerID: id, Action: action, Err: err})
}

// syncOrders records current orders without moving anything. Inserting or
// removing a layer shifts orders but not the relative stacking.
func (e *Engine) syncOrders(states []core.LayerState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range states {
		if a, ok := e.applied[st.Config.ID]; ok {
			a.order = st.Order
		}
	}
}

// =============================================================================
// Actions (caller holds e.mu)
// =============================================================================

func (e *Engine) setVisibility(ctx context.Context, a *applied, visible bool) error {
	if a.visible == visible {
		return nil
	}
	value := visibilityValue(visible)
	for i, l := range a.build.layers {
		if err := a.backend.SetLayoutProperty(ctx, l.ID, visibilityProperty, value); err != nil {
			return &RenderApplyError{LayerID: a.config.ID, Op: "setLayoutProperty", Err: err}
		}
		a.build.layers[i].Layout[visibilityProperty] = value
	}
	a.visible = visible
	return nil
}

// patch updates paint in place. It fails when the new state needs different
// primitives or the backend rejects a property.
func (e *Engine) patch(ctx context.Context, a *applied, after core.LayerState) error {
	id := after.Config.ID
	next := newBuild(after, e.logger)
	if !slices.Equal(a.build.ids(), next.ids()) {
		return &RenderApplyError{LayerID: id, Op: "patch", Err: errPrimitivesChanged}
	}

	for i, l := range next.layers {
		old := a.build.layers[i]
		for _, name := range slices.Sorted(maps.Keys(l.Paint)) {
			v := l.Paint[name]
			if reflect.DeepEqual(old.Paint[name], v) {
				continue
			}
			if err := a.backend.SetPaintProperty(ctx, l.ID, name, v); err != nil {
				return &RenderApplyError{LayerID: id, Op: "setPaintProperty", Err: err}
			}
			old.Paint[name] = v
		}
	}
	if err := e.setVisibility(ctx, a, after.Visible); err != nil {
		return err
	}

	next.source = a.build.source
	a.build = next
	a.config = after.Config.Clone()
	a.order = after.Order
	return nil
}

// rebuild removes whatever was drawn for the layer and adds it again.
func (e *Engine) rebuild(ctx context.Context, st core.LayerState) error {
	id := st.Config.ID
	if old, ok := e.applied[id]; ok {
		delete(e.applied, id)
		if err := e.teardown(ctx, id, old); err != nil {
			e.logger.Warn("teardown incomplete", "layer", id, "error", err)
		}
	}

	backend := e.backendFor(st.Config)
	b := newBuild(st, e.logger)
	if err := backend.AddSource(ctx, id, b.source); err != nil {
		return &LayerError{LayerID: id, Action: ActionRebuild, Err: fmt.Errorf("add source: %w", err)}
	}
	before := e.beforeID(backend, st.Order)
	for i, l := range b.layers {
		if err := backend.AddLayer(ctx, l, before); err != nil {
			for _, added := range b.layers[:i] {
				_ = backend.RemoveLayer(ctx, added.ID)
			}
			_ = backend.RemoveSource(ctx, id)
			return &LayerError{LayerID: id, Action: ActionRebuild, Err: fmt.Errorf("add layer %s: %w", l.ID, err)}
		}
	}

	e.applied[id] = &applied{
		backend: backend,
		config:  st.Config.Clone(),
		visible: st.Visible,
		order:   st.Order,
		build:   b,
	}
	e.logger.Debug("layer built", "layer", id, "primitives", len(b.layers), "pending", b.pending)
	return nil
}

func (e *Engine) teardown(ctx context.Context, id string, a *applied) error {
	var errs []error
	for _, l := range a.build.layers {
		if err := a.backend.RemoveLayer(ctx, l.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.backend.RemoveSource(ctx, id); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// beforeID returns the bottom primitive of the nearest drawn layer above
// order on the same backend, or "" to draw on top.
func (e *Engine) beforeID(backend Renderer, order int) string {
	var (
		best  *applied
		bestO = -1
	)
	for _, a := range e.applied {
		if a.backend != backend || a.order >= order || len(a.build.layers) == 0 {
			continue
		}
		if a.order > bestO {
			best, bestO = a, a.order
		}
	}
	if best == nil {
		return ""
	}
	return best.build.layers[0].ID
}

func bottomUp(states []core.LayerState) []core.LayerState {
	out := slices.Clone(states)
	slices.SortStableFunc(out, func(a, b core.LayerState) int { return b.Order - a.Order })
	return out
}

func dataDependent(cfg core.LayerConfig) bool {
	return color.DependsOnData(cfg.Style.FillColor) || color.DependsOnData(cfg.Style.LineColor)
}
