package reconcile

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Renderer operation names, as recorded in Call.Op.
const (
	OpAddSource         = "addSource"
	OpRemoveSource      = "removeSource"
	OpSetSourceData     = "setSourceData"
	OpAddLayer          = "addLayer"
	OpRemoveLayer       = "removeLayer"
	OpMoveLayer         = "moveLayer"
	OpSetPaintProperty  = "setPaintProperty"
	OpSetLayoutProperty = "setLayoutProperty"
	OpReset             = "reset"
)

// Call is one recorded renderer call.
type Call struct {
	Op   string
	ID   string
	Name string
}

// RecorderState is a copy of everything a Recorder holds.
type RecorderState struct {
	Sources map[string]SourceSpec `json:"sources"`
	// Layers are ordered bottom to top.
	Layers []LayerSpec `json:"layers"`
}

// Recorder is an in-memory Renderer. It keeps the source table and layer
// stack a real backend would hold, logs every call, and can be told to fail
// specific operations.
type Recorder struct {
	mu       sync.Mutex
	name     string
	sources  map[string]SourceSpec
	stack    []LayerSpec
	calls    []Call
	failures map[string]error
}

// NewRecorder creates an empty recorder.
func NewRecorder(name string) *Recorder {
	return &Recorder{
		name:     name,
		sources:  make(map[string]SourceSpec),
		failures: make(map[string]error),
	}
}

// Name returns the recorder's name.
func (r *Recorder) Name() string {
	return r.name
}

// Fail makes op on id return err until cleared with a nil err.
func (r *Recorder) Fail(op, id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := op + ":" + id
	if err == nil {
		delete(r.failures, key)
		return
	}
	r.failures[key] = err
}

// record logs a call and returns the injected failure, if any.
func (r *Recorder) record(op, id, name string) error {
	r.calls = append(r.calls, Call{Op: op, ID: id, Name: name})
	return r.failures[op+":"+id]
}

func (r *Recorder) layerIndex(id string) int {
	return slices.IndexFunc(r.stack, func(l LayerSpec) bool { return l.ID == id })
}

// AddSource implements Renderer.
func (r *Recorder) AddSource(_ context.Context, id string, src SourceSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpAddSource, id, ""); err != nil {
		return err
	}
	if _, ok := r.sources[id]; ok {
		return fmt.Errorf("source %q already exists", id)
	}
	r.sources[id] = src
	return nil
}

// RemoveSource implements Renderer.
func (r *Recorder) RemoveSource(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpRemoveSource, id, ""); err != nil {
		return err
	}
	if _, ok := r.sources[id]; !ok {
		return fmt.Errorf("source %q does not exist", id)
	}
	for _, l := range r.stack {
		if l.Source == id {
			return fmt.Errorf("source %q is in use by layer %q", id, l.ID)
		}
	}
	delete(r.sources, id)
	return nil
}

// SetSourceData implements Renderer.
func (r *Recorder) SetSourceData(_ context.Context, id string, data *geojson.FeatureCollection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpSetSourceData, id, ""); err != nil {
		return err
	}
	src, ok := r.sources[id]
	if !ok {
		return fmt.Errorf("source %q does not exist", id)
	}
	src.Data = data
	r.sources[id] = src
	return nil
}

// AddLayer implements Renderer.
func (r *Recorder) AddLayer(_ context.Context, layer LayerSpec, beforeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpAddLayer, layer.ID, beforeID); err != nil {
		return err
	}
	if r.layerIndex(layer.ID) >= 0 {
		return fmt.Errorf("layer %q already exists", layer.ID)
	}
	if _, ok := r.sources[layer.Source]; !ok {
		return fmt.Errorf("layer %q references missing source %q", layer.ID, layer.Source)
	}
	layer.Paint = maps.Clone(layer.Paint)
	layer.Layout = maps.Clone(layer.Layout)
	at, err := r.insertionPoint(beforeID)
	if err != nil {
		return err
	}
	r.stack = slices.Insert(r.stack, at, layer)
	return nil
}

func (r *Recorder) insertionPoint(beforeID string) (int, error) {
	if beforeID == "" {
		return len(r.stack), nil
	}
	i := r.layerIndex(beforeID)
	if i < 0 {
		return 0, fmt.Errorf("before layer %q does not exist", beforeID)
	}
	return i, nil
}

// RemoveLayer implements Renderer.
func (r *Recorder) RemoveLayer(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpRemoveLayer, id, ""); err != nil {
		return err
	}
	i := r.layerIndex(id)
	if i < 0 {
		return fmt.Errorf("layer %q does not exist", id)
	}
	r.stack = slices.Delete(r.stack, i, i+1)
	return nil
}

// MoveLayer implements Renderer.
func (r *Recorder) MoveLayer(_ context.Context, id, beforeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpMoveLayer, id, beforeID); err != nil {
		return err
	}
	i := r.layerIndex(id)
	if i < 0 {
		return fmt.Errorf("layer %q does not exist", id)
	}
	layer := r.stack[i]
	r.stack = slices.Delete(r.stack, i, i+1)
	at, err := r.insertionPoint(beforeID)
	if err != nil {
		r.stack = slices.Insert(r.stack, i, layer)
		return err
	}
	r.stack = slices.Insert(r.stack, at, layer)
	return nil
}

// SetPaintProperty implements Renderer.
func (r *Recorder) SetPaintProperty(_ context.Context, layerID, name string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpSetPaintProperty, layerID, name); err != nil {
		return err
	}
	i := r.layerIndex(layerID)
	if i < 0 {
		return fmt.Errorf("layer %q does not exist", layerID)
	}
	if r.stack[i].Paint == nil {
		r.stack[i].Paint = map[string]any{}
	}
	r.stack[i].Paint[name] = value
	return nil
}

// SetLayoutProperty implements Renderer.
func (r *Recorder) SetLayoutProperty(_ context.Context, layerID, name string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpSetLayoutProperty, layerID, name); err != nil {
		return err
	}
	i := r.layerIndex(layerID)
	if i < 0 {
		return fmt.Errorf("layer %q does not exist", layerID)
	}
	if r.stack[i].Layout == nil {
		r.stack[i].Layout = map[string]any{}
	}
	r.stack[i].Layout[name] = value
	return nil
}

// QueryRenderedFeatures returns features of visible layers whose bounds,
// padded by the query radius, contain the query point. Results are ordered
// top to bottom.
func (r *Recorder) QueryRenderedFeatures(_ context.Context, q PickQuery) ([]RenderedFeature, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pt := orb.Point{q.X, q.Y}
	var out []RenderedFeature
	for i := len(r.stack) - 1; i >= 0; i-- {
		l := r.stack[i]
		if l.Layout[visibilityProperty] == "none" {
			continue
		}
		src := r.sources[l.Source]
		if src.Data == nil {
			continue
		}
		for _, f := range src.Data.Features {
			if f.Geometry == nil {
				continue
			}
			if f.Geometry.Bound().Pad(q.Radius).Contains(pt) {
				out = append(out, RenderedFeature{LayerID: l.ID, Properties: maps.Clone(f.Properties)})
			}
		}
	}
	return out, nil
}

// PickObject returns the topmost feature under q, or nil.
func (r *Recorder) PickObject(ctx context.Context, q PickQuery) (*RenderedFeature, error) {
	hits, err := r.QueryRenderedFeatures(ctx, q)
	if err != nil || len(hits) == 0 {
		return nil, err
	}
	return &hits[0], nil
}

// Reset implements Renderer.
func (r *Recorder) Reset(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpReset, "", ""); err != nil {
		return err
	}
	clear(r.sources)
	r.stack = nil
	return nil
}

// =============================================================================
// Inspection
// =============================================================================

// Calls returns the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// CallsOf returns the recorded calls with the given op.
func (r *Recorder) CallsOf(op string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ClearCalls empties the call log.
func (r *Recorder) ClearCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Order returns layer ids bottom to top.
func (r *Recorder) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.stack))
	for i, l := range r.stack {
		out[i] = l.ID
	}
	return out
}

// Layer returns a copy of one layer.
func (r *Recorder) Layer(id string) (LayerSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.layerIndex(id)
	if i < 0 {
		return LayerSpec{}, false
	}
	l := r.stack[i]
	l.Paint = maps.Clone(l.Paint)
	l.Layout = maps.Clone(l.Layout)
	return l, true
}

// Source returns one source.
func (r *Recorder) Source(id string) (SourceSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	return s, ok
}

// State returns a copy of the sources and layer stack.
func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := RecorderState{Sources: maps.Clone(r.sources), Layers: make([]LayerSpec, len(r.stack))}
	for i, l := range r.stack {
		l.Paint = maps.Clone(l.Paint)
		l.Layout = maps.Clone(l.Layout)
		st.Layers[i] = l
	}
	return st
}
