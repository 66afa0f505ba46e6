// Package session binds one map document to a layer store, a reconciliation
// engine and an optional SQL runtime.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/leapstack-labs/leapmap/internal/layerstore"
	"github.com/leapstack-labs/leapmap/internal/mapconfig"
	"github.com/leapstack-labs/leapmap/internal/reconcile"
	"github.com/leapstack-labs/leapmap/internal/sqlruntime"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

var (
	// ErrUnknownLayer is returned for an id the store does not hold.
	ErrUnknownLayer = errors.New("unknown layer")

	// ErrUnknownProperty is returned by Compile for a style property that is
	// not a color channel.
	ErrUnknownProperty = errors.New("unknown color property")

	// ErrNoRuntime is returned by SQL operations when no runtime is configured.
	ErrNoRuntime = errors.New("no SQL runtime configured")
)

// Options configures a Session.
type Options struct {
	// Store holds layer state. A fresh store is created when nil.
	Store *layerstore.Store
	// Map and Overlay are the renderer backends. Map defaults to an
	// in-memory recorder.
	Map     reconcile.Renderer
	Overlay reconcile.Renderer
	// Runtime backs hex layers with SQL tables. Optional.
	Runtime *sqlruntime.Runtime
	// HydrateWorkers bounds concurrent table loads in Hydrate.
	HydrateWorkers int
	Logger         *slog.Logger
}

// Session is one live map.
type Session struct {
	store   *layerstore.Store
	engine  *reconcile.Engine
	runtime *sqlruntime.Runtime
	logger  *slog.Logger
	workers int

	mu       sync.Mutex
	meta     core.MapConfig
	failures map[string]error
	// generated maps a document position to the id the store assigned to
	// an id-less layer there, so reloads keep matching it.
	generated map[int]string
	// pinned holds the domains Hydrate computed from full tables, per layer
	// and attribute. They are derived state: a reload of a document that
	// leaves the domain out keeps them.
	pinned map[string]map[string][2]float64

	detach []func()
}

// New creates a session and attaches the engine to the store.
func New(opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	store := opts.Store
	if store == nil {
		store = layerstore.New(layerstore.WithLogger(logger))
	}
	mapR := opts.Map
	if mapR == nil {
		mapR = reconcile.NewRecorder("map")
	}
	workers := opts.HydrateWorkers
	if workers <= 0 {
		workers = 4
	}

	s := &Session{
		store:     store,
		runtime:   opts.Runtime,
		logger:    logger,
		workers:   workers,
		failures:  make(map[string]error),
		generated: make(map[int]string),
		pinned:    make(map[string]map[string][2]float64),
	}
	engine, err := reconcile.New(reconcile.Options{
		Map:     mapR,
		Overlay: opts.Overlay,
		Logger:  logger,
		OnError: func(le *reconcile.LayerError) { s.recordFailure(le.LayerID, le) },
	})
	if err != nil {
		return nil, err
	}
	s.engine = engine

	s.detach = append(s.detach,
		engine.Attach(context.Background(), store),
		store.On(layerstore.EventRemove, func(ev layerstore.Event) { s.forget(ev.ID) }),
		store.On(layerstore.EventBatch, func(ev layerstore.Event) {
			for _, c := range ev.Changes {
				if c.After == nil {
					s.forget(c.LayerID())
				}
			}
		}),
	)
	return s, nil
}

// Close detaches the session from its store.
func (s *Session) Close() {
	for _, fn := range s.detach {
		fn()
	}
	s.detach = nil
}

// Store returns the session's layer store.
func (s *Session) Store() *layerstore.Store { return s.store }

// Engine returns the session's reconciliation engine.
func (s *Session) Engine() *reconcile.Engine { return s.engine }

// Runtime returns the SQL runtime, or nil.
func (s *Session) Runtime() *sqlruntime.Runtime { return s.runtime }

// Document returns the map document as it currently stands: basemap, theme
// and view from the last load plus the store's layers.
func (s *Session) Document() core.MapConfig {
	s.mu.Lock()
	doc := s.meta
	s.mu.Unlock()
	exp := s.store.Export()
	doc.Layers = exp.Layers
	return doc
}

// =============================================================================
// Failures
// =============================================================================

func (s *Session) recordFailure(id string, err error) {
	if id == "" || err == nil {
		return
	}
	s.mu.Lock()
	s.failures[id] = err
	s.mu.Unlock()
	s.logger.Warn("layer failure", "layer", id, "error", err)
}

func (s *Session) clearFailure(id string) {
	s.mu.Lock()
	delete(s.failures, id)
	s.mu.Unlock()
}

// Failures returns the current per-layer failures.
func (s *Session) Failures() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.failures)
}

// forget drops everything the session keeps for a removed layer.
func (s *Session) forget(id string) {
	s.clearFailure(id)
	s.mu.Lock()
	delete(s.pinned, id)
	s.mu.Unlock()
	if s.runtime == nil {
		return
	}
	if err := s.runtime.Drop(context.Background(), id); err != nil {
		s.logger.Warn("failed to drop layer table", "layer", id, "error", err)
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load parses, validates and applies a document, replacing every layer, then
// hydrates table-backed layers. An invalid document leaves the session
// untouched and is reported through the result, not the error.
func (s *Session) Load(ctx context.Context, data []byte, format mapconfig.Format) (core.ValidationResult, error) {
	cfg, result, err := mapconfig.Load(data, format)
	if err != nil || cfg == nil {
		return result, err
	}
	s.LoadConfig(ctx, cfg)
	return result, nil
}

// LoadConfig replaces every layer with cfg's layers and hydrates them.
// Hydration failures are per-layer and available from Failures.
func (s *Session) LoadConfig(ctx context.Context, cfg *core.MapConfig) {
	s.setMeta(cfg)
	s.mu.Lock()
	clear(s.generated)
	clear(s.failures)
	clear(s.pinned)
	s.mu.Unlock()

	s.store.Init(cfg.Layers)

	// Init assigns ids to id-less layers in document order.
	list := s.store.List()
	s.mu.Lock()
	for i, l := range cfg.Layers {
		if l.ID == "" && i < len(list) {
			s.generated[i] = list[i].Config.ID
		}
	}
	s.mu.Unlock()

	s.logger.Info("map loaded", "layers", s.store.Len(), "basemap", cfg.Basemap)
	if err := s.Hydrate(ctx); err != nil {
		s.logger.Warn("hydration incomplete", "error", err)
	}
}

func (s *Session) setMeta(cfg *core.MapConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = core.MapConfig{Basemap: cfg.Basemap, Theme: cfg.Theme, View: cfg.View}
}

// Reload moves the session to cfg with the smallest set of store
// mutations: removed layers are removed, new ones added at their position,
// type changes become remove plus add and everything else is replaced in
// place, then visibility and order are set.
func (s *Session) Reload(ctx context.Context, cfg *core.MapConfig) error {
	s.setMeta(cfg)
	layers := s.resolveIDs(cfg.Layers)

	wanted := make(map[string]bool, len(layers))
	for _, l := range layers {
		wanted[l.ID] = true
	}
	for _, st := range s.store.List() {
		if !wanted[st.Config.ID] {
			s.store.Remove(st.Config.ID)
		}
	}

	for i, l := range layers {
		st, exists := s.store.Get(l.ID)
		switch {
		case !exists:
			s.store.Add(l, layerstore.WithOrder(i))
		case st.Config.Type() != l.Type():
			s.store.Remove(l.ID)
			s.store.Add(l, layerstore.WithOrder(i))
		default:
			if core.Fingerprint(st.Config.Source) != core.Fingerprint(l.Source) {
				s.forget(l.ID)
			} else {
				l = s.withPinned(l)
			}
			s.store.Replace(l.ID, l)
			s.store.Reorder(l.ID, i)
		}
	}

	s.logger.Info("map reloaded", "layers", s.store.Len())
	return s.Hydrate(ctx)
}

// resolveIDs gives id-less layers the id generated for their position at
// load time when that layer still exists with the same type.
func (s *Session) resolveIDs(in []core.LayerConfig) []core.LayerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.LayerConfig, len(in))
	taken := make(map[string]bool)
	for _, l := range in {
		if l.ID != "" {
			taken[l.ID] = true
		}
	}
	for i, l := range in {
		out[i] = l
		if l.ID != "" {
			continue
		}
		id, ok := s.generated[i]
		if !ok || taken[id] {
			id = s.store.IDs().Next()
			for taken[id] {
				id = s.store.IDs().Next()
			}
			s.generated[i] = id
		}
		taken[id] = true
		out[i].ID = id
	}
	return out
}

// =============================================================================
// Store passthroughs
// =============================================================================

// Get returns a layer or ErrUnknownLayer.
func (s *Session) Get(id string) (core.LayerState, error) {
	st, ok := s.store.Get(id)
	if !ok {
		return core.LayerState{}, fmt.Errorf("%w: %s", ErrUnknownLayer, id)
	}
	return st, nil
}
