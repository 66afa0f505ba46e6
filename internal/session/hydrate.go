package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapmap/internal/sqlruntime"
	"github.com/leapstack-labs/leapmap/pkg/color"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

// Hydrate loads the table of every table-backed layer that is not loaded
// yet, pins pending continuous domains to the full table's bounds and runs
// the layer's initial SQL. Loaded layers only get their pending domains
// pinned. Layers are independent: a failure is recorded for that layer and
// the rest continue. The returned error joins the failures.
func (s *Session) Hydrate(ctx context.Context) error {
	if s.runtime == nil {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, st := range s.store.List() {
		if !sqlruntime.IsTableBacked(st.Config) {
			continue
		}
		loaded := s.runtime.Loaded(st.Config.ID)
		if loaded && !needsPin(st.Config) {
			continue
		}
		g.Go(func() error {
			var err error
			if loaded {
				err = s.pinDomains(gctx, st.Config)
			} else {
				err = s.hydrateLayer(gctx, st.Config)
			}
			if errors.Is(err, sqlruntime.ErrDropped) {
				return nil
			}
			if err != nil {
				s.recordFailure(st.Config.ID, err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func (s *Session) hydrateLayer(ctx context.Context, cfg core.LayerConfig) error {
	if _, err := s.runtime.EnsureTable(ctx, cfg); err != nil {
		return err
	}
	if err := s.pinDomains(ctx, cfg); err != nil {
		return err
	}
	hex := cfg.Source.(*core.HexSource)
	_, err := s.ApplySQL(ctx, cfg.ID, hex.SQL)
	return err
}

// pendingScale returns v as a continuous scale that still needs a pinned
// domain.
func pendingScale(v color.Value) (*color.Continuous, bool) {
	c, ok := v.(*color.Continuous)
	if !ok || c.Domain != nil || c.AutoDomain || c.Attr == "" {
		return nil, false
	}
	return c, true
}

func needsPin(cfg core.LayerConfig) bool {
	_, fill := pendingScale(cfg.Style.FillColor)
	_, line := pendingScale(cfg.Style.LineColor)
	return fill || line
}

// withPinned returns cfg with previously pinned domains filled into its
// pending continuous scales.
func (s *Session) withPinned(cfg core.LayerConfig) core.LayerConfig {
	s.mu.Lock()
	bounds := s.pinned[cfg.ID]
	s.mu.Unlock()
	if len(bounds) == 0 {
		return cfg
	}
	pin := func(v color.Value) color.Value {
		c, ok := pendingScale(v)
		if !ok {
			return v
		}
		b, ok := bounds[c.Attr]
		if !ok {
			return v
		}
		pinned := *c
		pinned.Domain = &b
		return &pinned
	}
	cfg.Style.FillColor = pin(cfg.Style.FillColor)
	cfg.Style.LineColor = pin(cfg.Style.LineColor)
	return cfg
}

// pinDomains fills in the domain of continuous colors that have none from
// the min/max of the whole table, so later filters keep a stable scale.
func (s *Session) pinDomains(ctx context.Context, cfg core.LayerConfig) error {
	patch := core.Style{}
	changed := false
	for _, ch := range []struct {
		value color.Value
		set   func(color.Value)
	}{
		{cfg.Style.FillColor, func(v color.Value) { patch.FillColor = v }},
		{cfg.Style.LineColor, func(v color.Value) { patch.LineColor = v }},
	} {
		c, ok := pendingScale(ch.value)
		if !ok {
			continue
		}
		bounds, err := s.runtime.GetMinMax(ctx, cfg, c.Attr)
		if err != nil {
			return fmt.Errorf("domain of %s: %w", c.Attr, err)
		}
		if bounds == nil {
			s.logger.Debug("domain stays pending", "layer", cfg.ID, "attr", c.Attr)
			continue
		}
		pinned := *c
		pinned.Domain = bounds
		ch.set(&pinned)
		changed = true
		s.mu.Lock()
		if s.pinned[cfg.ID] == nil {
			s.pinned[cfg.ID] = make(map[string][2]float64)
		}
		s.pinned[cfg.ID][c.Attr] = *bounds
		s.mu.Unlock()
	}
	if changed {
		s.store.Update(cfg.ID, core.LayerPatch{Style: &patch})
	}
	return nil
}
