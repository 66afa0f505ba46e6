package sqlruntime

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/leapstack-labs/leapmap/pkg/core"
)

// GetMinMax returns [min, max] of attr over the layer's table, or nil when
// the table is empty or the bounds are not finite.
func (r *Runtime) GetMinMax(ctx context.Context, cfg core.LayerConfig, attr string) (*[2]float64, error) {
	table, err := r.EnsureTable(ctx, cfg)
	if err != nil {
		return nil, err
	}

	key := r.cacheKey(cfg.ID, table, attr)
	if cached, found := r.cache.Get(key); found {
		bounds := cached.([2]float64)
		return &bounds, nil
	}

	col := quoteIdent(attr)
	query := fmt.Sprintf("SELECT CAST(MIN(%s) AS DOUBLE), CAST(MAX(%s) AS DOUBLE) FROM %s", col, col, quoteIdent(table))
	rows, err := r.adapter.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("layer %q: min/max of %s: %w", cfg.ID, attr, err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var lo, hi sql.NullFloat64
	if err := rows.Scan(&lo, &hi); err != nil {
		return nil, fmt.Errorf("layer %q: min/max of %s: %w", cfg.ID, attr, err)
	}
	if !lo.Valid || !hi.Valid || !finite(lo.Float64) || !finite(hi.Float64) {
		r.logger.Debug("domain unresolved", "layer", cfg.ID, "attr", attr)
		return nil, nil
	}

	bounds := [2]float64{lo.Float64, hi.Float64}
	r.cache.SetWithTTL(key, bounds, 1, r.ttl)
	r.cache.Wait()
	return &bounds, nil
}

func (r *Runtime) cacheKey(layerID, table, attr string) string {
	r.mu.Lock()
	gen := r.gens[layerID]
	r.mu.Unlock()
	return fmt.Sprintf("%s#%d\x00%s", table, gen, attr)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
