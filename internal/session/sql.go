package session

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/leapmap/internal/sqlruntime"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

// ApplySQL filters a table-backed layer and stores the derived geometry.
// A result overtaken by a newer ApplySQL for the same layer is discarded
// with sqlruntime.ErrStaleResult.
func (s *Session) ApplySQL(ctx context.Context, id, text string) (*sqlruntime.Result, error) {
	st, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if s.runtime == nil {
		return nil, ErrNoRuntime
	}

	ticket := s.runtime.Issue(id, text)
	res, err := s.runtime.RunSQL(ctx, st.Config, text)
	if err != nil {
		s.recordFailure(id, err)
		return nil, err
	}
	if !s.runtime.IsLatest(ticket) {
		s.logger.Warn("discarded stale query result", "layer", id, "sql", res.SQL)
		return nil, fmt.Errorf("layer %q: %w", id, sqlruntime.ErrStaleResult)
	}

	column := "hex"
	if hex, ok := st.Config.Source.(*core.HexSource); ok {
		column = hex.Column()
	}
	if !s.store.SetGeoJSON(id, sqlruntime.ToFeatureCollection(res.Rows, column)) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLayer, id)
	}
	s.clearFailure(id)
	s.logger.Info("applied layer sql", "layer", id, "rows", res.Count, "dropped", res.Dropped)
	return res, nil
}
