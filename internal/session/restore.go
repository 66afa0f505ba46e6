package session

import (
	"context"

	"github.com/leapstack-labs/leapmap/pkg/core"
)

// Restore replaces the layers with a saved export. Basemap, theme and view
// stay as they are.
func (s *Session) Restore(ctx context.Context, exp core.Export) {
	doc := s.Document()
	doc.Layers = exp.Layers
	s.LoadConfig(ctx, &doc)
	if len(exp.Visibility) > 0 {
		s.store.SetVisibleBatch(exp.Visibility)
	}
}
