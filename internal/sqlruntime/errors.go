package sqlruntime

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDataSource is returned when a layer has nothing a table can be
	// loaded from.
	ErrNoDataSource = errors.New("no table data source configured")

	// ErrStaleResult marks a query result superseded by a newer request for
	// the same layer.
	ErrStaleResult = errors.New("stale query result")

	// ErrDropped is returned to callers of a table load that was overtaken
	// by Drop for the same layer.
	ErrDropped = errors.New("layer table dropped during load")
)

// DataSourceError reports a failure to fetch or load one layer's backing
// data. It is per-layer and never aborts other layers.
type DataSourceError struct {
	LayerID string
	Op      string
	Err     error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("layer %q: %s: %v", e.LayerID, e.Op, e.Err)
}

func (e *DataSourceError) Unwrap() error {
	return e.Err
}
