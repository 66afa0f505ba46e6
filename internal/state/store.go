// Package state persists map snapshots in SQLite.
//
// A snapshot is a layer store export: the ordered layer configs and their
// visibility, stored as JSON so it can be restored into any session.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/leapstack-labs/leapmap/pkg/core"
)

// ErrSnapshotNotFound is returned for an unknown snapshot id.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is one saved export.
type Snapshot struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	LayerCount int         `json:"layerCount"`
	CreatedAt  time.Time   `json:"createdAt"`
	Export     core.Export `json:"export"`
}

// Store is the snapshot persistence contract.
type Store interface {
	Save(ctx context.Context, name string, export core.Export) (*Snapshot, error)
	Get(ctx context.Context, id string) (*Snapshot, error)
	// List returns snapshots newest first, without their exports.
	List(ctx context.Context) ([]Snapshot, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
