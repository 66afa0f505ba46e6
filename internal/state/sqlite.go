package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/leapstack-labs/leapmap/internal/mapconfig"
	"github.com/leapstack-labs/leapmap/pkg/core"

	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite snapshot store instance.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// Open opens and migrates the database. Use ":memory:" for an in-memory
// database. Parent directories of a file path are created.
func Open(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	s := NewSQLiteStore(logger)
	if err := s.Open(path); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Open opens a connection to the SQLite database.
func (s *SQLiteStore) Open(path string) error {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("failed to create state directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	s.logger.Debug("snapshot store opened", "path", path)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// generateID creates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// --- Snapshot operations ---

// Save stores export under name and returns the new snapshot.
func (s *SQLiteStore) Save(ctx context.Context, name string, export core.Export) (*Snapshot, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	payload, err := json.Marshal(export)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	snap := &Snapshot{
		ID:         generateID(),
		Name:       name,
		LayerCount: len(export.Layers),
		CreatedAt:  time.Now().UTC(),
		Export:     export,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, name, layer_count, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.Name, snap.LayerCount, string(payload), snap.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	s.logger.Info("snapshot saved", "id", snap.ID, "name", name, "layers", snap.LayerCount)
	return snap, nil
}

// Get retrieves a snapshot with its decoded export.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	snap := &Snapshot{}
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, layer_count, payload, created_at FROM snapshots WHERE id = ?`, id,
	).Scan(&snap.ID, &snap.Name, &snap.LayerCount, &payload, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	export, err := DecodeExport([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}
	snap.Export = export
	return snap, nil
}

// List returns snapshot headers, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Snapshot, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, layer_count, created_at FROM snapshots ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.Name, &snap.LayerCount, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Delete removes a snapshot.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return nil
}

// DecodeExport reads a JSON export back into typed layer configs. Layers go
// through the same normalize and decode path as a map document.
func DecodeExport(data []byte) (core.Export, error) {
	var raw struct {
		Layers     []any           `json:"layers"`
		Visibility map[string]bool `json:"visibility"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return core.Export{}, fmt.Errorf("failed to decode export: %w", err)
	}
	if raw.Layers == nil {
		raw.Layers = []any{}
	}
	cfg, err := mapconfig.Decode(mapconfig.NormalizeInputs(map[string]any{"layers": raw.Layers}))
	if err != nil {
		return core.Export{}, fmt.Errorf("failed to decode export layers: %w", err)
	}
	if raw.Visibility == nil {
		raw.Visibility = map[string]bool{}
	}
	return core.Export{Layers: cfg.Layers, Visibility: raw.Visibility}, nil
}

var _ Store = (*SQLiteStore)(nil)
