// Package sqlruntime loads hex layer data into the embedded SQL engine and
// answers filter and domain queries against it.
//
// Each table-backed layer gets one table, loaded at most once per layer id.
// User SQL always sees that table as "data".
package sqlruntime

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/leapstack-labs/leapmap/pkg/core"
)

// DefaultCacheTTL is how long a computed domain stays cached.
const DefaultCacheTTL = 10 * time.Minute

// Options configures a Runtime.
type Options struct {
	// Fetcher retrieves remote data. Defaults to an HTTPFetcher.
	Fetcher Fetcher
	// HTTPTimeout applies to the default fetcher.
	HTTPTimeout time.Duration
	// CacheTTL bounds how long min/max results are reused.
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// Runtime binds map layers to tables in a connected adapter.
type Runtime struct {
	adapter core.Adapter
	fetcher Fetcher
	logger  *slog.Logger
	ttl     time.Duration

	loads singleflight.Group
	cache *ristretto.Cache

	// regMu orders table registration against Drop so a load that started
	// before a Drop never publishes its table.
	regMu sync.Mutex

	mu      sync.Mutex
	tables  map[string]string
	gens    map[string]uint64
	seq     uint64
	tickets map[string]Ticket
}

// New creates a runtime over a connected adapter.
func New(adapter core.Adapter, opts Options) (*Runtime, error) {
	if adapter == nil {
		return nil, fmt.Errorf("sqlruntime: adapter is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(opts.HTTPTimeout)
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 12,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlruntime: domain cache: %w", err)
	}
	return &Runtime{
		adapter: adapter,
		fetcher: fetcher,
		logger:  logger,
		ttl:     ttl,
		cache:   cache,
		tables:  make(map[string]string),
		gens:    make(map[string]uint64),
		tickets: make(map[string]Ticket),
	}, nil
}

// Close releases the domain cache. The adapter stays open.
func (r *Runtime) Close() {
	r.cache.Close()
}

// TableName returns the table a layer's data is loaded into.
func TableName(layerID string) string {
	return "layer_" + layerID
}

// IsTableBacked reports whether cfg has a source EnsureTable can load.
func IsTableBacked(cfg core.LayerConfig) bool {
	hex, ok := cfg.Source.(*core.HexSource)
	if !ok {
		return false
	}
	return len(hex.ParquetData) > 0 || hex.ParquetURL != "" || len(hex.Data) > 0 || hex.DataURL != ""
}

// Loaded reports whether the layer's table has been loaded.
func (r *Runtime) Loaded(layerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tables[layerID]
	return ok
}

// EnsureTable loads the layer's data once and returns the table name.
// Concurrent callers for the same layer share a single load.
func (r *Runtime) EnsureTable(ctx context.Context, cfg core.LayerConfig) (string, error) {
	r.mu.Lock()
	table, ok := r.tables[cfg.ID]
	r.mu.Unlock()
	if ok {
		return table, nil
	}

	v, err, shared := r.loads.Do(cfg.ID, func() (any, error) {
		r.mu.Lock()
		table, ok := r.tables[cfg.ID]
		r.mu.Unlock()
		if ok {
			return table, nil
		}
		return r.load(ctx, cfg, r.generation(cfg.ID))
	})
	if err != nil {
		return "", err
	}
	if shared {
		r.logger.Debug("shared in-flight table load", "layer", cfg.ID)
	}
	return v.(string), nil
}

func (r *Runtime) generation(layerID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gens[layerID]
}

// load fetches the layer's payload and registers it as the layer table. gen
// is the layer generation the load started in; if a Drop happened since,
// the payload is discarded and nothing is registered.
func (r *Runtime) load(ctx context.Context, cfg core.LayerConfig, gen uint64) (string, error) {
	hex, ok := cfg.Source.(*core.HexSource)
	if !ok {
		return "", &DataSourceError{LayerID: cfg.ID, Op: "load", Err: ErrNoDataSource}
	}

	data, origin, err := r.payload(ctx, cfg.ID, hex)
	if err != nil {
		return "", err
	}

	r.regMu.Lock()
	defer r.regMu.Unlock()
	if r.generation(cfg.ID) != gen {
		r.logger.Debug("discarded table load for dropped layer", "layer", cfg.ID, "origin", origin)
		return "", &DataSourceError{LayerID: cfg.ID, Op: "load", Err: ErrDropped}
	}

	table := TableName(cfg.ID)
	start := time.Now()
	if err := r.adapter.RegisterFileBuffer(ctx, table, data); err != nil {
		return "", &DataSourceError{LayerID: cfg.ID, Op: "register", Err: err}
	}
	r.mu.Lock()
	r.tables[cfg.ID] = table
	r.mu.Unlock()
	r.logger.Info("loaded layer table",
		"layer", cfg.ID,
		"table", table,
		"origin", origin,
		"bytes", len(data),
		"duration", time.Since(start))
	return table, nil
}

// payload picks the highest-priority source:
// parquetData > parquetUrl > data > dataUrl.
func (r *Runtime) payload(ctx context.Context, layerID string, hex *core.HexSource) ([]byte, string, error) {
	switch {
	case len(hex.ParquetData) > 0:
		return hex.ParquetData, "parquetData", nil
	case hex.ParquetURL != "":
		return r.fetch(ctx, layerID, hex.ParquetURL)
	case len(hex.Data) > 0:
		buf, err := jsonLines(hex.Data)
		if err != nil {
			return nil, "", &DataSourceError{LayerID: layerID, Op: "encode", Err: err}
		}
		return buf, "data", nil
	case hex.DataURL != "":
		return r.fetch(ctx, layerID, hex.DataURL)
	}
	return nil, "", &DataSourceError{LayerID: layerID, Op: "load", Err: ErrNoDataSource}
}

func (r *Runtime) fetch(ctx context.Context, layerID, url string) ([]byte, string, error) {
	data, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, "", &DataSourceError{LayerID: layerID, Op: "fetch", Err: err}
	}
	if len(data) == 0 {
		return nil, "", &DataSourceError{LayerID: layerID, Op: "fetch", Err: fmt.Errorf("%s returned no data", url)}
	}
	return data, url, nil
}

func jsonLines(rows []map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Drop forgets the layer's table and cached domains. A load in flight for
// the layer is abandoned: its callers get ErrDropped and the next
// EnsureTable starts a fresh load.
func (r *Runtime) Drop(ctx context.Context, layerID string) error {
	r.regMu.Lock()
	defer r.regMu.Unlock()
	r.mu.Lock()
	table, ok := r.tables[layerID]
	delete(r.tables, layerID)
	delete(r.tickets, layerID)
	r.gens[layerID]++
	r.mu.Unlock()
	r.loads.Forget(layerID)
	if !ok {
		return nil
	}
	if err := r.adapter.Exec(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		return &DataSourceError{LayerID: layerID, Op: "drop", Err: err}
	}
	r.logger.Debug("dropped layer table", "layer", layerID, "table", table)
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
