// Package duckdb provides the DuckDB engine behind table-backed map layers.
package duckdb

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmap/pkg/adapter"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
	params *Params
}

// New creates a new DuckDB adapter instance. A nil logger discards output.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger}}
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" as the path for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	params, err := ParseParams(cfg.Params)
	if err != nil {
		return fmt.Errorf("invalid duckdb params: %w", err)
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	a.params = params

	if err := a.applyParams(ctx, params); err != nil {
		_ = db.Close()
		a.DB = nil
		return err
	}
	a.Logger.Debug("duckdb connected", "path", path, "extensions", params.Extensions)
	return nil
}

// applyParams installs extensions, applies session settings and creates
// secrets, in that order.
func (a *Adapter) applyParams(ctx context.Context, p *Params) error {
	for _, ext := range p.Extensions {
		if err := a.Exec(ctx, fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			return fmt.Errorf("failed to load extension %s: %w", ext, err)
		}
	}

	keys := make([]string, 0, len(p.Settings))
	for k := range p.Settings {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := a.Exec(ctx, fmt.Sprintf("SET %s = %s", k, quoteLiteral(p.Settings[k]))); err != nil {
			return fmt.Errorf("failed to apply setting %s: %w", k, err)
		}
	}

	for i, s := range p.Secrets {
		if err := a.Exec(ctx, buildCreateSecretSQL(s)); err != nil {
			return fmt.Errorf("failed to create secret %d (%s): %w", i, s.Type, err)
		}
	}
	return nil
}

// GetTableMetadata retrieves metadata for a specified table.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	return a.GetTableMetadataCommon(ctx, table)
}

// =============================================================================
// File buffers
// =============================================================================

// Buffer formats recognized by RegisterFileBuffer.
const (
	FormatParquet = "parquet"
	FormatJSON    = "json"
	FormatCSV     = "csv"
)

var parquetMagic = []byte("PAR1")

// DetectFormat sniffs a buffer: the parquet magic number, a leading JSON
// object or array, else CSV.
func DetectFormat(data []byte) string {
	if bytes.HasPrefix(data, parquetMagic) {
		return FormatParquet
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatCSV
}

// RegisterFileBuffer materializes data as table name. The bytes are spilled to
// a temporary file, read with the matching DuckDB reader and the file is
// removed once the table exists.
func (a *Adapter) RegisterFileBuffer(ctx context.Context, name string, data []byte) error {
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	if len(data) == 0 {
		return fmt.Errorf("file buffer %s is empty", name)
	}

	format := DetectFormat(data)
	f, err := os.CreateTemp("", "leapmap-*."+format)
	if err != nil {
		return fmt.Errorf("failed to create buffer file: %w", err)
	}
	path := f.Name()
	defer func() { _ = os.Remove(path) }()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write buffer file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write buffer file: %w", err)
	}

	query := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM %s",
		QuoteIdent(name), readerCall(format, path))
	if err := a.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to register %s buffer %s: %w", format, name, err)
	}
	a.Logger.Debug("registered file buffer", "table", name, "format", format, "bytes", len(data))
	return nil
}

func readerCall(format, path string) string {
	switch format {
	case FormatParquet:
		return fmt.Sprintf("read_parquet(%s)", quoteLiteral(path))
	case FormatJSON:
		return fmt.Sprintf("read_json_auto(%s)", quoteLiteral(path))
	default:
		return fmt.Sprintf("read_csv_auto(%s, header=true)", quoteLiteral(path))
	}
}

// QuoteIdent quotes an identifier for DuckDB.
func QuoteIdent(name string) string {
	return adapter.QuoteIdent(name)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
