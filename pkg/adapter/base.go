package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/leapmap/pkg/core"
)

// BaseSQLAdapter is the database/sql half of an engine adapter: statement
// execution and table introspection over the tables layers are loaded into.
// Engines embed it and add Connect and RegisterFileBuffer.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    core.AdapterConfig
	Logger *slog.Logger
}

var errNotConnected = fmt.Errorf("database connection not established")

func (b *BaseSQLAdapter) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.Logger
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB == nil {
		return nil
	}
	b.logger().Debug("closing engine connection")
	return b.DB.Close()
}

// Exec runs a statement that returns no rows, such as a table load or drop.
func (b *BaseSQLAdapter) Exec(ctx context.Context, sqlStr string) error {
	if b.DB == nil {
		return errNotConnected
	}
	start := time.Now()
	if _, err := b.DB.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	b.logger().Debug("executed statement", "duration", time.Since(start))
	return nil
}

// Query runs a layer query. The caller closes the rows and checks Err.
func (b *BaseSQLAdapter) Query(ctx context.Context, sqlStr string) (*core.Rows, error) {
	if b.DB == nil {
		return nil, errNotConnected
	}
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := b.DB.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return &core.Rows{Rows: rows}, nil
}

// IsConnected reports whether Connect succeeded.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}

// =============================================================================
// Layer tables
// =============================================================================

// DefaultSchema holds layer tables unless a name is qualified.
const DefaultSchema = "main"

// QuoteIdent quotes an identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ParseQualifiedName splits "schema.table"; bare names live in
// DefaultSchema.
func ParseQualifiedName(table string) (schema, name string) {
	if schema, name, ok := strings.Cut(table, "."); ok && !strings.Contains(name, ".") {
		return schema, name
	}
	return DefaultSchema, table
}

// Color scale kinds a column can drive.
const (
	ScaleContinuous  = "continuous"
	ScaleCategorical = "categorical"
)

var numericTypes = []string{
	"TINYINT", "SMALLINT", "INTEGER", "BIGINT", "HUGEINT",
	"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT",
	"FLOAT", "DOUBLE", "REAL", "DECIMAL", "NUMERIC",
}

// ScaleFor returns the color scale a column of the given SQL type can drive:
// numeric columns get a continuous ramp, everything else categories.
func ScaleFor(dataType string) string {
	t := strings.ToUpper(strings.TrimSpace(dataType))
	for _, n := range numericTypes {
		if t == n || strings.HasPrefix(t, n+"(") {
			return ScaleContinuous
		}
	}
	return ScaleCategorical
}

// GetTableMetadataCommon describes a layer table from
// information_schema.columns plus a row count.
func (b *BaseSQLAdapter) GetTableMetadataCommon(ctx context.Context, table string) (*core.TableMetadata, error) {
	if b.DB == nil {
		return nil, errNotConnected
	}

	schema, tableName := ParseQualifiedName(table)

	rows, err := b.DB.QueryContext(ctx, `
		SELECT
			column_name,
			data_type,
			is_nullable,
			ordinal_position
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position
	`, schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []core.Column
	for rows.Next() {
		var col core.Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	var rowCount int64
	countQuery := "SELECT COUNT(*) FROM " + QuoteIdent(schema) + "." + QuoteIdent(tableName)
	if err := b.DB.QueryRowContext(ctx, countQuery).Scan(&rowCount); err != nil {
		b.logger().Debug("row count unavailable", "table", table, "error", err)
	}

	return &core.TableMetadata{
		Schema:   schema,
		Name:     tableName,
		Columns:  columns,
		RowCount: rowCount,
	}, nil
}
