// Package adapter provides the analytical SQL engine boundary used by the
// hex layer runtime.
//
// The contract lives in pkg/core so that domain packages can depend on it
// without importing an engine. This package adds the shared database/sql
// base implementation and the adapter registry. Concrete engines are in
// pkg/adapters/ subdirectories.
package adapter

import (
	"github.com/leapstack-labs/leapmap/pkg/core"
)

type (
	// Adapter is an alias for core.Adapter.
	Adapter = core.Adapter

	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Column is an alias for core.Column.
	Column = core.Column

	// Metadata is an alias for core.TableMetadata.
	Metadata = core.TableMetadata

	// Rows is an alias for core.Rows.
	Rows = core.Rows
)
