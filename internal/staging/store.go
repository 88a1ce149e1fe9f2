// Package staging provides the storage collaborators of the extraction
// engine: PostgreSQL, SQLite and in-memory stores. Each store creates,
// populates, reads and drops run-scoped staging tables and serves the
// product catalogue.
package staging

import "github.com/JonMunkholm/extractor/internal/core"

// DefaultPrefix is prepended to every staging table name.
const DefaultPrefix = "ext_"

var (
	_ core.Storage        = (*PostgresStore)(nil)
	_ core.ProductCatalog = (*PostgresStore)(nil)
	_ core.Storage        = (*SQLiteStore)(nil)
	_ core.ProductCatalog = (*SQLiteStore)(nil)
	_ core.Storage        = (*MemoryStore)(nil)
	_ core.ProductCatalog = (*MemoryStore)(nil)
)

// Store is a storage collaborator that also serves the product catalogue.
type Store interface {
	core.Storage
	core.ProductCatalog
}

func newHandle(name string, cols []core.ColumnSpec) core.ResourceHandle {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return core.ResourceHandle{Name: name, Columns: names, Owned: true}
}

// catalogDDL creates the product catalogue tables.
var catalogDDL = []string{
	`CREATE TABLE IF NOT EXISTS extraction_product (
		id INTEGER PRIMARY KEY,
		label TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		format TEXT NOT NULL,
		version TEXT NOT NULL,
		category TEXT NOT NULL,
		status_id INTEGER NOT NULL,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS extraction_product_table (
		product_id INTEGER NOT NULL REFERENCES extraction_product (id),
		sheet TEXT NOT NULL,
		table_name TEXT NOT NULL,
		spatial BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (product_id, sheet, spatial)
	)`,
}
