package staging

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/extractor/internal/core"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresStore stages sheets in unlogged tables of a dedicated schema
// and serves the product catalogue.
type PostgresStore struct {
	db     DBTX
	schema string
	prefix string
}

// NewPostgresStore creates a store. An empty schema stages into the
// connection's search path.
func NewPostgresStore(db DBTX, schema, prefix string) *PostgresStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &PostgresStore{db: db, schema: schema, prefix: prefix}
}

// EnsureSchema creates the staging schema and the product catalogue
// tables if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s.schema != "" {
		if _, err := s.db.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdentifier(s.schema)); err != nil {
			return fmt.Errorf("create staging schema: %w", err)
		}
	}
	for _, ddl := range catalogDDL {
		if _, err := s.db.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create product catalogue: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) tableName(hint core.SchemaHint) string {
	name := StagingName(s.prefix, hint.RunID, hint.Sheet)
	if s.schema == "" {
		return name
	}
	return s.schema + "." + name
}

// CreateStagingResource creates an empty staging table for one sheet.
func (s *PostgresStore) CreateStagingResource(ctx context.Context, hint core.SchemaHint) (core.ResourceHandle, error) {
	name := s.tableName(hint)
	if _, err := s.db.Exec(ctx, createTableSQL(Postgres, name, hint.Columns)); err != nil {
		return core.ResourceHandle{}, fmt.Errorf("create %s: %w", name, err)
	}
	return newHandle(name, hint.Columns), nil
}

// Populate fills a staging table from its source descriptor.
func (s *PostgresStore) Populate(ctx context.Context, h core.ResourceHandle, pred core.Predicate, src core.SourceDescriptor) (int64, error) {
	if src.Empty() {
		return 0, nil
	}
	query, args, err := populateSQL(Postgres, h, pred, src)
	if err != nil {
		return 0, err
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("populate %s from %s: %w", h.Name, src.Relation, err)
	}
	return tag.RowsAffected(), nil
}

// ReadRows streams a resource's rows ordered by every column.
func (s *PostgresStore) ReadRows(ctx context.Context, h core.ResourceHandle) iter.Seq2[core.Row, error] {
	return func(yield func(core.Row, error) bool) {
		query, args, err := selectSQL(Postgres, h)
		if err != nil {
			yield(nil, err)
			return
		}
		rows, err := s.db.Query(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("read %s: %w", h.Name, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				yield(nil, err)
				return
			}
			for i, v := range values {
				values[i] = normalizeValue(v)
			}
			if !yield(core.Row(values), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("read %s: %w", h.Name, err))
		}
	}
}

// CountRows counts a resource's rows.
func (s *PostgresStore) CountRows(ctx context.Context, h core.ResourceHandle) (int64, error) {
	query, args, err := countSQL(Postgres, h)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", h.Name, err)
	}
	return n, nil
}

// DropStagingResource drops an owned staging table. Borrowed tables are
// left untouched.
func (s *PostgresStore) DropStagingResource(ctx context.Context, h core.ResourceHandle) error {
	if !h.Owned {
		return nil
	}
	if _, err := s.db.Exec(ctx, dropTableSQL(h.Name)); err != nil {
		return fmt.Errorf("drop %s: %w", h.Name, err)
	}
	return nil
}

// OrphanedTables lists staging tables left behind by a previous process.
func (s *PostgresStore) OrphanedTables(ctx context.Context) ([]string, error) {
	query, args := orphanedTablesSQL(s.schema, s.prefix)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list staging tables: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var schema, name string
		if err := row.Scan(&schema, &name); err != nil {
			return "", err
		}
		return schema + "." + name, nil
	})
}

// DropOrphans drops staging tables left behind by a previous process.
// Call it at startup before any extraction runs.
func (s *PostgresStore) DropOrphans(ctx context.Context) (int, error) {
	names, err := s.OrphanedTables(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	dropped := 0
	for _, name := range names {
		if _, err := s.db.Exec(ctx, dropTableSQL(name)); err != nil {
			errs = append(errs, fmt.Errorf("drop %s: %w", name, err))
			continue
		}
		dropped++
	}
	return dropped, errors.Join(errs...)
}

type productRow struct {
	ID        int              `db:"id"`
	Label     string           `db:"label"`
	Name      string           `db:"name"`
	Format    string           `db:"format"`
	Version   string           `db:"version"`
	Category  string           `db:"category"`
	StatusID  int              `db:"status_id"`
	UpdatedAt pgtype.Timestamp `db:"updated_at"`
}

type productTableRow struct {
	Sheet     string `db:"sheet"`
	TableName string `db:"table_name"`
	Spatial   bool   `db:"spatial"`
}

// FindProduct loads a product and its per-sheet tables by label.
func (s *PostgresStore) FindProduct(ctx context.Context, label string) (core.Product, error) {
	rows, err := s.db.Query(ctx, `SELECT id, label, name, format, version, category, status_id, updated_at
		FROM extraction_product WHERE upper(label) = upper($1)`, label)
	if err != nil {
		return core.Product{}, fmt.Errorf("find product %s: %w", label, err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[productRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Product{}, fmt.Errorf("%w: %s", core.ErrProductNotFound, label)
	}
	if err != nil {
		return core.Product{}, fmt.Errorf("find product %s: %w", label, err)
	}

	rows, err = s.db.Query(ctx, `SELECT sheet, table_name, spatial
		FROM extraction_product_table WHERE product_id = $1 ORDER BY sheet`, row.ID)
	if err != nil {
		return core.Product{}, fmt.Errorf("find product tables %s: %w", label, err)
	}
	tables, err := pgx.CollectRows(rows, pgx.RowToStructByName[productTableRow])
	if err != nil {
		return core.Product{}, fmt.Errorf("find product tables %s: %w", label, err)
	}

	p := core.Product{
		ID:       row.ID,
		Label:    row.Label,
		Name:     row.Name,
		Format:   row.Format,
		Version:  row.Version,
		Category: core.ProductCategory(row.Category),
		StatusID: row.StatusID,
	}
	if row.UpdatedAt.Valid {
		p.UpdatedAt = row.UpdatedAt.Time
	}
	assignTables(&p, tables)
	return p, nil
}

func assignTables(p *core.Product, tables []productTableRow) {
	for _, t := range tables {
		if t.Spatial {
			if p.SpatialTables == nil {
				p.SpatialTables = make(map[string]string)
			}
			p.SpatialTables[t.Sheet] = t.TableName
			continue
		}
		if p.Tables == nil {
			p.Tables = make(map[string]string)
		}
		p.Tables[t.Sheet] = t.TableName
	}
}

// normalizeValue converts pgx wire types into plain Go values.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(val).String()
	default:
		return v
	}
}
