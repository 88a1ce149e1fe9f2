package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/JonMunkholm/extractor/internal/core"
)

// SQLiteStore stages sheets in tables of a local SQLite database. Used by
// the CLI and for running without a PostgreSQL server.
type SQLiteStore struct {
	db     *sql.DB
	prefix string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path, prefix string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := NewSQLiteStore(db, prefix)
	if err := s.createCatalog(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// NewSQLiteStore wraps an open database.
func NewSQLiteStore(db *sql.DB, prefix string) *SQLiteStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &SQLiteStore{db: db, prefix: prefix}
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createCatalog(ctx context.Context) error {
	for _, stmt := range catalogDDL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// CreateStagingResource creates an empty staging table for one sheet.
func (s *SQLiteStore) CreateStagingResource(ctx context.Context, hint core.SchemaHint) (core.ResourceHandle, error) {
	name := StagingName(s.prefix, hint.RunID, hint.Sheet)
	if _, err := s.db.ExecContext(ctx, createTableSQL(SQLite, name, hint.Columns)); err != nil {
		return core.ResourceHandle{}, fmt.Errorf("create %s: %w", name, err)
	}
	return newHandle(name, hint.Columns), nil
}

// Populate fills a staging table from its source descriptor.
func (s *SQLiteStore) Populate(ctx context.Context, h core.ResourceHandle, pred core.Predicate, src core.SourceDescriptor) (int64, error) {
	if src.Empty() {
		return 0, nil
	}
	query, args, err := populateSQL(SQLite, h, pred, src)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("populate %s from %s: %w", h.Name, src.Relation, err)
	}
	return res.RowsAffected()
}

// ReadRows streams a resource's rows ordered by every column.
func (s *SQLiteStore) ReadRows(ctx context.Context, h core.ResourceHandle) iter.Seq2[core.Row, error] {
	return func(yield func(core.Row, error) bool) {
		query, args, err := selectSQL(SQLite, h)
		if err != nil {
			yield(nil, err)
			return
		}
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("read %s: %w", h.Name, err))
			return
		}
		defer rows.Close()

		n := len(h.Columns)
		for rows.Next() {
			values := make([]any, n)
			ptrs := make([]any, n)
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				yield(nil, err)
				return
			}
			for i, v := range values {
				if b, ok := v.([]byte); ok {
					values[i] = string(b)
				}
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
func (s *SQLiteStore) CountRows(ctx context.Context, h core.ResourceHandle) (int64, error) {
	query, args, err := countSQL(SQLite, h)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", h.Name, err)
	}
	return n, nil
}

// DropStagingResource drops an owned staging table.
func (s *SQLiteStore) DropStagingResource(ctx context.Context, h core.ResourceHandle) error {
	if !h.Owned {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, dropTableSQL(h.Name)); err != nil {
		return fmt.Errorf("drop %s: %w", h.Name, err)
	}
	return nil
}

// StagingTables lists the staging tables currently present.
func (s *SQLiteStore) StagingTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ? ESCAPE '\' ORDER BY name`,
		strings.ReplaceAll(s.prefix, "_", `\_`)+"%")
	if err != nil {
		return nil, fmt.Errorf("list staging tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// FindProduct loads a product and its per-sheet tables by label.
func (s *SQLiteStore) FindProduct(ctx context.Context, label string) (core.Product, error) {
	var (
		p         core.Product
		category  string
		updatedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, label, name, format, version, category, status_id, updated_at
		FROM extraction_product WHERE upper(label) = upper(?)`, label).
		Scan(&p.ID, &p.Label, &p.Name, &p.Format, &p.Version, &category, &p.StatusID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Product{}, fmt.Errorf("%w: %s", core.ErrProductNotFound, label)
	}
	if err != nil {
		return core.Product{}, fmt.Errorf("find product %s: %w", label, err)
	}
	p.Category = core.ProductCategory(category)
	if updatedAt.Valid {
		p.UpdatedAt = updatedAt.Time
	}

	rows, err := s.db.QueryContext(ctx, `SELECT sheet, table_name, spatial
		FROM extraction_product_table WHERE product_id = ? ORDER BY sheet`, p.ID)
	if err != nil {
		return core.Product{}, fmt.Errorf("find product tables %s: %w", label, err)
	}
	defer rows.Close()

	var tables []productTableRow
	for rows.Next() {
		var t productTableRow
		if err := rows.Scan(&t.Sheet, &t.TableName, &t.Spatial); err != nil {
			return core.Product{}, err
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return core.Product{}, err
	}
	assignTables(&p, tables)
	return p, nil
}

// Seed loads a fixture: source relations, product tables and catalogue
// entries. Existing relations of the same name are replaced.
func (s *SQLiteStore) Seed(ctx context.Context, f *Fixture) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, name := range f.RelationNames() {
		cols := f.RelationColumns(name)
		if len(cols) == 0 {
			return fmt.Errorf("seed %s: relation has no records", name)
		}
		rows := make([][]any, len(f.Relations[name]))
		for i, rec := range f.Relations[name] {
			rows[i] = make([]any, len(cols))
			for j, c := range cols {
				rows[i][j] = sqliteValue(rec[c])
			}
		}
		if err := seedTable(ctx, tx, name, cols, rows); err != nil {
			return err
		}
	}

	for _, name := range f.TableNames() {
		t := f.Tables[name]
		rows := make([][]any, len(t.Rows))
		for i, r := range t.Rows {
			rows[i] = make([]any, len(r))
			for j, v := range r {
				rows[i][j] = sqliteValue(v)
			}
		}
		if err := seedTable(ctx, tx, name, t.Columns, rows); err != nil {
			return err
		}
	}

	for _, p := range f.Products {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO extraction_product
			(id, label, name, format, version, category, status_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Label, p.Name, p.Format, p.Version, p.Category, p.StatusID, time.Now().UTC()); err != nil {
			return fmt.Errorf("seed product %s: %w", p.Label, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM extraction_product_table WHERE product_id = ?`, p.ID); err != nil {
			return fmt.Errorf("seed product %s: %w", p.Label, err)
		}
		for spatial, tables := range map[bool]map[string]string{false: p.Tables, true: p.SpatialTables} {
			for sheet, table := range tables {
				if _, err := tx.ExecContext(ctx, `INSERT INTO extraction_product_table
					(product_id, sheet, table_name, spatial) VALUES (?, ?, ?, ?)`,
					p.ID, sheet, table, spatial); err != nil {
					return fmt.Errorf("seed product %s table %s: %w", p.Label, sheet, err)
				}
			}
		}
	}

	return tx.Commit()
}

func seedTable(ctx context.Context, tx *sql.Tx, name string, cols []string, rows [][]any) error {
	if _, err := tx.ExecContext(ctx, dropTableSQL(name)); err != nil {
		return fmt.Errorf("seed %s: %w", name, err)
	}
	// Columns are left untyped so SQLite keeps each value's own type.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdentifier(name), quoteColumns("", cols))); err != nil {
		return fmt.Errorf("seed %s: %w", name, err)
	}
	if len(rows) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdentifier(name), quoteColumns("", cols), placeholders))
	if err != nil {
		return fmt.Errorf("seed %s: %w", name, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("seed %s row %d: %w", name, i+1, err)
		}
	}
	return nil
}

// sqliteValue stores dates as ISO text, matching how filters bind them.
func sqliteValue(v any) any {
	if t, ok := v.(time.Time); ok {
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format(time.DateOnly)
		}
		return t.UTC().Format(time.RFC3339)
	}
	return v
}
