package staging

// render.go turns engine-agnostic predicates and source descriptors into
// SQL for a given dialect. Identifiers are always quoted; values are
// always bound as arguments.

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/extractor/internal/core"
)

// Dialect captures the SQL differences between storage engines.
type Dialect struct {
	Name string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string

	// Bind converts a predicate value before it is passed to the driver.
	Bind func(v any) any

	// ColumnType renders a column type for CREATE TABLE.
	ColumnType func(t core.ColumnType) string

	// CreateTable is the CREATE TABLE prefix.
	CreateTable string
}

// Postgres renders $n placeholders and unlogged staging tables.
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Bind:        func(v any) any { return v },
	ColumnType: func(t core.ColumnType) string {
		switch t {
		case core.ColumnInteger:
			return "BIGINT"
		case core.ColumnNumeric:
			return "NUMERIC"
		case core.ColumnDate:
			return "DATE"
		case core.ColumnTimestamp:
			return "TIMESTAMPTZ"
		case core.ColumnBool:
			return "BOOLEAN"
		default:
			return "TEXT"
		}
	},
	CreateTable: "CREATE UNLOGGED TABLE",
}

// SQLite renders ? placeholders. Dates are bound as ISO text so they
// compare correctly against TEXT date columns.
var SQLite = Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	Bind: func(v any) any {
		if t, ok := v.(time.Time); ok {
			return t.Format(time.DateOnly)
		}
		return v
	},
	ColumnType: func(t core.ColumnType) string {
		switch t {
		case core.ColumnInteger, core.ColumnBool:
			return "INTEGER"
		case core.ColumnNumeric:
			return "REAL"
		default:
			return "TEXT"
		}
	},
	CreateTable: "CREATE TABLE",
}

// WhereBuilder constructs WHERE clauses with bound arguments.
type WhereBuilder struct {
	dialect    Dialect
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder creates a WhereBuilder for the dialect.
func NewWhereBuilder(d Dialect) *WhereBuilder {
	return &WhereBuilder{dialect: d, argIndex: 1}
}

func (wb *WhereBuilder) bind(v any) string {
	p := wb.dialect.Placeholder(wb.argIndex)
	wb.args = append(wb.args, wb.dialect.Bind(v))
	wb.argIndex++
	return p
}

// Add adds an equality condition. Nil and empty string values are skipped.
func (wb *WhereBuilder) Add(column string, value any) {
	if value == nil {
		return
	}
	if s, ok := value.(string); ok && s == "" {
		return
	}
	wb.conditions = append(wb.conditions, column+" = "+wb.bind(value))
}

// AddIn adds an IN condition. An empty list matches nothing.
func (wb *WhereBuilder) AddIn(column string, values []any) {
	if len(values) == 0 {
		wb.conditions = append(wb.conditions, "1 = 0")
		return
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = wb.bind(v)
	}
	wb.conditions = append(wb.conditions, column+" IN ("+strings.Join(placeholders, ", ")+")")
}

// AddCompare adds "column op value" for a comparison operator.
func (wb *WhereBuilder) AddCompare(column, op string, value any) {
	wb.conditions = append(wb.conditions, column+" "+op+" "+wb.bind(value))
}

// AddRaw adds a condition with no arguments.
func (wb *WhereBuilder) AddRaw(condition string) {
	wb.conditions = append(wb.conditions, condition)
}

// AddCondition renders one predicate condition against column.
func (wb *WhereBuilder) AddCondition(column string, c core.Condition) error {
	switch c.Operator {
	case core.OpEquals:
		if len(c.Values) != 1 {
			return fmt.Errorf("condition %s: eq needs one value, got %d", c.Field, len(c.Values))
		}
		wb.AddCompare(column, "=", c.Values[0])
	case core.OpIn:
		wb.AddIn(column, c.Values)
	case core.OpGreaterEq:
		if len(c.Values) != 1 {
			return fmt.Errorf("condition %s: gte needs one value, got %d", c.Field, len(c.Values))
		}
		wb.AddCompare(column, ">=", c.Values[0])
	case core.OpLessEq:
		if len(c.Values) != 1 {
			return fmt.Errorf("condition %s: lte needs one value, got %d", c.Field, len(c.Values))
		}
		wb.AddCompare(column, "<=", c.Values[0])
	default:
		return fmt.Errorf("condition %s: unsupported operator %q", c.Field, c.Operator)
	}
	return nil
}

// AddPredicate renders every condition whose field appears in fields,
// qualifying columns with alias. Other conditions are ignored.
func (wb *WhereBuilder) AddPredicate(alias string, pred core.Predicate, fields map[string]string) error {
	for _, c := range pred {
		col, ok := fields[c.Field]
		if !ok {
			continue
		}
		if err := wb.AddCondition(qualify(alias, col), c); err != nil {
			return err
		}
	}
	return nil
}

// Build returns the WHERE clause (with leading space) and its arguments.
// Returns an empty string and nil args when no conditions were added.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// quoteIdentifier safely quotes a SQL identifier.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteQualified quotes a possibly schema-qualified name.
func quoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

func qualify(alias, column string) string {
	if alias == "" {
		return quoteIdentifier(column)
	}
	return alias + "." + quoteIdentifier(column)
}

func quoteColumns(alias string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = qualify(alias, c)
	}
	return strings.Join(quoted, ", ")
}

// StagingName returns the run-scoped staging table name for a sheet.
func StagingName(prefix, runID, sheet string) string {
	id := strings.ReplaceAll(runID, "-", "")
	return strings.ToLower(prefix + id + "_" + sheet)
}

// createTableSQL renders the DDL of a staging table.
func createTableSQL(d Dialect, name string, cols []core.ColumnSpec) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdentifier(c.Name) + " " + d.ColumnType(c.Type)
	}
	return fmt.Sprintf("%s %s (%s)", d.CreateTable, quoteQualified(name), strings.Join(defs, ", "))
}

// populateSQL renders INSERT ... SELECT from the source relation,
// restricted by the predicate and semi-joined against upstream sheets.
func populateSQL(d Dialect, h core.ResourceHandle, pred core.Predicate, src core.SourceDescriptor) (string, []any, error) {
	if len(src.Columns) == 0 {
		return "", nil, fmt.Errorf("source %s projects no columns", src.Relation)
	}

	targets := make([]string, len(src.Columns))
	sources := make([]string, len(src.Columns))
	for i, c := range src.Columns {
		targets[i] = c.Name
		sources[i] = c.Source
	}

	wb := NewWhereBuilder(d)
	if err := wb.AddPredicate("s", pred, src.Fields); err != nil {
		return "", nil, err
	}
	for i, link := range src.Links {
		if len(link.On) == 0 {
			return "", nil, fmt.Errorf("link to %s has no join keys", link.Sheet)
		}
		alias := "u" + strconv.Itoa(i)
		keys := make([]string, len(link.On))
		for j, k := range link.On {
			keys[j] = qualify(alias, k.Upstream) + " = " + qualify("s", k.Source)
		}
		wb.AddRaw(fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s WHERE %s)",
			quoteQualified(link.Handle.Name), alias, strings.Join(keys, " AND ")))
	}
	where, args := wb.Build()

	query := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s s%s",
		quoteQualified(h.Name),
		quoteColumns("", targets),
		quoteColumns("s", sources),
		quoteQualified(src.Relation),
		where,
	)
	return query, args, nil
}

// selectSQL renders an ordered read of a resource. Ordering by every
// column makes repeated reads return rows in the same order.
func selectSQL(d Dialect, h core.ResourceHandle) (string, []any, error) {
	if len(h.Columns) == 0 {
		return "", nil, fmt.Errorf("resource %s has no columns", h.Name)
	}

	wb := NewWhereBuilder(d)
	for _, c := range h.Where {
		if err := wb.AddCondition(quoteIdentifier(c.Field), c); err != nil {
			return "", nil, err
		}
	}
	where, args := wb.Build()

	order := make([]string, len(h.Columns))
	for i := range h.Columns {
		order[i] = strconv.Itoa(i + 1)
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s",
		quoteColumns("", h.Columns),
		quoteQualified(h.Name),
		where,
		strings.Join(order, ", "),
	)
	return query, args, nil
}

// countSQL renders a row count of a resource.
func countSQL(d Dialect, h core.ResourceHandle) (string, []any, error) {
	wb := NewWhereBuilder(d)
	for _, c := range h.Where {
		if err := wb.AddCondition(quoteIdentifier(c.Field), c); err != nil {
			return "", nil, err
		}
	}
	where, args := wb.Build()
	return "SELECT COUNT(*) FROM " + quoteQualified(h.Name) + where, args, nil
}

func dropTableSQL(name string) string {
	return "DROP TABLE IF EXISTS " + quoteQualified(name)
}

// orphanedTablesSQL lists tables named with prefix in schema, or in the
// session's current schema when schema is empty.
func orphanedTablesSQL(schema, prefix string) (string, []any) {
	wb := NewWhereBuilder(Postgres)
	if schema == "" {
		wb.AddRaw("table_schema = current_schema()")
	} else {
		wb.Add("table_schema", schema)
	}
	wb.AddCompare("table_name", "LIKE", strings.ReplaceAll(prefix, "_", `\_`)+"%")
	where, args := wb.Build()
	return "SELECT table_schema, table_name FROM information_schema.tables" + where + " ORDER BY 2", args
}
