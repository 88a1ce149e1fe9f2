package staging

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/extractor/internal/core"
)

// memTable is a staging or product table held in memory.
type memTable struct {
	runID   string
	sheet   string
	columns []string
	rows    []core.Row
}

// MemoryStore evaluates predicates and semi-joins in process. It backs
// tests and fixture-driven CLI runs, and can inject failures per sheet.
type MemoryStore struct {
	mu        sync.Mutex
	relations map[string][]map[string]any
	tables    map[string]*memTable
	products  map[string]core.Product
	failures  map[string]error // sheet -> populate error
	created   int
	dropped   int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		relations: make(map[string][]map[string]any),
		tables:    make(map[string]*memTable),
		products:  make(map[string]core.Product),
		failures:  make(map[string]error),
	}
}

// NewMemoryStoreFromFixture creates a store loaded with a fixture.
func NewMemoryStoreFromFixture(f *Fixture) *MemoryStore {
	m := NewMemoryStore()
	for name, records := range f.Relations {
		m.LoadRelation(name, records)
	}
	for name, t := range f.Tables {
		rows := make([]core.Row, len(t.Rows))
		for i, r := range t.Rows {
			rows[i] = core.Row(r)
		}
		m.LoadTable(name, t.Columns, rows)
	}
	for _, p := range f.Products {
		m.AddProduct(p.Product())
	}
	return m
}

// LoadRelation replaces a source relation.
func (m *MemoryStore) LoadRelation(name string, records []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relations[name] = records
}

// LoadTable replaces a precomputed product table.
func (m *MemoryStore) LoadTable(name string, columns []string, rows []core.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = &memTable{columns: columns, rows: rows}
}

// AddProduct registers a product in the catalogue.
func (m *MemoryStore) AddProduct(p core.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[strings.ToUpper(p.Label)] = p
}

// FailPopulate makes every populate of sheet fail with err.
func (m *MemoryStore) FailPopulate(sheet string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[sheet] = err
}

// Outstanding returns the number of staging resources of a run that have
// not been dropped.
func (m *MemoryStore) Outstanding(runID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, t := range m.tables {
		if t.runID != "" && t.runID == runID {
			n++
		}
	}
	return n
}

// Stats returns how many staging resources were created and dropped.
func (m *MemoryStore) Stats() (created, dropped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created, m.dropped
}

// CreateStagingResource allocates an empty staging table.
func (m *MemoryStore) CreateStagingResource(ctx context.Context, hint core.SchemaHint) (core.ResourceHandle, error) {
	if err := ctx.Err(); err != nil {
		return core.ResourceHandle{}, err
	}
	h := newHandle(StagingName("mem_", hint.RunID, hint.Sheet), hint.Columns)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tables[h.Name]; exists {
		return core.ResourceHandle{}, fmt.Errorf("create %s: table already exists", h.Name)
	}
	m.tables[h.Name] = &memTable{runID: hint.RunID, sheet: hint.Sheet, columns: h.Columns}
	m.created++
	return h, nil
}

// Populate evaluates the source descriptor and appends matching rows.
func (m *MemoryStore) Populate(ctx context.Context, h core.ResourceHandle, pred core.Predicate, src core.SourceDescriptor) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.tables[h.Name]
	if !ok {
		return 0, fmt.Errorf("populate %s: table does not exist", h.Name)
	}
	if err := m.failures[target.sheet]; err != nil {
		return 0, err
	}
	if src.Empty() {
		return 0, nil
	}

	records, ok := m.relations[src.Relation]
	if !ok {
		return 0, fmt.Errorf("populate %s: relation %s does not exist", h.Name, src.Relation)
	}

	var matched []core.Row
	for _, rec := range records {
		keep, err := m.matches(rec, pred, src)
		if err != nil {
			return 0, fmt.Errorf("populate %s: %w", h.Name, err)
		}
		if !keep {
			continue
		}
		row := make(core.Row, len(target.columns))
		for _, c := range src.Columns {
			if i := slices.Index(target.columns, c.Name); i >= 0 {
				row[i] = rec[c.Source]
			}
		}
		matched = append(matched, row)
	}
	target.rows = append(target.rows, matched...)
	return int64(len(matched)), nil
}

// matches applies the predicate and upstream links to one source record.
// Callers hold m.mu.
func (m *MemoryStore) matches(rec map[string]any, pred core.Predicate, src core.SourceDescriptor) (bool, error) {
	for _, c := range pred {
		col, ok := src.Fields[c.Field]
		if !ok {
			continue
		}
		hit, err := evaluate(rec[col], c)
		if err != nil || !hit {
			return false, err
		}
	}

	for _, link := range src.Links {
		up, ok := m.tables[link.Handle.Name]
		if !ok {
			return false, fmt.Errorf("upstream %s (%s) does not exist", link.Sheet, link.Handle.Name)
		}
		found := false
		for _, row := range up.rows {
			if linkMatches(rec, row, up.columns, link.On) {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

func linkMatches(rec map[string]any, row core.Row, columns []string, on []core.JoinKey) bool {
	for _, k := range on {
		i := slices.Index(columns, k.Upstream)
		if i < 0 {
			return false
		}
		if c, ok := compareValues(rec[k.Source], row[i]); !ok || c != 0 {
			return false
		}
	}
	return true
}

// ReadRows yields a snapshot of the table's rows, filtered by the
// handle's read predicate and sorted by every column.
func (m *MemoryStore) ReadRows(ctx context.Context, h core.ResourceHandle) iter.Seq2[core.Row, error] {
	return func(yield func(core.Row, error) bool) {
		rows, err := m.selectRows(h)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// CountRows counts the rows visible through the handle.
func (m *MemoryStore) CountRows(_ context.Context, h core.ResourceHandle) (int64, error) {
	rows, err := m.selectRows(h)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (m *MemoryStore) selectRows(h core.ResourceHandle) ([]core.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[h.Name]
	if !ok {
		return nil, fmt.Errorf("read %s: table does not exist", h.Name)
	}

	idx := make([]int, len(h.Columns))
	for i, col := range h.Columns {
		idx[i] = slices.Index(t.columns, col)
		if idx[i] < 0 {
			return nil, fmt.Errorf("read %s: column %s does not exist", h.Name, col)
		}
	}

	var out []core.Row
	for _, row := range t.rows {
		keep := true
		for _, c := range h.Where {
			i := slices.Index(t.columns, c.Field)
			if i < 0 {
				return nil, fmt.Errorf("read %s: column %s does not exist", h.Name, c.Field)
			}
			hit, err := evaluate(row[i], c)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", h.Name, err)
			}
			if !hit {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		projected := make(core.Row, len(idx))
		for i, j := range idx {
			projected[i] = row[j]
		}
		out = append(out, projected)
	}

	slices.SortStableFunc(out, compareRows)
	return out, nil
}

// DropStagingResource drops an owned table. Dropping a missing table is
// not an error.
func (m *MemoryStore) DropStagingResource(ctx context.Context, h core.ResourceHandle) error {
	if !h.Owned {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[h.Name]
	if !ok {
		return nil
	}
	if err := m.failures["drop:"+t.sheet]; err != nil {
		return err
	}
	delete(m.tables, h.Name)
	m.dropped++
	return nil
}

// FailDrop makes drops of sheet's staging table fail with err.
func (m *MemoryStore) FailDrop(sheet string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures["drop:"+sheet] = err
}

// FindProduct looks up a product by label, case-insensitively.
func (m *MemoryStore) FindProduct(_ context.Context, label string) (core.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[strings.ToUpper(label)]
	if !ok {
		return core.Product{}, fmt.Errorf("%w: %s", core.ErrProductNotFound, label)
	}
	return p, nil
}

// evaluate applies one condition to a value.
func evaluate(v any, c core.Condition) (bool, error) {
	switch c.Operator {
	case core.OpEquals, core.OpIn:
		for _, want := range c.Values {
			if r, ok := compareValues(v, want); ok && r == 0 {
				return true, nil
			}
		}
		return false, nil
	case core.OpGreaterEq:
		if len(c.Values) != 1 {
			return false, fmt.Errorf("condition %s: gte needs one value", c.Field)
		}
		r, ok := compareValues(v, c.Values[0])
		return ok && r >= 0, nil
	case core.OpLessEq:
		if len(c.Values) != 1 {
			return false, fmt.Errorf("condition %s: lte needs one value", c.Field)
		}
		r, ok := compareValues(v, c.Values[0])
		return ok && r <= 0, nil
	default:
		return false, fmt.Errorf("condition %s: unsupported operator %q", c.Field, c.Operator)
	}
}

// compareValues orders two scalar values. Numbers compare numerically,
// times compare chronologically (strings are parsed as dates when
// compared to a time) and everything else compares as text. Nil is not
// comparable.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return cmp.Compare(fa, fb), true
		}
	}
	ta, aTime := toTime(a)
	tb, bTime := toTime(b)
	if aTime || bTime {
		if ta.IsZero() || tb.IsZero() {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b)), true
}

func compareRows(a, b core.Row) int {
	for i := range a {
		if i >= len(b) {
			return 1
		}
		switch {
		case a[i] == nil && b[i] == nil:
			continue
		case a[i] == nil:
			return -1
		case b[i] == nil:
			return 1
		}
		if c, ok := compareValues(a[i], b[i]); ok && c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

var timeLayouts = []string{time.RFC3339, time.DateTime, time.DateOnly}

// toTime reports whether v is a time and returns it. Strings yield a
// parsed time when they hold a date, otherwise the zero time with false.
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, false
			}
		}
	}
	return time.Time{}, false
}
