package core

import (
	"context"
	"iter"
	"time"
)

// ColumnType is the storage type of a sheet column.
type ColumnType int

const (
	ColumnText ColumnType = iota
	ColumnInteger
	ColumnNumeric
	ColumnDate
	ColumnTimestamp
	ColumnBool
)

// String returns the lowercase type name.
func (t ColumnType) String() string {
	switch t {
	case ColumnInteger:
		return "integer"
	case ColumnNumeric:
		return "numeric"
	case ColumnDate:
		return "date"
	case ColumnTimestamp:
		return "timestamp"
	case ColumnBool:
		return "bool"
	default:
		return "text"
	}
}

// ColumnSpec describes one column of a sheet.
type ColumnSpec struct {
	Name string
	Type ColumnType
}

// Family separates formats built live from operational data and formats
// bound to precomputed product tables.
type Family string

const (
	FamilyLive    Family = "live"
	FamilyProduct Family = "product"
)

// SheetSpec declares a single sheet of a format.
type SheetSpec struct {
	Name        string       // Short sheet code: "TR", "HH", ...
	Description string       // Display name: "Trip", "Haul", ...
	Columns     []ColumnSpec // Export column order
	DependsOn   []string     // Upstream sheets that must be Built first

	// Build produces the source descriptor used to populate the sheet's
	// staging resource. Nil for product formats.
	Build BuildFunc

	// FilterColumns maps logical filter fields to sheet columns. Used to
	// restrict rows read from product tables.
	FilterColumns map[string]string
}

// ColumnNames returns the sheet's column names in export order.
func (s SheetSpec) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// FormatSpec is an immutable, versioned extraction format.
type FormatSpec struct {
	Code    string // "RDB", "ICES", "SURVIVAL_TEST", ...
	Version string // "1.0", "1.3", ...
	Label   string // Human readable name
	Family  Family
	Variant Kind // Context variant used for live extraction
	Sheets  []SheetSpec
}

// SheetNames returns the canonical, ordered sheet names.
func (f FormatSpec) SheetNames() []string {
	names := make([]string, len(f.Sheets))
	for i, s := range f.Sheets {
		names[i] = s.Name
	}
	return names
}

// Sheet returns the sheet spec with the given name.
func (f FormatSpec) Sheet(name string) (SheetSpec, bool) {
	for _, s := range f.Sheets {
		if s.Name == name {
			return s, true
		}
	}
	return SheetSpec{}, false
}

// HasSheet reports whether the format declares the sheet.
func (f FormatSpec) HasSheet(name string) bool {
	_, ok := f.Sheet(name)
	return ok
}

// Row is a single sheet row, values ordered like the sheet's columns.
type Row []any

// Operator is a comparison operator of a predicate condition.
type Operator string

const (
	OpEquals    Operator = "eq"
	OpIn        Operator = "in"
	OpGreaterEq Operator = "gte"
	OpLessEq    Operator = "lte"
)

// Condition is a single engine-agnostic filter condition.
type Condition struct {
	Field    string
	Operator Operator
	Values   []any
}

// Predicate is a conjunction of conditions.
type Predicate []Condition

// Fields returns the distinct fields referenced by the predicate.
func (p Predicate) Fields() []string {
	seen := make(map[string]bool, len(p))
	var fields []string
	for _, c := range p {
		if !seen[c.Field] {
			seen[c.Field] = true
			fields = append(fields, c.Field)
		}
	}
	return fields
}

// Map renames condition fields. Conditions whose field is not in the
// mapping are dropped.
func (p Predicate) Map(fields map[string]string) Predicate {
	var out Predicate
	for _, c := range p {
		col, ok := fields[c.Field]
		if !ok {
			continue
		}
		c.Field = col
		out = append(out, c)
	}
	return out
}

// Only returns the conditions on the given fields.
func (p Predicate) Only(fields ...string) Predicate {
	var out Predicate
	for _, c := range p {
		for _, f := range fields {
			if c.Field == f {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// SchemaHint describes the staging resource to allocate for one sheet.
type SchemaHint struct {
	RunID   string
	Format  string
	Sheet   string
	Columns []ColumnSpec
}

// ResourceHandle identifies a staging table or a borrowed product table.
type ResourceHandle struct {
	Name    string
	Columns []string

	// Owned is true for run-created staging resources. Only owned
	// resources are dropped on release.
	Owned bool

	// Where restricts rows when reading a borrowed product table.
	Where Predicate
}

// SourceColumn projects a source relation column into a staging column.
type SourceColumn struct {
	Name   string // Staging column
	Source string // Source relation column
}

// JoinKey pairs a source column with a column of an upstream sheet.
type JoinKey struct {
	Source   string
	Upstream string
}

// UpstreamLink restricts source rows to those whose key appears in an
// already built upstream sheet.
type UpstreamLink struct {
	Sheet  string
	Handle ResourceHandle
	On     []JoinKey
}

// SourceDescriptor tells the storage collaborator how to populate a
// staging resource. The zero value describes an empty sheet.
type SourceDescriptor struct {
	Relation string
	Columns  []SourceColumn
	Fields   map[string]string // Logical filter field -> source column
	Links    []UpstreamLink
}

// Empty reports whether the descriptor has no source relation.
func (d SourceDescriptor) Empty() bool {
	return d.Relation == ""
}

// BuildInput is handed to a sheet builder.
type BuildInput struct {
	RunID     string
	Format    FormatSpec
	Sheet     SheetSpec
	Predicate Predicate
	Upstream  map[string]SheetBinding
}

// Link returns an upstream link against a built sheet, or false if the
// sheet is not bound.
func (in BuildInput) Link(sheet string, on ...JoinKey) (UpstreamLink, bool) {
	b, ok := in.Upstream[sheet]
	if !ok {
		return UpstreamLink{}, false
	}
	return UpstreamLink{Sheet: sheet, Handle: b.Handle, On: on}, true
}

// BuildFunc is a format-, version- and sheet-specific builder.
type BuildFunc func(ctx context.Context, in BuildInput) (SourceDescriptor, error)

// Storage is the staging collaborator.
type Storage interface {
	CreateStagingResource(ctx context.Context, hint SchemaHint) (ResourceHandle, error)
	Populate(ctx context.Context, h ResourceHandle, pred Predicate, src SourceDescriptor) (int64, error)
	ReadRows(ctx context.Context, h ResourceHandle) iter.Seq2[Row, error]
	CountRows(ctx context.Context, h ResourceHandle) (int64, error)
	DropStagingResource(ctx context.Context, h ResourceHandle) error
}

// Product is a precomputed extraction product.
type Product struct {
	ID            int
	Label         string
	Name          string
	Format        string
	Version       string
	Category      ProductCategory
	StatusID      int
	Tables        map[string]string // Sheet -> table
	SpatialTables map[string]string // Sheet -> spatially aggregated table
	UpdatedAt     time.Time
}

// ProductCatalog looks up precomputed products.
type ProductCatalog interface {
	FindProduct(ctx context.Context, label string) (Product, error)
}
