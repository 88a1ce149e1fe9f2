package staging

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/extractor/internal/core"
)

// Fixture is a YAML description of source data and products, loaded into
// the memory or SQLite store.
//
//	relations:
//	  src_trip:
//	    - {trip_id: 1, trip_code: T1, project: SIH-OBSMER, departure_date: 2019-03-04}
//	tables:
//	  p_agg_hh:
//	    columns: [project, year, quarter]
//	    rows:
//	      - [SIH-OBSMER, 2019, 1]
//	products:
//	  - {id: 1, label: AGG-2019, name: Aggregation 2019, format: AGG_RDB, version: "1.3",
//	     category: PRODUCT, status_id: 1, tables: {HH: p_agg_hh}}
type Fixture struct {
	Relations map[string][]map[string]any `yaml:"relations"`
	Tables    map[string]FixtureTable     `yaml:"tables"`
	Products  []FixtureProduct            `yaml:"products"`
}

// FixtureTable is a precomputed product table.
type FixtureTable struct {
	Columns []string `yaml:"columns"`
	Rows    [][]any  `yaml:"rows"`
}

// FixtureProduct is a product catalogue entry.
type FixtureProduct struct {
	ID            int               `yaml:"id"`
	Label         string            `yaml:"label"`
	Name          string            `yaml:"name"`
	Format        string            `yaml:"format"`
	Version       string            `yaml:"version"`
	Category      string            `yaml:"category"`
	StatusID      int               `yaml:"status_id"`
	Tables        map[string]string `yaml:"tables"`
	SpatialTables map[string]string `yaml:"spatial_tables"`
}

// Product converts the entry into a catalogue product.
func (p FixtureProduct) Product() core.Product {
	return core.Product{
		ID:            p.ID,
		Label:         p.Label,
		Name:          p.Name,
		Format:        p.Format,
		Version:       p.Version,
		Category:      core.ProductCategory(p.Category),
		StatusID:      p.StatusID,
		Tables:        p.Tables,
		SpatialTables: p.SpatialTables,
	}
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	f, err := ParseFixture(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ParseFixture decodes a YAML fixture and checks table rows match their
// declared columns.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	for name, t := range f.Tables {
		if len(t.Columns) == 0 {
			return nil, fmt.Errorf("table %s declares no columns", name)
		}
		for i, row := range t.Rows {
			if len(row) != len(t.Columns) {
				return nil, fmt.Errorf("table %s row %d has %d values, want %d", name, i+1, len(row), len(t.Columns))
			}
		}
	}
	return &f, nil
}

// RelationNames returns the relation names, sorted.
func (f *Fixture) RelationNames() []string {
	return sortedKeys(f.Relations)
}

// TableNames returns the product table names, sorted.
func (f *Fixture) TableNames() []string {
	return sortedKeys(f.Tables)
}

// RelationColumns returns every column used by a relation's records,
// sorted.
func (f *Fixture) RelationColumns(name string) []string {
	seen := make(map[string]bool)
	for _, rec := range f.Relations[name] {
		for col := range rec {
			seen[col] = true
		}
	}
	return sortedKeys(seen)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
