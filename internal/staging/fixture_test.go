package staging

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/extractor/internal/core"
)

func TestLoadFixture(t *testing.T) {
	f, err := LoadFixture(fixturePath)
	if err != nil {
		t.Fatalf("LoadFixture() error = %v", err)
	}

	if got := len(f.Relations["src_trip"]); got != 4 {
		t.Errorf("src_trip records = %d, want 4", got)
	}
	if got := len(f.Products); got != 2 {
		t.Errorf("products = %d, want 2", got)
	}

	trip := f.Relations["src_trip"][0]
	if trip["project"] != "SIH-OBSMER" {
		t.Errorf("merge key not applied: project = %v", trip["project"])
	}
	if d, ok := trip["departure_date"].(time.Time); !ok || d.Format(time.DateOnly) != "2019-03-04" {
		t.Errorf("departure_date = %v (%T), want time.Time 2019-03-04", trip["departure_date"], trip["departure_date"])
	}

	t2 := f.Relations["src_trip"][1]
	if t2["year"] != 2018 {
		t.Errorf("explicit key should override merged value: year = %v", t2["year"])
	}

	if rect := f.Tables["p_agg_hh"].Rows[0][4]; rect != "25E5" {
		t.Errorf("statistical rectangle = %v (%T), want string 25E5", rect, rect)
	}
}

func TestParseFixture_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"malformed", "relations: [", "parsing fixture"},
		{"no columns", "tables:\n  t:\n    rows: [[1]]\n", "declares no columns"},
		{"ragged row", "tables:\n  t:\n    columns: [a, b]\n    rows: [[1]]\n", "row 1 has 1 values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFixture([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ParseFixture() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestFixture_RelationColumns(t *testing.T) {
	f, err := ParseFixture([]byte(`
relations:
  r:
    - {b: 1, a: 2}
    - {c: 3}
`))
	if err != nil {
		t.Fatalf("ParseFixture() error = %v", err)
	}
	if got := f.RelationColumns("r"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("RelationColumns() = %v", got)
	}
	if got := f.RelationNames(); !reflect.DeepEqual(got, []string{"r"}) {
		t.Errorf("RelationNames() = %v", got)
	}
}

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()
	f, err := LoadFixture(fixturePath)
	if err != nil {
		t.Fatalf("LoadFixture() error = %v", err)
	}

	store, closeFn, err := Open(ctx, Options{Backend: "memory", Fixture: f})
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	defer closeFn()
	if _, err := store.FindProduct(ctx, "AGG-2019"); err != nil {
		t.Errorf("memory store not seeded: %v", err)
	}

	store, closeFn, err = Open(ctx, Options{Backend: "SQLite", SQLitePath: t.TempDir() + "/x.db", Fixture: f})
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	defer closeFn()
	if _, err := store.FindProduct(ctx, "AGG-2019"); err != nil {
		t.Errorf("sqlite store not seeded: %v", err)
	}

	if _, _, err := Open(ctx, Options{Backend: "oracle"}); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestAssignTables(t *testing.T) {
	var p core.Product
	assignTables(&p, []productTableRow{
		{Sheet: "HH", TableName: "p_hh"},
		{Sheet: "HH", TableName: "p_hh_spatial", Spatial: true},
	})
	if p.Tables["HH"] != "p_hh" || p.SpatialTables["HH"] != "p_hh_spatial" {
		t.Errorf("tables = %v, spatial = %v", p.Tables, p.SpatialTables)
	}
}
