package core

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func emptyBuild(context.Context, BuildInput) (SourceDescriptor, error) {
	return SourceDescriptor{}, nil
}

func testSheet(name string, deps ...string) SheetSpec {
	return SheetSpec{
		Name:      name,
		Columns:   []ColumnSpec{{Name: "id", Type: ColumnInteger}},
		DependsOn: deps,
		Build:     emptyBuild,
	}
}

func testFormat(code, version string, sheets ...SheetSpec) FormatSpec {
	return FormatSpec{Code: code, Version: version, Sheets: sheets}
}

func mustPanic(t *testing.T, contains string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q", contains)
		}
		if msg, _ := r.(string); !strings.Contains(msg, contains) {
			t.Errorf("panic = %v, want it to contain %q", r, contains)
		}
	}()
	fn()
}

func TestRegistry_ResolveLatest(t *testing.T) {
	r := NewRegistry()
	r.Register(testFormat("rdb", "1.0", testSheet("TR")))
	r.Register(testFormat("RDB", "1.10", testSheet("TR")))
	r.Register(testFormat("RDB", "1.3", testSheet("TR")))

	spec, err := r.Resolve("RDB", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if spec.Version != "1.10" {
		t.Errorf("latest version = %q, want %q", spec.Version, "1.10")
	}

	spec, err = r.Resolve(" rdb ", "1.0")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if spec.Code != "RDB" || spec.Label != "RDB" || spec.Family != FamilyLive {
		t.Errorf("defaults not applied: %+v", spec)
	}

	if got, want := r.Versions("RDB"), []string{"1.0", "1.3", "1.10"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Versions() = %v, want %v", got, want)
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewRegistry()
	r.Register(testFormat("RDB", "1.0", testSheet("TR")))

	tests := []struct{ code, version string }{
		{"XYZ", ""},
		{"RDB", "9.9"},
	}
	for _, tt := range tests {
		_, err := r.Resolve(tt.code, tt.version)
		var ufe *UnknownFormatError
		if !errors.As(err, &ufe) {
			t.Errorf("Resolve(%q, %q) error = %v, want UnknownFormatError", tt.code, tt.version, err)
		}
	}
}

func TestRegistry_RegisterRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		spec    FormatSpec
		wantMsg string
	}{
		{"empty code", testFormat("", "1.0", testSheet("TR")), "empty code"},
		{"empty version", testFormat("X", "", testSheet("TR")), "empty version"},
		{"no sheets", testFormat("X", "1.0"), "no sheets"},
		{"duplicate sheet", testFormat("X", "1.0", testSheet("TR"), testSheet("TR")), "duplicate sheet"},
		{"forward dependency", testFormat("X", "1.0", testSheet("HH", "TR"), testSheet("TR")), "not declared before"},
		{"missing builder", testFormat("X", "1.0", SheetSpec{Name: "TR", Columns: []ColumnSpec{{Name: "id"}}}), "no builder"},
		{"no columns", testFormat("X", "1.0", SheetSpec{Name: "TR", Build: emptyBuild}), "no columns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mustPanic(t, tt.wantMsg, func() { NewRegistry().Register(tt.spec) })
		})
	}
}

func TestRegistry_ProductFormatWithoutBuilders(t *testing.T) {
	r := NewRegistry()
	r.Register(FormatSpec{
		Code:    "AGG",
		Version: "1.0",
		Family:  FamilyProduct,
		Sheets:  []SheetSpec{{Name: "HH", Columns: []ColumnSpec{{Name: "year"}}}},
	})
	if r.FormatCount() != 1 {
		t.Errorf("FormatCount() = %d, want 1", r.FormatCount())
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(testFormat("RDB", "1.0", testSheet("TR")))
	mustPanic(t, "already registered", func() {
		r.Register(testFormat("RDB", "1.0", testSheet("TR")))
	})
}

func TestRegistry_AllSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(testFormat("VESSEL", "1.0", testSheet("VE")))
	r.Register(testFormat("RDB", "1.3", testSheet("TR")))
	r.Register(testFormat("RDB", "1.0", testSheet("TR")))

	var got []string
	for _, spec := range r.All() {
		got = append(got, spec.Code+" "+spec.Version)
	}
	want := []string{"RDB 1.0", "RDB 1.3", "VESSEL 1.0"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("All() = %v, want %v", got, want)
	}
	if codes := r.Codes(); !reflect.DeepEqual(codes, []string{"RDB", "VESSEL"}) {
		t.Errorf("Codes() = %v", codes)
	}
}

func TestRegistry_SheetsForOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(testFormat("RDB", "1.0", testSheet("TR"), testSheet("HH", "TR"), testSheet("SL", "HH")))

	got, err := r.SheetsFor("RDB", "1.0")
	if err != nil {
		t.Fatalf("SheetsFor() error = %v", err)
	}
	if want := []string{"TR", "HH", "SL"}; !reflect.DeepEqual(got, want) {
		t.Errorf("SheetsFor() = %v, want %v", got, want)
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.3", "1.10", -1},
		{"2.0", "1.10", 1},
		{"1.0", "1", 1},
		{"1.0-beta", "1.0-alpha", 1},
	}
	for _, tt := range tests {
		if got := compareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("compareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
