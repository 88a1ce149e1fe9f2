package formats

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/extractor/internal/core"
)

// Source relations exposed by the operational database.
const (
	srcTrip               = "src_trip"
	srcStation            = "src_station"
	srcSpeciesList        = "src_species_list"
	srcSpeciesLength      = "src_species_length"
	srcSample             = "src_sample"
	srcSurvivalTest       = "src_survival_test"
	srcRelease            = "src_release"
	srcVessel             = "src_vessel"
	srcVesselFeatures     = "src_vessel_features"
	srcVesselRegistration = "src_vessel_registration"
)

// tripFields maps the logical trip filter onto src_trip.
var tripFields = map[string]string{
	core.FieldProgram:  "project",
	core.FieldVesselID: "vessel_identifier",
	core.FieldTripID:   "trip_id",
	core.FieldDate:     "departure_date",
}

// vesselFields maps the logical trip filter onto src_vessel.
var vesselFields = map[string]string{
	core.FieldProgram:  "project",
	core.FieldVesselID: "vessel_identifier",
}

// upstream names a built sheet and the columns shared with it.
type upstream struct {
	sheet   string
	columns []string
}

func linkTo(sheet string, columns ...string) upstream {
	return upstream{sheet: sheet, columns: columns}
}

// fromSource returns a builder projecting every sheet column from the
// same-named column of relation. Rows are restricted to keys present in
// the given upstream sheets.
func fromSource(relation string, fields map[string]string, links ...upstream) core.BuildFunc {
	return func(_ context.Context, in core.BuildInput) (core.SourceDescriptor, error) {
		src := core.SourceDescriptor{
			Relation: relation,
			Fields:   fields,
			Columns:  make([]core.SourceColumn, len(in.Sheet.Columns)),
		}
		for i, c := range in.Sheet.Columns {
			src.Columns[i] = core.SourceColumn{Name: c.Name, Source: c.Name}
		}

		for _, u := range links {
			on := make([]core.JoinKey, len(u.columns))
			for i, col := range u.columns {
				on[i] = core.JoinKey{Source: col, Upstream: col}
			}
			link, ok := in.Link(u.sheet, on...)
			if !ok {
				return core.SourceDescriptor{}, fmt.Errorf("sheet %s: upstream %s not built", in.Sheet.Name, u.sheet)
			}
			src.Links = append(src.Links, link)
		}
		return src, nil
	}
}

// noSource builds an empty sheet. Used for sheets whose source data is
// not collected yet.
func noSource(context.Context, core.BuildInput) (core.SourceDescriptor, error) {
	return core.SourceDescriptor{}, nil
}

func text(name string) core.ColumnSpec { return core.ColumnSpec{Name: name, Type: core.ColumnText} }
func integer(name string) core.ColumnSpec { return core.ColumnSpec{Name: name, Type: core.ColumnInteger} }
func numeric(name string) core.ColumnSpec { return core.ColumnSpec{Name: name, Type: core.ColumnNumeric} }
func date(name string) core.ColumnSpec { return core.ColumnSpec{Name: name, Type: core.ColumnDate} }
func stamp(name string) core.ColumnSpec { return core.ColumnSpec{Name: name, Type: core.ColumnTimestamp} }
func boolean(name string) core.ColumnSpec { return core.ColumnSpec{Name: name, Type: core.ColumnBool} }

// columns concatenates column groups into a fresh slice.
func columns(groups ...[]core.ColumnSpec) []core.ColumnSpec {
	var out []core.ColumnSpec
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
