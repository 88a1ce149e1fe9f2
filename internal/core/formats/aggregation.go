package formats

import "github.com/JonMunkholm/extractor/internal/core"

func init() {
	registerAggRdb()
	registerAggSurvivalTest()
}

// productFilterColumns maps the logical filter onto product tables.
// Aggregated rows carry no vessel or trip, so only the program applies.
var productFilterColumns = map[string]string{
	core.FieldProgram: "project",
}

func aggKeyColumns() []core.ColumnSpec {
	return []core.ColumnSpec{
		text("project"),
		integer("year"),
		integer("quarter"),
		text("area"),
		text("statistical_rectangle"),
	}
}

func aggSheet(name, description string, cols ...core.ColumnSpec) core.SheetSpec {
	return core.SheetSpec{
		Name:          name,
		Description:   description,
		Columns:       columns(aggKeyColumns(), cols),
		FilterColumns: productFilterColumns,
	}
}

func aggStationSheet() core.SheetSpec {
	return aggSheet(sheetStation, "Station", integer("month"), text("gear_type"),
		integer("trip_count"), integer("station_count"), integer("fishing_time"))
}

func aggSpeciesListSheet() core.SheetSpec {
	return aggSheet(sheetSpeciesList, "Species List", text("gear_type"), text("species"),
		text("landing_category"), numeric("weight"))
}

func aggLengthSheet() core.SheetSpec {
	return aggSheet(sheetLength, "Species Length", text("species"), text("sex"),
		integer("length_class"), integer("number_at_length"))
}

func aggSampleSheet() core.SheetSpec {
	return aggSheet(sheetSample, "Catch Age", text("species"), integer("age"),
		integer("individual_count"), numeric("mean_length"), numeric("mean_weight"))
}

func registerAggRdb() {
	core.Register(core.FormatSpec{
		Code:    "AGG_RDB",
		Version: "1.3",
		Label:   "agg_rdb",
		Family:  core.FamilyProduct,
		Sheets: []core.SheetSpec{
			aggStationSheet(),
			aggSpeciesListSheet(),
			aggLengthSheet(),
			aggSampleSheet(),
		},
	})
}

func registerAggSurvivalTest() {
	core.Register(core.FormatSpec{
		Code:    "AGG_SURVIVAL_TEST",
		Version: "1.0",
		Label:   "agg_survival_test",
		Family:  core.FamilyProduct,
		Sheets: []core.SheetSpec{
			aggStationSheet(),
			aggSpeciesListSheet(),
			aggLengthSheet(),
			aggSampleSheet(),
			aggSheet(sheetSurvivalTest, "Survival Test", text("species"),
				integer("test_count"), numeric("survival_rate")),
			aggSheet(sheetRelease, "Release", text("species"), integer("release_count")),
		},
	})
}
