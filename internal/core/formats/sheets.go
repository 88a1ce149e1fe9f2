package formats

import "github.com/JonMunkholm/extractor/internal/core"

// Sheet codes shared by the live formats.
const (
	sheetTrip         = "TR"
	sheetStation      = "HH"
	sheetSpeciesList  = "SL"
	sheetLength       = "HL"
	sheetSample       = "CA"
	sheetLanding      = "CL"
	sheetEffort       = "CE"
	sheetSurvivalTest = "ST"
	sheetRelease      = "RL"
	sheetVessel       = "VE"
	sheetFeatures     = "VF"
	sheetRegistration = "VR"
)

// Key columns carried by every trip-rooted sheet.
func tripKeyColumns() []core.ColumnSpec {
	return []core.ColumnSpec{
		text("sampling_type"),
		text("landing_country"),
		text("vessel_flag_country"),
		integer("year"),
		text("project"),
		text("trip_code"),
	}
}

func tripSheet() core.SheetSpec {
	return core.SheetSpec{
		Name:        sheetTrip,
		Description: "Trip",
		Columns: columns(tripKeyColumns(), []core.ColumnSpec{
			numeric("vessel_length"),
			integer("vessel_power"),
			integer("vessel_size"),
			integer("vessel_type"),
			text("harbour"),
			integer("number_of_sets"),
			integer("days_at_sea"),
			integer("vessel_identifier"),
			text("sampling_country"),
			text("sampling_method"),
		}),
		Build: fromSource(srcTrip, tripFields),
	}
}

func stationColumns() []core.ColumnSpec {
	return columns(tripKeyColumns(), []core.ColumnSpec{
		integer("station_number"),
		text("fishing_validity"),
		text("aggregation_level"),
		text("catch_registration"),
		text("species_registration"),
		date("date"),
		text("time"),
		integer("fishing_time"),
		numeric("pos_start_lat"),
		numeric("pos_start_lon"),
		numeric("pos_end_lat"),
		numeric("pos_end_lon"),
		text("area"),
		text("statistical_rectangle"),
		integer("main_fishing_depth"),
		integer("main_water_depth"),
		text("gear_type"),
		integer("mesh_size"),
		integer("selection_device"),
	})
}

// stationSheet is the haul sheet. extra columns follow the common ones.
func stationSheet(extra ...core.ColumnSpec) core.SheetSpec {
	return core.SheetSpec{
		Name:        sheetStation,
		Description: "Station",
		Columns:     columns(stationColumns(), extra),
		DependsOn:   []string{sheetTrip},
		Build:       fromSource(srcStation, nil, linkTo(sheetTrip, "trip_code")),
	}
}

func catchKeyColumns() []core.ColumnSpec {
	return []core.ColumnSpec{
		integer("station_number"),
		text("species"),
		text("catch_category"),
		text("landing_category"),
		text("comm_size_cat_scale"),
		text("comm_size_cat"),
		text("subsampling_category"),
		text("sex"),
	}
}

func speciesListSheet() core.SheetSpec {
	return core.SheetSpec{
		Name:        sheetSpeciesList,
		Description: "Species List",
		Columns: columns(tripKeyColumns(), catchKeyColumns(), []core.ColumnSpec{
			numeric("weight"),
			numeric("subsample_weight"),
			text("length_code"),
		}),
		DependsOn: []string{sheetStation},
		Build:     fromSource(srcSpeciesList, nil, linkTo(sheetStation, "trip_code", "station_number")),
	}
}

func lengthSheet() core.SheetSpec {
	return core.SheetSpec{
		Name:        sheetLength,
		Description: "Species Length",
		Columns: columns(tripKeyColumns(), catchKeyColumns(), []core.ColumnSpec{
			text("individual_sex"),
			integer("length_class"),
			integer("number_at_length"),
		}),
		DependsOn: []string{sheetSpeciesList},
		Build:     fromSource(srcSpeciesLength, nil, linkTo(sheetSpeciesList, "trip_code", "station_number", "species")),
	}
}

func sampleSheet() core.SheetSpec {
	return core.SheetSpec{
		Name:        sheetSample,
		Description: "Catch Age",
		Columns: columns(tripKeyColumns(), []core.ColumnSpec{
			integer("station_number"),
			integer("quarter"),
			integer("month"),
			text("species"),
			text("sex"),
			text("catch_category"),
			text("landing_category"),
			text("stock"),
			text("area"),
			text("statistical_rectangle"),
			integer("length_class"),
			integer("age"),
			integer("single_fish_number"),
			integer("length"),
			numeric("weight"),
			text("maturity_scale"),
			text("maturity_stage"),
		}),
		DependsOn: []string{sheetStation},
		Build:     fromSource(srcSample, nil, linkTo(sheetStation, "trip_code", "station_number")),
	}
}

func landingSheet() core.SheetSpec {
	return core.SheetSpec{
		Name:        sheetLanding,
		Description: "Landing",
		Columns: []core.ColumnSpec{
			text("vessel_flag_country"),
			text("landing_country"),
			integer("year"),
			integer("quarter"),
			integer("month"),
			text("area"),
			text("statistical_rectangle"),
			text("species"),
			text("landing_category"),
			text("comm_size_cat_scale"),
			text("comm_size_cat"),
			text("national_metier"),
			text("harbour"),
			text("vessel_length_category"),
			numeric("official_landings_weight"),
			numeric("landings_multiplier"),
			numeric("official_landings_value"),
		},
		DependsOn: []string{sheetTrip},
		Build:     noSource,
	}
}

func effortSheet() core.SheetSpec {
	return core.SheetSpec{
		Name:        sheetEffort,
		Description: "Effort",
		Columns: []core.ColumnSpec{
			text("vessel_flag_country"),
			text("landing_country"),
			integer("year"),
			integer("quarter"),
			integer("month"),
			text("area"),
			text("statistical_rectangle"),
			text("national_metier"),
			text("harbour"),
			text("vessel_length_category"),
			integer("number_of_trips"),
			integer("number_of_sets"),
			integer("days_at_sea"),
			integer("fishing_time"),
			numeric("kw_days"),
			numeric("gt_days"),
		},
		DependsOn: []string{sheetTrip},
		Build:     noSource,
	}
}

func survivalTestSheet() core.SheetSpec {
	return core.SheetSpec{
		Name:        sheetSurvivalTest,
		Description: "Survival Test",
		Columns: columns(tripKeyColumns(), []core.ColumnSpec{
			integer("station_number"),
			integer("test_number"),
			text("species"),
			stamp("measure_date"),
			text("vitality"),
			numeric("reflex_score"),
			boolean("survived"),
			text("comments"),
		}),
		DependsOn: []string{sheetStation},
		Build:     fromSource(srcSurvivalTest, nil, linkTo(sheetStation, "trip_code", "station_number")),
	}
}

func releaseSheet() core.SheetSpec {
	return core.SheetSpec{
		Name:        sheetRelease,
		Description: "Release",
		Columns: columns(tripKeyColumns(), []core.ColumnSpec{
			integer("station_number"),
			integer("test_number"),
			stamp("release_date"),
			numeric("release_lat"),
			numeric("release_lon"),
			text("tag_code"),
		}),
		DependsOn: []string{sheetSurvivalTest},
		Build:     fromSource(srcRelease, nil, linkTo(sheetSurvivalTest, "trip_code", "station_number", "test_number")),
	}
}
