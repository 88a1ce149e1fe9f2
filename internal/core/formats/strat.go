package formats

import "github.com/JonMunkholm/extractor/internal/core"

func init() {
	registerStrat()
}

// STRAT is a survey format: stations carry the sampling stratum and
// species sheets hang directly off them.
func registerStrat() {
	core.Register(core.FormatSpec{
		Code:    "STRAT",
		Version: "1.0",
		Label:   "strat",
		Family:  core.FamilyLive,
		Variant: core.KindTrip,
		Sheets: []core.SheetSpec{
			tripSheet(),
			{
				Name:        "ST",
				Description: "Stratified Station",
				Columns: columns(tripKeyColumns(), []core.ColumnSpec{
					integer("station_number"),
					text("stratum"),
					date("date"),
					text("gear_type"),
					text("area"),
					text("statistical_rectangle"),
					integer("fishing_time"),
					numeric("pos_start_lat"),
					numeric("pos_start_lon"),
				}),
				DependsOn: []string{sheetTrip},
				Build:     fromSource(srcStation, nil, linkTo(sheetTrip, "trip_code")),
			},
			{
				Name:        sheetSpeciesList,
				Description: "Species List",
				Columns: columns(tripKeyColumns(), catchKeyColumns(), []core.ColumnSpec{
					numeric("weight"),
					numeric("subsample_weight"),
				}),
				DependsOn: []string{"ST"},
				Build:     fromSource(srcSpeciesList, nil, linkTo("ST", "trip_code", "station_number")),
			},
			lengthSheet(),
		},
	})
}
