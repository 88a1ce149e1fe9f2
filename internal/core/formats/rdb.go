package formats

import "github.com/JonMunkholm/extractor/internal/core"

func init() {
	registerRdb10()
	registerRdb13()
	registerIces()
	registerSurvivalTest()
}

// RDB 1.0: the original commercial sampling exchange format.
func registerRdb10() {
	core.Register(core.FormatSpec{
		Code:    "RDB",
		Version: "1.0",
		Label:   "rdb",
		Family:  core.FamilyLive,
		Variant: core.KindTrip,
		Sheets: []core.SheetSpec{
			tripSheet(),
			stationSheet(),
			speciesListSheet(),
			lengthSheet(),
			landingSheet(),
		},
	})
}

// RDB 1.3 adds metier columns on stations plus the catch age and effort
// sheets.
func registerRdb13() {
	core.Register(core.FormatSpec{
		Code:    "RDB",
		Version: "1.3",
		Label:   "rdb",
		Family:  core.FamilyLive,
		Variant: core.KindTrip,
		Sheets: []core.SheetSpec{
			tripSheet(),
			stationSheet(text("national_metier"), text("eu_metier_level5"), text("eu_metier_level6")),
			speciesListSheet(),
			lengthSheet(),
			sampleSheet(),
			landingSheet(),
			effortSheet(),
		},
	})
}

func registerIces() {
	core.Register(core.FormatSpec{
		Code:    "ICES",
		Version: "1.0",
		Label:   "ices",
		Family:  core.FamilyLive,
		Variant: core.KindIces,
		Sheets: []core.SheetSpec{
			tripSheet(),
			stationSheet(),
			speciesListSheet(),
			lengthSheet(),
			sampleSheet(),
		},
	})
}

func registerSurvivalTest() {
	core.Register(core.FormatSpec{
		Code:    "SURVIVAL_TEST",
		Version: "1.0",
		Label:   "survival_test",
		Family:  core.FamilyLive,
		Variant: core.KindSurvivalTest,
		Sheets: []core.SheetSpec{
			tripSheet(),
			stationSheet(),
			speciesListSheet(),
			lengthSheet(),
			sampleSheet(),
			survivalTestSheet(),
			releaseSheet(),
		},
	})
}
