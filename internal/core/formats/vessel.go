package formats

import "github.com/JonMunkholm/extractor/internal/core"

func init() {
	registerVessel()
}

// VESSEL extracts the vessel register rather than trips. Features and
// registration periods are restricted to the selected vessels.
func registerVessel() {
	core.Register(core.FormatSpec{
		Code:    "VESSEL",
		Version: "1.0",
		Label:   "vessel",
		Family:  core.FamilyLive,
		Variant: core.KindTrip,
		Sheets: []core.SheetSpec{
			{
				Name:        sheetVessel,
				Description: "Vessel",
				Columns: []core.ColumnSpec{
					integer("vessel_identifier"),
					text("project"),
					text("vessel_type"),
					text("vessel_status"),
					text("flag_country"),
				},
				Build: fromSource(srcVessel, vesselFields),
			},
			{
				Name:        sheetFeatures,
				Description: "Vessel Features",
				Columns: []core.ColumnSpec{
					integer("vessel_identifier"),
					date("start_date"),
					date("end_date"),
					text("name"),
					text("exterior_marking"),
					numeric("length_overall"),
					integer("administrative_power"),
					numeric("gross_tonnage"),
					text("base_port"),
				},
				DependsOn: []string{sheetVessel},
				Build:     fromSource(srcVesselFeatures, nil, linkTo(sheetVessel, "vessel_identifier")),
			},
			{
				Name:        sheetRegistration,
				Description: "Vessel Registration",
				Columns: []core.ColumnSpec{
					integer("vessel_identifier"),
					date("start_date"),
					date("end_date"),
					text("registration_code"),
					text("int_registration_code"),
					text("registration_country"),
				},
				DependsOn: []string{sheetVessel},
				Build:     fromSource(srcVesselRegistration, nil, linkTo(sheetVessel, "vessel_identifier")),
			},
		},
	})
}
