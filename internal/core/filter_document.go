package core

import (
	"fmt"
	"strings"
	"time"
)

// FilterDocument is the serialized form of a filter, shared by the JSON API
// and YAML filter files.
type FilterDocument struct {
	Kind      string `json:"kind" yaml:"kind"`
	Program   string `json:"program,omitempty" yaml:"program,omitempty"`
	VesselIDs []int  `json:"vesselIds,omitempty" yaml:"vessel_ids,omitempty"`
	TripIDs   []int  `json:"tripIds,omitempty" yaml:"trip_ids,omitempty"`
	StartDate string `json:"startDate,omitempty" yaml:"start_date,omitempty"`
	EndDate   string `json:"endDate,omitempty" yaml:"end_date,omitempty"`

	Product  string `json:"product,omitempty" yaml:"product,omitempty"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`

	Spatial   bool  `json:"spatial,omitempty" yaml:"spatial,omitempty"`
	StatusIDs []int `json:"statusIds,omitempty" yaml:"status_ids,omitempty"`
}

// ToFilter converts the document into a typed filter. The filter is not
// validated here; the service validates it at context creation.
func (d FilterDocument) ToFilter() (Filter, error) {
	trip := TripFilter{
		ProgramLabel: d.Program,
		VesselIDs:    d.VesselIDs,
		TripIDs:      d.TripIDs,
	}

	var err error
	if trip.StartDate, err = parseFilterDate("start_date", d.StartDate); err != nil {
		return nil, err
	}
	if trip.EndDate, err = parseFilterDate("end_date", d.EndDate); err != nil {
		return nil, err
	}

	product := ProductFilter{
		TripFilter:   trip,
		ProductLabel: d.Product,
		Category:     ProductCategory(strings.ToUpper(d.Category)),
	}

	switch FilterKind(strings.ToLower(strings.TrimSpace(d.Kind))) {
	case FilterTrip, "":
		return trip, nil
	case FilterProduct:
		return product, nil
	case FilterAggregation:
		return AggregationFilter{
			ProductFilter: product,
			Spatial:       d.Spatial,
			StatusIDs:     d.StatusIDs,
		}, nil
	default:
		return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown filter kind %q", d.Kind)}
	}
}

// filterDateLayouts are accepted date formats, tried in order.
var filterDateLayouts = []string{
	time.DateOnly,
	time.RFC3339,
	"02/01/2006",
}

func parseFilterDate(field, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range filterDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, &ValidationError{Field: field, Reason: fmt.Sprintf("invalid date %q", s)}
}
