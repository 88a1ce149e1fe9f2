package core

import (
	"strings"
	"time"
)

// FilterKind identifies the filter variant.
type FilterKind string

const (
	FilterTrip        FilterKind = "trip"
	FilterProduct     FilterKind = "product"
	FilterAggregation FilterKind = "aggregation"
)

// Logical filter fields. Builders map them onto source columns.
const (
	FieldProgram  = "program"
	FieldVesselID = "vessel_id"
	FieldTripID   = "trip_id"
	FieldDate     = "date"
	FieldProduct  = "product"
	FieldCategory = "category"
	FieldStatusID = "status_id"
	FieldSpatial  = "spatial"
)

// ProductCategory classifies products.
type ProductCategory string

const (
	CategoryProduct ProductCategory = "PRODUCT"
	CategoryLive    ProductCategory = "LIVE"
)

// Filter parameterizes an extraction run. Filters are immutable values.
type Filter interface {
	Kind() FilterKind
	Validate() error
	Predicate() Predicate
}

// Validate checks a filter's invariants. A nil filter is invalid.
func Validate(f Filter) error {
	if f == nil {
		return &ValidationError{Reason: "filter is required"}
	}
	return f.Validate()
}

// TripFilter restricts live extractions to trips.
// Nil id slices mean "no constraint"; non-nil slices must not be empty.
type TripFilter struct {
	ProgramLabel string
	VesselIDs    []int
	TripIDs      []int
	StartDate    *time.Time
	EndDate      *time.Time
}

// Kind implements Filter.
func (f TripFilter) Kind() FilterKind { return FilterTrip }

// Validate implements Filter.
func (f TripFilter) Validate() error {
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return &ValidationError{
			Field:  "date_range",
			Reason: "start date " + f.StartDate.Format(time.DateOnly) + " is after end date " + f.EndDate.Format(time.DateOnly),
		}
	}
	if f.VesselIDs != nil && len(f.VesselIDs) == 0 {
		return &ValidationError{Field: "vessel_ids", Reason: "must not be empty when present"}
	}
	if f.TripIDs != nil && len(f.TripIDs) == 0 {
		return &ValidationError{Field: "trip_ids", Reason: "must not be empty when present"}
	}
	return nil
}

// Predicate implements Filter.
func (f TripFilter) Predicate() Predicate {
	var p Predicate
	if label := strings.TrimSpace(f.ProgramLabel); label != "" {
		p = append(p, Condition{Field: FieldProgram, Operator: OpEquals, Values: []any{label}})
	}
	if len(f.VesselIDs) > 0 {
		p = append(p, Condition{Field: FieldVesselID, Operator: OpIn, Values: intValues(f.VesselIDs)})
	}
	if len(f.TripIDs) > 0 {
		p = append(p, Condition{Field: FieldTripID, Operator: OpIn, Values: intValues(f.TripIDs)})
	}
	if f.StartDate != nil {
		p = append(p, Condition{Field: FieldDate, Operator: OpGreaterEq, Values: []any{*f.StartDate}})
	}
	if f.EndDate != nil {
		p = append(p, Condition{Field: FieldDate, Operator: OpLessEq, Values: []any{*f.EndDate}})
	}
	return p
}

// ProductFilter selects a precomputed product, optionally restricted by
// trip constraints.
type ProductFilter struct {
	TripFilter
	ProductLabel string
	Category     ProductCategory
}

// Kind implements Filter.
func (f ProductFilter) Kind() FilterKind { return FilterProduct }

// Validate implements Filter.
func (f ProductFilter) Validate() error {
	if err := f.TripFilter.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(f.ProductLabel) == "" {
		return &ValidationError{Field: "product", Reason: "product label is required"}
	}
	switch f.Category {
	case "", CategoryProduct, CategoryLive:
	default:
		return &ValidationError{Field: "category", Reason: "unknown category " + string(f.Category)}
	}
	return nil
}

// Predicate implements Filter.
func (f ProductFilter) Predicate() Predicate {
	p := f.TripFilter.Predicate()
	p = append(p, Condition{Field: FieldProduct, Operator: OpEquals, Values: []any{strings.TrimSpace(f.ProductLabel)}})
	if f.Category != "" {
		p = append(p, Condition{Field: FieldCategory, Operator: OpEquals, Values: []any{string(f.Category)}})
	}
	return p
}

// AggregationFilter selects an aggregated product, optionally its spatial
// variant, among products in the given statuses.
type AggregationFilter struct {
	ProductFilter
	Spatial   bool
	StatusIDs []int
}

// Kind implements Filter.
func (f AggregationFilter) Kind() FilterKind { return FilterAggregation }

// Validate implements Filter.
func (f AggregationFilter) Validate() error {
	if err := f.ProductFilter.Validate(); err != nil {
		return err
	}
	if f.StatusIDs != nil && len(f.StatusIDs) == 0 {
		return &ValidationError{Field: "status_ids", Reason: "must not be empty when present"}
	}
	return nil
}

// Predicate implements Filter. The result is the conjunction of the
// spatial and status constraints with the embedded product predicate.
func (f AggregationFilter) Predicate() Predicate {
	p := Predicate{{Field: FieldSpatial, Operator: OpEquals, Values: []any{f.Spatial}}}
	if len(f.StatusIDs) > 0 {
		p = append(p, Condition{Field: FieldStatusID, Operator: OpIn, Values: intValues(f.StatusIDs)})
	}
	return append(p, f.ProductFilter.Predicate()...)
}

// productSelection returns the product part of a product or aggregation filter.
func productSelection(f Filter) (ProductFilter, *AggregationFilter, bool) {
	switch v := f.(type) {
	case ProductFilter:
		return v, nil, true
	case *ProductFilter:
		return *v, nil, true
	case AggregationFilter:
		return v.ProductFilter, &v, true
	case *AggregationFilter:
		return v.ProductFilter, v, true
	}
	return ProductFilter{}, nil, false
}

func intValues(ids []int) []any {
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return values
}
