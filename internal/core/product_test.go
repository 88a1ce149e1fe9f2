package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/extractor/internal/core"
)

func aggregation(label string, spatial bool, program string, statuses ...int) core.AggregationFilter {
	return core.AggregationFilter{
		ProductFilter: core.ProductFilter{
			TripFilter:   core.TripFilter{ProgramLabel: program},
			ProductLabel: label,
		},
		Spatial:   spatial,
		StatusIDs: statuses,
	}
}

func TestExtract_Aggregation(t *testing.T) {
	tests := []struct {
		name   string
		filter core.Filter
		wantHH int64
		wantSL int64
	}{
		{"all programs", aggregation("AGG-2019", false, ""), 3, 3},
		{"program restricts rows", aggregation("AGG-2019", false, "SIH-OBSMER", 1), 2, 2},
		{"spatial variant", aggregation("AGG-2019", true, "SIH-OBSMER"), 1, 2},
		{"product filter", core.ProductFilter{ProductLabel: "agg-2019", Category: core.CategoryProduct}, 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFixtureStore(t)
			svc := newService(store)
			ctx := context.Background()

			h, err := svc.Extract(ctx, core.ExtractRequest{Format: "AGG_RDB", Filter: tt.filter})
			require.NoError(t, err)

			counts := sheetCounts(h)
			assert.Equal(t, tt.wantHH, counts["HH"])
			assert.Equal(t, tt.wantSL, counts["SL"])
			assert.Equal(t, "OBSERVER AGGREGATION 2019", h.Label)

			rows, err := svc.Read(ctx, h.RunID, "HH")
			require.NoError(t, err)
			assert.Equal(t, int(tt.wantHH), countRows(t, rows))

			created, _ := store.Stats()
			assert.Zero(t, created, "product runs borrow tables")

			require.NoError(t, svc.Release(ctx, h.RunID))
			_, dropped := store.Stats()
			assert.Zero(t, dropped, "product tables are never dropped")
		})
	}
}

func TestExtract_AggregationKinds(t *testing.T) {
	svc := newService(newFixtureStore(t))
	ctx := context.Background()

	h, err := svc.Extract(ctx, core.ExtractRequest{Format: "AGG_RDB", Filter: aggregation("AGG-2019", false, "")})
	require.NoError(t, err)
	assert.Equal(t, core.KindAggregation, h.Kind)

	h, err = svc.Extract(ctx, core.ExtractRequest{Format: "AGG_RDB", Filter: core.ProductFilter{ProductLabel: "AGG-2019"}})
	require.NoError(t, err)
	assert.Equal(t, core.KindProduct, h.Kind)
}

func TestExtract_ProductNotFound(t *testing.T) {
	tests := []struct {
		name   string
		format string
		filter core.Filter
	}{
		{"unknown label", "AGG_RDB", aggregation("AGG-1999", false, "")},
		{"status excluded", "AGG_RDB", aggregation("AGG-2019-DRAFT", false, "", 1)},
		{"no spatial tables", "AGG_RDB", aggregation("AGG-2019-DRAFT", true, "")},
		{"wrong format", "AGG_SURVIVAL_TEST", aggregation("AGG-2019", false, "")},
		{"wrong category", "AGG_RDB", core.ProductFilter{ProductLabel: "AGG-2019", Category: core.CategoryLive}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(newFixtureStore(t))

			_, err := svc.Extract(context.Background(), core.ExtractRequest{Format: tt.format, Filter: tt.filter})
			require.ErrorIs(t, err, core.ErrProductNotFound)
			assert.Equal(t, "VAL002", core.MapError(err).Code)
		})
	}
}

func TestExtract_DraftProductWithoutStatusFilter(t *testing.T) {
	svc := newService(newFixtureStore(t))

	h, err := svc.Extract(context.Background(), core.ExtractRequest{
		Format: "AGG_RDB",
		Filter: aggregation("AGG-2019-DRAFT", false, "SIH-OBSMER", 0, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), sheetCounts(h)["HH"])
}

func TestExtract_FilterKindMismatch(t *testing.T) {
	svc := newService(newFixtureStore(t))
	ctx := context.Background()

	_, err := svc.Extract(ctx, core.ExtractRequest{Format: "AGG_RDB", Filter: core.TripFilter{}})
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "kind", ve.Field)

	_, err = svc.Extract(ctx, core.ExtractRequest{Format: "RDB", Filter: core.ProductFilter{ProductLabel: "AGG-2019"}})
	require.ErrorAs(t, err, &ve)
}

func TestExtract_ProductRejectsTripConstraints(t *testing.T) {
	tests := []struct {
		name      string
		filter    core.Filter
		wantField string
	}{
		{"vessels", core.ProductFilter{ProductLabel: "AGG-2019", TripFilter: core.TripFilter{VesselIDs: []int{42}}}, "vessel_ids"},
		{"trips", core.ProductFilter{ProductLabel: "AGG-2019", TripFilter: core.TripFilter{TripIDs: []int{1}}}, "trip_ids"},
		{"full trip filter", core.AggregationFilter{ProductFilter: core.ProductFilter{ProductLabel: "AGG-2019", TripFilter: vessel42In2019()}}, "vessel_ids"},
		{"start date", core.AggregationFilter{ProductFilter: core.ProductFilter{ProductLabel: "AGG-2019", TripFilter: core.TripFilter{StartDate: day("2019-01-01")}}}, "date_range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFixtureStore(t)
			svc := newService(store)

			_, err := svc.Extract(context.Background(), core.ExtractRequest{Format: "AGG_RDB", Filter: tt.filter})
			var ve *core.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
			assert.Equal(t, "VAL001", core.MapError(err).Code)
			assert.Zero(t, svc.ActiveRuns())
		})
	}
}
