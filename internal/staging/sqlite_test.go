package staging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/extractor/internal/core"
	_ "github.com/JonMunkholm/extractor/internal/core/formats"
)

const fixturePath = "../../testdata/fishery.yaml"

func openSeededSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	f, err := LoadFixture(fixturePath)
	require.NoError(t, err)

	store, err := OpenSQLite(filepath.Join(t.TempDir(), "extraction.db"), DefaultPrefix)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Seed(context.Background(), f))
	return store
}

func sqliteService(store *SQLiteStore) *core.Service {
	return core.NewService(store, store, core.ServiceConfig{},
		core.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestSQLiteStore_ExtractRDB(t *testing.T) {
	store := openSeededSQLite(t)
	svc := sqliteService(store)
	ctx := context.Background()

	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2019, 12, 31, 0, 0, 0, 0, time.UTC)
	h, err := svc.Extract(ctx, core.ExtractRequest{
		Format:  "RDB",
		Version: "1.0",
		Filter:  core.TripFilter{VesselIDs: []int{42}, StartDate: &start, EndDate: &end},
	})
	require.NoError(t, err)

	counts := make(map[string]int64)
	for _, s := range h.Sheets {
		counts[s.Sheet] = s.RowCount
	}
	assert.Equal(t, map[string]int64{"TR": 2, "HH": 2, "SL": 2, "HL": 3, "CL": 0}, counts)

	tables, err := store.StagingTables(ctx)
	require.NoError(t, err)
	assert.Len(t, tables, 5)

	rows, err := svc.Read(ctx, h.RunID, "TR")
	require.NoError(t, err)
	cols, err := svc.Columns(h.RunID, "TR")
	require.NoError(t, err)
	codeIdx := -1
	for i, c := range cols {
		if c == "trip_code" {
			codeIdx = i
		}
	}
	require.GreaterOrEqual(t, codeIdx, 0)

	var codes []any
	for row, err := range rows {
		require.NoError(t, err)
		codes = append(codes, row[codeIdx])
	}
	assert.ElementsMatch(t, []any{"T1", "T4"}, codes)

	require.NoError(t, svc.Release(ctx, h.RunID))
	tables, err = store.StagingTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestSQLiteStore_Aggregation(t *testing.T) {
	store := openSeededSQLite(t)
	svc := sqliteService(store)
	ctx := context.Background()

	filter := core.AggregationFilter{
		ProductFilter: core.ProductFilter{
			TripFilter:   core.TripFilter{ProgramLabel: "SIH-OBSMER"},
			ProductLabel: "agg-2019",
		},
		Spatial: true,
	}
	h, err := svc.Extract(ctx, core.ExtractRequest{Format: "AGG_RDB", Filter: filter})
	require.NoError(t, err)

	for _, s := range h.Sheets {
		switch s.Sheet {
		case "HH":
			assert.Equal(t, int64(1), s.RowCount)
		case "SL":
			assert.Equal(t, int64(2), s.RowCount)
		}
	}

	require.NoError(t, svc.Release(ctx, h.RunID))
	n, err := store.CountRows(ctx, core.ResourceHandle{Name: "p_agg_hh", Columns: []string{"project"}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "product tables survive release")
}

func TestSQLiteStore_FindProduct(t *testing.T) {
	store := openSeededSQLite(t)
	ctx := context.Background()

	p, err := store.FindProduct(ctx, "AGG-2019")
	require.NoError(t, err)
	assert.Equal(t, "AGG_RDB", p.Format)
	assert.Equal(t, core.CategoryProduct, p.Category)
	assert.Equal(t, "p_agg_hh", p.Tables["HH"])
	assert.Equal(t, "p_agg_hh_spatial", p.SpatialTables["HH"])
	assert.False(t, p.UpdatedAt.IsZero())

	draft, err := store.FindProduct(ctx, "agg-2019-draft")
	require.NoError(t, err)
	assert.Empty(t, draft.SpatialTables)

	_, err = store.FindProduct(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrProductNotFound)
}

func TestSQLiteStore_MissingRelation(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "empty.db"), "")
	require.NoError(t, err)
	defer store.Close()

	svc := sqliteService(store)
	_, err = svc.Extract(context.Background(), core.ExtractRequest{Format: "VESSEL", Filter: core.TripFilter{}})
	require.Error(t, err)
	assert.Equal(t, "DB003", core.MapError(err).Code)

	tables, err := store.StagingTables(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tables)
}
