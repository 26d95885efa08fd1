package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truckwise/fleetopt/pkg/model"
)

func openTestDB(t *testing.T) *SQLiteSource {
	t.Helper()
	src, err := NewSQLiteSource(filepath.Join(t.TempDir(), "fleet.db"), DefaultPool)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

// seedDB imports the CSV fixture set into the database.
func seedDB(t *testing.T, src *SQLiteSource) {
	t.Helper()
	dir := writeFixture(t)
	ctx := context.Background()
	for _, name := range []string{fileLocations, fileRelations, fileVehicles, fileRoutes, fileSegments} {
		_, _, err := src.ImportCSV(ctx, filepath.Join(dir, name))
		require.NoError(t, err, name)
	}
}

func TestSQLiteImportDetectsTables(t *testing.T) {
	src := openTestDB(t)
	dir := writeFixture(t)
	ctx := context.Background()

	table, n, err := src.ImportCSV(ctx, filepath.Join(dir, fileVehicles))
	require.NoError(t, err)
	assert.Equal(t, "vehicles", table)
	assert.Equal(t, 2, n)

	// Relations carry a foreign key onto locations, so those go in first.
	_, _, err = src.ImportCSV(ctx, filepath.Join(dir, fileLocations))
	require.NoError(t, err)

	table, n, err = src.ImportCSV(ctx, filepath.Join(dir, fileRelations))
	require.NoError(t, err)
	assert.Equal(t, "locations_relations", table)
	assert.Equal(t, 2, n)
}

func TestSQLiteImportRejectsUnknownFile(t *testing.T) {
	src := openTestDB(t)
	path := filepath.Join(t.TempDir(), "mystery.csv")
	require.NoError(t, os.WriteFile(path, []byte("foo,bar\n1,2\n"), 0o644))

	_, _, err := src.ImportCSV(context.Background(), path)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestSQLiteImportUpserts(t *testing.T) {
	src := openTestDB(t)
	dir := writeFixture(t)
	ctx := context.Background()

	_, _, err := src.ImportCSV(ctx, filepath.Join(dir, fileLocations))
	require.NoError(t, err)
	// Importing the same file again must not duplicate rows.
	_, _, err = src.ImportCSV(ctx, filepath.Join(dir, fileLocations))
	require.NoError(t, err)

	info, err := src.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), info["locations"])
}

func TestSQLiteLoadAll(t *testing.T) {
	src := openTestDB(t)
	seedDB(t, src)

	ds, err := src.LoadAll(context.Background())
	require.NoError(t, err)

	assert.Len(t, ds.Locations, 3)
	assert.Len(t, ds.Relations, 2)
	require.Len(t, ds.Vehicles, 2)
	assert.Equal(t, int64(0), ds.Vehicles[1].CurrentLocationID, "N/A imports as NULL, loads as unplaced")

	require.Len(t, ds.Routes, 2)
	assert.Equal(t, int64(2), ds.Routes[0].ID, "routes sorted by start time")
	require.Len(t, ds.Routes[0].Segments, 1)
}

func TestSQLiteRunLifecycle(t *testing.T) {
	src := openTestDB(t)
	seedDB(t, src)
	ctx := context.Background()

	runID, err := src.StartRun(ctx, []byte(`{}`))
	require.NoError(t, err)
	require.Greater(t, runID, int64(0))

	assignments := []model.Assignment{{
		RouteID: 1, VehicleID: 1, Date: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC),
		RouteDistanceKM: 295, StartLocationID: 1, EndLocationID: 2,
		OdometerBefore: 10_000, OdometerAfter: 10_295,
	}}
	states := map[int64]*model.VehicleState{
		1: {
			VehicleID: 1, CurrentLocationID: 2, OdometerKM: 10_295,
			AvailableFrom: time.Date(2024, 5, 2, 14, 0, 0, 0, time.UTC),
			RoutesAssigned: 1,
			Relocations:    []model.Relocation{{At: time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC), FromID: 3, ToID: 1}},
		},
	}
	require.NoError(t, src.SaveResults(ctx, runID, assignments, states))
	require.NoError(t, src.CompleteRun(ctx, runID, RunStats{RoutesAssigned: 1}, nil))

	info, err := src.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info["assignments"])
	assert.Equal(t, int64(1), info["algorithm_runs"])

	// The assigned route left the pending set.
	ds, err := src.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, ds.Routes, 1)
	assert.Equal(t, int64(2), ds.Routes[0].ID)
}

func TestSQLiteSavePlacement(t *testing.T) {
	src := openTestDB(t)
	seedDB(t, src)
	ctx := context.Background()

	runID, err := src.StartRun(ctx, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, src.SavePlacement(ctx, runID, map[int64]int64{1: 2, 2: 3}))

	info, err := src.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info["placements"])

	// The placement is advisory output; vehicle positions stay as loaded.
	ds, err := src.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ds.Vehicles[0].CurrentLocationID)
}

func TestSQLiteUpdateVehicleLocations(t *testing.T) {
	src := openTestDB(t)
	seedDB(t, src)
	ctx := context.Background()

	require.NoError(t, src.UpdateVehicleLocations(ctx, map[int64]int64{1: 3, 2: 2}))

	ds, err := src.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ds.Vehicles[0].CurrentLocationID)
	assert.Equal(t, int64(2), ds.Vehicles[1].CurrentLocationID)
}

func TestSQLiteHealth(t *testing.T) {
	src := openTestDB(t)
	assert.NoError(t, src.Health(context.Background()))
}
