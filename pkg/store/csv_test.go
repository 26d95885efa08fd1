package store

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truckwise/fleetopt/pkg/model"
)

// writeFixture lays down a minimal but complete CSV data directory.
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		fileLocations: `id,name,lat,long,is_hub
1,Warsaw,52.23,21.01,1
2,Krakow,50.06,19.94,0
3,Gdansk,54.35,18.65,0
`,
		fileRelations: `id,id_loc_1,id_loc_2,dist,time
1,1,2,295,180
2,2,3,340,220
`,
		fileVehicles: `Id,registration_number,brand,service_interval_km,Leasing_start_km,leasing_limit_km,leasing_start_date,leasing_end_date,current_odometer_km,Current_location_id
1,WA 1234,Volvo,40000,0,150000,2024-01-01,2027-01-01,10000,1
2,KR 5678,Scania,40000,0,250000,2024-01-01 00:00:00,2027-01-01 00:00:00,20000,N/A
`,
		fileRoutes: `id,start_datetime,end_datetime,distance_km
1,2024-05-02 10:00:00,2024-05-02 14:00:00,295
2,2024-05-01 08:00:00,2024-05-01 12:00:00,340
`,
		fileSegments: `id,route_id,seq,start_loc_id,end_loc_id,start_datetime,end_datetime,relation_id
1,1,1,1,2,2024-05-02 10:00:00,2024-05-02 14:00:00,1
2,2,1,2,3,2024-05-01 08:00:00,2024-05-01 12:00:00,2
`,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestCSVLoadAll(t *testing.T) {
	src, err := NewCSVSource(writeFixture(t), "")
	require.NoError(t, err)
	defer src.Close()

	ds, err := src.LoadAll(context.Background())
	require.NoError(t, err)

	assert.Len(t, ds.Locations, 3)
	assert.True(t, ds.Locations[0].IsHub)
	assert.Len(t, ds.Relations, 2)
	assert.Equal(t, 295.0, ds.Relations[0].DistanceKM)
	assert.Equal(t, 180.0, ds.Relations[0].TravelMinutes)

	require.Len(t, ds.Vehicles, 2)
	v1, v2 := ds.Vehicles[0], ds.Vehicles[1]
	assert.Equal(t, int64(1), v1.CurrentLocationID)
	// Date-only lease timestamps are accepted.
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), v1.LeaseStart)
	// N/A means unplaced.
	assert.Equal(t, int64(0), v2.CurrentLocationID)
	// 250k limit is a lifetime cap with the synthetic annual allowance.
	assert.True(t, v2.HasLifetimeLimit())
	assert.Equal(t, int64(model.SyntheticAnnualLimitKM), v2.AnnualLimitKM())

	// Routes come back sorted by start time with segments attached.
	require.Len(t, ds.Routes, 2)
	assert.Equal(t, int64(2), ds.Routes[0].ID)
	assert.Equal(t, int64(2), ds.Routes[0].StartLocationID())
	assert.Equal(t, int64(3), ds.Routes[0].EndLocationID())
}

func TestCSVLoadAllRejectsBadForeignKey(t *testing.T) {
	dir := writeFixture(t)
	// Point a segment at a location that does not exist.
	seg := `id,route_id,seq,start_loc_id,end_loc_id,start_datetime,end_datetime,relation_id
1,1,1,1,2,2024-05-02 10:00:00,2024-05-02 14:00:00,1
2,2,1,99,3,2024-05-01 08:00:00,2024-05-01 12:00:00,2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileSegments), []byte(seg), 0o644))

	src, err := NewCSVSource(dir, "")
	require.NoError(t, err)
	_, err = src.LoadAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestCSVMissingColumn(t *testing.T) {
	dir := writeFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileRoutes),
		[]byte("id,start_datetime\n1,2024-05-02 10:00:00\n"), 0o644))

	src, err := NewCSVSource(dir, "")
	require.NoError(t, err)
	_, err = src.LoadAll(context.Background())
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestCSVRunLifecycleAndResults(t *testing.T) {
	dir := writeFixture(t)
	out := t.TempDir()
	src, err := NewCSVSource(dir, out)
	require.NoError(t, err)

	ctx := context.Background()
	runID, err := src.StartRun(ctx, []byte(`{"assignment":{"strategy":"greedy"}}`))
	require.NoError(t, err)

	assignments := []model.Assignment{{
		RouteID: 1, VehicleID: 1, Date: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC),
		RouteDistanceKM: 295, StartLocationID: 1, EndLocationID: 2,
		OdometerBefore: 10_000, OdometerAfter: 10_295, Cost: 0,
	}}
	states := map[int64]*model.VehicleState{
		1: {VehicleID: 1, CurrentLocationID: 2, OdometerKM: 10_295, AvailableFrom: time.Date(2024, 5, 2, 14, 0, 0, 0, time.UTC), RoutesAssigned: 1},
	}
	require.NoError(t, src.SaveResults(ctx, runID, assignments, states))
	require.NoError(t, src.CompleteRun(ctx, runID, RunStats{RoutesAssigned: 1, TotalCost: 0}, nil))

	// Result files and the completed manifest exist.
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	var haveAsg, haveStates, haveManifest bool
	for _, e := range entries {
		switch {
		case e.Name() == "assignments_"+itoa(runID)+".csv":
			haveAsg = true
		case e.Name() == "vehicle_states_"+itoa(runID)+".csv":
			haveStates = true
		case filepath.Ext(e.Name()) == ".json":
			haveManifest = true
			body, err := os.ReadFile(filepath.Join(out, e.Name()))
			require.NoError(t, err)
			assert.Contains(t, string(body), `"status": "completed"`)
		}
	}
	assert.True(t, haveAsg, "assignments file missing")
	assert.True(t, haveStates, "states file missing")
	assert.True(t, haveManifest, "run manifest missing")
}

func TestCSVSavePlacement(t *testing.T) {
	dir := writeFixture(t)
	out := t.TempDir()
	src, err := NewCSVSource(dir, out)
	require.NoError(t, err)

	ctx := context.Background()
	runID, err := src.StartRun(ctx, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, src.SavePlacement(ctx, runID, map[int64]int64{2: 3}))

	// The placement file is a copy of the vehicles table with placed
	// positions substituted; the input file stays untouched.
	tab, err := readTable(filepath.Join(out, "vehicles_with_placement_"+itoa(runID)+".csv"))
	require.NoError(t, err)
	require.Len(t, tab.rows, 2)
	loc, err := tab.get(tab.rows[1], "Current_location_id")
	require.NoError(t, err)
	assert.Equal(t, "3", loc, "previously unplaced vehicle must show its placement")
	loc, err = tab.get(tab.rows[0], "Current_location_id")
	require.NoError(t, err)
	assert.Equal(t, "1", loc)

	ds, err := src.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ds.Vehicles[1].CurrentLocationID, "input file must not change")
}

func TestCSVUpdateVehicleLocations(t *testing.T) {
	dir := writeFixture(t)
	src, err := NewCSVSource(dir, "")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, src.UpdateVehicleLocations(ctx, map[int64]int64{2: 3}))

	ds, err := src.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ds.Vehicles[1].CurrentLocationID)
	// Untouched vehicle keeps its position.
	assert.Equal(t, int64(1), ds.Vehicles[0].CurrentLocationID)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
