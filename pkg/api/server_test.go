package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truckwise/fleetopt/pkg/model"
	"github.com/truckwise/fleetopt/pkg/store"
)

// memSource is an in-memory store.Source carrying a tiny but runnable dataset:
// two locations, one relation, one vehicle parked at the route's start.
type memSource struct {
	loadErr     error
	savedRuns   int
	completed   []store.RunStats
	assignments []model.Assignment
	placements  map[int64]int64
}

func (m *memSource) LoadAll(ctx context.Context) (*store.Dataset, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	start := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)
	return &store.Dataset{
		Locations: []model.Location{{ID: 1, Name: "Warsaw"}, {ID: 2, Name: "Krakow"}},
		Relations: []model.Relation{{ID: 1, FromID: 1, ToID: 2, DistanceKM: 295, TravelMinutes: 180}},
		Vehicles: []*model.Vehicle{{
			ID: 1, ServiceIntervalKM: 40_000, LeasingLimitKM: 150_000,
			LeaseStart:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			LeaseEnd:          time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
			CurrentOdometerKM: 10_000, CurrentLocationID: 1,
		}},
		Routes: []*model.Route{{
			ID: 1, Start: start, End: end, DistanceKM: 295,
			Segments: []model.Segment{{ID: 1, RouteID: 1, Seq: 1, StartLocID: 1, EndLocID: 2, Start: start, End: end}},
		}},
	}, nil
}

func (m *memSource) StartRun(ctx context.Context, configJSON []byte) (int64, error) {
	m.savedRuns++
	return int64(m.savedRuns), nil
}

func (m *memSource) CompleteRun(ctx context.Context, runID int64, stats store.RunStats, runErr error) error {
	m.completed = append(m.completed, stats)
	return nil
}

func (m *memSource) SaveResults(ctx context.Context, runID int64, assignments []model.Assignment, states map[int64]*model.VehicleState) error {
	m.assignments = append(m.assignments, assignments...)
	return nil
}

func (m *memSource) SavePlacement(ctx context.Context, runID int64, placements map[int64]int64) error {
	m.placements = placements
	return nil
}

func (m *memSource) UpdateVehicleLocations(ctx context.Context, locations map[int64]int64) error {
	return nil
}

func (m *memSource) Close() error { return nil }

// inspectable adds the diagnostics surface on top of memSource.
type inspectable struct {
	memSource
	healthErr error
}

func (i *inspectable) Health(ctx context.Context) error { return i.healthErr }

func (i *inspectable) Info(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{"routes": 1, "vehicles": 1}, nil
}

func TestAssignmentEndpoint(t *testing.T) {
	src := &memSource{}
	ts := httptest.NewServer(New(src, nil, nil).Handler())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/algorithm/assignment", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body runResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "completed", body.Status)
	assert.Equal(t, int64(1), body.RunID)
	assert.Equal(t, int64(1), body.Counters["routes_assigned"])
	assert.Equal(t, int64(0), body.Counters["routes_unassigned"])

	// The run went through the full persistence cycle.
	assert.Len(t, src.assignments, 1)
	require.Len(t, src.completed, 1)
	assert.Equal(t, 1, src.completed[0].RoutesAssigned)
}

func TestRunEndpointAcceptsConfigOverride(t *testing.T) {
	src := &memSource{}
	ts := httptest.NewServer(New(src, nil, nil).Handler())
	defer ts.Close()

	body := `{"assignment": {"strategy": "greedy"}, "placement": {"strategy": "coverage_first"}}`
	res, err := http.Post(ts.URL+"/algorithm/run", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out runResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.Equal(t, "completed", out.Status)
	assert.Contains(t, out.Counters, "vehicles_placed")
	assert.Contains(t, out.Counters, "routes_assigned")
	assert.NotNil(t, src.placements, "placement result not persisted")
}

func TestRunEndpointRejectsMalformedBody(t *testing.T) {
	ts := httptest.NewServer(New(&memSource{}, nil, nil).Handler())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/algorithm/run", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	var body errorBody
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "invalid_config", body.Type)
}

func TestRunEndpointRejectsInvalidStrategy(t *testing.T) {
	ts := httptest.NewServer(New(&memSource{}, nil, nil).Handler())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/algorithm/assignment", "application/json",
		strings.NewReader(`{"assignment": {"strategy": "simulated_annealing"}}`))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestRunEndpointMapsLoadErrors(t *testing.T) {
	src := &memSource{loadErr: fmt.Errorf("%w: pool exhausted", store.ErrUnavailable)}
	ts := httptest.NewServer(New(src, nil, nil).Handler())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/algorithm/run", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	var body errorBody
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "resource_exhaustion", body.Type)
}

func TestHealthWithoutInspector(t *testing.T) {
	ts := httptest.NewServer(New(&memSource{}, nil, nil).Handler())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestHealthReportsBackendFailure(t *testing.T) {
	src := &inspectable{healthErr: fmt.Errorf("%w: locked", store.ErrUnavailable)}
	ts := httptest.NewServer(New(src, nil, nil).Handler())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestDBInfo(t *testing.T) {
	ts := httptest.NewServer(New(&inspectable{}, nil, nil).Handler())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/db/info")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var info map[string]int64
	require.NoError(t, json.NewDecoder(res.Body).Decode(&info))
	assert.Equal(t, int64(1), info["routes"])
}

func TestDBInfoWithoutInspector(t *testing.T) {
	ts := httptest.NewServer(New(&memSource{}, nil, nil).Handler())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/db/info")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		errType string
	}{
		{fmt.Errorf("%w: bad route", model.ErrInvalidInput), http.StatusUnprocessableEntity, "input_validation"},
		{fmt.Errorf("%w: db gone", store.ErrUnavailable), http.StatusServiceUnavailable, "resource_exhaustion"},
		{fmt.Errorf("%w: odometer went backwards", model.ErrInvariant), http.StatusInternalServerError, "invariant_violation"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, errType := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err)
		assert.Equal(t, tc.errType, errType, tc.err)
	}
}
