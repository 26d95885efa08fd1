package placement

import (
	"testing"
	"time"

	"github.com/truckwise/fleetopt/pkg/config"
	"github.com/truckwise/fleetopt/pkg/model"
	"github.com/truckwise/fleetopt/pkg/oracle"
)

func at(day, hour int) time.Time {
	return time.Date(2024, 5, day, hour, 0, 0, 0, time.UTC)
}

func mkRoute(id, from, to int64, start time.Time, km float64) *model.Route {
	end := start.Add(2 * time.Hour)
	return &model.Route{
		ID: id, Start: start, End: end, DistanceKM: km,
		Segments: []model.Segment{{
			ID: id * 100, RouteID: id, Seq: 1,
			StartLocID: from, EndLocID: to, Start: start, End: end,
		}},
	}
}

func fleet(n int) []*model.Vehicle {
	out := make([]*model.Vehicle, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, &model.Vehicle{ID: int64(i), CurrentLocationID: 0})
	}
	return out
}

// Demand picture: L1 is the workhorse (4 starts), L2 sees 2 starts,
// L3 only receives.
func demandRoutes() []*model.Route {
	return []*model.Route{
		mkRoute(1, 1, 3, at(1, 8), 100),
		mkRoute(2, 1, 3, at(1, 10), 100),
		mkRoute(3, 1, 2, at(2, 8), 80),
		mkRoute(4, 1, 2, at(2, 10), 80),
		mkRoute(5, 2, 3, at(3, 8), 60),
		mkRoute(6, 2, 3, at(3, 10), 60),
	}
}

func testOracle() *oracle.Oracle {
	return oracle.New([]model.Relation{
		{ID: 1, FromID: 1, ToID: 2, DistanceKM: 50, TravelMinutes: 60},
		{ID: 2, FromID: 2, ToID: 3, DistanceKM: 40, TravelMinutes: 50},
		{ID: 3, FromID: 1, ToID: 3, DistanceKM: 90, TravelMinutes: 100},
	}, true, true)
}

func TestAnalyzeFlow(t *testing.T) {
	e := New(config.Default(), testOracle(), nil)
	flows, analyzed := e.AnalyzeFlow(demandRoutes())

	if analyzed != 6 {
		t.Errorf("analyzed %d routes, want 6", analyzed)
	}
	f1 := flows[1]
	if f1.Starts != 4 || f1.Ends != 0 || f1.Net != 4 || f1.Activity != 4 {
		t.Errorf("L1 flow %+v, want starts=4 net=4", f1)
	}
	f3 := flows[3]
	if f3.Starts != 0 || f3.Ends != 4 || f3.Net != -4 {
		t.Errorf("L3 flow %+v, want ends=4 net=-4", f3)
	}
}

func TestAnalyzeFlowWindow(t *testing.T) {
	cfg := config.Default()
	cfg.Placement.LookaheadDays = 1
	e := New(cfg, testOracle(), nil)

	// Window of 1 day from the first route at day1 08:00 reaches day2
	// 08:00 inclusive: three routes qualify.
	routes := demandRoutes()
	_, analyzed := e.AnalyzeFlow(routes)
	if analyzed != 3 {
		t.Errorf("analyzed %d routes, want 3 inside the window", analyzed)
	}
}

func TestCostMatrixFavoursDemand(t *testing.T) {
	cfg := config.Default()
	cfg.Placement.Strategy = config.PlacementCostMatrix
	e := New(cfg, testOracle(), nil)

	res, err := e.Place(fleet(4), nil, demandRoutes())
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if len(res.Placements) != 4 {
		t.Fatalf("placed %d vehicles, want 4", len(res.Placements))
	}
	// L1 has the highest activity and positive net demand; it must receive
	// at least as many vehicles as any other location.
	if res.Quality.Distribution[1] < res.Quality.Distribution[2] ||
		res.Quality.Distribution[1] < res.Quality.Distribution[3] {
		t.Errorf("distribution %v, want L1 dominant", res.Quality.Distribution)
	}
}

func TestCostMatrixRespectsConcentrationCap(t *testing.T) {
	cfg := config.Default()
	cfg.Placement.MaxVehiclesPerLocation = 3
	e := New(cfg, testOracle(), nil)

	res, err := e.Place(fleet(10), nil, demandRoutes())
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	for loc, n := range res.Quality.Distribution {
		if n > 4 {
			t.Errorf("location %d holds %d vehicles, cap should repel beyond 3", loc, n)
		}
	}
}

func TestProportionalCapsAndFills(t *testing.T) {
	cfg := config.Default()
	cfg.Placement.Strategy = config.PlacementProportional
	cfg.Placement.MaxConcentration = 0.5
	e := New(cfg, testOracle(), nil)

	res, err := e.Place(fleet(6), nil, demandRoutes())
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if len(res.Placements) != 6 {
		t.Fatalf("placed %d, want all 6", len(res.Placements))
	}
	for loc, n := range res.Quality.Distribution {
		if n > 3 {
			t.Errorf("location %d got %d vehicles, cap is 3", loc, n)
		}
	}
}

func TestProportionalLeftoversPileOnBusiest(t *testing.T) {
	// Cap of 1 per location leaves three vehicles unallocated after quotas;
	// all of them land on the top-activity location regardless of the cap.
	cfg := config.Default()
	cfg.Placement.Strategy = config.PlacementProportional
	cfg.Placement.MaxVehiclesPerLocation = 1
	e := New(cfg, testOracle(), nil)

	res, err := e.Place(fleet(6), nil, demandRoutes())
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	d := res.Quality.Distribution
	if d[1] != 4 || d[2] != 1 || d[3] != 1 {
		t.Errorf("distribution %v, want L1=4 L2=1 L3=1", d)
	}
}

func TestCoverageFirstSeedsEveryLocation(t *testing.T) {
	cfg := config.Default()
	cfg.Placement.Strategy = config.PlacementCoverageFirst
	e := New(cfg, testOracle(), nil)

	res, err := e.Place(fleet(5), nil, demandRoutes())
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	// Three demanded locations (L1, L2, L3 all have activity) each get a
	// seed vehicle before anything else.
	for _, loc := range []int64{1, 2, 3} {
		if res.Quality.Distribution[loc] == 0 {
			t.Errorf("location %d not seeded: %v", loc, res.Quality.Distribution)
		}
	}
}

func TestCoverageFirstTruncatesWhenFleetSmall(t *testing.T) {
	cfg := config.Default()
	cfg.Placement.Strategy = config.PlacementCoverageFirst
	e := New(cfg, testOracle(), nil)

	res, err := e.Place(fleet(2), nil, demandRoutes())
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if len(res.Placements) != 2 {
		t.Fatalf("placed %d, want 2", len(res.Placements))
	}
	// Seeds follow demand order: L1 first, then L2.
	if res.Quality.Distribution[1] != 1 || res.Quality.Distribution[2] != 1 {
		t.Errorf("distribution %v, want top-demand seeds", res.Quality.Distribution)
	}
}

func TestQualityReport(t *testing.T) {
	cfg := config.Default()
	cfg.Placement.Strategy = config.PlacementCoverageFirst
	e := New(cfg, testOracle(), nil)

	res, err := e.Place(fleet(4), nil, demandRoutes())
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	q := res.Quality
	if q.TotalVehicles != 4 {
		t.Errorf("total %d, want 4", q.TotalVehicles)
	}
	if q.MaxConcentration <= 0 || q.MaxConcentration > 1 {
		t.Errorf("max concentration %v out of range", q.MaxConcentration)
	}
	// L1 and L2 are the only start locations and coverage-first seeds both.
	if q.DemandCoverage != 1 {
		t.Errorf("demand coverage %v, want 1", q.DemandCoverage)
	}
	if q.Strategy != config.PlacementCoverageFirst {
		t.Errorf("strategy %q", q.Strategy)
	}
	if q.RoutesAnalyzed != 6 {
		t.Errorf("routes analyzed %d, want 6", q.RoutesAnalyzed)
	}
}

func TestPlaceNoDemandKeepsCurrentLocations(t *testing.T) {
	e := New(config.Default(), testOracle(), nil)
	vehicles := []*model.Vehicle{
		{ID: 1, CurrentLocationID: 7},
		{ID: 2, CurrentLocationID: 0},
	}

	res, err := e.Place(vehicles, nil, nil)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if res.Placements[1] != 7 {
		t.Errorf("vehicle 1 moved to %d, want to stay at 7", res.Placements[1])
	}
	if _, ok := res.Placements[2]; ok {
		t.Error("unplaced vehicle with no demand must stay unplaced")
	}
}
