package engine

import (
	"time"

	"github.com/truckwise/fleetopt/pkg/config"
	"github.com/truckwise/fleetopt/pkg/model"
	"github.com/truckwise/fleetopt/pkg/oracle"
)

// at builds a timestamp on day N of May 2024.
func at(day, hour int) time.Time {
	return time.Date(2024, 5, day, hour, 0, 0, 0, time.UTC)
}

// mkRoute builds a single-segment route.
func mkRoute(id, from, to int64, start, end time.Time, km float64) *model.Route {
	return &model.Route{
		ID: id, Start: start, End: end, DistanceKM: km,
		Segments: []model.Segment{{
			ID: id * 100, RouteID: id, Seq: 1,
			StartLocID: from, EndLocID: to,
			Start: start, End: end,
		}},
	}
}

// mkVehicle builds a vehicle with an annual 150k lease begun 2024-01-01.
func mkVehicle(id, loc int64) *model.Vehicle {
	return &model.Vehicle{
		ID:                id,
		Registration:      "WX TEST",
		ServiceIntervalKM: 40_000,
		LeasingStartKM:    0,
		LeasingLimitKM:    150_000,
		LeaseStart:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		LeaseEnd:          time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		CurrentOdometerKM: 10_000,
		CurrentLocationID: loc,
	}
}

// mkState builds a ready-to-drive state at loc, available from day 1.
func mkState(id, loc int64) *model.VehicleState {
	return &model.VehicleState{
		VehicleID:         id,
		CurrentLocationID: loc,
		OdometerKM:        10_000,
		KMSinceService:    10_000,
		AvailableFrom:     at(1, 0),
		AnnualLimitKM:     150_000,
		ServiceIntervalKM: 40_000,
		LeaseStart:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		LeaseEnd:          time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// testCfg disables chain optimisation so cost expectations stay hand-checkable.
func testCfg() *config.Config {
	cfg := config.Default()
	cfg.Assignment.Strategy = config.StrategyGreedy
	cfg.Assignment.UseChainOptimization = false
	return cfg
}

// testOracle covers locations 1..7 with a sparse direct graph.
func testOracle() *oracle.Oracle {
	return oracle.New([]model.Relation{
		{ID: 1, FromID: 1, ToID: 2, DistanceKM: 50, TravelMinutes: 60},
		{ID: 2, FromID: 2, ToID: 3, DistanceKM: 40, TravelMinutes: 50},
		{ID: 3, FromID: 3, ToID: 4, DistanceKM: 30, TravelMinutes: 40},
		{ID: 4, FromID: 5, ToID: 6, DistanceKM: 20, TravelMinutes: 30},
		{ID: 5, FromID: 1, ToID: 5, DistanceKM: 80, TravelMinutes: 90},
		{ID: 6, FromID: 6, ToID: 7, DistanceKM: 25, TravelMinutes: 30},
	}, true, true)
}
