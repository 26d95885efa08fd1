// Package store adapts external data sources to the optimization engines.
// Two backends exist: a six-file tabular CSV set and a SQLite database.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/truckwise/fleetopt/pkg/model"
)

// Timestamp layouts accepted on input. Output always uses the first.
const (
	timeLayout     = "2006-01-02 15:04:05"
	dateOnlyLayout = "2006-01-02"
)

// ErrUnavailable signals that the backing store cannot be reached or a
// connection cannot be obtained.
var ErrUnavailable = errors.New("data source unavailable")

// Dataset is everything one optimisation run needs, loaded in one shot.
type Dataset struct {
	Vehicles  []*model.Vehicle
	Locations []model.Location
	Relations []model.Relation
	Routes    []*model.Route // pending routes, sorted by start time
}

// RunStats is the terminal accounting persisted with a run.
type RunStats struct {
	RoutesAssigned   int     `json:"routes_assigned"`
	RoutesUnassigned int     `json:"routes_unassigned"`
	TotalCost        float64 `json:"total_cost"`
	RelocationCost   float64 `json:"relocation_cost"`
	OverageCost      float64 `json:"overage_cost"`
	ServiceCost      float64 `json:"service_cost"`
	ActiveVehicles   int     `json:"active_vehicles"`
	RuntimeSeconds   float64 `json:"runtime_seconds"`
	Incomplete       bool    `json:"incomplete"`
}

// Source is the data-source adapter. Implementations own their connection
// handling; SaveResults is atomic — either the full assignment set and all
// state snapshots commit together, or nothing does.
type Source interface {
	LoadAll(ctx context.Context) (*Dataset, error)
	StartRun(ctx context.Context, configJSON []byte) (int64, error)
	CompleteRun(ctx context.Context, runID int64, stats RunStats, runErr error) error
	SaveResults(ctx context.Context, runID int64, assignments []model.Assignment, states map[int64]*model.VehicleState) error
	SavePlacement(ctx context.Context, runID int64, placements map[int64]int64) error
	UpdateVehicleLocations(ctx context.Context, locations map[int64]int64) error
	Close() error
}

// Validate checks referential integrity of a loaded dataset. A violation is
// an input error; runs abort before any state mutation.
func (d *Dataset) Validate() error {
	locs := make(map[int64]bool, len(d.Locations))
	for _, l := range d.Locations {
		locs[l.ID] = true
	}
	for _, r := range d.Relations {
		if !locs[r.FromID] || !locs[r.ToID] {
			return fmt.Errorf("%w: relation %d references unknown location", model.ErrInvalidInput, r.ID)
		}
		if r.DistanceKM < 0 || r.TravelMinutes < 0 {
			return fmt.Errorf("%w: relation %d has negative weights", model.ErrInvalidInput, r.ID)
		}
	}
	for _, v := range d.Vehicles {
		if v.CurrentLocationID != 0 && !locs[v.CurrentLocationID] {
			return fmt.Errorf("%w: vehicle %d at unknown location %d", model.ErrInvalidInput, v.ID, v.CurrentLocationID)
		}
	}
	for _, r := range d.Routes {
		if len(r.Segments) == 0 {
			return fmt.Errorf("%w: route %d has no segments", model.ErrInvalidInput, r.ID)
		}
		if r.DistanceKM <= 0 {
			return fmt.Errorf("%w: route %d has non-positive distance", model.ErrInvalidInput, r.ID)
		}
		if !r.End.After(r.Start) {
			return fmt.Errorf("%w: route %d ends before it starts", model.ErrInvalidInput, r.ID)
		}
		for _, s := range r.Segments {
			if !locs[s.StartLocID] || !locs[s.EndLocID] {
				return fmt.Errorf("%w: route %d segment %d references unknown location", model.ErrInvalidInput, r.ID, s.ID)
			}
		}
	}
	return nil
}

// normalizeRoutes orders segments within each route and the routes by start
// time, matching the driver's expectations.
func normalizeRoutes(routes []*model.Route) {
	for _, r := range routes {
		sort.Slice(r.Segments, func(i, j int) bool { return r.Segments[i].Seq < r.Segments[j].Seq })
	}
	model.SortRoutes(routes)
}

// parseTimestamp accepts second-precision timestamps with a date-only
// fallback.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateOnlyLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
	}
	return t, nil
}
