// Package costs prices relocations, annual-limit overage, and services. All
// amounts share one currency unit; the model is currency-agnostic.
package costs

import (
	"github.com/truckwise/fleetopt/pkg/config"
	"github.com/truckwise/fleetopt/pkg/model"
)

// Model computes monetary costs from the configured constants.
type Model struct {
	cfg *config.Config
}

// New returns a cost model bound to cfg.
func New(cfg *config.Config) *Model {
	return &Model{cfg: cfg}
}

// Relocation prices a non-revenue move across r. The zero-weight sentinel
// (same location) costs nothing.
//
// Relation time is in minutes; the hourly rate applies to minutes/60.
func (m *Model) Relocation(r model.Relation) float64 {
	if r.IsZero() {
		return 0
	}
	c := m.cfg.Costs
	return c.RelocationBase + r.DistanceKM*c.RelocationPerKM + (r.TravelMinutes/60)*c.RelocationPerHour
}

// Overage prices the projected annual-limit excess. It is state-level: the
// whole excess over the limit is repriced from projectedYearKM, not just the
// increment.
func (m *Model) Overage(projectedYearKM, annualLimitKM int64) float64 {
	excess := projectedYearKM - annualLimitKM
	if excess <= 0 {
		return 0
	}
	return float64(excess) * m.cfg.Costs.OveragePerKM
}

// Service returns the flat per-service cost.
func (m *Model) Service() float64 {
	return m.cfg.ServicePolicy.ServiceCost
}

// ServicePenalty is the soft surcharge for a candidate that would need a
// service scheduled before the route.
func (m *Model) ServicePenalty() float64 {
	return m.cfg.ServicePolicy.ServicePenalty
}

// Breakdown itemises one candidate's immediate cost.
type Breakdown struct {
	Relocation float64
	Overage    float64
	Service    float64
	Penalty    float64 // swap-violation and workload surcharges
}

// Total sums all components.
func (b Breakdown) Total() float64 {
	return b.Relocation + b.Overage + b.Service + b.Penalty
}

// WorkloadPenalty prices over-use of one vehicle relative to the fleet. When
// routesAssigned exceeds 1.2x the active-vehicle average, the penalty grows
// with the excess ratio but is capped at 500.
func WorkloadPenalty(routesAssigned int, avgRoutes float64) float64 {
	if avgRoutes <= 0 {
		return 0
	}
	ratio := float64(routesAssigned) / avgRoutes
	if ratio <= 1.2 {
		return 0
	}
	p := 50 + (ratio-1.2)*200
	if p > 500 {
		return 500
	}
	return p
}
