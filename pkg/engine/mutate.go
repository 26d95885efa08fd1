package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/truckwise/fleetopt/pkg/config"
	"github.com/truckwise/fleetopt/pkg/model"
)

const leaseYear = 365 * 24 * time.Hour

// Mutation reports what Apply did, for the assignment record.
type Mutation struct {
	OdometerBefore int64
	OdometerAfter  int64
	AnnualKMBefore int64
	AnnualKMAfter  int64
	ServiceDone    bool
	ServiceCost    float64
	RelocationKM   int64
}

// Apply commits an accepted assignment to st. All work happens on a scratch
// copy; st is only replaced once the invariants hold, so a failure leaves it
// as if no assignment had occurred.
func Apply(st *model.VehicleState, route *model.Route, chk Check, cfg *config.Config) (Mutation, error) {
	s := st.Clone()
	var mut Mutation
	mut.OdometerBefore = s.OdometerKM
	// Captured before any lease-year reset so the record shows the counter
	// the vehicle actually carried into the assignment.
	mut.AnnualKMBefore = s.KMThisLeaseYear

	// 1. Lease-year reset, cascading when the vehicle sat idle over a year.
	rollLeaseYear(s, route.Start)

	// 2. Relocation-history prune.
	s.PruneRelocations(route.Start, cfg.SwapPolicy.Period())

	// 3. Service before anything else, when overdue.
	if chk.NeedsService {
		s.KMSinceService = 0
		s.ServicesDone++
		s.ServiceCostAccrued += cfg.ServicePolicy.ServiceCost
		s.AvailableFrom = s.AvailableFrom.Add(cfg.ServicePolicy.Duration())
		mut.ServiceDone = true
		mut.ServiceCost = cfg.ServicePolicy.ServiceCost
	}

	// 4. Relocation kilometres count everywhere a wheel-turn counts.
	if chk.RequiresRelocation {
		s.Relocations = append(s.Relocations, model.Relocation{
			At:     route.Start,
			FromID: chk.Relocation.FromID,
			ToID:   chk.Relocation.ToID,
		})
		relocKM := int64(math.Round(chk.Relocation.DistanceKM))
		s.OdometerKM += relocKM
		s.KMThisLeaseYear += relocKM
		s.LifetimeKM += relocKM
		s.KMSinceService += relocKM
		s.TotalRelocations++
		mut.RelocationKM = relocKM
	}

	// 5. Route kilometres, pro-rated across a lease-year boundary by elapsed
	// wall time. Odometer, lifetime, and service counters always take the
	// full distance.
	routeKM := int64(math.Round(route.DistanceKM))
	s.OdometerKM += routeKM
	s.LifetimeKM += routeKM
	s.KMSinceService += routeKM
	if route.End.Before(s.LeaseEnd) {
		s.KMThisLeaseYear += routeKM
	} else {
		secsCurrent := s.LeaseEnd.Sub(route.Start).Seconds()
		secsTotal := route.End.Sub(route.Start).Seconds()
		currentKM := int64(math.Floor(route.DistanceKM * secsCurrent / secsTotal))
		s.KMThisLeaseYear += currentKM
		rollLeaseYear(s, route.End)
		s.KMThisLeaseYear += routeKM - currentKM
	}

	// 6. Position and availability.
	s.CurrentLocationID = route.EndLocationID()
	s.AvailableFrom = route.End
	s.LastRouteID = route.ID
	s.RoutesAssigned++

	if s.OdometerKM < st.OdometerKM {
		return Mutation{}, fmt.Errorf("%w: vehicle %d odometer regressed %d -> %d",
			model.ErrInvariant, st.VehicleID, st.OdometerKM, s.OdometerKM)
	}
	if s.AvailableFrom.Before(st.AvailableFrom) {
		return Mutation{}, fmt.Errorf("%w: vehicle %d available_from regressed",
			model.ErrInvariant, st.VehicleID)
	}
	if s.LifetimeCapKM > 0 && s.LifetimeKM > s.LifetimeCapKM {
		return Mutation{}, fmt.Errorf("%w: vehicle %d lifetime %d exceeds cap %d",
			model.ErrInvariant, st.VehicleID, s.LifetimeKM, s.LifetimeCapKM)
	}

	mut.OdometerAfter = s.OdometerKM
	mut.AnnualKMAfter = s.KMThisLeaseYear
	*st = *s
	return mut, nil
}

// rollLeaseYear advances the lease window until at is inside it, zeroing the
// annual counter per 365-day step. A route starting exactly at lease_end
// belongs entirely to the next lease year.
func rollLeaseYear(s *model.VehicleState, at time.Time) {
	for !at.Before(s.LeaseEnd) {
		s.KMThisLeaseYear = 0
		s.LeaseStart = s.LeaseEnd
		s.LeaseEnd = s.LeaseEnd.Add(leaseYear)
		s.LeaseCycle++
	}
}
