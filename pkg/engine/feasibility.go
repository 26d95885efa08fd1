package engine

import (
	"time"

	"github.com/truckwise/fleetopt/pkg/config"
	"github.com/truckwise/fleetopt/pkg/model"
	"github.com/truckwise/fleetopt/pkg/oracle"
)

// Check carries everything the hard-constraint gate computed about a
// (vehicle, route) pair. The mutator and the cost evaluation reuse it so the
// oracle is consulted once per pair.
type Check struct {
	NeedsService       bool
	RequiresRelocation bool
	Relocation         model.Relation
	// EffectiveAvailable is availability after a pre-positioning service,
	// before relocation travel.
	EffectiveAvailable time.Time
}

// Feasible runs the hard constraints in order and returns the first failing
// reason. Soft constraints (service imminence, overage) never reject here;
// they are priced into the candidate cost.
//
// enforceSwap disables the swap-policy gate for the relaxed fallback pass and
// for chain-scorer forward scans.
func Feasible(st *model.VehicleState, route *model.Route, ora *oracle.Oracle, cfg *config.Config, enforceSwap bool) (Check, model.Reason) {
	var chk Check

	startLoc := route.StartLocationID()
	endLoc := route.EndLocationID()
	if startLoc == 0 || endLoc == 0 || route.DistanceKM <= 0 || !route.End.After(route.Start) {
		return chk, model.ReasonInvalidRoute
	}

	// A vehicle already past interval+tolerance must be serviced before it
	// can take anything; the downtime pushes its availability.
	chk.EffectiveAvailable = st.AvailableFrom
	if st.KMSinceService > st.ServiceIntervalKM+cfg.ServicePolicy.ToleranceKM {
		chk.NeedsService = true
		chk.EffectiveAvailable = st.AvailableFrom.Add(cfg.ServicePolicy.Duration())
	}

	if chk.EffectiveAvailable.After(route.Start) {
		return chk, model.ReasonNotAvailable
	}

	if st.CurrentLocationID != startLoc {
		rel, ok := ora.Lookup(st.CurrentLocationID, startLoc)
		if !ok {
			return chk, model.ReasonNoPath
		}
		chk.RequiresRelocation = true
		chk.Relocation = rel
		arrival := chk.EffectiveAvailable.Add(time.Duration(rel.TravelMinutes * float64(time.Minute)))
		if arrival.After(route.Start) {
			return chk, model.ReasonCannotReach
		}
	}

	if chk.RequiresRelocation && enforceSwap {
		if st.RecentRelocations(route.Start, cfg.SwapPolicy.Period()) >= cfg.SwapPolicy.MaxSwapsPerPeriod {
			return chk, model.ReasonSwapExceeded
		}
	}

	if st.LifetimeCapKM > 0 {
		added := int64(route.DistanceKM + chk.Relocation.DistanceKM)
		if st.LifetimeKM+added > st.LifetimeCapKM {
			return chk, model.ReasonWouldExceedContract
		}
	}

	return chk, model.ReasonNone
}
