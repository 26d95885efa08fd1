package engine

import (
	"sort"
	"time"

	"github.com/truckwise/fleetopt/pkg/model"
)

// overlay is the hypothetical post-route position of a vehicle, carried by
// value. Chain scoring never clones the full state; only the fields the
// feasibility gate and the cost evaluation read are projected forward.
type overlay struct {
	location        int64
	availableFrom   time.Time
	kmSinceService  int64
	kmThisLeaseYear int64
	lifetimeKM      int64
}

// makeOverlay projects st past route given an accepted check.
func makeOverlay(st *model.VehicleState, route *model.Route, chk Check) overlay {
	o := overlay{
		location:        route.EndLocationID(),
		availableFrom:   route.End,
		kmSinceService:  st.KMSinceService,
		kmThisLeaseYear: st.KMThisLeaseYear,
		lifetimeKM:      st.LifetimeKM,
	}
	added := int64(route.DistanceKM + chk.Relocation.DistanceKM)
	if chk.NeedsService {
		o.kmSinceService = 0
	}
	o.kmSinceService += added
	o.kmThisLeaseYear += added
	o.lifetimeKM += added
	return o
}

// asState materialises the overlay as a throwaway state value so the shared
// feasibility gate can evaluate it. The relocation history is deliberately
// absent: forward scans never enforce the swap policy.
func (o overlay) asState(st *model.VehicleState) model.VehicleState {
	return model.VehicleState{
		VehicleID:         st.VehicleID,
		CurrentLocationID: o.location,
		OdometerKM:        st.OdometerKM,
		KMSinceService:    o.kmSinceService,
		KMThisLeaseYear:   o.kmThisLeaseYear,
		LifetimeKM:        o.lifetimeKM,
		AvailableFrom:     o.availableFrom,
		AnnualLimitKM:     st.AnnualLimitKM,
		ServiceIntervalKM: st.ServiceIntervalKM,
		LifetimeCapKM:     st.LifetimeCapKM,
		LeaseStart:        st.LeaseStart,
		LeaseEnd:          st.LeaseEnd,
	}
}

// chainScore rewards a candidate for the future routes it would be well
// positioned to take after finishing route. future must be the time-sorted
// routes strictly after the current one.
func (d *Driver) chainScore(st *model.VehicleState, route *model.Route, chk Check, future []*model.Route) float64 {
	hyp := makeOverlay(st, route, chk).asState(st)
	horizon := route.End.Add(time.Duration(d.cfg.Assignment.LookAheadDays) * 24 * time.Hour)

	scores := make([]float64, 0, d.cfg.Assignment.ChainDepth)
	scanned := 0
	for _, next := range future {
		if scanned >= d.cfg.Assignment.MaxLookaheadRoutes || next.Start.After(horizon) {
			break
		}
		scanned++
		nchk, reason := Feasible(&hyp, next, d.ora, d.cfg, false)
		if reason != model.ReasonNone {
			continue
		}
		cost := d.candidateCost(&hyp, next, nchk).Total()
		scores = append(scores, 1000/(cost+100))
	}
	if len(scores) == 0 {
		return 0
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	if len(scores) > d.cfg.Assignment.ChainDepth {
		scores = scores[:d.cfg.Assignment.ChainDepth]
	}
	total, weight := 0.0, 1.0
	for _, s := range scores {
		total += s * weight
		weight *= 0.5
	}
	return total
}
