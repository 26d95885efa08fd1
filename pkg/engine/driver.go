// Package engine contains the assignment simulator: a deterministic
// single-threaded walk over the route timeline that picks the cheapest
// feasible vehicle for every route and mutates per-vehicle state atomically.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/truckwise/fleetopt/pkg/config"
	"github.com/truckwise/fleetopt/pkg/costs"
	"github.com/truckwise/fleetopt/pkg/events"
	"github.com/truckwise/fleetopt/pkg/model"
	"github.com/truckwise/fleetopt/pkg/oracle"
)

// Pre-positioning grace before the first route.
const setupGrace = 24 * time.Hour

// Selection shortcut thresholds: when the cheapest candidate wins by this
// much, chain scoring is skipped.
const (
	shortcutAbsoluteGap = 2000.0
	shortcutRelative    = 0.5
)

// Chain scoring is restricted to the cheapest few candidates within this
// relative band.
const (
	chainTopCandidates = 5
	chainCostBand      = 0.2
)

// Driver owns one assignment run. Not safe for concurrent use; build one per
// run so the oracle cache and the state map stay private.
type Driver struct {
	cfg  *config.Config
	ora  *oracle.Oracle
	cost *costs.Model
	sink events.Sink
	log  *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithSink installs an event sink. Default is a slog-backed sink.
func WithSink(s events.Sink) Option {
	return func(d *Driver) { d.sink = s }
}

// WithLogger installs a logger. Default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// New builds a driver over a fresh oracle.
func New(cfg *config.Config, ora *oracle.Oracle, opts ...Option) *Driver {
	d := &Driver{
		cfg:  cfg,
		ora:  ora,
		cost: costs.New(cfg),
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.sink == nil {
		d.sink = events.NewSlogSink(d.log)
	}
	return d
}

type candidate struct {
	state   *model.VehicleState
	chk     Check
	cost    costs.Breakdown
	relaxed bool
}

// Run walks the route timeline and assigns each route to the cheapest
// feasible vehicle. placement overrides the starting location per vehicle id;
// pass nil to keep the loaded locations.
//
// Cancellation is checked at the top of every route iteration; on cancel the
// partial result is returned valid but marked incomplete.
func (d *Driver) Run(ctx context.Context, vehicles []*model.Vehicle, routes []*model.Route, placement map[int64]int64) (*model.AssignmentResult, error) {
	started := time.Now()

	for _, r := range routes {
		if r.StartLocationID() == 0 || r.EndLocationID() == 0 || r.DistanceKM <= 0 || !r.End.After(r.Start) {
			return nil, fmt.Errorf("%w: route %d fails sanity checks", model.ErrInvalidInput, r.ID)
		}
	}

	sorted := make([]*model.Route, len(routes))
	copy(sorted, routes)
	model.SortRoutes(sorted)

	res := &model.AssignmentResult{States: make(map[int64]*model.VehicleState, len(vehicles))}
	if len(sorted) == 0 {
		return res, nil
	}

	states := d.initStates(vehicles, placement, sorted[0].Start)
	res.States = mapStates(states)

	// Routes beyond the assignment window are not assigned but stay visible
	// to the chain scorer.
	assignCount := len(sorted)
	if days := d.cfg.Assignment.AssignmentLookaheadDays; days > 0 {
		cutoff := sorted[0].Start.Add(time.Duration(days) * 24 * time.Hour)
		assignCount = sort.Search(len(sorted), func(i int) bool { return sorted[i].Start.After(cutoff) })
	}

	for i := 0; i < assignCount; i++ {
		select {
		case <-ctx.Done():
			res.Incomplete = true
			d.log.Warn("run cancelled", "processed", i, "total", assignCount)
			d.emitCompleted(res, states, started)
			return res, nil
		default:
		}

		route := sorted[i]
		cands, topReason := d.collect(states, route)
		if len(cands) == 0 {
			res.Unassigned = append(res.Unassigned, route.ID)
			res.RoutesUnassigned++
			d.sink.UnassignedRoute(route.ID, topReason)
			continue
		}

		best := d.pick(cands, route, sorted[i+1:])
		asg, err := d.commit(best, route)
		if err != nil {
			return nil, err
		}
		res.Assignments = append(res.Assignments, asg)
		res.RoutesAssigned++
		res.TotalCost += asg.Cost
		res.TotalRelocationCost += best.cost.Relocation
		res.TotalServiceCost += best.cost.Service

		if (i+1)%d.cfg.Performance.ProgressReportInterval == 0 {
			d.sink.Progress(events.Progress{
				RoutesProcessed: i + 1,
				RoutesTotal:     assignCount,
				Assigned:        res.RoutesAssigned,
				Unassigned:      res.RoutesUnassigned,
				RunningCost:     res.TotalCost,
				Elapsed:         time.Since(started),
			})
		}
	}

	d.emitCompleted(res, states, started)
	return res, nil
}

// initStates builds the per-run state map. Availability starts 24 hours
// before the first route so any vehicle can pre-position once for free.
func (d *Driver) initStates(vehicles []*model.Vehicle, placement map[int64]int64, firstStart time.Time) []*model.VehicleState {
	availableFrom := firstStart.Add(-setupGrace)
	states := make([]*model.VehicleState, 0, len(vehicles))
	for _, v := range vehicles {
		loc := v.CurrentLocationID
		if placed, ok := placement[v.ID]; ok {
			loc = placed
		}
		states = append(states, &model.VehicleState{
			VehicleID:         v.ID,
			CurrentLocationID: loc,
			OdometerKM: v.CurrentOdometerKM,
			// Service history is not part of the input; the odometer modulo
			// the interval stands in for kilometres since the last service.
			KMSinceService: v.CurrentOdometerKM % max64(v.ServiceIntervalKM, 1),
			LifetimeKM:        v.CurrentOdometerKM - v.LeasingStartKM,
			AvailableFrom:     availableFrom,
			AnnualLimitKM:     v.AnnualLimitKM(),
			ServiceIntervalKM: v.ServiceIntervalKM,
			LifetimeCapKM:     v.LifetimeCapKM(),
			LeaseStart:        v.LeaseStart,
			LeaseEnd:          v.LeaseStart.Add(leaseYear),
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].VehicleID < states[j].VehicleID })
	return states
}

// collect gathers feasible candidates, first under the full policy, then with
// the swap gate relaxed. Relaxed candidates carry the violation penalty. The
// returned reason is the dominant rejection cause when nothing is feasible.
func (d *Driver) collect(states []*model.VehicleState, route *model.Route) ([]candidate, model.Reason) {
	var cands []candidate
	reasons := make(map[model.Reason]int)
	for _, st := range states {
		chk, reason := Feasible(st, route, d.ora, d.cfg, true)
		if reason != model.ReasonNone {
			reasons[reason]++
			continue
		}
		cands = append(cands, candidate{state: st, chk: chk, cost: d.candidateCost(st, route, chk)})
	}
	if len(cands) > 0 {
		return cands, model.ReasonNone
	}

	// Relaxed pass. Only the swap gate is dropped, so every candidate that
	// appears here was rejected exactly there; all pay the penalty.
	for _, st := range states {
		chk, reason := Feasible(st, route, d.ora, d.cfg, false)
		if reason != model.ReasonNone {
			continue
		}
		bd := d.candidateCost(st, route, chk)
		bd.Penalty += d.cfg.SwapPolicy.ViolationPenalty
		cands = append(cands, candidate{state: st, chk: chk, cost: bd, relaxed: true})
	}
	if len(cands) > 0 {
		return cands, model.ReasonNone
	}
	return nil, dominantReason(reasons)
}

// candidateCost prices the immediate cost of putting st on route.
func (d *Driver) candidateCost(st *model.VehicleState, route *model.Route, chk Check) costs.Breakdown {
	var bd costs.Breakdown
	bd.Relocation = d.cost.Relocation(chk.Relocation)

	// Overage is repriced from the projected annual counter, accounting for
	// a lease-year reset at the route start.
	base := st.KMThisLeaseYear
	if !route.Start.Before(st.LeaseEnd) {
		base = 0
	}
	projected := base + int64(math.Round(route.DistanceKM+chk.Relocation.DistanceKM))
	bd.Overage = d.cost.Overage(projected, st.AnnualLimitKM)

	if chk.NeedsService {
		bd.Service = d.cost.Service()
		bd.Penalty += d.cost.ServicePenalty()
	}
	return bd
}

// pick selects the winning candidate. Plain greedy takes the cheapest; the
// lookahead strategy runs the chain scorer only when the immediate costs are
// close enough that the choice is not obvious.
func (d *Driver) pick(cands []candidate, route *model.Route, future []*model.Route) *candidate {
	lookahead := d.cfg.Assignment.Strategy == config.StrategyGreedyWithLookahead &&
		d.cfg.Assignment.UseChainOptimization

	if !lookahead {
		d.applyWorkloadPenalty(cands)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].cost.Total() != cands[j].cost.Total() {
			return cands[i].cost.Total() < cands[j].cost.Total()
		}
		return cands[i].state.VehicleID < cands[j].state.VehicleID
	})
	if !lookahead || len(cands) == 1 {
		return &cands[0]
	}

	bestCost := cands[0].cost.Total()
	secondCost := cands[1].cost.Total()
	if secondCost-bestCost > shortcutAbsoluteGap || bestCost < secondCost*shortcutRelative {
		return &cands[0]
	}

	// Chain-score the cheapest few candidates within the cost band and pick
	// the minimum effective cost, ties on vehicle id.
	bestIdx, bestEff := 0, math.Inf(1)
	for i := range cands {
		if i >= chainTopCandidates || cands[i].cost.Total() > bestCost*(1+chainCostBand) {
			break
		}
		score := d.chainScore(cands[i].state, route, cands[i].chk, future)
		eff := cands[i].cost.Total() - d.cfg.Assignment.ChainWeight*score
		if eff < bestEff || (eff == bestEff && cands[i].state.VehicleID < cands[bestIdx].state.VehicleID) {
			bestIdx, bestEff = i, eff
		}
	}
	return &cands[bestIdx]
}

// applyWorkloadPenalty rebalances the simple-greedy strategy by surcharging
// vehicles working well above the fleet average. The lookahead strategy does
// not apply it.
func (d *Driver) applyWorkloadPenalty(cands []candidate) {
	total, active := 0, 0
	for _, c := range cands {
		if c.state.RoutesAssigned > 0 {
			total += c.state.RoutesAssigned
			active++
		}
	}
	if active == 0 {
		return
	}
	avg := float64(total) / float64(active)
	for i := range cands {
		cands[i].cost.Penalty += costs.WorkloadPenalty(cands[i].state.RoutesAssigned, avg)
	}
}

// commit applies the mutation and builds the assignment record.
func (d *Driver) commit(c *candidate, route *model.Route) (model.Assignment, error) {
	mut, err := Apply(c.state, route, c.chk, d.cfg)
	if err != nil {
		return model.Assignment{}, err
	}
	c.state.TotalRelocationCost += c.cost.Relocation
	// Overage is state-level: every candidate reprices the whole excess over
	// the annual limit, so the accrued figure is replaced, never summed.
	c.state.TotalOverageCost = c.cost.Overage

	asg := model.Assignment{
		RouteID:            route.ID,
		VehicleID:          c.state.VehicleID,
		Date:               route.Start,
		RouteDistanceKM:    route.DistanceKM,
		StartLocationID:    route.StartLocationID(),
		EndLocationID:      route.EndLocationID(),
		OdometerBefore:     mut.OdometerBefore,
		OdometerAfter:      mut.OdometerAfter,
		AnnualKMBefore:     mut.AnnualKMBefore,
		AnnualKMAfter:      mut.AnnualKMAfter,
		RequiresRelocation: c.chk.RequiresRelocation,
		RequiresService:    c.chk.NeedsService,
		SwapRelaxed:        c.relaxed,
		Cost:               c.cost.Total(),
		OverageKM:          overageKM(mut.AnnualKMAfter, c.state.AnnualLimitKM),
	}
	if c.chk.RequiresRelocation {
		asg.RelocationFromID = c.chk.Relocation.FromID
		asg.RelocationToID = c.chk.Relocation.ToID
		asg.RelocationKM = c.chk.Relocation.DistanceKM
		asg.RelocationMinutes = c.chk.Relocation.TravelMinutes
	}
	return asg, nil
}

func (d *Driver) emitCompleted(res *model.AssignmentResult, states []*model.VehicleState, started time.Time) {
	active := 0
	res.TotalOverageCost = 0
	for _, st := range states {
		if st.RoutesAssigned > 0 {
			active++
		}
		res.TotalOverageCost += st.TotalOverageCost
	}
	d.sink.RunCompleted(events.RunSummary{
		RoutesAssigned:   res.RoutesAssigned,
		RoutesUnassigned: res.RoutesUnassigned,
		TotalCost:        res.TotalCost,
		RelocationCost:   res.TotalRelocationCost,
		OverageCost:      res.TotalOverageCost,
		ServiceCost:      res.TotalServiceCost,
		ActiveVehicles:   active,
		Elapsed:          time.Since(started),
		Incomplete:       res.Incomplete,
	})
}

func mapStates(states []*model.VehicleState) map[int64]*model.VehicleState {
	m := make(map[int64]*model.VehicleState, len(states))
	for _, st := range states {
		m[st.VehicleID] = st
	}
	return m
}

func dominantReason(counts map[model.Reason]int) model.Reason {
	best, bestN := model.ReasonNotAvailable, -1
	for r := model.ReasonInvalidRoute; r <= model.ReasonWouldExceedContract; r++ {
		if n := counts[r]; n > bestN {
			best, bestN = r, n
		}
	}
	return best
}

func overageKM(annualKM, limit int64) int64 {
	if excess := annualKM - limit; excess > 0 {
		return excess
	}
	return 0
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
