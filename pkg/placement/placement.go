// Package placement decides where each vehicle should start. It analyses the
// near-term route flow per location and spreads the fleet with one of three
// strategies, all deterministic.
package placement

import (
	"log/slog"
	"math"
	"sort"

	"github.com/truckwise/fleetopt/pkg/config"
	"github.com/truckwise/fleetopt/pkg/costs"
	"github.com/truckwise/fleetopt/pkg/model"
	"github.com/truckwise/fleetopt/pkg/oracle"
)

// Flow is the per-location demand picture inside the lookahead window.
type Flow struct {
	Starts   int
	Ends     int
	Net      int // starts - ends; positive means vehicles are consumed here
	Activity int // starts + ends
}

// Engine computes initial placements.
type Engine struct {
	cfg  *config.Config
	ora  *oracle.Oracle
	cost *costs.Model
	log  *slog.Logger
}

// New builds a placement engine.
func New(cfg *config.Config, ora *oracle.Oracle, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, ora: ora, cost: costs.New(cfg), log: log}
}

// AnalyzeFlow aggregates route starts and ends per location over the
// placement lookahead window, measured from the earliest route.
func (e *Engine) AnalyzeFlow(routes []*model.Route) (map[int64]*Flow, int) {
	flows := make(map[int64]*Flow)
	if len(routes) == 0 {
		return flows, 0
	}
	sorted := make([]*model.Route, len(routes))
	copy(sorted, routes)
	model.SortRoutes(sorted)

	cutoff := sorted[0].Start.AddDate(0, 0, e.cfg.Placement.LookaheadDays)
	analyzed := 0
	for _, r := range sorted {
		if r.Start.After(cutoff) {
			break
		}
		analyzed++
		get := func(id int64) *Flow {
			f := flows[id]
			if f == nil {
				f = &Flow{}
				flows[id] = f
			}
			return f
		}
		s := get(r.StartLocationID())
		s.Starts++
		en := get(r.EndLocationID())
		en.Ends++
	}
	for _, f := range flows {
		f.Net = f.Starts - f.Ends
		f.Activity = f.Starts + f.Ends
	}
	return flows, analyzed
}

// Place runs the configured strategy.
func (e *Engine) Place(vehicles []*model.Vehicle, locations []model.Location, routes []*model.Route) (*model.PlacementResult, error) {
	flows, analyzed := e.AnalyzeFlow(routes)
	demanded := demandedLocations(flows)

	vs := make([]*model.Vehicle, len(vehicles))
	copy(vs, vehicles)
	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })

	var placements map[int64]int64
	switch e.cfg.Placement.Strategy {
	case config.PlacementProportional:
		placements = e.proportional(vs, demanded, flows)
	case config.PlacementCoverageFirst:
		placements = e.coverageFirst(vs, demanded, flows)
	default:
		placements = e.costMatrix(vs, demanded, flows)
	}

	res := &model.PlacementResult{Placements: placements}
	res.Quality = e.quality(placements, flows, demanded, analyzed)
	e.log.Info("placement complete",
		"strategy", e.cfg.Placement.Strategy,
		"vehicles", len(placements),
		"locations_used", res.Quality.LocationsUsed,
		"max_concentration", res.Quality.MaxConcentration,
	)
	return res, nil
}

// maxPerLocation resolves the per-location cap for a given fleet size.
func (e *Engine) maxPerLocation(fleet int) int {
	if n := e.cfg.Placement.MaxVehiclesPerLocation; n > 0 {
		return n
	}
	n := int(math.Ceil(e.cfg.Placement.MaxConcentration * float64(fleet)))
	if n < 1 {
		n = 1
	}
	return n
}

// costMatrix places each vehicle at its minimum-cost location. The base cost
// favours busy locations; bonuses reward net demand and direct connectivity;
// a concentration penalty keeps the fleet spread out.
func (e *Engine) costMatrix(vehicles []*model.Vehicle, demanded []int64, flows map[int64]*Flow) map[int64]int64 {
	out := make(map[int64]int64, len(vehicles))
	if len(demanded) == 0 {
		return keepCurrent(vehicles, out)
	}
	limit := e.maxPerLocation(len(vehicles))
	counts := make(map[int64]int)

	base := make(map[int64]float64, len(demanded))
	for _, loc := range demanded {
		f := flows[loc]
		c := 1000 / math.Log(float64(f.Activity)+2)
		if f.Net > 0 {
			c -= math.Min(200, float64(f.Net)*10)
		} else if f.Net < 0 {
			c += math.Min(100, float64(-f.Net)*5)
		}
		c -= e.connectivityBonus(loc, demanded)
		base[loc] = c
	}

	for _, v := range vehicles {
		bestLoc, bestCost := int64(0), math.Inf(1)
		for _, loc := range demanded {
			c := base[loc] + concentrationPenalty(counts[loc]+1, limit)
			if c < bestCost || (c == bestCost && loc < bestLoc) {
				bestLoc, bestCost = loc, c
			}
		}
		out[v.ID] = bestLoc
		counts[bestLoc]++
	}
	return out
}

// connectivityBonus probes up to 20 other demanded locations; a location
// directly linked to at least half of them earns up to 300 off its cost.
func (e *Engine) connectivityBonus(loc int64, demanded []int64) float64 {
	const samples = 20
	probed, hits := 0, 0
	for _, other := range demanded {
		if other == loc {
			continue
		}
		if probed == samples {
			break
		}
		probed++
		if e.ora.HasDirect(loc, other) {
			hits++
		}
	}
	if probed == 0 {
		return 0
	}
	ratio := float64(hits) / float64(probed)
	if ratio < 0.5 {
		return 0
	}
	return 300 * ratio
}

// concentrationPenalty grows quadratically once a location passes 70% of the
// cap and becomes a strong repellent beyond it.
func concentrationPenalty(occupancy, cap int) float64 {
	ratio := float64(occupancy) / float64(cap)
	if ratio <= 0.7 {
		return 0
	}
	if ratio <= 1 {
		x := (ratio - 0.7) / 0.3
		return 1000 * x * x
	}
	excess := float64(occupancy - cap)
	return 1000 + 5000*math.Pow(excess, 1.5)
}

// proportional allocates the fleet to locations in proportion to activity,
// capped per location; leftovers pile onto the busiest location.
func (e *Engine) proportional(vehicles []*model.Vehicle, demanded []int64, flows map[int64]*Flow) map[int64]int64 {
	out := make(map[int64]int64, len(vehicles))
	if len(demanded) == 0 {
		return keepCurrent(vehicles, out)
	}
	limit := e.maxPerLocation(len(vehicles))

	totalActivity := 0
	for _, loc := range demanded {
		totalActivity += flows[loc].Activity
	}

	quota := make(map[int64]int, len(demanded))
	allocated := 0
	for _, loc := range demanded {
		n := int(math.Floor(float64(len(vehicles)) * float64(flows[loc].Activity) / float64(totalActivity)))
		if n > limit {
			n = limit
		}
		quota[loc] = n
		allocated += n
	}
	// Leftovers pile onto the top-activity location, cap notwithstanding.
	if left := len(vehicles) - allocated; left > 0 {
		quota[demanded[0]] += left
	}

	vi := 0
	for _, loc := range demanded {
		for n := quota[loc]; n > 0 && vi < len(vehicles); n-- {
			out[vehicles[vi].ID] = loc
			vi++
		}
	}
	for ; vi < len(vehicles); vi++ {
		out[vehicles[vi].ID] = demanded[0]
	}
	return out
}

// coverageFirst seeds one vehicle per demanded location before distributing
// the remainder proportionally.
func (e *Engine) coverageFirst(vehicles []*model.Vehicle, demanded []int64, flows map[int64]*Flow) map[int64]int64 {
	out := make(map[int64]int64, len(vehicles))
	if len(demanded) == 0 {
		return keepCurrent(vehicles, out)
	}
	vi := 0
	for _, loc := range demanded {
		if vi == len(vehicles) {
			break
		}
		out[vehicles[vi].ID] = loc
		vi++
	}
	if vi == len(vehicles) {
		return out
	}
	rest := e.proportional(vehicles[vi:], demanded, flows)
	for id, loc := range rest {
		out[id] = loc
	}
	return out
}

// quality builds the placement quality report.
func (e *Engine) quality(placements map[int64]int64, flows map[int64]*Flow, demanded []int64, analyzed int) model.PlacementQuality {
	dist := make(map[int64]int)
	for _, loc := range placements {
		dist[loc]++
	}
	q := model.PlacementQuality{
		TotalVehicles:  len(placements),
		LocationsUsed:  len(dist),
		Distribution:   dist,
		RoutesAnalyzed: analyzed,
		Strategy:       e.cfg.Placement.Strategy,
	}
	if len(placements) > 0 {
		maxAt := 0
		for _, n := range dist {
			if n > maxAt {
				maxAt = n
			}
		}
		q.MaxConcentration = float64(maxAt) / float64(len(placements))
	}

	covered, totalStarts, satisfied := 0, 0, 0
	for _, loc := range demanded {
		f := flows[loc]
		if f.Starts == 0 {
			continue
		}
		totalStarts += f.Starts
		if n := dist[loc]; n > 0 {
			covered++
			if n < f.Starts {
				satisfied += n
			} else {
				satisfied += f.Starts
			}
		}
	}
	startLocs := 0
	for _, loc := range demanded {
		if flows[loc].Starts > 0 {
			startLocs++
		}
	}
	if startLocs > 0 {
		q.DemandCoverage = float64(covered) / float64(startLocs)
	}
	if totalStarts > 0 {
		q.DemandSatisfaction = float64(satisfied) / float64(totalStarts)
	}
	q.EstimatedRelocationCost = e.estimateRelocationCost(dist, flows, demanded)
	return q
}

// estimateRelocationCost prices the cheapest way to reach each uncovered
// start location from a location that did receive vehicles.
func (e *Engine) estimateRelocationCost(dist map[int64]int, flows map[int64]*Flow, demanded []int64) float64 {
	placed := make([]int64, 0, len(dist))
	for loc := range dist {
		placed = append(placed, loc)
	}
	sort.Slice(placed, func(i, j int) bool { return placed[i] < placed[j] })

	total := 0.0
	for _, loc := range demanded {
		if flows[loc].Starts == 0 || dist[loc] > 0 {
			continue
		}
		cheapest := math.Inf(1)
		for _, from := range placed {
			rel, ok := e.ora.Lookup(from, loc)
			if !ok {
				continue
			}
			if c := e.cost.Relocation(rel); c < cheapest {
				cheapest = c
			}
		}
		if !math.IsInf(cheapest, 1) {
			total += cheapest
		}
	}
	return total
}

// demandedLocations orders locations by activity descending, activity ties by
// net demand descending, then id.
func demandedLocations(flows map[int64]*Flow) []int64 {
	out := make([]int64, 0, len(flows))
	for loc, f := range flows {
		if f.Activity > 0 {
			out = append(out, loc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := flows[out[i]], flows[out[j]]
		if a.Activity != b.Activity {
			return a.Activity > b.Activity
		}
		if a.Net != b.Net {
			return a.Net > b.Net
		}
		return out[i] < out[j]
	})
	return out
}

// keepCurrent is the no-demand fallback: vehicles stay where they are.
func keepCurrent(vehicles []*model.Vehicle, out map[int64]int64) map[int64]int64 {
	for _, v := range vehicles {
		if v.CurrentLocationID != 0 {
			out[v.ID] = v.CurrentLocationID
		}
	}
	return out
}
