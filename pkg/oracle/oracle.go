// Package oracle answers "how far, how long" between two locations. It serves
// direct relations first, falls back to bounded multi-hop pathfinding, and
// memoizes every answer for the lifetime of one run.
package oracle

import (
	"container/heap"
	"sort"

	"github.com/truckwise/fleetopt/pkg/model"
)

// maxHops bounds the pathfinding search depth. Relocations longer than three
// legs are never worth their cost.
const maxHops = 3

// Stats counts cache behaviour for the run summary.
type Stats struct {
	Hits      int64
	Misses    int64
	Pathfinds int64
}

// HitRatio returns hits / (hits + misses), or 0 when the oracle was never
// queried.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type pairKey struct {
	from, to int64
}

type edge struct {
	to      int64
	km      float64
	minutes float64
}

// Oracle resolves location pairs to relations. Not safe for concurrent use;
// each run owns its own instance.
type Oracle struct {
	direct map[pairKey]model.Relation
	adj    map[int64][]edge

	usePathfinding bool
	useCache       bool
	cache          map[pairKey]*model.Relation // nil value = known unreachable

	stats Stats
}

// New builds an oracle over the given relation set. Every relation is indexed
// in both directions with identical weights.
func New(relations []model.Relation, usePathfinding, useCache bool) *Oracle {
	o := &Oracle{
		direct:         make(map[pairKey]model.Relation, len(relations)*2),
		adj:            make(map[int64][]edge),
		usePathfinding: usePathfinding,
		useCache:       useCache,
		cache:          make(map[pairKey]*model.Relation),
	}
	for _, r := range relations {
		fwd := pairKey{r.FromID, r.ToID}
		if _, ok := o.direct[fwd]; !ok {
			o.direct[fwd] = r
		}
		rev := pairKey{r.ToID, r.FromID}
		if _, ok := o.direct[rev]; !ok {
			rr := r
			rr.FromID, rr.ToID = r.ToID, r.FromID
			o.direct[rev] = rr
		}
		o.adj[r.FromID] = append(o.adj[r.FromID], edge{r.ToID, r.DistanceKM, r.TravelMinutes})
		o.adj[r.ToID] = append(o.adj[r.ToID], edge{r.FromID, r.DistanceKM, r.TravelMinutes})
	}
	// Deterministic neighbour order regardless of input file order.
	for _, edges := range o.adj {
		sort.Slice(edges, func(i, j int) bool { return edges[i].to < edges[j].to })
	}
	return o
}

// Stats returns a snapshot of the cache counters.
func (o *Oracle) Stats() Stats { return o.stats }

// HasDirect reports whether a single-leg relation exists between the pair, in
// either direction. Never consults the pathfinder or the cache.
func (o *Oracle) HasDirect(from, to int64) bool {
	_, ok := o.direct[pairKey{from, to}]
	return ok
}

// Lookup resolves (from, to). Same location returns the zero-weight sentinel.
// The second return is false when no path exists within the hop budget.
func (o *Oracle) Lookup(from, to int64) (model.Relation, bool) {
	if from == to {
		return model.Relation{ID: model.RelationIDSameLocation, FromID: from, ToID: to}, true
	}
	key := pairKey{from, to}
	if o.useCache {
		if cached, ok := o.cache[key]; ok {
			o.stats.Hits++
			if cached == nil {
				return model.Relation{}, false
			}
			return *cached, true
		}
		o.stats.Misses++
	}
	rel, ok := o.resolve(from, to)
	if o.useCache {
		if ok {
			r := rel
			o.cache[key] = &r
		} else {
			o.cache[key] = nil
		}
	}
	return rel, ok
}

func (o *Oracle) resolve(from, to int64) (model.Relation, bool) {
	if r, ok := o.direct[pairKey{from, to}]; ok {
		return r, true
	}
	if !o.usePathfinding {
		return model.Relation{}, false
	}
	o.stats.Pathfinds++
	return o.dijkstra(from, to)
}

type pqItem struct {
	loc     int64
	minutes float64
	km      float64
	hops    int
}

type pathQueue []pqItem

func (q pathQueue) Len() int { return len(q) }
func (q pathQueue) Less(i, j int) bool {
	if q[i].minutes != q[j].minutes {
		return q[i].minutes < q[j].minutes
	}
	return q[i].loc < q[j].loc
}
func (q pathQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *pathQueue) Push(x any)   { *q = append(*q, x.(pqItem)) }
func (q *pathQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// dijkstra searches the undirected relation graph minimising total travel
// minutes, capped at maxHops legs. On success it returns a synthetic relation
// with summed weights.
func (o *Oracle) dijkstra(from, to int64) (model.Relation, bool) {
	pq := &pathQueue{{loc: from}}
	best := map[int64]float64{from: 0}
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pqItem)
		if cur.loc == to {
			return model.Relation{
				ID:            model.RelationIDMultiHop,
				FromID:        from,
				ToID:          to,
				DistanceKM:    cur.km,
				TravelMinutes: cur.minutes,
			}, true
		}
		if cur.hops == maxHops {
			continue
		}
		for _, e := range o.adj[cur.loc] {
			next := pqItem{
				loc:     e.to,
				minutes: cur.minutes + e.minutes,
				km:      cur.km + e.km,
				hops:    cur.hops + 1,
			}
			if seen, ok := best[e.to]; ok && seen <= next.minutes {
				continue
			}
			best[e.to] = next.minutes
			heap.Push(pq, next)
		}
	}
	return model.Relation{}, false
}
