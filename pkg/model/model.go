// Package model defines the domain entities shared by the placement and
// assignment engines: locations, relations, vehicles, routes, and the mutable
// per-vehicle simulation state.
package model

import (
	"errors"
	"sort"
	"time"
)

// Lifetime-cap lease detection threshold and the synthetic annual allowance
// applied to such contracts.
const (
	LifetimeLimitThresholdKM = 200_000
	SyntheticAnnualLimitKM   = 150_000
)

// ErrInvariant signals that a vehicle state invariant was violated after a
// driver step. It is fatal: the run aborts and the error propagates.
var ErrInvariant = errors.New("vehicle state invariant violated")

// ErrInvalidInput signals malformed input data (bad route, missing foreign
// key). The run aborts before any state mutation.
var ErrInvalidInput = errors.New("invalid input data")

// Location is a depot or customer site. Immutable after load.
type Location struct {
	ID    int64
	Name  string
	Lat   float64
	Lon   float64
	IsHub bool
}

// Relation is a directed edge between two locations. The oracle treats it as
// bidirectional with identical weights unless both directions are loaded.
//
// TravelMinutes is stored in minutes; conversion to hours happens only at
// cost-computation boundaries.
type Relation struct {
	ID            int64
	FromID        int64
	ToID          int64
	DistanceKM    float64
	TravelMinutes float64
}

// Synthetic relation IDs produced by the oracle.
const (
	RelationIDSameLocation int64 = 0
	RelationIDMultiHop     int64 = -1
)

// IsZero reports whether the relation is the same-location sentinel.
func (r Relation) IsZero() bool {
	return r.DistanceKM == 0 && r.TravelMinutes == 0
}

// Segment is one leg of a route.
type Segment struct {
	ID         int64
	RouteID    int64
	Seq        int
	StartLocID int64
	EndLocID   int64
	Start      time.Time
	End        time.Time
	RelationID int64
}

// Route is an atomic delivery: fixed start/end times, total distance, and an
// ordered segment list. Routes are never split across vehicles.
type Route struct {
	ID         int64
	Start      time.Time
	End        time.Time
	DistanceKM float64
	Segments   []Segment
}

// StartLocationID returns the first segment's start location, or 0 if the
// route has no segments.
func (r *Route) StartLocationID() int64 {
	if len(r.Segments) == 0 {
		return 0
	}
	return r.Segments[0].StartLocID
}

// EndLocationID returns the last segment's end location, or 0 if the route
// has no segments.
func (r *Route) EndLocationID() int64 {
	if len(r.Segments) == 0 {
		return 0
	}
	return r.Segments[len(r.Segments)-1].EndLocID
}

// IsLoop reports whether the route starts and ends at the same location.
func (r *Route) IsLoop() bool {
	s := r.StartLocationID()
	return s != 0 && s == r.EndLocationID()
}

// SortRoutes orders routes by (start time, start location id). The driver
// depends on this ordering for deterministic output.
func SortRoutes(routes []*Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		if !routes[i].Start.Equal(routes[j].Start) {
			return routes[i].Start.Before(routes[j].Start)
		}
		return routes[i].StartLocationID() < routes[j].StartLocationID()
	})
}

// Vehicle is the static contract data for one truck. CurrentLocationID 0
// means the vehicle has no position yet (placement decides one).
type Vehicle struct {
	ID                int64
	Registration      string
	Brand             string
	ServiceIntervalKM int64
	LeasingStartKM    int64
	LeasingLimitKM    int64
	LeaseStart        time.Time
	LeaseEnd          time.Time
	CurrentOdometerKM int64
	CurrentLocationID int64
}

// HasLifetimeLimit reports whether LeasingLimitKM is a lifetime cap rather
// than an annual allowance.
func (v *Vehicle) HasLifetimeLimit() bool {
	return v.LeasingLimitKM > LifetimeLimitThresholdKM
}

// AnnualLimitKM returns the annual kilometre allowance. Lifetime-cap leases
// get the synthetic default.
func (v *Vehicle) AnnualLimitKM() int64 {
	if v.HasLifetimeLimit() {
		return SyntheticAnnualLimitKM
	}
	return v.LeasingLimitKM
}

// LifetimeCapKM returns the total contract cap, or 0 when the limit is
// annual-only.
func (v *Vehicle) LifetimeCapKM() int64 {
	if v.HasLifetimeLimit() {
		return v.LeasingLimitKM
	}
	return 0
}

// Relocation is one policy-counted non-revenue move.
type Relocation struct {
	At     time.Time
	FromID int64
	ToID   int64
}

// VehicleState is the mutable simulation state for one vehicle. It is owned
// by a single driver run and mutated exactly once per accepted assignment.
type VehicleState struct {
	VehicleID         int64
	CurrentLocationID int64
	OdometerKM        int64
	KMSinceService    int64
	KMThisLeaseYear   int64
	LifetimeKM        int64
	AvailableFrom     time.Time
	LastRouteID       int64

	Relocations []Relocation

	AnnualLimitKM     int64
	ServiceIntervalKM int64
	LifetimeCapKM     int64 // 0 = no lifetime cap
	LeaseStart        time.Time
	LeaseEnd          time.Time
	LeaseCycle        int

	ServicesDone        int
	ServiceCostAccrued  float64
	RoutesAssigned      int
	TotalRelocations    int
	TotalRelocationCost float64
	TotalOverageCost    float64
}

// RecentRelocations counts relocations at or after now-period. Entries older
// than the window are ignored; pruning the slice itself happens on mutation.
func (s *VehicleState) RecentRelocations(now time.Time, period time.Duration) int {
	cutoff := now.Add(-period)
	n := 0
	for _, r := range s.Relocations {
		if !r.At.Before(cutoff) {
			n++
		}
	}
	return n
}

// PruneRelocations drops window entries older than now-period.
func (s *VehicleState) PruneRelocations(now time.Time, period time.Duration) {
	cutoff := now.Add(-period)
	kept := s.Relocations[:0]
	for _, r := range s.Relocations {
		if !r.At.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	s.Relocations = kept
}

// Clone returns a deep copy of the state.
func (s *VehicleState) Clone() *VehicleState {
	c := *s
	c.Relocations = append([]Relocation(nil), s.Relocations...)
	return &c
}

// Reason classifies why a (vehicle, route) pair was rejected.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonInvalidRoute
	ReasonNotAvailable
	ReasonNoPath
	ReasonCannotReach
	ReasonSwapExceeded
	ReasonWouldExceedContract
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "ok"
	case ReasonInvalidRoute:
		return "invalid_route"
	case ReasonNotAvailable:
		return "not_available"
	case ReasonNoPath:
		return "no_path"
	case ReasonCannotReach:
		return "cannot_reach"
	case ReasonSwapExceeded:
		return "swap_exceeded"
	case ReasonWouldExceedContract:
		return "would_exceed_contract"
	default:
		return "unknown"
	}
}

// Assignment records one accepted (vehicle, route) pairing.
type Assignment struct {
	RouteID   int64
	VehicleID int64
	Date      time.Time

	RouteDistanceKM float64
	StartLocationID int64
	EndLocationID   int64

	OdometerBefore int64
	OdometerAfter  int64
	AnnualKMBefore int64
	AnnualKMAfter  int64

	RequiresRelocation bool
	RequiresService    bool
	SwapRelaxed        bool

	Cost              float64
	RelocationFromID  int64
	RelocationToID    int64
	RelocationKM      float64
	RelocationMinutes float64
	OverageKM         int64
	ChainScore        float64
}

// PlacementQuality summarizes how well a placement covers demand.
type PlacementQuality struct {
	TotalVehicles           int
	LocationsUsed           int
	MaxConcentration        float64
	DemandCoverage          float64
	DemandSatisfaction      float64
	EstimatedRelocationCost float64
	Distribution            map[int64]int
	RoutesAnalyzed          int
	Strategy                string
}

// PlacementResult is the placement engine output: initial location per
// vehicle plus a quality report.
type PlacementResult struct {
	Placements map[int64]int64 // vehicle id -> location id
	Quality    PlacementQuality
}

// AssignmentResult is the driver output.
type AssignmentResult struct {
	Assignments []Assignment
	Unassigned  []int64 // route ids with no candidate under any relaxation
	States      map[int64]*VehicleState

	TotalCost           float64
	TotalRelocationCost float64
	TotalOverageCost    float64
	TotalServiceCost    float64
	RoutesAssigned      int
	RoutesUnassigned    int

	// Incomplete is set when the run was cancelled; the partial result is
	// still internally consistent.
	Incomplete bool
}
