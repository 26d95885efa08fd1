// Package config holds the runtime configuration for placement and assignment
// runs. A zero value is not usable; start from Default and override.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Assignment strategies.
const (
	StrategyGreedy              = "greedy"
	StrategyGreedyWithLookahead = "greedy_with_lookahead"
)

// Placement strategies.
const (
	PlacementCostMatrix    = "cost_matrix"
	PlacementProportional  = "proportional"
	PlacementCoverageFirst = "coverage_first"
)

// Costs are the monetary constants of the cost model. All amounts are in a
// single currency unit.
type Costs struct {
	RelocationBase    float64 `yaml:"relocation_base" json:"relocation_base"`
	RelocationPerKM   float64 `yaml:"relocation_per_km" json:"relocation_per_km"`
	RelocationPerHour float64 `yaml:"relocation_per_hour" json:"relocation_per_hour"`
	OveragePerKM      float64 `yaml:"overage_per_km" json:"overage_per_km"`
}

// ServicePolicy controls when a vehicle must be serviced and what it costs.
type ServicePolicy struct {
	ToleranceKM   int64   `yaml:"service_tolerance_km" json:"service_tolerance_km"`
	DurationHours float64 `yaml:"service_duration_hours" json:"service_duration_hours"`
	ServiceCost   float64 `yaml:"service_cost" json:"service_cost"`
	// ServicePenalty is the soft-cost surcharge for a candidate that would
	// need a service before the route. Not a feasibility gate.
	ServicePenalty float64 `yaml:"service_penalty" json:"service_penalty"`
}

// Duration returns the service downtime as a time.Duration.
func (p ServicePolicy) Duration() time.Duration {
	return time.Duration(p.DurationHours * float64(time.Hour))
}

// SwapPolicy caps how often a vehicle may be relocated.
type SwapPolicy struct {
	MaxSwapsPerPeriod int     `yaml:"max_swaps_per_period" json:"max_swaps_per_period"`
	SwapPeriodDays    int     `yaml:"swap_period_days" json:"swap_period_days"`
	ViolationPenalty  float64 `yaml:"swap_violation_penalty" json:"swap_violation_penalty"`
}

// Period returns the swap window as a time.Duration.
func (p SwapPolicy) Period() time.Duration {
	return time.Duration(p.SwapPeriodDays) * 24 * time.Hour
}

// Assignment controls the driver.
type Assignment struct {
	Strategy string `yaml:"strategy" json:"strategy"`
	// AssignmentLookaheadDays restricts which routes get assigned; 0 means
	// all pending routes. Routes beyond the window stay visible to the
	// chain scorer.
	AssignmentLookaheadDays int     `yaml:"assignment_lookahead_days" json:"assignment_lookahead_days"`
	LookAheadDays           int     `yaml:"look_ahead_days" json:"look_ahead_days"`
	ChainDepth              int     `yaml:"chain_depth" json:"chain_depth"`
	ChainWeight             float64 `yaml:"chain_weight" json:"chain_weight"`
	MaxLookaheadRoutes      int     `yaml:"max_lookahead_routes" json:"max_lookahead_routes"`
	UseChainOptimization    bool    `yaml:"use_chain_optimization" json:"use_chain_optimization"`
}

// Placement controls the initial-placement engine.
type Placement struct {
	Strategy               string  `yaml:"strategy" json:"strategy"`
	LookaheadDays          int     `yaml:"lookahead_days" json:"lookahead_days"`
	MaxConcentration       float64 `yaml:"max_concentration" json:"max_concentration"`
	MaxVehiclesPerLocation int     `yaml:"max_vehicles_per_location" json:"max_vehicles_per_location"`
}

// Performance holds runtime switches.
type Performance struct {
	ProgressReportInterval int  `yaml:"progress_report_interval" json:"progress_report_interval"`
	UsePathfinding         bool `yaml:"use_pathfinding" json:"use_pathfinding"`
	UseRelationCache       bool `yaml:"use_relation_cache" json:"use_relation_cache"`
}

// Config is the full run configuration.
type Config struct {
	Costs         Costs         `yaml:"costs" json:"costs"`
	ServicePolicy ServicePolicy `yaml:"service_policy" json:"service_policy"`
	SwapPolicy    SwapPolicy    `yaml:"swap_policy" json:"swap_policy"`
	Assignment    Assignment    `yaml:"assignment" json:"assignment"`
	Placement     Placement     `yaml:"placement" json:"placement"`
	Performance   Performance   `yaml:"performance" json:"performance"`
}

// Default returns the standard configuration.
func Default() *Config {
	return &Config{
		Costs: Costs{
			RelocationBase:    1000,
			RelocationPerKM:   1.0,
			RelocationPerHour: 150,
			OveragePerKM:      0.92,
		},
		ServicePolicy: ServicePolicy{
			ToleranceKM:    1000,
			DurationHours:  48,
			ServiceCost:    800,
			ServicePenalty: 500,
		},
		SwapPolicy: SwapPolicy{
			MaxSwapsPerPeriod: 1,
			SwapPeriodDays:    90,
			ViolationPenalty:  5000,
		},
		Assignment: Assignment{
			Strategy:                StrategyGreedyWithLookahead,
			AssignmentLookaheadDays: 0,
			LookAheadDays:           7,
			ChainDepth:              3,
			ChainWeight:             10,
			MaxLookaheadRoutes:      50,
			UseChainOptimization:    true,
		},
		Placement: Placement{
			Strategy:         PlacementCostMatrix,
			LookaheadDays:    14,
			MaxConcentration: 0.30,
		},
		Performance: Performance{
			ProgressReportInterval: 100,
			UsePathfinding:         true,
			UseRelationCache:       true,
		},
	}
}

// Load reads a YAML config file and applies it on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	switch c.Assignment.Strategy {
	case StrategyGreedy, StrategyGreedyWithLookahead:
	default:
		return fmt.Errorf("unknown assignment strategy %q", c.Assignment.Strategy)
	}
	switch c.Placement.Strategy {
	case PlacementCostMatrix, PlacementProportional, PlacementCoverageFirst:
	default:
		return fmt.Errorf("unknown placement strategy %q", c.Placement.Strategy)
	}
	if c.Costs.RelocationBase < 0 || c.Costs.RelocationPerKM < 0 ||
		c.Costs.RelocationPerHour < 0 || c.Costs.OveragePerKM < 0 {
		return fmt.Errorf("cost constants must be non-negative")
	}
	if c.ServicePolicy.DurationHours <= 0 {
		return fmt.Errorf("service_duration_hours must be positive, got %v", c.ServicePolicy.DurationHours)
	}
	if c.SwapPolicy.MaxSwapsPerPeriod < 0 || c.SwapPolicy.SwapPeriodDays <= 0 {
		return fmt.Errorf("invalid swap policy: max=%d period=%dd",
			c.SwapPolicy.MaxSwapsPerPeriod, c.SwapPolicy.SwapPeriodDays)
	}
	if c.Assignment.ChainDepth < 1 {
		return fmt.Errorf("chain_depth must be at least 1, got %d", c.Assignment.ChainDepth)
	}
	if c.Assignment.MaxLookaheadRoutes < 1 {
		return fmt.Errorf("max_lookahead_routes must be at least 1, got %d", c.Assignment.MaxLookaheadRoutes)
	}
	if c.Placement.MaxConcentration <= 0 || c.Placement.MaxConcentration > 1 {
		return fmt.Errorf("max_concentration must be in (0, 1], got %v", c.Placement.MaxConcentration)
	}
	if c.Performance.ProgressReportInterval < 1 {
		return fmt.Errorf("progress_report_interval must be at least 1, got %d", c.Performance.ProgressReportInterval)
	}
	return nil
}
