// Package events defines the observability sink the engines report through.
package events

import (
	"log/slog"
	"time"

	"github.com/truckwise/fleetopt/pkg/model"
)

// Progress is a periodic driver heartbeat.
type Progress struct {
	RoutesProcessed int
	RoutesTotal     int
	Assigned        int
	Unassigned      int
	RunningCost     float64
	Elapsed         time.Duration
}

// RunSummary is emitted once when a run finishes.
type RunSummary struct {
	RoutesAssigned   int
	RoutesUnassigned int
	TotalCost        float64
	RelocationCost   float64
	OverageCost      float64
	ServiceCost      float64
	ActiveVehicles   int
	Elapsed          time.Duration
	Incomplete       bool
}

// Sink receives structured events from the placement and assignment engines.
// Implementations must be cheap; the driver calls Progress on the hot path.
type Sink interface {
	Progress(p Progress)
	UnassignedRoute(routeID int64, reason model.Reason)
	RunCompleted(s RunSummary)
}

// SlogSink writes events through a structured logger.
type SlogSink struct {
	Log *slog.Logger
}

// NewSlogSink wraps log; nil falls back to slog.Default.
func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{Log: log}
}

func (s *SlogSink) Progress(p Progress) {
	s.Log.Info("progress",
		"processed", p.RoutesProcessed,
		"total", p.RoutesTotal,
		"assigned", p.Assigned,
		"unassigned", p.Unassigned,
		"running_cost", p.RunningCost,
		"elapsed", p.Elapsed.Round(time.Millisecond).String(),
	)
}

func (s *SlogSink) UnassignedRoute(routeID int64, reason model.Reason) {
	s.Log.Warn("unassigned_route", "route_id", routeID, "reason", reason.String())
}

func (s *SlogSink) RunCompleted(sum RunSummary) {
	s.Log.Info("run_completed",
		"assigned", sum.RoutesAssigned,
		"unassigned", sum.RoutesUnassigned,
		"total_cost", sum.TotalCost,
		"relocation_cost", sum.RelocationCost,
		"overage_cost", sum.OverageCost,
		"service_cost", sum.ServiceCost,
		"active_vehicles", sum.ActiveVehicles,
		"elapsed", sum.Elapsed.Round(time.Millisecond).String(),
		"incomplete", sum.Incomplete,
	)
}

// NopSink discards everything. Used in tests.
type NopSink struct{}

func (NopSink) Progress(Progress)                   {}
func (NopSink) UnassignedRoute(int64, model.Reason) {}
func (NopSink) RunCompleted(RunSummary)             {}
