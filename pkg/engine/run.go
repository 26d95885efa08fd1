package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/truckwise/fleetopt/pkg/config"
	"github.com/truckwise/fleetopt/pkg/events"
	"github.com/truckwise/fleetopt/pkg/model"
	"github.com/truckwise/fleetopt/pkg/oracle"
	"github.com/truckwise/fleetopt/pkg/placement"
	"github.com/truckwise/fleetopt/pkg/store"
)

// Mode selects what an orchestrated run does.
type Mode string

const (
	ModePlacement  Mode = "placement"
	ModeAssignment Mode = "assignment"
	ModeFull       Mode = "run"
)

// Outcome is everything one orchestrated run produced.
type Outcome struct {
	RunID       int64
	Mode        Mode
	Stats       store.RunStats
	Placement   *model.PlacementResult
	Assignment  *model.AssignmentResult
	OracleStats oracle.Stats
	Elapsed     time.Duration
}

// Orchestrator loads a dataset, runs placement and/or assignment, and
// persists the result. Every Execute call builds a fresh oracle and state
// map, so concurrent calls never share mutable state.
type Orchestrator struct {
	Source store.Source
	Config *config.Config
	Logger *slog.Logger
	Sink   events.Sink
	Tracer trace.Tracer

	// WriteBackLocations persists terminal vehicle positions after a
	// successful assignment.
	WriteBackLocations bool
}

// NewOrchestrator wires an orchestrator with defaults.
func NewOrchestrator(src store.Source, cfg *config.Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		Source: src,
		Config: cfg,
		Logger: log,
		Sink:   events.NewSlogSink(log),
		Tracer: otel.Tracer("fleetopt/engine"),
	}
}

// Execute runs one optimisation in the given mode.
func (o *Orchestrator) Execute(ctx context.Context, mode Mode) (out *Outcome, err error) {
	ctx, span := o.Tracer.Start(ctx, "Orchestrator.Execute",
		trace.WithAttributes(attribute.String("run.mode", string(mode))))
	defer span.End()
	defer o.recoverPanic(ctx, span, &err)

	started := time.Now()

	ds, err := o.Source.LoadAll(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "load failed")
		return nil, fmt.Errorf("loading dataset: %w", err)
	}
	o.Logger.Info("dataset loaded",
		"vehicles", len(ds.Vehicles),
		"locations", len(ds.Locations),
		"relations", len(ds.Relations),
		"routes", len(ds.Routes),
	)

	cfgJSON, err := json.Marshal(o.Config)
	if err != nil {
		return nil, err
	}
	runID, err := o.Source.StartRun(ctx, cfgJSON)
	if err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}
	span.SetAttributes(attribute.Int64("run.id", runID))

	out = &Outcome{RunID: runID, Mode: mode}
	ora := oracle.New(ds.Relations, o.Config.Performance.UsePathfinding, o.Config.Performance.UseRelationCache)

	defer func() {
		out.Elapsed = time.Since(started)
		out.Stats.RuntimeSeconds = out.Elapsed.Seconds()
		out.OracleStats = ora.Stats()
		if cerr := o.Source.CompleteRun(ctx, runID, out.Stats, err); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var placements map[int64]int64
	if mode == ModePlacement || mode == ModeFull {
		eng := placement.New(o.Config, ora, o.Logger)
		out.Placement, err = eng.Place(ds.Vehicles, ds.Locations, ds.Routes)
		if err != nil {
			span.SetStatus(codes.Error, "placement failed")
			return out, err
		}
		placements = out.Placement.Placements
		if err = o.Source.SavePlacement(ctx, runID, placements); err != nil {
			span.SetStatus(codes.Error, "persist failed")
			return out, fmt.Errorf("saving placement: %w", err)
		}
		if mode == ModePlacement && o.WriteBackLocations {
			if err = o.Source.UpdateVehicleLocations(ctx, placements); err != nil {
				return out, fmt.Errorf("writing back locations: %w", err)
			}
		}
	}

	if mode == ModeAssignment || mode == ModeFull {
		drv := New(o.Config, ora, WithSink(o.Sink), WithLogger(o.Logger))
		out.Assignment, err = drv.Run(ctx, ds.Vehicles, ds.Routes, placements)
		if err != nil {
			span.SetStatus(codes.Error, "assignment failed")
			return out, err
		}
		res := out.Assignment
		out.Stats = store.RunStats{
			RoutesAssigned:   res.RoutesAssigned,
			RoutesUnassigned: res.RoutesUnassigned,
			TotalCost:        res.TotalCost,
			RelocationCost:   res.TotalRelocationCost,
			OverageCost:      res.TotalOverageCost,
			ServiceCost:      res.TotalServiceCost,
			ActiveVehicles:   activeVehicles(res.States),
			Incomplete:       res.Incomplete,
		}

		if err = o.Source.SaveResults(ctx, runID, res.Assignments, res.States); err != nil {
			span.SetStatus(codes.Error, "persist failed")
			return out, fmt.Errorf("saving results: %w", err)
		}
		if o.WriteBackLocations && !res.Incomplete {
			locs := make(map[int64]int64, len(res.States))
			for id, st := range res.States {
				if st.RoutesAssigned > 0 {
					locs[id] = st.CurrentLocationID
				}
			}
			if err = o.Source.UpdateVehicleLocations(ctx, locs); err != nil {
				return out, fmt.Errorf("writing back locations: %w", err)
			}
		}
	}

	span.SetAttributes(
		attribute.Int("run.assigned", out.Stats.RoutesAssigned),
		attribute.Int("run.unassigned", out.Stats.RoutesUnassigned),
		attribute.Float64("run.total_cost", out.Stats.TotalCost),
	)
	return out, nil
}

// recoverPanic converts a panic inside the run into a recorded span error and
// a normal error return.
func (o *Orchestrator) recoverPanic(ctx context.Context, span trace.Span, err *error) {
	if r := recover(); r != nil {
		span.RecordError(fmt.Errorf("%v", r), trace.WithStackTrace(true))
		span.SetStatus(codes.Error, "panic")
		o.Logger.Error("run panicked", "panic", r)
		*err = fmt.Errorf("run panicked: %v", r)
	}
}

func activeVehicles(states map[int64]*model.VehicleState) int {
	n := 0
	for _, st := range states {
		if st.RoutesAssigned > 0 {
			n++
		}
	}
	return n
}
