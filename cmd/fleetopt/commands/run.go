package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/truckwise/fleetopt/pkg/engine"
	"github.com/truckwise/fleetopt/pkg/telemetry"
	"github.com/truckwise/fleetopt/pkg/version"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Place the fleet, then assign all pending routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeMode(cmd.Context(), engine.ModeFull)
	},
}

var placeCmd = &cobra.Command{
	Use:   "place",
	Short: "Compute initial vehicle placement only",
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeMode(cmd.Context(), engine.ModePlacement)
	},
}

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign pending routes using current vehicle locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeMode(cmd.Context(), engine.ModeAssignment)
	},
}

// executeMode runs one optimisation and prints the styled summary. SIGINT
// cancels cooperatively; the partial result is still persisted.
func executeMode(parent context.Context, mode engine.Mode) error {
	log := newLogger()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, version.AppName, version.Current, otelEndpoint)
	if err != nil {
		log.Warn("telemetry init failed", "error", err)
	} else {
		defer shutdown(context.Background())
	}

	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}
	src, err := openSource()
	if err != nil {
		return err
	}
	defer src.Close()

	orch := engine.NewOrchestrator(src, cfg, log)
	orch.WriteBackLocations = writeBack

	out, err := orch.Execute(ctx, mode)
	if err != nil {
		return fmt.Errorf("%s failed: %w", mode, err)
	}
	fmt.Println(renderSummary(out))
	return nil
}
