package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/truckwise/fleetopt/pkg/api"
	"github.com/truckwise/fleetopt/pkg/telemetry"
	"github.com/truckwise/fleetopt/pkg/version"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the optimizer over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
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

		srv := &http.Server{
			Addr:              listenAddr,
			Handler:           api.New(src, cfg, log).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("http server listening", "addr", listenAddr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "Listen address")
}
