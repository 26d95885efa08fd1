package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/truckwise/fleetopt/pkg/config"
	"github.com/truckwise/fleetopt/pkg/store"
	"github.com/truckwise/fleetopt/pkg/version"
)

var (
	cfgFile      string
	dataDir      string
	dbPath       string
	outDir       string
	jsonLogs     bool
	verbose      bool
	otelEndpoint string
	writeBack    bool
)

var rootCmd = &cobra.Command{
	Use:   "fleetopt",
	Short: "Fleet placement and route assignment optimizer",
	Long: `fleetopt places a trucking fleet and assigns routes to vehicles,
minimising relocation, overage, and service cost under lease and swap
policies.`,
	Version: version.Current,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "CSV data directory")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides --data-dir)")
	rootCmd.PersistentFlags().StringVar(&outDir, "out", "", "Output directory for CSV results (defaults to --data-dir)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON logs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP HTTP endpoint for traces")
	rootCmd.PersistentFlags().BoolVar(&writeBack, "write-back", false, "Persist terminal vehicle locations after a run")

	viper.SetEnvPrefix("FLEETOPT")
	viper.AutomaticEnv()
	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("otel_endpoint", rootCmd.PersistentFlags().Lookup("otel-endpoint"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(placeCmd)
	rootCmd.AddCommand(assignCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(importCmd)
}

func initConfig() {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			candidate := filepath.Join(home, ".fleetopt.yaml")
			if _, err := os.Stat(candidate); err == nil {
				cfgFile = candidate
			}
		}
	}
	if dataDir == "" {
		dataDir = viper.GetString("data_dir")
	}
	if dbPath == "" {
		dbPath = viper.GetString("db")
	}
	if otelEndpoint == "" {
		otelEndpoint = viper.GetString("otel_endpoint")
	}
}

// newLogger builds the process logger and installs it as the default.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if jsonLogs {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// loadRunConfig resolves the run configuration from file or defaults.
func loadRunConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.Load(cfgFile)
	}
	return config.Default(), nil
}

// openSource picks the backend: SQLite when --db is set, otherwise CSV.
func openSource() (store.Source, error) {
	if dbPath != "" {
		return store.NewSQLiteSource(dbPath, store.DefaultPool)
	}
	if dataDir == "" {
		return nil, fmt.Errorf("either --db or --data-dir is required")
	}
	return store.NewCSVSource(dataDir, outDir)
}
