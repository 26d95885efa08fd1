package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/truckwise/fleetopt/pkg/store"
)

var importCmd = &cobra.Command{
	Use:   "import [files...]",
	Short: "Import CSV files into the SQLite database",
	Long: `Import reads each CSV file, detects which table it belongs to by
header overlap, and upserts its rows. Requires --db.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		if dbPath == "" {
			return fmt.Errorf("import requires --db")
		}
		src, err := store.NewSQLiteSource(dbPath, store.DefaultPool)
		if err != nil {
			return err
		}
		defer src.Close()

		for _, path := range args {
			table, n, err := src.ImportCSV(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("importing %s: %w", path, err)
			}
			log.Info("imported", "file", path, "table", table, "rows", n)
		}
		return nil
	},
}
