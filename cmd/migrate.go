package cmd

import (
	"example.com/santekene/services/ledger/config"
	"example.com/santekene/services/ledger/internal/database"

	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  `Creates or updates the database schema for documents, audit entries, wallets and the job queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		db := connectDatabase(cfg)
		defer db.Close()

		log.Info("Running migrations...")
		if err := database.AutoMigrate(db); err != nil {
			return err
		}
		log.Info("Migrations complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
