package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the pipeline tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		db, err := openMigratedDatabase(ctx, cfg)
		if err != nil {
			return err
		}

		log.WithField("driver", cfg.Database.Driver).Info("Migrations applied")

		return db.Stop()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
