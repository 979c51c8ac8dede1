package cmd

import (
	"github.com/spf13/cobra"

	"github.com/opensensor/lightnvr/internal/config"
	"github.com/opensensor/lightnvr/internal/database"
	"github.com/opensensor/lightnvr/internal/database/migrations"
	"github.com/opensensor/lightnvr/internal/observability"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending catalog migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := observability.NewLogger(cfg.Logging)

		db, err := database.Open(cfg.DatabasePath(), cfg.Database, logger, nil)
		if err != nil {
			return err
		}
		defer db.Close()

		migrator := migrations.NewMigrator(db.DB, logger)
		migrator.RegisterAll(migrations.AllMigrations())
		return migrator.Up(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
