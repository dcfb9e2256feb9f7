package main

import (
	"github.com/spf13/cobra"

	"review_pipeline/internal/app/db"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply database migrations. With --down every migration is rolled back and
all pipeline tables are dropped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		if migrateDown {
			log.Warn("rolling back all migrations")
			return db.DropAll(cmd.Context(), cfg.Database.DSN(), log)
		}
		return db.RunMigrations(cmd.Context(), cfg.Database.DSN(), log)
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back all migrations")
	rootCmd.AddCommand(migrateCmd)
}
