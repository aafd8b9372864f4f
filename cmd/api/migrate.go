package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-praktikum-api/internal/config"
	"github.com/noah-isme/gema-praktikum-api/internal/database"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("migrate failed: %w", err)
			}

			logger.Info().Int("models", len(database.Models())).Msg("schema migrated")
			return nil
		},
	}
}
