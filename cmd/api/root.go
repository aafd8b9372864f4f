package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-praktikum-api/internal/config"
	"github.com/noah-isme/gema-praktikum-api/internal/database"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "praktikum",
		Short:        "GEMA praktikum grading and judge workflow API",
		SilenceUsage: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newRecapCommand())
	root.AddCommand(newSeedCommand())
	return root
}

func newLogger(cfg config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.AppEnv == "development" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", cfg.AppName).Logger()
}

func openDatabase(cfg config.Config) (*gorm.DB, error) {
	return database.ConnectPostgres(cfg.DatabaseURL)
}
