package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-praktikum-api/internal/config"
	"github.com/noah-isme/gema-praktikum-api/internal/database"
	"github.com/noah-isme/gema-praktikum-api/internal/dto"
	"github.com/noah-isme/gema-praktikum-api/internal/repository"
	"github.com/noah-isme/gema-praktikum-api/internal/service"
	"github.com/noah-isme/gema-praktikum-api/internal/utils"
)

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <section.json>",
		Short: "Import a praktikum section with its roster, assignments and test cases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var seed dto.SectionSeed
			if err := json.Unmarshal(raw, &seed); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

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

			seeder := service.NewSeedService(
				repository.NewPraktikumRepository(db),
				repository.NewStudentRepository(db),
				repository.NewAssignmentRepository(db),
				repository.NewProblemRepository(db),
				utils.NewValidator(),
				logger,
			)

			result, err := seeder.SeedSection(cmd.Context(), seed)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		},
	}
}
