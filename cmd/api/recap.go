package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-praktikum-api/internal/config"
	"github.com/noah-isme/gema-praktikum-api/internal/grading"
	"github.com/noah-isme/gema-praktikum-api/internal/models"
	"github.com/noah-isme/gema-praktikum-api/internal/repository"
	"github.com/noah-isme/gema-praktikum-api/internal/service"
)

func newRecapCommand() *cobra.Command {
	var term string

	cmd := &cobra.Command{
		Use:   "recap [praktikum-id]",
		Short: "Print a class recap, or a term overview with --term, as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && term == "" {
				return fmt.Errorf("either a praktikum id or --term is required")
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

			options := grading.DefaultOptions()
			options.PenalizeMissingSubmissions = cfg.PenalizeMissing
			recaps := service.NewRecapService(
				repository.NewPraktikumRepository(db),
				repository.NewSubmissionRepository(db),
				nil,
				0,
				options,
				logger,
			)

			var result interface{}
			if term != "" {
				parsed, err := models.ParseTerm(term)
				if err != nil {
					return err
				}
				result, err = recaps.TermOverview(cmd.Context(), parsed)
				if err != nil {
					return err
				}
			} else {
				id, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid praktikum id %q", args[0])
				}
				result, err = recaps.ClassRecap(cmd.Context(), uint(id))
				if err != nil {
					return err
				}
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		},
	}

	cmd.Flags().StringVar(&term, "term", "", "term as <year>/<ganjil|genap>")
	return cmd
}
