package main

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lifthrasiir/forkchat/internal/database"
)

func NewVacuumCommand() *cobra.Command {
	var full bool
	var pages int

	cmd := &cobra.Command{
		Use:   "vacuum",
		Short: "Reclaim unused space in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, _, err := loadConfig(cmd.Flags())
			if err != nil {
				return errors.WithMessage(err, "could not load configuration")
			}

			db, err := openDatabase(context.Background(), config)
			if err != nil {
				return errors.WithMessage(err, "could not open database")
			}
			defer db.Close()

			if full {
				pages = 0
			} else if pages <= 0 {
				return errors.Errorf("--pages must be positive, got %d", pages)
			}
			if err := database.PerformVacuum(db, pages); err != nil {
				return errors.WithMessage(err, "vacuum failed")
			}
			log.WithField("full", full).Info("Vacuum finished")
			return nil
		},
	}

	bindStorageFlags(cmd.Flags())
	cmd.Flags().BoolVar(&full, "full", false, "Rebuild the whole database file instead of an incremental vacuum")
	cmd.Flags().IntVar(&pages, "pages", 1000, "Number of free pages to release in an incremental vacuum")
	return cmd
}
