package main

import (
	"errors"

	"github.com/spf13/cobra"

	"ragefit/pos/internal/logger"
	pgstore "ragefit/pos/internal/store/postgres"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}
			if err := pgstore.Migrate(a.cfg.DatabaseURL); err != nil {
				return err
			}
			logger.WithComponent("migrate").Info().Msg("schema is up to date")
			return nil
		},
	}
}
