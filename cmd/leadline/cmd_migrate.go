package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LeventeLantos/leadline/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long: `Apply the schema for DATABASE_DRIVER and exit. Safe to run
repeatedly; serve applies the same statements on start-up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAll()
			if err != nil {
				return err
			}
			config.InitLogger(cfg)

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", store.Dialect)
			return nil
		},
	}
}
