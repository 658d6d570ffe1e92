package main

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "leadline",
		Short: "Lead dispatch and caller-number rotation service",
		Long: `leadline hands call-center workers one lead at a time, picks the
caller number each outbound attempt is placed from, and keeps the
number pool healthy with daily resets and cooldowns.

Configuration is read from the environment (and a .env file when present).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newMaintenanceCmd(),
	)

	return root
}
