package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LeventeLantos/leadline/internal/config"
	"github.com/LeventeLantos/leadline/internal/maintenance"
)

func newMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run a number-pool or lock maintenance job once",
		Long: `Run one maintenance job against the configured database and
print how many rows it touched. Useful from an external scheduler when the
built-in cron is disabled.`,
	}

	cmd.AddCommand(
		newMaintenanceJobCmd("reset-daily", "Zero every caller number's daily counter", maintenance.JobResetDaily),
		newMaintenanceJobCmd("clear-cooldowns", "Clear cooldowns that have expired", maintenance.JobClearCooldowns),
		newMaintenanceJobCmd("sweep-locks", "Return stale lead locks to the queue", maintenance.JobSweepLocks),
	)
	return cmd
}

func newMaintenanceJobCmd(use, short, job string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAll()
			if err != nil {
				return err
			}
			config.InitLogger(cfg)

			a, err := buildApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.runner.Run(cmd.Context(), job)
			if err != nil {
				return fmt.Errorf("%s: %w", job, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows\n", job, n)
			return nil
		},
	}
}
