package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesm/mailcore/internal/config"
	"github.com/wesm/mailcore/internal/deletion"
	"github.com/wesm/mailcore/internal/scheduler"
	"github.com/wesm/mailcore/internal/store"
)

var scheduleThrottle bool

// maintenanceJobs returns the scheduled form of the maintenance commands.
func maintenanceJobs(st *store.Store, throttle bool) map[string]scheduler.JobFunc {
	return map[string]scheduler.JobFunc{
		config.JobDeleteAccounts: func(ctx context.Context) error {
			rep, err := runDeleteAccounts(ctx, st, deletion.Options{}, throttle, true)
			if err != nil {
				return err
			}
			if n := rep.Failed(); n > 0 {
				return fmt.Errorf("%d of %d namespaces failed to delete", n, len(rep.Namespaces))
			}
			return nil
		},
		config.JobPurgeTransactions: func(ctx context.Context) error {
			_, err := runPurgeTransactions(ctx, st, deletion.PurgeOptions{
				Days:  cfg.Purge.RetentionDays,
				Limit: cfg.Purge.BatchSize,
			}, throttle)
			return err
		},
	}
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the maintenance jobs on their cron schedules",
	Long: `Run delete-accounts and purge-transactions on the cron expressions in
the [schedule] section of config.toml until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		sched := scheduler.New().WithLogger(logger)
		n, errs := sched.AddJobsFromConfig(cfg, maintenanceJobs(st, scheduleThrottle))
		for _, err := range errs {
			logger.Error("invalid schedule", "error", err)
		}
		if n == 0 {
			return fmt.Errorf("no jobs scheduled: set [schedule] delete_accounts or purge_transactions in config.toml")
		}

		sched.Start()
		for _, s := range sched.Status() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-15s next %s\n", s.Name, s.Schedule, s.NextRun.Format("2006-01-02 15:04 MST"))
		}

		<-cmd.Context().Done()
		<-sched.Stop().Done()
		return nil
	},
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleThrottle, "throttle", false, "throttle scheduled jobs regardless of config")
	rootCmd.AddCommand(scheduleCmd)
}
