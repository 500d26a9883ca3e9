package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/mailcore/internal/deletion"
	"github.com/wesm/mailcore/internal/liveness"
	"github.com/wesm/mailcore/internal/store"
)

var (
	deleteDryRun   bool
	deleteThrottle bool
	deleteReport   bool

	purgeDays     int
	purgeLimit    int
	purgeDryRun   bool
	purgeThrottle bool
)

// newThrottle builds the deletion throttle from config. The maintenance
// window and health checks apply only when enabled by config or flag; the
// configured batch rate cap always applies.
func newThrottle(enabled bool) *deletion.Throttle {
	t := cfg.Throttle
	var health deletion.HealthChecker
	if t.HealthBaseURL != "" {
		health = deletion.NewHTTPHealthChecker(t.HealthBaseURL, nil)
	}
	return deletion.NewThrottle(deletion.ThrottleConfig{
		Enabled: enabled || t.Enabled,
		Window: deletion.Window{
			StartHour:     t.MaintenanceStartHour,
			DurationHours: t.MaintenanceDurationHours,
		},
		Pause:            t.Pause(),
		BatchesPerSecond: cfg.Deletion.BatchesPerSecond,
	}, health).WithLogger(logger)
}

// runDeleteAccounts deletes every account marked for deletion and
// returns the run's report, saved to the reports directory when save is
// set.
func runDeleteAccounts(ctx context.Context, st *store.Store, opts deletion.Options, throttle bool, save bool) (*deletion.Report, error) {
	engine := deletion.NewEngine(st, liveness.NewStoreTracker(st)).
		WithThrottle(newThrottle(throttle)).
		WithChunkSize(cfg.Deletion.ChunkSize).
		WithBatchLimit(cfg.Deletion.BatchLimit).
		WithLogger(logger)

	targets, err := engine.AccountsToDelete(ctx)
	if err != nil {
		return nil, fmt.Errorf("find accounts to delete: %w", err)
	}
	logger.Info("accounts marked for deletion", "count", len(targets), "dry_run", opts.DryRun)

	rep := engine.DeleteMarkedAccounts(ctx, targets, opts)
	if save {
		path, err := rep.Save(cfg.ReportsDir())
		if err != nil {
			return rep, fmt.Errorf("save report: %w", err)
		}
		logger.Info("saved deletion report", "path", path)
	}
	return rep, ctx.Err()
}

func runPurgeTransactions(ctx context.Context, st *store.Store, opts deletion.PurgeOptions, throttle bool) (int64, error) {
	return deletion.NewPurger(st, newThrottle(throttle)).
		WithLogger(logger).
		PurgeTransactions(ctx, opts)
}

var deleteAccountsCmd = &cobra.Command{
	Use:   "delete-accounts",
	Short: "Delete the data of accounts marked for deletion",
	Long: `Delete every row owned by accounts that are marked deleted and no
longer syncing, then the accounts themselves.

Tables are deleted in bounded batches. With --throttle, each batch waits
while database health checks fail or during the maintenance window.
A failure in one account is logged and the run moves on; rerunning
resumes where it stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		rep, err := runDeleteAccounts(cmd.Context(), st, deletion.Options{DryRun: deleteDryRun}, deleteThrottle, deleteReport)
		if rep != nil {
			fmt.Fprint(cmd.OutOrStdout(), rep.FormatSummary())
		}
		return err
	},
}

var purgeTransactionsCmd = &cobra.Command{
	Use:   "purge-transactions",
	Short: "Delete old transaction log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		opts := deletion.PurgeOptions{Days: cfg.Purge.RetentionDays, Limit: cfg.Purge.BatchSize, DryRun: purgeDryRun}
		if purgeDays > 0 {
			opts.Days = purgeDays
		}
		if purgeLimit > 0 {
			opts.Limit = purgeLimit
		}

		start := time.Now()
		n, err := runPurgeTransactions(cmd.Context(), st, opts, purgeThrottle)
		if err != nil {
			return err
		}
		verb := "Deleted"
		if purgeDryRun {
			verb = "Would delete"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d transactions in %s\n", verb, n, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var listDeletionsCmd = &cobra.Command{
	Use:   "list-deletions",
	Short: "List saved deletion reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		reports, err := deletion.ListReports(cfg.ReportsDir())
		if err != nil {
			return fmt.Errorf("list reports: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(reports) == 0 {
			fmt.Fprintln(out, "No deletion reports found.")
			return nil
		}
		fmt.Fprintf(out, "%-36s  %-7s  %7s  %6s  %7s\n", "ID", "Mode", "Deleted", "Failed", "Skipped")
		for _, r := range reports {
			mode := "live"
			if r.DryRun {
				mode = "dry-run"
			}
			fmt.Fprintf(out, "%-36s  %-7s  %7d  %6d  %7d\n", r.ID, mode, r.Deleted(), r.Failed(), len(r.Skipped))
		}
		return nil
	},
}

func init() {
	deleteAccountsCmd.Flags().BoolVar(&deleteDryRun, "dry-run", false, "count and log what would be deleted without deleting")
	deleteAccountsCmd.Flags().BoolVar(&deleteThrottle, "throttle", false, "pause while the database is unhealthy or in the maintenance window")
	deleteAccountsCmd.Flags().BoolVar(&deleteReport, "report", true, "save a JSON report of the run")

	purgeTransactionsCmd.Flags().IntVar(&purgeDays, "days", 0, "keep transactions newer than this many days (default from config)")
	purgeTransactionsCmd.Flags().IntVar(&purgeLimit, "limit", 0, "rows per batch (default from config)")
	purgeTransactionsCmd.Flags().BoolVar(&purgeDryRun, "dry-run", false, "count what would be deleted without deleting")
	purgeTransactionsCmd.Flags().BoolVar(&purgeThrottle, "throttle", false, "pause while the database is unhealthy or in the maintenance window")

	rootCmd.AddCommand(deleteAccountsCmd)
	rootCmd.AddCommand(purgeTransactionsCmd)
	rootCmd.AddCommand(listDeletionsCmd)
}
