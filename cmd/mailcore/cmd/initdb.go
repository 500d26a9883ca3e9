package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the mailcore database with the required schema.

It is safe to run multiple times - tables are only created if they don't
already exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn := cfg.DatabaseDSN()
		logger.Info("initializing database", "dsn", dsn)

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
		logger.Info("database initialized successfully")

		stats, err := s.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Database: %s (%s)\n", dsn, s.Dialect())
		fmt.Fprintf(out, "  Namespaces: %d\n", stats.NamespaceCount)
		fmt.Fprintf(out, "  Threads:    %d\n", stats.ThreadCount)
		fmt.Fprintf(out, "  Messages:   %d\n", stats.MessageCount)
		fmt.Fprintf(out, "  Files:      %d\n", stats.BlockCount)
		fmt.Fprintf(out, "  Events:     %d\n", stats.EventCount)
		if stats.DatabaseSize > 0 {
			fmt.Fprintf(out, "  Size:       %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
