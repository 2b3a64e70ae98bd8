package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd *cobra.Command

func init() {
	rootCmd = &cobra.Command{
		Use:   "fallback-engine",
		Short: "Retry, dead-letter and Redis fallback jobs for bot notifications and payouts",
		Long: `fallback-engine keeps notifications and payouts from being lost when delivery
channels or Redis are unavailable.

Configuration is read from the environment (DATABASE_DSN, REDIS_URL, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// Execute runs the root command.
func Execute(version string) error {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)

	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
