package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newRunCmd creates the 'run' subcommand, which deduplicates the configured
// input and writes the results and summary.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Deduplicate product records",
		Long: `Loads the input records, merges records sharing a page URL and description
prefix, then writes the deduplicated records, a JSON summary, metrics and an
optional Pub/Sub notification.`,
		RunE: runDedupCommand,
	}
	cmd.Flags().StringSlice("output", nil, "output locations, override output.uris")
	cmd.Flags().Int("workers", 0, "groups merged concurrently, overrides dedup.workers")
	return cmd
}

func runDedupCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := appInstance.Runner()
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}
	if _, err := runner.Run(ctx); err != nil {
		return fmt.Errorf("run deduplication: %w", err)
	}
	return nil
}
