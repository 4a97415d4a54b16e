package cmd

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/report"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/storage/codec"
)

// newProfileCmd creates the 'profile' subcommand, a quick overview of the
// input dataset before deduplicating it.
func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Summarize the input dataset",
		Long: `Reports row and column counts, the value types seen per column and how
often each column is missing, then saves the first rows as a CSV sample.`,
		RunE: runProfileCommand,
	}
	cmd.Flags().Int("sample-rows", 0, "rows kept in the sample, overrides profile.sample_rows")
	return cmd
}

func runProfileCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config
	if cmd.Flags().Changed("sample-rows") {
		cfg.Profile.SampleRows, _ = cmd.Flags().GetInt("sample-rows")
	}
	logger := appInstance.Logger.Named("profile")

	runner, err := appInstance.Runner()
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}
	recs, err := runner.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	profile := report.BuildProfile(recs, cfg.Profile.SampleRows)
	logger.Info("dataset overview",
		zap.Int("total_rows", profile.TotalRows),
		zap.Int("total_columns", profile.TotalColumns),
	)
	for _, col := range profile.Columns {
		logger.Info("column", zap.String("name", col.Name), zap.Strings("types", col.Types))
	}
	for _, col := range profile.MissingColumns() {
		logger.Info("missing values",
			zap.String("name", col.Name),
			zap.Int("missing", col.Missing),
			zap.Float64("missing_percent", col.MissingPercent),
		)
	}

	if cfg.Profile.SampleCSV == "" || len(profile.Sample) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := codec.Encode(&buf, codec.FormatCSV, profile.Sample); err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	uri, err := appInstance.Blobs.Put(cmd.Context(), cfg.Profile.SampleCSV, codec.FormatCSV.ContentType(), &buf)
	if err != nil {
		return fmt.Errorf("save sample: %w", err)
	}
	logger.Info("saved sample", zap.String("uri", uri), zap.Int("rows", len(profile.Sample)))
	return nil
}
