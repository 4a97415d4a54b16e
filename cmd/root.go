// Package cmd defines and implements the CLI commands for the productdedup executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/app"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/config"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject services.
var newApp = app.New

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	cfgFile string
	envFile string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "productdedup",
		Short: "Deduplicates scraped product records.",
		Long: `productdedup collapses product records that describe the same item on the
same page into one record, filling gaps from the duplicates it removes.
Records are grouped by page URL plus a normalized description prefix.`,
		SilenceUsage: true,

		// Loads config, builds the logger and services, and stores them in
		// the context for the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(opts.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := applyOverrides(cmd, &cfg); err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, err := resolveApp(cmd.Context()); err == nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML); DEDUP_* environment variables override it")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before config; defaults to ./.env when present")
	cmd.PersistentFlags().String("input", "", "input location, overrides input.uri")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newProfileCmd())
	return cmd
}

// loadEnvFile exports variables from a dotenv file without overriding ones
// already set. An explicit path must exist; the ./.env fallback is optional.
func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// applyOverrides copies explicitly set flags over the loaded config.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("input") {
		v, _ := flags.GetString("input")
		cfg.Input.URI = v
	}
	if f := flags.Lookup("output"); f != nil && f.Changed {
		v, _ := flags.GetStringSlice("output")
		cfg.Output.URIs = v
	}
	if f := flags.Lookup("workers"); f != nil && f.Changed {
		v, _ := flags.GetInt("workers")
		cfg.Dedup.Workers = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "productdedup: %v\n", err)
		os.Exit(1)
	}
}
