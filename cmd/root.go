// Package cmd assembles the command line interface
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cybershakti/deepfake-go/cmd/analyze"
	"github.com/cybershakti/deepfake-go/cmd/feedback"
	"github.com/cybershakti/deepfake-go/cmd/prune"
	"github.com/cybershakti/deepfake-go/cmd/retrain"
	"github.com/cybershakti/deepfake-go/cmd/rollback"
	"github.com/cybershakti/deepfake-go/cmd/serve"
	"github.com/cybershakti/deepfake-go/cmd/stats"
	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/logger"
	"github.com/cybershakti/deepfake-go/internal/telemetry"
)

const telemetryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command. settings is filled in from the config
// file, environment and flags before any subcommand runs.
func RootCommand(settings *conf.Settings, version string) *cobra.Command {
	var (
		configFile string
		central    *logger.CentralLogger
	)

	rootCmd := &cobra.Command{
		Use:           "deepfake",
		Short:         "Deepfake detection service with online learning",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		analyze.Command(settings),
		feedback.Command(settings),
		retrain.Command(settings),
		stats.Command(settings),
		prune.Command(settings),
		rollback.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded

		central, err = logger.NewCentralLogger(settings.LoggingConfig())
		if err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logger.SetGlobal(central)

		if err := telemetry.InitSentry(settings, version); err != nil {
			// reporting is optional, the service runs without it
			logger.Global().Module("main").Warn("error telemetry disabled", logger.Error(err))
		}
		return nil
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		telemetry.Flush(telemetryFlushTimeout)
		if central != nil {
			_ = central.Close()
		}
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Path to config file (default: search ~/.config/deepfake-go and /etc/deepfake-go)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("data", "", "Directory for samples and model snapshots")

	if err := viper.BindPFlag("debug", flags.Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("storage.path", flags.Lookup("data")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
