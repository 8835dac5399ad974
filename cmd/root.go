package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/tphakala/clipscan/cmd/config"
	"github.com/tphakala/clipscan/cmd/predict"
	"github.com/tphakala/clipscan/cmd/version"
	"github.com/tphakala/clipscan/internal/buildinfo"
	"github.com/tphakala/clipscan/internal/conf"
	"github.com/tphakala/clipscan/internal/errors"
	"github.com/tphakala/clipscan/internal/logger"
)

const telemetryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "clipscan",
		Short:         "Clip-level audio classification",
		Long:          "clipscan splits recordings into fixed-length clips, preprocesses them and scores every clip with a classifier.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: search ., ~/.config/clipscan, /etc/clipscan)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	conf.MapFlag(rootCmd.PersistentFlags(), "debug", "debug")

	versionCmd := version.Command(build)
	rootCmd.AddCommand(
		predict.Command(),
		configcmd.Command(),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Version and help output need no settings
		if cmd.Name() == versionCmd.Name() || cmd.Name() == "help" {
			return nil
		}
		if configFile != "" {
			viper.SetConfigFile(configFile)
		}
		// Flags holds the persistent flags of every parent as well
		if err := conf.BindFlags(cmd.Flags()); err != nil {
			return err
		}

		settings, err := conf.Load()
		if err != nil {
			return err
		}
		return initialize(settings, build)
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		errors.FlushTelemetry(telemetryFlushTimeout)
		if err := logger.Global().Flush(); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "failed to flush logs:", err)
		}
	}

	return rootCmd
}

// initialize sets up logging and telemetry from the loaded settings.
func initialize(settings *conf.Settings, build *buildinfo.Context) error {
	centralLogger, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(centralLogger)

	if settings.Telemetry.Enabled {
		if err := errors.InitSentry(settings.Telemetry.DSN, build.GetVersion()); err != nil {
			logger.Global().Module("main").Warn("Telemetry disabled", logger.Error(err))
		}
	}
	return nil
}
