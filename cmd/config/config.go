// Package config provides the config command for inspecting and writing
// settings files.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/clipscan/internal/conf"
)

// Command creates the config command and its subcommands.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(initCommand(), showCommand())
	return cmd
}

func initCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the effective settings to a config file",
		Long: `Write the settings in effect, after defaults, config file, environment and
flags are merged, to path. Without a path the per-user config file is written.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := targetPath(args)
			if err != nil {
				return err
			}
			return writeSettings(cmd, path, conf.GetSettings(), force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings and the file they were read from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path := viper.ConfigFileUsed(); path != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "# read from %s\n", path)
			}
			return conf.WriteYAML(cmd.OutOrStdout(), conf.GetSettings())
		},
	}
}

func targetPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return conf.UserConfigPath()
}

func writeSettings(cmd *cobra.Command, path string, settings *conf.Settings, force bool) error {
	if settings == nil {
		return fmt.Errorf("settings not loaded")
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	if err := conf.SaveYAMLConfig(path, settings); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}
