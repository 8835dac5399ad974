package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/clipscan/internal/buildinfo"
)

// Command creates the version command.
func Command(build buildinfo.BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), describe(build))
			return err
		},
	}
}

func describe(build buildinfo.BuildInfo) string {
	if s, ok := build.(fmt.Stringer); ok {
		return s.String()
	}
	return "clipscan " + build.GetVersion() + " (built " + build.GetBuildDate() + ")"
}
