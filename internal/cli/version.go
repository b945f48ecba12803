package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build information, set by SetVersionInfo from ldflags in main.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

// SetVersionInfo records the build information printed by the version command.
func SetVersionInfo(v, commit, built string) {
	version, gitCommit, buildTime = v, commit, built
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "edit-text-server %s (commit %s, built %s)\n", version, gitCommit, buildTime)
		},
	}
}
