package cli

import (
	"github.com/spf13/cobra"

	"edit-text-server/internal/app"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the editor (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(opts)
		},
	}
}

func runServe(opts *rootOptions) error {
	if err := opts.setup(false); err != nil {
		return err
	}
	return app.Run(opts.cfg)
}
