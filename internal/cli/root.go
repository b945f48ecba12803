// Package cli is the edit-text-server command line.
package cli

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"edit-text-server/internal/config"
	"edit-text-server/internal/logger"
	"edit-text-server/internal/sentryx"
)

var log = logger.WithComponent("CLI")

type rootOptions struct {
	envFiles []string
	cfg      *config.AppConfig
}

// NewRootCmd builds the command tree. Running the root without a subcommand
// serves the editor.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "edit-text-server",
		Short: "Browser based editor for the text files under one directory",
		Long: `edit-text-server lists the regular files under DIR and lets signed-in
users edit them in the browser. Saves can be checked by a JavaScript or Lua
validator before they reach the disk.

Configuration is read from the environment, after loading any .env files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(opts)
		},
	}
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")

	root.AddCommand(
		newServeCmd(opts),
		newValidateCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadEnv loads the dotenv files. Missing files are skipped; variables already
// set in the environment win.
func (o *rootOptions) loadEnv() error {
	for _, file := range o.envFiles {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Debug("No %s file found, using environment variables", file)
				continue
			}
			return err
		}
		log.Debug("Loaded %s", file)
	}
	return nil
}

// setup loads the environment and configuration, then installs the logger and
// error reporting. Offline commands skip the sign-in settings.
func (o *rootOptions) setup(offline bool) error {
	if err := o.loadEnv(); err != nil {
		return err
	}

	// Configure logging before config.Load so its validation errors use the
	// requested format.
	logger.Init(logger.Config{
		Output:   os.Stdout,
		MinLevel: logger.ParseLevel(os.Getenv("LOG_LEVEL")),
		UseColor: os.Getenv("LOG_COLOR") != "false",
		JSON:     os.Getenv("LOG_JSON") == "true",
	})

	load := config.Load
	if offline {
		load = config.LoadOffline
	}
	cfg, err := load()
	if err != nil {
		return err
	}
	o.cfg = cfg

	if err := sentryx.Init("edit-text-server", sentryx.Options{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Env,
		Release:     "edit-text-server@" + version,
	}); err != nil {
		log.Warn("Sentry init failed: %v", err)
	}
	return nil
}
