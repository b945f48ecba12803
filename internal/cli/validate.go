package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"edit-text-server/internal/app"
	"edit-text-server/internal/editor"
	"edit-text-server/internal/pathsec"
	"edit-text-server/internal/validator"
)

// ErrRejected is returned by validate when at least one file fails.
var ErrRejected = errors.New("files rejected")

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file...]",
		Short: "Run the configured validator over files under DIR",
		Long: `Runs the configured validator over the named files, given relative to DIR,
as if each were being saved with its current content. With no arguments every
file the listing shows is checked. Nothing is written.

Exits non-zero when any file is rejected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.setup(true); err != nil {
				return err
			}
			return runValidate(cmd, opts, args)
		},
	}
}

func runValidate(cmd *cobra.Command, opts *rootOptions, names []string) error {
	ctx := cmd.Context()
	cfg := *opts.cfg
	// One-shot run; nothing to hot reload.
	cfg.ValidatorReload = false

	v, closeFn, err := app.BuildValidator(&cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if len(names) == 0 {
		svc, err := editor.NewService(editor.Options{Root: cfg.Dir, Exclude: cfg.ListExclude, TextOnly: cfg.ListTextOnly})
		if err != nil {
			return err
		}
		entries, err := svc.List(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			names = append(names, e.Name)
		}
	}

	out := cmd.OutOrStdout()
	resolver := pathsec.NewResolver()
	rejected := 0
	for _, name := range names {
		ref, err := resolver.Resolve(cfg.Dir, name)
		if err != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", name, err)
			rejected++
			continue
		}
		content, err := os.ReadFile(ref.Path)
		if err != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", ref.Name, err)
			rejected++
			continue
		}

		if err := v.Validate(ctx, ref.Name, string(content), cfg.Dir); err != nil {
			msg, ok := validator.Message(err)
			if !ok {
				msg = err.Error()
			}
			fmt.Fprintf(out, "FAIL %s: %s\n", ref.Name, msg)
			rejected++
			continue
		}
		fmt.Fprintf(out, "ok   %s\n", ref.Name)
	}

	if rejected > 0 {
		return fmt.Errorf("%w: %d of %d", ErrRejected, rejected, len(names))
	}
	return nil
}
