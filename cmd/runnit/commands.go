package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/runnit/runnit/internal/shell"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <path>...",
		Short: "Compile and run plugin files, then draw their windows",
		Long: `Compile each plugin file (a virtual path such as /apps/clock.tsx), run it
and draw its window. Files that fail to compile or load are reported with
their translated diagnostic and make the command exit with status 2.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShell(cmd, opts, func(ctx context.Context, s *shell.Shell) error {
				eng := s.Engine()
				failed := false
				for _, p := range args {
					inst, err := eng.Run(ctx, p)
					if err != nil {
						printLoadError(cmd.ErrOrStderr(), err)
						failed = true
						continue
					}
					if err := printWindow(ctx, cmd.OutOrStdout(), eng, inst, opts.width); err != nil {
						return err
					}
				}
				if failed {
					return errPluginsFailed
				}
				return nil
			})
		},
	}
}

func newDiscoverCommand(opts *rootOptions) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Load every plugin in the plugin directory",
		Long: `Scan the configured plugin directory, load every plugin file and draw the
windows that opened. A file that fails is reported and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShell(cmd, opts, func(ctx context.Context, s *shell.Shell) error {
				eng := s.Engine()
				report, err := eng.Discover(ctx)
				if err != nil {
					return err
				}
				for _, f := range report.Failed {
					printLoadError(cmd.ErrOrStderr(), f)
				}
				out := cmd.OutOrStdout()
				for _, inst := range report.Loaded {
					if quiet {
						fmt.Fprintf(out, "%d\t%s\t%s\n", inst.ID, inst.Path, inst.Metadata.Name)
						continue
					}
					if err := printWindow(ctx, out, eng, inst, opts.width); err != nil {
						return err
					}
				}
				if len(report.Failed) > 0 {
					return errPluginsFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "List loaded plugins instead of drawing windows")
	return cmd
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Load the plugin directory and hot-swap files as they change",
		Long: `Load every plugin in the configured directory, then watch it. A saved file
is swapped into its window in place; a file that no longer compiles is
shown as an error window until it is fixed. Removing a file closes its
window. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShell(cmd, opts, func(ctx context.Context, s *shell.Shell) error {
				eng := s.Engine()
				report, err := eng.Discover(ctx)
				if err != nil {
					return err
				}
				for _, f := range report.Failed {
					printLoadError(cmd.ErrOrStderr(), f)
				}
				for _, inst := range report.Loaded {
					if err := printWindow(ctx, cmd.OutOrStdout(), eng, inst, opts.width); err != nil {
						return err
					}
				}

				err = s.Watch(ctx, func(r shell.Reload) {
					printReload(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), s, r, opts.width)
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func printReload(ctx context.Context, out, errOut io.Writer, s *shell.Shell, r shell.Reload, width int) {
	switch {
	case r.Err != nil:
		printLoadError(errOut, r.Err)
	case r.Closed:
		fmt.Fprintf(out, "closed %s\n", r.Change.Path)
	case r.Instance != nil:
		if err := printWindow(ctx, out, s.Engine(), r.Instance, width); err != nil {
			fmt.Fprintf(errOut, "%v\n", err)
		}
	}
}

func newTranslateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "translate <path>...",
		Short: "Rewrite a stack trace read from stdin to original source positions",
		Long: `Compile the given plugin files to obtain their source maps, then copy stdin
to stdout with every generated-code location rewritten to the matching
position in the original TSX source.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShell(cmd, opts, func(ctx context.Context, s *shell.Shell) error {
				eng := s.Engine()
				for _, p := range args {
					if err := eng.Compile(ctx, p); err != nil {
						printLoadError(cmd.ErrOrStderr(), err)
					}
				}
				stack, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading stack: %w", err)
				}
				_, err = io.WriteString(cmd.OutOrStdout(), eng.Translate(string(stack)))
				return err
			})
		},
	}
}
