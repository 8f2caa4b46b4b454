package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/runnit/runnit/internal/plugin"
	"github.com/runnit/runnit/internal/plugin/registry"
	"github.com/runnit/runnit/internal/render"
	"github.com/runnit/runnit/internal/shell"
)

// errPluginsFailed is returned after the failures have been printed, so
// run exits non-zero without repeating them.
var errPluginsFailed = errors.New("one or more plugins failed")

const shutdownTimeout = 5 * time.Second

type rootOptions struct {
	configPath string
	logLevel   string
	width      int
}

func newRootCommand(version, commit, date string) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "runnit",
		Short: "Compile, run and hot-swap TSX window plugins",
		Long: `runnit compiles TSX plugin files, runs them in isolated script realms and
draws their windows. Edited files are swapped in place; a plugin that fails
to compile or throws is shown as an error window with its stack translated
back to the original source.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "runnit.toml", "Path to configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error, off)")
	flags.IntVarP(&opts.width, "width", "w", 60, "Window width in columns")

	rootCmd.AddCommand(
		newRunCommand(opts),
		newDiscoverCommand(opts),
		newWatchCommand(opts),
		newTranslateCommand(opts),
	)
	return rootCmd
}

// withShell starts a shell for the duration of fn.
func withShell(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *shell.Shell) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := shell.New(ctx, shell.Options{
		ConfigPath: opts.configPath,
		LogLevel:   opts.logLevel,
		LogOutput:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if serr := s.Shutdown(sctx); serr != nil && err == nil {
			err = serr
		}
	}()

	return fn(ctx, s)
}

// printWindow draws the window of inst.
func printWindow(ctx context.Context, w io.Writer, eng *plugin.Engine, inst *registry.Instance, width int) error {
	v, err := eng.View(ctx, inst.ID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, render.Window(v, width))
	return err
}

// printLoadError reports a plugin that could not be loaded.
func printLoadError(w io.Writer, err error) {
	var le *plugin.LoadError
	if errors.As(err, &le) {
		fmt.Fprintf(w, "%s: %s failed\n%s\n", le.Path, le.Stage, le.Diagnostic)
		return
	}
	fmt.Fprintf(w, "%v\n", err)
}
