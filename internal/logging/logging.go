// Package logging builds the root hclog logger.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Options configures the root logger.
type Options struct {
	// Name is the root logger name.
	Name string

	// Level is one of trace, debug, info, warn, error, off.
	Level string

	// JSON switches to JSON log lines.
	JSON bool

	// Output defaults to stderr.
	Output io.Writer
}

// New creates the root logger. Components derive from it with Named.
func New(opts Options) hclog.Logger {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}
	name := opts.Name
	if name == "" {
		name = "runnit"
	}

	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           level,
		Output:          output,
		JSONFormat:      opts.JSON,
		IncludeLocation: level <= hclog.Debug,
	})
}

// Discard returns a logger that drops everything.
func Discard() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{Output: io.Discard, Level: hclog.Off})
}
