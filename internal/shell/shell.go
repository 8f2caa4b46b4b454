// Package shell assembles a runnit host process.
//
// New brings components up in dependency order:
//
//	config -> logger -> telemetry -> store -> engine
//
// If any step fails, the components already started are torn down in
// reverse order before the error is returned. Shutdown does the same for a
// running shell.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/runnit/runnit/internal/config"
	"github.com/runnit/runnit/internal/logging"
	"github.com/runnit/runnit/internal/plugin"
	"github.com/runnit/runnit/internal/store"
	"github.com/runnit/runnit/internal/store/fsstore"
	"github.com/runnit/runnit/internal/store/sqlite"
	"github.com/runnit/runnit/internal/telemetry"
)

// Store drivers.
const (
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
)

// DefaultShutdownTimeout bounds cleanup after a failed start.
const DefaultShutdownTimeout = 5 * time.Second

// Options configures a Shell.
type Options struct {
	// ConfigPath is the TOML file to read. Empty means defaults and
	// environment only.
	ConfigPath string

	// Config, when set, is used instead of loading ConfigPath.
	Config *config.Config

	// LogLevel overrides the configured log level when non-empty.
	LogLevel string

	// LogOutput defaults to stderr.
	LogOutput io.Writer

	// EngineOptions are passed to plugin.New after the shell's own.
	EngineOptions []plugin.Option
}

// Shell owns the long-lived components of a runnit process.
type Shell struct {
	config config.Config
	logger hclog.Logger
	store  store.Store
	disk   *fsstore.Store
	engine *plugin.Engine

	shutdownTracing func(context.Context) error
	closeStore      func() error

	initOrder []string
	mu        sync.Mutex
	closed    bool
}

// New starts a shell.
func New(ctx context.Context, opts Options) (*Shell, error) {
	s := &Shell{initOrder: make([]string, 0, 5)}
	if err := s.bootstrap(ctx, opts); err != nil {
		return nil, err
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Shell) Config() config.Config {
	return s.config
}

// Logger returns the root logger.
func (s *Shell) Logger() hclog.Logger {
	return s.logger
}

// Store returns the file store.
func (s *Shell) Store() store.Store {
	return s.store
}

// Engine returns the plugin engine.
func (s *Shell) Engine() *plugin.Engine {
	return s.engine
}

// Shutdown closes every window and stops all components. Calling it again
// is a no-op.
func (s *Shell) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.cleanup(ctx)
}

func (s *Shell) bootstrap(ctx context.Context, opts Options) error {
	steps := []struct {
		name string
		init func(context.Context, Options) error
	}{
		{"config", s.initConfig},
		{"logger", s.initLogger},
		{"telemetry", s.initTelemetry},
		{"store", s.initStore},
		{"engine", s.initEngine},
	}

	for _, step := range steps {
		if err := step.init(ctx, opts); err != nil {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
			_ = s.cleanup(cctx)
			cancel()
			return &InitError{Component: step.name, Err: err}
		}
		s.initOrder = append(s.initOrder, step.name)
	}
	s.logger.Debug("shell started", "components", s.initOrder)
	return nil
}

func (s *Shell) initConfig(_ context.Context, opts Options) error {
	if opts.Config != nil {
		if err := opts.Config.Validate(); err != nil {
			return err
		}
		s.config = *opts.Config
		return nil
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	s.config = cfg
	return nil
}

func (s *Shell) initLogger(_ context.Context, opts Options) error {
	level := s.config.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	s.logger = logging.New(logging.Options{
		Level:  level,
		JSON:   s.config.Log.JSON,
		Output: opts.LogOutput,
	})
	return nil
}

func (s *Shell) initTelemetry(ctx context.Context, _ Options) error {
	shutdown, err := telemetry.Setup(ctx, s.config.Telemetry.Endpoint, s.config.Telemetry.ServiceName)
	if err != nil {
		return err
	}
	s.shutdownTracing = shutdown
	return nil
}

func (s *Shell) initStore(_ context.Context, _ Options) error {
	switch s.config.Store.Driver {
	case DriverFS:
		st, err := fsstore.New(s.config.Store.Root)
		if err != nil {
			return err
		}
		s.store = st
		s.disk = st
	case DriverSQLite:
		st, err := sqlite.Open(s.config.Store.DSN)
		if err != nil {
			return err
		}
		s.store = st
		s.closeStore = st.Close
	default:
		return fmt.Errorf("unknown store driver %q", s.config.Store.Driver)
	}
	s.logger.Debug("store opened", "driver", s.config.Store.Driver)
	return nil
}

func (s *Shell) initEngine(_ context.Context, opts Options) error {
	engineOpts := append([]plugin.Option{
		plugin.WithLogger(s.logger.Named("plugin")),
		plugin.WithTracer(telemetry.Tracer()),
	}, opts.EngineOptions...)

	eng, err := plugin.New(s.store, EngineConfig(s.config), engineOpts...)
	if err != nil {
		return err
	}
	s.engine = eng
	return nil
}

// cleanup stops the started components in reverse order.
func (s *Shell) cleanup(ctx context.Context) error {
	var errs []error
	for i := len(s.initOrder) - 1; i >= 0; i-- {
		if err := s.cleanupComponent(ctx, s.initOrder[i]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.initOrder[i], err))
		}
	}
	s.initOrder = s.initOrder[:0]
	return errors.Join(errs...)
}

func (s *Shell) cleanupComponent(ctx context.Context, component string) error {
	switch component {
	case "engine":
		if s.engine != nil {
			return s.engine.Shutdown(ctx)
		}
	case "store":
		if s.closeStore != nil {
			return s.closeStore()
		}
	case "telemetry":
		if s.shutdownTracing != nil {
			return s.shutdownTracing(ctx)
		}
	}
	return nil
}

// EngineConfig maps settings onto the engine's configuration.
func EngineConfig(cfg config.Config) plugin.Config {
	ec := plugin.DefaultConfig()
	ec.PluginDir = cfg.Plugins.Dir
	ec.Extension = cfg.PluginExtension()
	ec.Target = cfg.Compiler.Target
	ec.AllowRemote = cfg.Compiler.AllowRemote
	ec.FetchTimeout = cfg.Compiler.FetchTimeout.Std()
	ec.MaxFetchBytes = cfg.Compiler.MaxFetchBytes
	ec.ExecutionTimeout = cfg.Sandbox.ExecutionTimeout.Std()
	ec.MaxCallStack = cfg.Sandbox.MaxCallStack
	ec.MaxSourceMaps = cfg.Diagnostics.MaxSourceMaps
	return ec
}
