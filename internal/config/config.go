// Package config loads runnit settings.
//
// Settings come from three layers, lowest priority first: built-in defaults,
// a TOML file, and RUNNIT_* environment variables. Durations are written as
// Go duration strings ("5s", "150ms").
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "RUNNIT_"

// Config is the complete runnit configuration.
type Config struct {
	Plugins     PluginsConfig     `toml:"plugins" envPrefix:"PLUGINS_"`
	Store       StoreConfig       `toml:"store" envPrefix:"STORE_"`
	Compiler    CompilerConfig    `toml:"compiler" envPrefix:"COMPILER_"`
	Sandbox     SandboxConfig     `toml:"sandbox" envPrefix:"SANDBOX_"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics" envPrefix:"DIAGNOSTICS_"`
	Watch       WatchConfig       `toml:"watch" envPrefix:"WATCH_"`
	Log         LogConfig         `toml:"log" envPrefix:"LOG_"`
	Telemetry   TelemetryConfig   `toml:"telemetry" envPrefix:"TELEMETRY_"`
}

// PluginsConfig locates plugin sources in the file store.
type PluginsConfig struct {
	// Dir is the virtual directory scanned at startup.
	Dir string `toml:"dir" env:"DIR"`

	// Extension selects plugin files ("tsx").
	Extension string `toml:"extension" env:"EXTENSION"`
}

// StoreConfig selects the file store backend.
type StoreConfig struct {
	// Driver is "fs" or "sqlite".
	Driver string `toml:"driver" env:"DRIVER"`

	// Root is the directory backing the fs driver.
	Root string `toml:"root" env:"ROOT"`

	// DSN is the database file of the sqlite driver.
	DSN string `toml:"dsn" env:"DSN"`
}

// CompilerConfig configures transpiling and bundling.
type CompilerConfig struct {
	// Target is the output language level ("es2017").
	Target string `toml:"target" env:"TARGET"`

	// AllowRemote enables http(s) imports.
	AllowRemote bool `toml:"allow_remote" env:"ALLOW_REMOTE"`

	// FetchTimeout bounds each remote import.
	FetchTimeout Duration `toml:"fetch_timeout" env:"FETCH_TIMEOUT"`

	// MaxFetchBytes bounds the size of a remote module.
	MaxFetchBytes int64 `toml:"max_fetch_bytes" env:"MAX_FETCH_BYTES"`
}

// SandboxConfig bounds plugin execution.
type SandboxConfig struct {
	// ExecutionTimeout bounds every call into plugin code. Zero disables it.
	ExecutionTimeout Duration `toml:"execution_timeout" env:"EXECUTION_TIMEOUT"`

	// MaxCallStack bounds JS recursion depth.
	MaxCallStack int `toml:"max_call_stack" env:"MAX_CALL_STACK"`
}

// DiagnosticsConfig configures stack translation.
type DiagnosticsConfig struct {
	// MaxSourceMaps caps the number of retained source maps.
	MaxSourceMaps int `toml:"max_source_maps" env:"MAX_SOURCE_MAPS"`
}

// WatchConfig configures the plugin directory watcher.
type WatchConfig struct {
	// Debounce coalesces bursts of file events.
	Debounce Duration `toml:"debounce" env:"DEBOUNCE"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `toml:"level" env:"LEVEL"`

	// JSON switches to JSON log lines.
	JSON bool `toml:"json" env:"JSON"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector address. Empty disables tracing.
	Endpoint string `toml:"endpoint" env:"ENDPOINT"`

	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `toml:"service_name" env:"SERVICE_NAME"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Plugins: PluginsConfig{
			Dir:       "/apps",
			Extension: "tsx",
		},
		Store: StoreConfig{
			Driver: "fs",
			Root:   ".",
		},
		Compiler: CompilerConfig{
			Target:        "es2017",
			AllowRemote:   true,
			FetchTimeout:  Duration(10 * time.Second),
			MaxFetchBytes: 4 << 20,
		},
		Sandbox: SandboxConfig{
			ExecutionTimeout: Duration(5 * time.Second),
			MaxCallStack:     1024,
		},
		Diagnostics: DiagnosticsConfig{
			MaxSourceMaps: 256,
		},
		Watch: WatchConfig{
			Debounce: Duration(150 * time.Millisecond),
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "runnit",
		},
	}
}

// Load builds the configuration from defaults, the TOML file at path (if
// path is non-empty and the file exists) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults only.
		case err != nil:
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := Parse(path, data, &cfg); err != nil {
				return Config{}, err
			}
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes TOML data over cfg. Unknown keys are rejected.
func Parse(source string, data []byte, cfg *Config) error {
	dec := toml.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		pe := &ParseError{Path: source, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			pe.Line, pe.Column = derr.Position()
		}
		return pe
	}
	return nil
}

// Validate reports every unusable setting.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !strings.HasPrefix(c.Plugins.Dir, "/") {
		add("plugins.dir must be an absolute virtual path, got %q", c.Plugins.Dir)
	}
	if ext := strings.TrimPrefix(c.Plugins.Extension, "."); ext == "" || strings.ContainsAny(ext, "/.") {
		add("plugins.extension must be a bare extension, got %q", c.Plugins.Extension)
	}
	switch c.Store.Driver {
	case "fs":
		if c.Store.Root == "" {
			add("store.root is required for the fs driver")
		}
	case "sqlite":
		if c.Store.DSN == "" {
			add("store.dsn is required for the sqlite driver")
		}
	default:
		add("store.driver must be fs or sqlite, got %q", c.Store.Driver)
	}
	if c.Compiler.Target == "" {
		add("compiler.target is required")
	}
	if c.Compiler.FetchTimeout < 0 {
		add("compiler.fetch_timeout must not be negative")
	}
	if c.Compiler.MaxFetchBytes <= 0 {
		add("compiler.max_fetch_bytes must be positive")
	}
	if c.Sandbox.ExecutionTimeout < 0 {
		add("sandbox.execution_timeout must not be negative")
	}
	if c.Sandbox.MaxCallStack < 0 {
		add("sandbox.max_call_stack must not be negative")
	}
	if c.Diagnostics.MaxSourceMaps <= 0 {
		add("diagnostics.max_source_maps must be positive")
	}
	if c.Watch.Debounce < 0 {
		add("watch.debounce must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "off":
	default:
		add("log.level %q is not a level", c.Log.Level)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// PluginExtension returns the plugin extension with a leading dot.
func (c Config) PluginExtension() string {
	return "." + strings.TrimPrefix(c.Plugins.Extension, ".")
}

// Duration is a time.Duration read from a duration string.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
