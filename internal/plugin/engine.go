package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/runnit/runnit/internal/plugin/app"
	"github.com/runnit/runnit/internal/plugin/compiler"
	"github.com/runnit/runnit/internal/plugin/diag"
	"github.com/runnit/runnit/internal/plugin/pluginerr"
	"github.com/runnit/runnit/internal/plugin/realm"
	"github.com/runnit/runnit/internal/plugin/registry"
	"github.com/runnit/runnit/internal/plugin/resolve"
	"github.com/runnit/runnit/internal/store"
)

const tracerName = "github.com/runnit/runnit/internal/plugin"

// Config configures an Engine.
type Config struct {
	// PluginDir is the virtual directory scanned by Discover.
	PluginDir string

	// Extension selects plugin files, with a leading dot.
	Extension string

	// Target is the output language level.
	Target string

	// AllowRemote enables http(s) imports.
	AllowRemote bool

	// FetchTimeout bounds each remote import.
	FetchTimeout time.Duration

	// MaxFetchBytes bounds the size of a remote module.
	MaxFetchBytes int64

	// ExecutionTimeout bounds every call into plugin code. Zero disables it.
	ExecutionTimeout time.Duration

	// MaxCallStack bounds JS recursion depth.
	MaxCallStack int

	// MaxSourceMaps caps the number of retained source maps.
	MaxSourceMaps int

	// DiscoveryConcurrency is the number of files compiled in parallel by
	// Discover.
	DiscoveryConcurrency int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		PluginDir:            "/apps",
		Extension:            ".tsx",
		Target:               compiler.DefaultTarget,
		AllowRemote:          true,
		FetchTimeout:         resolve.DefaultFetchTimeout,
		MaxFetchBytes:        resolve.DefaultMaxFetchBytes,
		ExecutionTimeout:     realm.DefaultExecutionTimeout,
		MaxCallStack:         realm.DefaultMaxCallStack,
		MaxSourceMaps:        diag.DefaultMaxEntries,
		DiscoveryConcurrency: 4,
	}
}

// Engine compiles, loads and hot-swaps plugins.
// It is safe for concurrent use.
type Engine struct {
	config Config
	store  store.Store

	compiler  *compiler.Compiler
	loader    *realm.Loader
	resources *realm.ResourceTable
	registry *registry.Registry
	mapper   *diag.Mapper

	fetcher resolve.Fetcher
	logger  hclog.Logger
	tracer  trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the root logger. Components log to named sub-loggers.
func WithLogger(l hclog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithTracer sets the tracer. By default the global provider is used.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithFetcher replaces the HTTP fetcher used for remote imports.
func WithFetcher(f resolve.Fetcher) Option {
	return func(e *Engine) {
		e.fetcher = f
	}
}

// New creates an engine reading plugin sources from st.
func New(st store.Store, config Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("plugin engine requires a store")
	}

	e := &Engine{
		config: config,
		store:  st,
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.fetcher == nil {
		e.fetcher = resolve.NewHTTPFetcher(
			resolve.WithFetchTimeout(config.FetchTimeout),
			resolve.WithMaxBytes(config.MaxFetchBytes),
		)
	}

	target, err := compiler.ParseTarget(config.Target)
	if err != nil {
		return nil, err
	}
	mapper, err := diag.NewMapper(config.MaxSourceMaps)
	if err != nil {
		return nil, err
	}

	resolver := resolve.New(
		resolve.WithFetcher(e.fetcher),
		resolve.WithRemote(config.AllowRemote),
		resolve.WithLogger(e.logger.Named("resolve")),
	)
	e.compiler = compiler.New(resolver,
		compiler.WithTarget(target),
		compiler.WithLogger(e.logger.Named("compiler")),
	)
	e.resources = realm.NewResourceTable()
	e.loader = realm.NewLoader(
		realm.WithResources(e.resources),
		realm.WithLoaderLogger(e.logger.Named("realm")),
		realm.WithLimits(config.ExecutionTimeout, config.MaxCallStack),
	)
	e.registry = registry.New(registry.WithLogger(e.logger.Named("registry")))
	e.mapper = mapper

	return e, nil
}

// Registry returns the instance registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Mapper returns the diagnostics mapper.
func (e *Engine) Mapper() *diag.Mapper {
	return e.mapper
}

// Resources returns the table artifacts are published in while they are
// imported. It is empty whenever no import is in flight.
func (e *Engine) Resources() *realm.ResourceTable {
	return e.resources
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Subscribe adds a handler for registry events.
// Returns an unsubscribe function to remove the handler.
func (e *Engine) Subscribe(handler registry.EventHandler) func() {
	return e.registry.Subscribe(handler)
}

// Translate rewrites generated-code locations in stack to original source
// positions.
func (e *Engine) Translate(stack string) string {
	return e.mapper.Translate(stack)
}

// LoadPlugin compiles the file at path, imports it and registers a new
// instance. On failure nothing is registered and the error is a *LoadError.
// If path is already bound to a live instance, the new instance replaces it
// under the same identity.
func (e *Engine) LoadPlugin(ctx context.Context, path string) (*registry.Instance, error) {
	path = store.Clean(path)
	ctx, span := e.tracer.Start(ctx, "plugin.load", trace.WithAttributes(attribute.String("plugin.path", path)))
	defer span.End()

	mod, err := e.prepare(ctx, path)
	if err != nil {
		return nil, e.fail(span, path, err)
	}

	id, err := e.registry.Load(ctx, path, guard(mod))
	if err != nil {
		return nil, e.fail(span, path, err)
	}

	inst, ok := e.registry.Get(id)
	if !ok {
		// Closed concurrently.
		return nil, e.fail(span, path, &pluginerr.IdentityConflictError{ID: int(id)})
	}
	span.SetAttributes(attribute.Int("plugin.id", int(id)))
	e.logger.Info("plugin loaded", "id", int(id), "path", path, "name", inst.Metadata.Name)
	return inst, nil
}

// HotSwap recompiles path and replaces the instance under id, keeping the
// identity. When any pipeline stage fails, an error stand-in showing the
// translated diagnostic is installed instead and returned.
//
// A missing identity aborts with an IdentityConflictError and a swap
// overtaken by a newer request for the same identity aborts with
// registry.ErrSuperseded; in both cases nothing is installed.
func (e *Engine) HotSwap(ctx context.Context, id registry.StableID, path string) (*registry.Instance, error) {
	path = store.Clean(path)
	ctx, span := e.tracer.Start(ctx, "plugin.swap", trace.WithAttributes(
		attribute.String("plugin.path", path),
		attribute.Int("plugin.id", int(id)),
	))
	defer span.End()

	tok, err := e.registry.Reserve(id)
	if err != nil {
		e.logger.Error("hot swap rejected", "id", int(id), "path", path, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "identity conflict")
		return nil, err
	}

	var ep registry.EntryPoint
	mod, err := e.prepare(ctx, path)
	if err == nil {
		ep = guard(mod)
	} else {
		ep = e.standIn(span, path, err)
	}

	inst, err := e.registry.SwapWith(ctx, tok, ep)
	if err != nil && !aborted(err) {
		// Construction failed: the token is still current, install the
		// stand-in instead.
		inst, err = e.registry.SwapWith(ctx, tok, e.standIn(span, path, err))
	}
	if err != nil {
		e.logger.Warn("hot swap abandoned", "id", int(id), "path", path, "error", err)
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("plugin.stand_in", inst.IsErrorStandIn),
		attribute.Int("plugin.generation", inst.Generation),
	)
	e.logger.Info("plugin swapped", "id", int(id), "path", path, "generation", inst.Generation, "stand_in", inst.IsErrorStandIn)
	return inst, nil
}

// Run is the editor's run gesture: hot-swap the window bound to path, or
// open a new one.
func (e *Engine) Run(ctx context.Context, path string) (*registry.Instance, error) {
	path = store.Clean(path)
	if inst, ok := e.registry.FindByPath(path); ok {
		return e.HotSwap(ctx, inst.ID, path)
	}
	return e.LoadPlugin(ctx, path)
}

// Save writes text to path and runs it.
func (e *Engine) Save(ctx context.Context, path, text string) (*registry.Instance, error) {
	path = store.Clean(path)
	if _, err := e.store.WriteText(ctx, path, text); err != nil {
		return nil, fmt.Errorf("save %s: %w", path, err)
	}
	return e.Run(ctx, path)
}

// Close closes the window under id and forgets its source map.
func (e *Engine) Close(ctx context.Context, id registry.StableID) error {
	inst, ok := e.registry.Get(id)
	if !ok {
		return &pluginerr.IdentityConflictError{ID: int(id)}
	}
	if err := e.registry.Close(ctx, id); err != nil {
		return err
	}
	e.mapper.Evict(inst.Path)
	return nil
}

// Compile reads and compiles path without running it, so stacks produced
// by that build can be translated. The source map stays registered until
// the path is recompiled or its window is closed.
func (e *Engine) Compile(ctx context.Context, path string) error {
	path = store.Clean(path)
	file, err := e.store.ReadText(ctx, path)
	if err != nil {
		return e.loadError(path, &stageError{stage: StageRead, err: err})
	}
	if _, err := e.compile(ctx, path, file.Text); err != nil {
		return e.loadError(path, err)
	}
	return nil
}

// Shutdown closes every window.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.registry.CloseAll(ctx)
}

// prepare reads, compiles and imports path. The source map of a successful
// compile is registered; a failed compile evicts the stale one.
func (e *Engine) prepare(ctx context.Context, path string) (mod *realm.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("pipeline panic", "path", path, "panic", r)
			mod, err = nil, recovered(r)
		}
	}()

	file, err := e.store.ReadText(ctx, path)
	if err != nil {
		return nil, &stageError{stage: StageRead, err: err}
	}

	art, err := e.compile(ctx, path, file.Text)
	if err != nil {
		return nil, err
	}
	return e.importArtifact(ctx, art)
}

func (e *Engine) compile(ctx context.Context, path, source string) (*compiler.Artifact, error) {
	ctx, span := e.tracer.Start(ctx, "plugin.compile", trace.WithAttributes(attribute.String("plugin.path", path)))
	defer span.End()

	art, err := e.compiler.Compile(ctx, path, source)
	if err != nil {
		e.mapper.Evict(path)
		span.RecordError(err)
		span.SetStatus(codes.Error, pluginerr.Stage(err))
		return nil, err
	}
	if err := e.mapper.Register(path, art.SourceMap); err != nil {
		e.logger.Warn("source map rejected", "path", path, "error", err)
		e.mapper.Evict(path)
	}
	span.SetAttributes(attribute.Int("plugin.code_bytes", len(art.Code)))
	return art, nil
}

func (e *Engine) importArtifact(ctx context.Context, art *compiler.Artifact) (*realm.Module, error) {
	ctx, span := e.tracer.Start(ctx, "plugin.import", trace.WithAttributes(attribute.String("plugin.path", art.Path)))
	defer span.End()

	mod, err := e.loader.Import(ctx, art)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "import failed")
		return nil, err
	}
	return mod, nil
}

// loadError wraps err with its stage and the user-facing diagnostic.
func (e *Engine) loadError(path string, err error) *LoadError {
	var le *LoadError
	if errors.As(err, &le) {
		return le
	}
	return &LoadError{
		Path:       path,
		Stage:      stageOf(err),
		Diagnostic: e.mapper.Translate(pluginerr.Diagnostic(err)),
		Err:        err,
	}
}

func (e *Engine) fail(span trace.Span, path string, err error) error {
	le := e.loadError(path, err)
	e.dropOrphanMap(path)
	span.RecordError(err)
	span.SetStatus(codes.Error, le.Stage)
	e.logger.Error("plugin load failed", "path", path, "stage", le.Stage, "error", err)
	return le
}

// dropOrphanMap evicts the source map of a failed load unless a live window
// is bound to path.
func (e *Engine) dropOrphanMap(path string) {
	if _, ok := e.registry.FindByPath(path); !ok {
		e.mapper.Evict(path)
	}
}

// standIn builds the error application shown in place of a failed swap.
func (e *Engine) standIn(span trace.Span, path string, err error) registry.EntryPoint {
	le := e.loadError(path, err)
	span.RecordError(err)
	e.logger.Warn("plugin failed, installing stand-in", "path", path, "stage", le.Stage, "error", err)

	diagnostic := le.Diagnostic
	if diagnostic == "" {
		diagnostic = le.Error()
	}
	return registry.Static(app.NewErrorApp(diagnostic))
}

// aborted reports errors after which no stand-in may be installed.
func aborted(err error) bool {
	return errors.Is(err, registry.ErrSuperseded) || errors.Is(err, pluginerr.ErrIdentityConflict)
}

// guarded turns panics during construction into errors.
type guarded struct {
	mod *realm.Module
}

func guard(mod *realm.Module) registry.EntryPoint {
	return guarded{mod: mod}
}

func (g guarded) Instantiate(ctx context.Context) (a app.Application, err error) {
	defer func() {
		if r := recover(); r != nil {
			a, err = nil, recovered(r)
		}
	}()
	return g.mod.Instantiate(ctx)
}

func (g guarded) Close() error {
	return g.mod.Close()
}
