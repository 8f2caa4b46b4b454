package realm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/hashicorp/go-hclog"

	"github.com/runnit/runnit/internal/plugin/app"
	"github.com/runnit/runnit/internal/plugin/compiler"
	"github.com/runnit/runnit/internal/plugin/pluginerr"
)

// Instantiation phases reported in RuntimeInstantiationError.
const (
	PhaseImport    = "import"
	PhaseConstruct = "construct"
)

// Loader imports compiled artifacts, each into a fresh realm.
type Loader struct {
	resources *ResourceTable
	logger    hclog.Logger

	executionTimeout time.Duration
	maxCallStack     int
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithResources sets the table artifacts are published in during import.
func WithResources(t *ResourceTable) LoaderOption {
	return func(l *Loader) {
		l.resources = t
	}
}

// WithLoaderLogger sets the logger. Plugin console output goes to a "plugin"
// sub-logger tagged with the plugin path.
func WithLoaderLogger(lg hclog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = lg
	}
}

// WithLimits sets the execution timeout and call stack limit of new realms.
func WithLimits(timeout time.Duration, maxCallStack int) LoaderOption {
	return func(l *Loader) {
		l.executionTimeout = timeout
		l.maxCallStack = maxCallStack
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		logger:           hclog.NewNullLogger(),
		executionTimeout: DefaultExecutionTimeout,
		maxCallStack:     DefaultMaxCallStack,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.resources == nil {
		l.resources = NewResourceTable()
	}
	return l
}

// Resources returns the loader's resource table.
func (l *Loader) Resources() *ResourceTable {
	return l.resources
}

// Import evaluates art in a fresh realm and returns its constructible
// default export. Failures are *pluginerr.RuntimeInstantiationError carrying
// the stack in generated coordinates. The artifact is consumed either way.
func (l *Loader) Import(ctx context.Context, art *compiler.Artifact) (*Module, error) {
	code, err := art.Take()
	if err != nil {
		return nil, &pluginerr.RuntimeInstantiationError{Path: art.Path, Phase: PhaseImport, Err: err}
	}

	addr := l.resources.Publish(code)
	defer l.resources.Release(addr)

	r := New(
		WithExecutionTimeout(l.executionTimeout),
		WithMaxCallStack(l.maxCallStack),
		WithLogger(l.logger.Named("plugin").With("path", art.Path)),
	)

	var ctor goja.Constructor
	err = r.Do(ctx, func(vm *goja.Runtime) error {
		src, ok := l.resources.Lookup(addr)
		if !ok {
			return fmt.Errorf("resource %s released before import", addr)
		}

		bridge, err := r.newBridge(vm)
		if err != nil {
			return err
		}

		wrapped := "(function (module, exports, " + art.BridgeKey + ") {" + src + "\n})"
		prg, err := goja.Compile(art.GeneratedName, wrapped, false)
		if err != nil {
			return err
		}
		fnVal, err := vm.RunProgram(prg)
		if err != nil {
			return err
		}
		fn, ok := goja.AssertFunction(fnVal)
		if !ok {
			return errors.New("module wrapper is not a function")
		}

		module := vm.NewObject()
		exports := vm.NewObject()
		_ = module.Set("exports", exports)
		if _, err := fn(goja.Undefined(), module, exports, bridge); err != nil {
			return err
		}

		ctor, err = defaultExport(vm, module.Get("exports"))
		return err
	})
	if err != nil {
		_ = r.Close()
		return nil, &pluginerr.RuntimeInstantiationError{
			Path:  art.Path,
			Phase: PhaseImport,
			Stack: StackOf(err),
			Err:   err,
		}
	}

	l.logger.Debug("imported", "path", art.Path, "generated", art.GeneratedName)
	return &Module{realm: r, ctor: ctor, path: art.Path}, nil
}

// defaultExport returns exports.default, or exports itself, as a
// constructor.
func defaultExport(vm *goja.Runtime, exports goja.Value) (goja.Constructor, error) {
	obj, ok := exports.(*goja.Object)
	if !ok {
		return nil, ErrNotConstructible
	}
	if ctor, ok := goja.AssertConstructor(obj.Get("default")); ok {
		return ctor, nil
	}
	if ctor, ok := goja.AssertConstructor(obj); ok {
		return ctor, nil
	}
	return nil, ErrNotConstructible
}

// Module is an imported plugin module. It owns its realm until an instance
// takes over, and is meant to be instantiated once.
type Module struct {
	realm *Realm
	ctor  goja.Constructor
	path  string
}

// Path returns the virtual path the module was compiled from.
func (m *Module) Path() string {
	return m.path
}

// Instantiate constructs the default export with new and wraps the object as
// an app.Application. The returned application owns the realm; closing it
// releases the realm. A throwing constructor yields a
// *pluginerr.RuntimeInstantiationError.
func (m *Module) Instantiate(ctx context.Context) (app.Application, error) {
	var a *jsApp
	err := m.realm.Do(ctx, func(vm *goja.Runtime) error {
		obj, err := m.ctor(nil, vm.NewObject())
		if err != nil {
			return err
		}
		a = newJSApp(m.realm, vm, obj, m.path)
		return nil
	})
	if err != nil {
		return nil, &pluginerr.RuntimeInstantiationError{
			Path:  m.path,
			Phase: PhaseConstruct,
			Stack: StackOf(err),
			Err:   err,
		}
	}
	return a, nil
}

// Close releases the realm. Instances created from the module stop working.
func (m *Module) Close() error {
	return m.realm.Close()
}
