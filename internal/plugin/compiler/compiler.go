// Package compiler turns plugin source text into a single self-contained
// CommonJS artifact.
//
// Compilation runs esbuild in memory. The plugin source is served from the
// "plugin" namespace and every import is routed through the resolver, so the
// bundle never touches the disk. The artifact carries an external source map
// whose entry for the plugin is named exactly after its virtual path.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/hashicorp/go-hclog"

	"github.com/runnit/runnit/internal/plugin/diag"
	"github.com/runnit/runnit/internal/plugin/pluginerr"
	"github.com/runnit/runnit/internal/plugin/resolve"
)

// DefaultTarget is the language level the output is lowered to.
const DefaultTarget = "es2017"

const (
	outfile    = "artifact.js"
	pluginName = "runnit-resolver"
)

// Resolver locates and loads imports.
type Resolver interface {
	Locate(specifier, importer string) (resolve.Location, error)
	Load(ctx context.Context, loc resolve.Location, bridgeKey string) (*resolve.Module, error)
}

// Compiler compiles plugin sources.
type Compiler struct {
	resolver Resolver
	target   api.Target
	logger   hclog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithTarget sets the output language level.
func WithTarget(t api.Target) Option {
	return func(c *Compiler) {
		c.target = t
	}
}

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(c *Compiler) {
		c.logger = l
	}
}

// New creates a compiler that resolves imports with r.
func New(r Resolver, opts ...Option) *Compiler {
	c := &Compiler{
		resolver: r,
		target:   api.ES2017,
		logger:   hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var targets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// ParseTarget maps a name such as "es2017" to a target.
func ParseTarget(name string) (api.Target, error) {
	t, ok := targets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown compile target %q", name)
	}
	return t, nil
}

// Compile bundles source, the text of the plugin at path, into an artifact.
// It fails with a *pluginerr.TranspileError on syntax errors and a
// *pluginerr.ModuleResolutionError on unresolvable imports. No partial
// artifact is ever returned.
func (c *Compiler) Compile(ctx context.Context, path, source string) (*Artifact, error) {
	if path == "" {
		return nil, errors.New("compile: empty path")
	}

	key := NewBridgeKey()
	b := &build{
		ctx:      ctx,
		resolver: c.resolver,
		path:     path,
		source:   source,
		key:      key,
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:     []string{path},
		Bundle:          true,
		Write:           false,
		Outfile:         outfile,
		Format:          api.FormatCommonJS,
		Platform:        api.PlatformNeutral,
		Target:          c.target,
		JSX:             api.JSXAutomatic,
		JSXImportSource: resolve.UIModule,
		Sourcemap:       api.SourceMapExternal,
		SourcesContent:  api.SourcesContentInclude,
		LogLevel:        api.LogLevelSilent,
		Plugins:         []api.Plugin{b.plugin()},
	})

	if err := b.firstError(); err != nil {
		c.logger.Debug("compile failed", "path", path, "stage", pluginerr.Stage(err), "error", err)
		return nil, err
	}
	if len(result.Errors) > 0 {
		err := &pluginerr.TranspileError{Path: path, Messages: convertMessages(result.Errors)}
		c.logger.Debug("compile failed", "path", path, "stage", "transpile", "error", err)
		return nil, err
	}

	var code, smap []byte
	for _, f := range result.OutputFiles {
		if strings.HasSuffix(f.Path, ".map") {
			smap = f.Contents
		} else {
			code = f.Contents
		}
	}
	if code == nil || smap == nil {
		return nil, &pluginerr.TranspileError{
			Path:     path,
			Messages: []pluginerr.Message{{File: path, Text: "bundler produced no output"}},
		}
	}

	smap, err := renameSource(smap, string(resolve.NamespacePlugin), path)
	if err != nil {
		return nil, &pluginerr.TranspileError{
			Path:     path,
			Messages: []pluginerr.Message{{File: path, Text: err.Error()}},
		}
	}

	c.logger.Debug("compiled", "path", path, "bytes", len(code), "warnings", len(result.Warnings))
	return &Artifact{
		Path:          path,
		Code:          string(code),
		SourceMap:     smap,
		BridgeKey:     key,
		GeneratedName: diag.GeneratedName(path),
	}, nil
}

// build holds the state of one esbuild run. Plugin callbacks may run
// concurrently.
type build struct {
	ctx      context.Context
	resolver Resolver
	path     string
	source   string
	key      string

	mu   sync.Mutex
	errs []error
}

func (b *build) record(err error) error {
	b.mu.Lock()
	b.errs = append(b.errs, err)
	b.mu.Unlock()
	return err
}

// firstError returns the first recorded resolution failure.
func (b *build) firstError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.errs) == 0 {
		return nil
	}
	return b.errs[0]
}

func (b *build) plugin() api.Plugin {
	return api.Plugin{
		Name: pluginName,
		Setup: func(pb api.PluginBuild) {
			pb.OnResolve(api.OnResolveOptions{Filter: ".*"}, b.onResolve)
			pb.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: string(resolve.NamespacePlugin)}, b.onLoadEntry)
			pb.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: string(resolve.NamespaceVirtual)}, b.onLoadModule)
			pb.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: string(resolve.NamespaceRemote)}, b.onLoadModule)
		},
	}
}

func (b *build) onResolve(args api.OnResolveArgs) (api.OnResolveResult, error) {
	if args.Kind == api.ResolveEntryPoint {
		return api.OnResolveResult{Path: b.path, Namespace: string(resolve.NamespacePlugin)}, nil
	}

	loc, err := b.resolver.Locate(args.Path, args.Importer)
	if err != nil {
		return api.OnResolveResult{}, b.record(err)
	}
	return api.OnResolveResult{Path: loc.Path, Namespace: string(loc.Namespace)}, nil
}

func (b *build) onLoadEntry(args api.OnLoadArgs) (api.OnLoadResult, error) {
	contents := b.source
	return api.OnLoadResult{Contents: &contents, Loader: loaderFor(resolve.KindFor(args.Path))}, nil
}

func (b *build) onLoadModule(args api.OnLoadArgs) (api.OnLoadResult, error) {
	loc := resolve.Location{Specifier: args.Path, Path: args.Path, Namespace: resolve.Namespace(args.Namespace)}
	mod, err := b.resolver.Load(b.ctx, loc, b.key)
	if err != nil {
		return api.OnLoadResult{}, b.record(err)
	}
	contents := mod.Contents
	return api.OnLoadResult{Contents: &contents, Loader: loaderFor(mod.Kind)}, nil
}

func loaderFor(k resolve.Kind) api.Loader {
	switch k {
	case resolve.KindTSX:
		return api.LoaderTSX
	case resolve.KindTS:
		return api.LoaderTS
	case resolve.KindJSX:
		return api.LoaderJSX
	default:
		return api.LoaderJS
	}
}

// convertMessages maps esbuild messages to 1-based diagnostics with the
// namespace prefix removed from file names.
func convertMessages(msgs []api.Message) []pluginerr.Message {
	out := make([]pluginerr.Message, 0, len(msgs))
	for _, m := range msgs {
		pm := pluginerr.Message{Text: m.Text}
		if m.Location != nil {
			pm.File = strings.TrimPrefix(m.Location.File, string(resolve.NamespacePlugin)+":")
			pm.Line = m.Location.Line
			pm.Column = m.Location.Column + 1
			pm.LineText = m.Location.LineText
		}
		out = append(out, pm)
	}
	return out
}
