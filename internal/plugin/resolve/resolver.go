// Package resolve maps import specifiers seen while bundling a plugin to
// module text.
//
// Three kinds of specifier resolve:
//
//   - reserved names (runnit/OSApp, react, react/jsx-runtime), served as
//     synthetic bodies that read the per-load capability bridge;
//   - absolute http(s) URLs, fetched over the network;
//   - relative paths imported from a remote module, joined against the
//     importer URL.
//
// Everything else is a ModuleResolutionError.
package resolve

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/runnit/runnit/internal/plugin/pluginerr"
)

// ErrRemoteDisabled is returned for remote specifiers when remote imports
// are turned off.
var ErrRemoteDisabled = errors.New("remote imports are disabled")

// Namespace groups resolved modules by origin.
type Namespace string

// Namespaces.
const (
	NamespacePlugin  Namespace = "plugin"
	NamespaceVirtual Namespace = "virtual"
	NamespaceRemote  Namespace = "remote"
)

// Kind selects the syntax a module is parsed with.
type Kind string

// Module kinds.
const (
	KindJS  Kind = "js"
	KindJSX Kind = "jsx"
	KindTS  Kind = "ts"
	KindTSX Kind = "tsx"
)

// KindFor picks a Kind from the extension of p. URL queries and fragments
// are ignored.
func KindFor(p string) Kind {
	if u, err := url.Parse(p); err == nil && u.Scheme != "" {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".tsx":
		return KindTSX
	case ".ts", ".mts", ".cts":
		return KindTS
	case ".jsx":
		return KindJSX
	default:
		return KindJS
	}
}

// Location identifies a module without its text.
type Location struct {
	Specifier string
	Path      string
	Namespace Namespace
}

// Module is a resolved module.
type Module struct {
	Location
	Contents string
	Kind     Kind
}

// Resolver resolves import specifiers.
type Resolver struct {
	fetcher     Fetcher
	allowRemote bool
	logger      hclog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFetcher sets the remote fetcher.
func WithFetcher(f Fetcher) Option {
	return func(r *Resolver) {
		r.fetcher = f
	}
}

// WithRemote enables or disables remote imports.
func WithRemote(allow bool) Option {
	return func(r *Resolver) {
		r.allowRemote = allow
	}
}

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// New creates a resolver. Remote imports are enabled by default.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		allowRemote: true,
		logger:      hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fetcher == nil {
		r.fetcher = NewHTTPFetcher()
	}
	return r
}

// Resolve locates and loads specifier as imported from importer.
func (r *Resolver) Resolve(ctx context.Context, specifier, importer, bridgeKey string) (*Module, error) {
	loc, err := r.Locate(specifier, importer)
	if err != nil {
		return nil, err
	}
	return r.Load(ctx, loc, bridgeKey)
}

// Locate classifies specifier without reading any text. importer is the
// path (or URL) of the importing module, and may be empty.
func (r *Resolver) Locate(specifier, importer string) (Location, error) {
	if IsReserved(specifier) {
		return Location{Specifier: specifier, Path: specifier, Namespace: NamespaceVirtual}, nil
	}

	target, remote := remoteTarget(specifier, importer)
	if !remote {
		return Location{}, &pluginerr.ModuleResolutionError{Specifier: specifier, Importer: importer}
	}
	if !r.allowRemote {
		return Location{}, &pluginerr.ModuleResolutionError{
			Specifier: specifier,
			Importer:  importer,
			Err:       ErrRemoteDisabled,
		}
	}
	return Location{Specifier: specifier, Path: target, Namespace: NamespaceRemote}, nil
}

// Load reads the text of a located module.
func (r *Resolver) Load(ctx context.Context, loc Location, bridgeKey string) (*Module, error) {
	switch loc.Namespace {
	case NamespaceVirtual:
		body, err := VirtualBody(loc.Path, bridgeKey)
		if err != nil {
			return nil, &pluginerr.ModuleResolutionError{Specifier: loc.Specifier, Err: err}
		}
		return &Module{Location: loc, Contents: body, Kind: KindJS}, nil

	case NamespaceRemote:
		if !r.allowRemote {
			return nil, &pluginerr.ModuleResolutionError{Specifier: loc.Specifier, Err: ErrRemoteDisabled}
		}
		text, err := r.fetcher.Fetch(ctx, loc.Path)
		if err != nil {
			r.logger.Warn("remote import failed", "url", loc.Path, "error", err)
			return nil, &pluginerr.ModuleResolutionError{Specifier: loc.Specifier, Err: err}
		}
		r.logger.Debug("remote import fetched", "url", loc.Path, "bytes", len(text))
		return &Module{Location: loc, Contents: text, Kind: KindFor(loc.Path)}, nil

	default:
		return nil, &pluginerr.ModuleResolutionError{Specifier: loc.Specifier}
	}
}

// IsRemote reports whether s is an absolute http(s) URL.
func IsRemote(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isRelative(s string) bool {
	return strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") || strings.HasPrefix(s, "/")
}

// remoteTarget returns the absolute URL for specifier, if it names a remote
// module directly or relative to a remote importer.
func remoteTarget(specifier, importer string) (string, bool) {
	if IsRemote(specifier) {
		return specifier, true
	}
	if !isRelative(specifier) || !IsRemote(importer) {
		return "", false
	}
	base, err := url.Parse(importer)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(specifier)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}
