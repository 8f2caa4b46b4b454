package plugin

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/runnit/runnit/internal/plugin/realm"
	"github.com/runnit/runnit/internal/plugin/registry"
)

// DiscoveryReport summarises a startup scan.
type DiscoveryReport struct {
	// Loaded holds the instances opened, in path order.
	Loaded []*registry.Instance

	// Failed holds one error per file that could not be loaded.
	Failed []*LoadError
}

// Err joins the failures, or returns nil when every file loaded.
func (r DiscoveryReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return fmt.Errorf("failed to load %d plugins: %w", len(r.Failed), errors.Join(errs...))
}

// Discover loads every plugin file in the configured directory. Files are
// compiled in parallel and registered in path order. A failing file is
// logged and recorded in the report; the scan never stops early. The error
// is non-nil only when the directory itself cannot be listed.
func (e *Engine) Discover(ctx context.Context) (DiscoveryReport, error) {
	var report DiscoveryReport

	paths, err := e.store.List(ctx, e.config.PluginDir, e.config.Extension)
	if err != nil {
		return report, fmt.Errorf("discover %s: %w", e.config.PluginDir, err)
	}
	e.logger.Debug("discovering plugins", "dir", e.config.PluginDir, "count", len(paths))

	type prepared struct {
		mod *realm.Module
		err error
	}
	results := make([]prepared, len(paths))

	limit := e.config.DiscoveryConcurrency
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, p := range paths {
		g.Go(func() error {
			mod, err := e.prepare(ctx, p)
			results[i] = prepared{mod: mod, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range paths {
		res := results[i]
		if res.err != nil {
			report.Failed = append(report.Failed, e.discoveryFailure(p, res.err))
			continue
		}
		id, err := e.registry.Load(ctx, p, guard(res.mod))
		if err != nil {
			report.Failed = append(report.Failed, e.discoveryFailure(p, err))
			continue
		}
		if inst, ok := e.registry.Get(id); ok {
			report.Loaded = append(report.Loaded, inst)
		}
	}

	e.logger.Info("discovery finished", "dir", e.config.PluginDir, "loaded", len(report.Loaded), "failed", len(report.Failed))
	return report, nil
}

func (e *Engine) discoveryFailure(path string, err error) *LoadError {
	le := e.loadError(path, err)
	e.dropOrphanMap(path)
	e.logger.Error("plugin load failed", "path", path, "stage", le.Stage, "error", err)
	return le
}
