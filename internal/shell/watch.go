package shell

import (
	"context"
	"errors"

	"github.com/runnit/runnit/internal/plugin/registry"
	"github.com/runnit/runnit/internal/watch"
)

// Reload is the outcome of one file change picked up by Watch.
type Reload struct {
	Change watch.Change

	// Instance is the window after the change, or nil when the file was
	// removed or the load failed.
	Instance *registry.Instance

	// Closed is set when a removed file's window was closed.
	Closed bool

	Err error
}

// Watch follows the plugin directory on disk and runs every changed file
// through the engine: a bound path is hot-swapped, a new one is loaded, and
// a removed one is closed. Each outcome is passed to report. Watch blocks
// until ctx is cancelled and returns ctx.Err().
func (s *Shell) Watch(ctx context.Context, report func(Reload)) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if s.disk == nil {
		return ErrWatchUnsupported
	}

	w, err := watch.New(
		s.disk.OSPath(s.config.Plugins.Dir),
		s.config.PluginExtension(),
		watch.WithDebounce(s.config.Watch.Debounce.Std()),
		watch.WithVirtualPaths(s.disk.VirtualPath),
		watch.WithLogger(s.logger.Named("watch")),
	)
	if err != nil {
		return err
	}
	defer w.Close()

	s.logger.Info("watching plugins", "dir", w.Dir())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch, ok := <-w.Changes():
			if !ok {
				return ctx.Err()
			}
			r := s.apply(ctx, ch)
			if report != nil {
				report(r)
			}
		case err, ok := <-w.Errors():
			if !ok {
				continue
			}
			if errors.Is(err, watch.ErrWatcherClosed) {
				return err
			}
			s.logger.Warn("watch error", "error", err)
		}
	}
}

func (s *Shell) apply(ctx context.Context, ch watch.Change) Reload {
	r := Reload{Change: ch}
	eng := s.engine

	if ch.Removed {
		inst, ok := eng.Registry().FindByPath(ch.Path)
		if !ok {
			return r
		}
		r.Err = eng.Close(ctx, inst.ID)
		r.Closed = r.Err == nil
		return r
	}

	r.Instance, r.Err = eng.Run(ctx, ch.Path)
	return r
}
