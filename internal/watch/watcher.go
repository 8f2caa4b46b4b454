package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// DefaultDebounce is the default coalescing window.
const DefaultDebounce = 150 * time.Millisecond

// Watcher delivers debounced plugin file changes for one directory.
type Watcher struct {
	mu sync.Mutex

	// fsnotify watcher
	watcher *fsnotify.Watcher

	dir       string
	extension string
	delay     time.Duration
	toVirtual func(osPath string) (string, bool)
	logger    hclog.Logger

	pending map[string]*pendingChange

	// Output channels
	changes chan Change
	errors  chan error

	// Lifecycle
	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
	firing   sync.WaitGroup
}

// pendingChange tracks a debounced change.
type pendingChange struct {
	change Change
	timer  *time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithVirtualPaths sets how on-disk paths map to virtual paths. Files the
// function rejects are ignored. By default the path relative to the watched
// directory is used, rooted at "/".
func WithVirtualPaths(fn func(osPath string) (string, bool)) Option {
	return func(w *Watcher) {
		w.toVirtual = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// New watches dir for files ending in extension.
func New(dir, extension string, opts ...Option) (*Watcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPathNotExist
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, &os.PathError{Op: "watch", Path: absDir, Err: os.ErrInvalid}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(absDir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:   fsw,
		dir:       absDir,
		extension: extension,
		delay:     DefaultDebounce,
		logger:    hclog.NewNullLogger(),
		pending:   make(map[string]*pendingChange),
		changes:   make(chan Change, 100),
		errors:    make(chan error, 100),
		closeCh:   make(chan struct{}),
	}
	w.toVirtual = w.relative
	for _, opt := range opts {
		opt(w)
	}

	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Changes returns the debounced change channel. It is closed by Close.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Errors returns the error channel. It is closed by Close.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)

	// Cancel all pending timers
	for p, pc := range w.pending {
		pc.timer.Stop()
		delete(w.pending, p)
	}
	w.mu.Unlock()

	// Wait for processLoop and in-flight deliveries to finish
	w.closedWg.Wait()
	w.firing.Wait()

	err := w.watcher.Close()

	close(w.changes)
	close(w.errors)
	return err
}

// Flush immediately delivers all pending changes.
func (w *Watcher) Flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p, pc := range w.pending {
		pc.timer.Stop()
		paths = append(paths, p)
	}
	w.mu.Unlock()

	for _, p := range paths {
		w.fire(p)
	}
}

// PendingCount returns the number of changes waiting for their window to
// close.
func (w *Watcher) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// processLoop handles incoming fsnotify events.
func (w *Watcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "dir", w.dir, "error", err)
			w.sendError(err)
		}
	}
}

// handle filters an fsnotify event and starts or extends its window.
func (w *Watcher) handle(ev fsnotify.Event) {
	op := convertOp(ev.Op)
	if op == 0 || !strings.HasSuffix(ev.Name, w.extension) || filepath.Dir(ev.Name) != w.dir {
		return
	}
	virtual, ok := w.toVirtual(ev.Name)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	now := time.Now()
	if pc, exists := w.pending[ev.Name]; exists {
		// Coalesce: combine operations and reset timer
		pc.change.Op |= op
		pc.change.Timestamp = now
		pc.timer.Reset(w.delay)
		return
	}

	pc := &pendingChange{
		change: Change{Path: virtual, OSPath: ev.Name, Op: op, Timestamp: now},
	}
	name := ev.Name
	pc.timer = time.AfterFunc(w.delay, func() {
		w.fire(name)
	})
	w.pending[ev.Name] = pc
}

// fire sends a pending change and removes it from the map.
func (w *Watcher) fire(osPath string) {
	w.mu.Lock()
	pc, exists := w.pending[osPath]
	if !exists || w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.pending, osPath)
	change := pc.change
	w.firing.Add(1)
	w.mu.Unlock()
	defer w.firing.Done()

	if _, err := os.Stat(osPath); os.IsNotExist(err) {
		change.Removed = true
	}

	w.logger.Debug("plugin file changed", "path", change.Path, "op", change.Op.String(), "removed", change.Removed)

	select {
	case w.changes <- change:
	case <-w.closeCh:
	}
}

// sendError forwards an error, dropping it when the channel is full.
func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	case <-w.closeCh:
	default:
	}
}

func (w *Watcher) relative(osPath string) (string, bool) {
	rel, err := filepath.Rel(w.dir, osPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}

// convertOp converts fsnotify operations.
func convertOp(op fsnotify.Op) Op {
	var result Op
	if op.Has(fsnotify.Create) {
		result |= OpCreate
	}
	if op.Has(fsnotify.Write) {
		result |= OpWrite
	}
	if op.Has(fsnotify.Remove) {
		result |= OpRemove
	}
	if op.Has(fsnotify.Rename) {
		result |= OpRename
	}
	return result
}
