// Package registry tracks live plugin instances under stable identities.
//
// An identity (StableID) is assigned once, on first load, and survives every
// swap. Swapping replaces the instance atomically: readers see either the old
// or the new instance, never a gap. Overlapping swaps of one identity are
// ordered by request token; the newest request wins and older completions are
// discarded with ErrSuperseded.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/runnit/runnit/internal/plugin/app"
	"github.com/runnit/runnit/internal/plugin/pluginerr"
)

// ErrSuperseded is returned by SwapWith when a newer request for the same
// identity was issued after the token.
var ErrSuperseded = errors.New("swap superseded by a newer request")

// StableID identifies a window across hot swaps.
type StableID int

// EntryPoint constructs a plugin instance.
type EntryPoint interface {
	Instantiate(ctx context.Context) (app.Application, error)
}

// closer is implemented by entry points holding resources of their own.
type closer interface {
	Close() error
}

// Static returns an entry point that yields a.
func Static(a app.Application) EntryPoint {
	return staticEntry{a}
}

type staticEntry struct {
	app app.Application
}

func (s staticEntry) Instantiate(context.Context) (app.Application, error) {
	return s.app, nil
}

// Instance is a registered plugin instance. Instances are immutable; a swap
// installs a new Instance under the same ID.
type Instance struct {
	ID             StableID
	Path           string
	App            app.Application
	Metadata       app.Metadata // At registration time
	IsErrorStandIn bool
	Diagnostic     string
	Generation     int // 1 on first load, +1 per swap
	LoadedAt       time.Time
}

// Token is a swap request for one identity.
type Token struct {
	ID  StableID
	seq uint64
}

type slot struct {
	inst *Instance
	seq  uint64 // Newest token issued
}

// Registry holds live instances.
type Registry struct {
	mu sync.RWMutex

	nextID StableID
	slots  map[StableID]*slot
	byPath map[string]StableID
	closed map[StableID]bool

	// Event handlers (protected by mu)
	handlers []EventHandler

	logger hclog.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithClock sets the time source for LoadedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty registry. Identities start at 1.
func New(opts ...Option) *Registry {
	r := &Registry{
		nextID: 1,
		slots:  make(map[StableID]*slot),
		byPath: make(map[string]StableID),
		closed: make(map[StableID]bool),
		logger: hclog.NewNullLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load constructs an instance from ep and registers it under a new identity.
// On failure nothing is registered. If a live identity is already bound to
// path when the instance is committed, the instance replaces that identity's
// instance instead and its ID is returned.
func (r *Registry) Load(ctx context.Context, path string, ep EntryPoint) (StableID, error) {
	a, err := r.construct(ctx, ep)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	if id, ok := r.byPath[path]; ok {
		s := r.slots[id]
		s.seq++
		old := s.inst
		s.inst = r.newInstance(id, path, a, old.Generation+1)
		inst := s.inst
		r.mu.Unlock()

		r.release(old)
		r.logger.Debug("load rebound to existing identity", "id", int(id), "path", path)
		r.emit(Event{Type: EventReplaced, ID: id, Path: path, StandIn: inst.IsErrorStandIn, Generation: inst.Generation})
		return id, nil
	}

	id := r.nextID
	r.nextID++
	inst := r.newInstance(id, path, a, 1)
	r.slots[id] = &slot{inst: inst}
	r.byPath[path] = id
	r.mu.Unlock()

	r.logger.Debug("loaded", "id", int(id), "path", path, "stand_in", inst.IsErrorStandIn)
	r.emit(Event{Type: EventLoaded, ID: id, Path: path, StandIn: inst.IsErrorStandIn, Generation: 1})
	return id, nil
}

// Reserve issues a swap token for id. Tokens issued later supersede earlier
// ones.
func (r *Registry) Reserve(id StableID) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return Token{}, &pluginerr.IdentityConflictError{ID: int(id)}
	}
	s.seq++
	return Token{ID: id, seq: s.seq}, nil
}

// Swap constructs an instance from ep and installs it under id, keeping the
// identity and path. If id has no live slot the call fails with an
// IdentityConflictError and nothing changes.
func (r *Registry) Swap(ctx context.Context, id StableID, ep EntryPoint) error {
	tok, err := r.Reserve(id)
	if err != nil {
		return err
	}
	_, err = r.SwapWith(ctx, tok, ep)
	return err
}

// SwapWith completes the swap requested by tok. The new instance is
// discarded with ErrSuperseded if a newer token was issued for the identity
// in the meantime, and with an IdentityConflictError if the identity was
// closed.
func (r *Registry) SwapWith(ctx context.Context, tok Token, ep EntryPoint) (*Instance, error) {
	a, err := r.construct(ctx, ep)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	s, ok := r.slots[tok.ID]
	if !ok {
		r.mu.Unlock()
		closeApp(r.logger, a)
		return nil, &pluginerr.IdentityConflictError{ID: int(tok.ID)}
	}
	if s.seq != tok.seq {
		r.mu.Unlock()
		closeApp(r.logger, a)
		r.logger.Debug("swap superseded", "id", int(tok.ID))
		return nil, fmt.Errorf("identity %d: %w", tok.ID, ErrSuperseded)
	}
	old := s.inst
	inst := r.newInstance(tok.ID, old.Path, a, old.Generation+1)
	s.inst = inst
	r.mu.Unlock()

	r.release(old)
	r.logger.Debug("swapped", "id", int(tok.ID), "path", inst.Path, "generation", inst.Generation, "stand_in", inst.IsErrorStandIn)
	r.emit(Event{Type: EventReplaced, ID: tok.ID, Path: inst.Path, StandIn: inst.IsErrorStandIn, Generation: inst.Generation})
	return inst, nil
}

// Close removes the instance under id and releases it. The identity is not
// reused.
func (r *Registry) Close(ctx context.Context, id StableID) error {
	r.mu.Lock()
	s, ok := r.slots[id]
	if !ok {
		r.mu.Unlock()
		return &pluginerr.IdentityConflictError{ID: int(id)}
	}
	delete(r.slots, id)
	if r.byPath[s.inst.Path] == id {
		delete(r.byPath, s.inst.Path)
	}
	r.closed[id] = true
	r.mu.Unlock()

	r.release(s.inst)
	r.logger.Debug("closed", "id", int(id), "path", s.inst.Path)
	r.emit(Event{Type: EventClosed, ID: id, Path: s.inst.Path, StandIn: s.inst.IsErrorStandIn, Generation: s.inst.Generation})
	return nil
}

// CloseAll closes every live identity.
func (r *Registry) CloseAll(ctx context.Context) error {
	var errs []error
	for _, inst := range r.List() {
		if err := r.Close(ctx, inst.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the instance under id.
func (r *Registry) Get(id StableID) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, false
	}
	return s.inst, true
}

// FindByPath returns the live instance bound to path.
func (r *Registry) FindByPath(path string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPath[path]
	if !ok {
		return nil, false
	}
	return r.slots[id].inst, true
}

// List returns all live instances ordered by ID.
func (r *Registry) List() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Instance, 0, len(r.slots))
	for _, s := range r.slots {
		result = append(result, s.inst)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Len returns the number of live instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// State returns the state of the slot for id.
func (r *Registry) State(id StableID) State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.slots[id]; ok {
		return stateOf(s.inst)
	}
	if r.closed[id] {
		return StateClosed
	}
	return StateEmpty
}

// construct instantiates ep, closing it when construction fails.
func (r *Registry) construct(ctx context.Context, ep EntryPoint) (app.Application, error) {
	if ep == nil {
		return nil, errors.New("nil entry point")
	}
	a, err := ep.Instantiate(ctx)
	if err != nil {
		if c, ok := ep.(closer); ok {
			if cerr := c.Close(); cerr != nil {
				r.logger.Warn("close entry point failed", "error", cerr)
			}
		}
		return nil, err
	}
	if a == nil {
		return nil, errors.New("entry point returned no application")
	}
	return a, nil
}

func (r *Registry) newInstance(id StableID, path string, a app.Application, generation int) *Instance {
	diag, standIn := app.DiagnosticOf(a)
	return &Instance{
		ID:             id,
		Path:           path,
		App:            a,
		Metadata:       a.Metadata(),
		IsErrorStandIn: standIn,
		Diagnostic:     diag,
		Generation:     generation,
		LoadedAt:       r.now(),
	}
}

func (r *Registry) release(inst *Instance) {
	if inst != nil {
		closeApp(r.logger, inst.App)
	}
}

func closeApp(logger hclog.Logger, a app.Application) {
	c, ok := a.(app.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("close instance failed", "error", err)
	}
}
