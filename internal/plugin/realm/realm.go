package realm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/hashicorp/go-hclog"
)

// Default limits for a realm.
const (
	DefaultExecutionTimeout = 5 * time.Second // Per call into the realm
	DefaultMaxCallStack     = 1024
)

// Realm wraps one goja runtime.
//
// IMPORTANT: goja.Runtime is not goroutine-safe. Every access goes through Do,
// which serializes callers on the realm mutex. Code running inside Do (Go
// functions called from JavaScript) already holds the lock and must use the
// *goja.Runtime it was handed instead of calling Do again.
type Realm struct {
	vm *goja.Runtime

	mu sync.Mutex

	// Configuration
	executionTimeout time.Duration
	maxCallStack     int
	logger           hclog.Logger

	// Render state, guarded by mu
	frame *hookFrame

	closed bool
}

// Option configures a Realm.
type Option func(*Realm)

// WithExecutionTimeout bounds each call into the realm. Zero disables the
// bound.
func WithExecutionTimeout(d time.Duration) Option {
	return func(r *Realm) {
		r.executionTimeout = d
	}
}

// WithMaxCallStack limits the JavaScript call stack depth.
func WithMaxCallStack(n int) Option {
	return func(r *Realm) {
		r.maxCallStack = n
	}
}

// WithLogger sets the logger console output is routed to.
func WithLogger(l hclog.Logger) Option {
	return func(r *Realm) {
		r.logger = l
	}
}

// New creates a sandboxed realm.
func New(opts ...Option) *Realm {
	r := &Realm{
		executionTimeout: DefaultExecutionTimeout,
		maxCallStack:     DefaultMaxCallStack,
		logger:           hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.vm = goja.New()
	if r.maxCallStack > 0 {
		r.vm.SetMaxCallStackSize(r.maxCallStack)
	}
	installSandbox(r.vm, r.logger)
	return r
}

// Do runs fn with exclusive access to the runtime. The call is interrupted
// when ctx is done or the execution timeout elapses. Panics are recovered and
// JavaScript exceptions are returned as *ScriptError.
func (r *Realm) Do(ctx context.Context, fn func(vm *goja.Runtime) error) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRealmClosed
	}

	vm := r.vm
	vm.ClearInterrupt()
	defer vm.ClearInterrupt()

	if r.executionTimeout > 0 {
		t := time.AfterFunc(r.executionTimeout, func() {
			vm.Interrupt(ErrExecutionTimeout)
		})
		defer t.Stop()
	}
	if ctx != nil && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			vm.Interrupt(ctx.Err())
		})
		defer stop()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("realm panic: %v", rec)
		}
	}()

	return scriptError(fn(vm))
}

// IsClosed returns true if the realm has been closed.
func (r *Realm) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close releases the runtime. Further calls to Do return ErrRealmClosed.
func (r *Realm) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.frame = nil
	return nil
}

// ScriptError is a JavaScript exception that escaped into Go.
type ScriptError struct {
	Message string // String value of the thrown object
	Stack   string // Message plus one "\tat ..." line per frame
	err     error
}

func (e *ScriptError) Error() string {
	return e.Message
}

func (e *ScriptError) Unwrap() error {
	return e.err
}

// StackOf returns the JavaScript stack carried by err, or "".
func StackOf(err error) string {
	var se *ScriptError
	if errors.As(err, &se) {
		return se.Stack
	}
	return ""
}

// scriptError converts goja errors into package errors.
func scriptError(err error) error {
	if err == nil {
		return nil
	}

	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if cause, ok := ie.Value().(error); ok {
			return fmt.Errorf("interrupted: %w", cause)
		}
		return fmt.Errorf("interrupted: %v", ie.Value())
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		msg := "exception"
		if v := ex.Value(); v != nil {
			msg = v.String()
		}
		return &ScriptError{Message: msg, Stack: ex.String(), err: err}
	}

	var se *goja.CompilerSyntaxError
	if errors.As(err, &se) {
		return &ScriptError{Message: se.Error(), Stack: se.Error(), err: err}
	}

	return err
}
