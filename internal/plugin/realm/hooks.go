package realm

import (
	"fmt"

	"github.com/dop251/goja"
)

// Hook kinds, used to detect a change in hook order between renders.
const (
	hookState   = "useState"
	hookReducer = "useReducer"
	hookRef     = "useRef"
	hookMemo    = "useMemo"
	hookEffect  = "useEffect"
)

type hookSlot struct {
	kind    string
	value   goja.Value
	deps    []goja.Value
	hasDeps bool
	cleanup goja.Callable
}

// hookFrame holds the hook slots of one render target (header or body) of
// one plugin instance.
type hookFrame struct {
	slots   []*hookSlot
	cursor  int
	effects []func()
}

// begin prepares the frame for a render pass.
func (f *hookFrame) begin() {
	f.cursor = 0
	f.effects = f.effects[:0]
}

// next returns the slot for the next hook call, creating it on first render.
func (f *hookFrame) next(vm *goja.Runtime, kind string) (*hookSlot, bool) {
	i := f.cursor
	f.cursor++
	if i < len(f.slots) {
		s := f.slots[i]
		if s.kind != kind {
			panic(vm.NewTypeError(fmt.Sprintf("hook order changed: %s called where %s was called before", kind, s.kind)))
		}
		return s, false
	}
	s := &hookSlot{kind: kind}
	f.slots = append(f.slots, s)
	return s, true
}

// dispose runs every pending effect cleanup.
func (f *hookFrame) dispose() {
	for _, s := range f.slots {
		if s.cleanup != nil {
			_, _ = s.cleanup(goja.Undefined())
			s.cleanup = nil
		}
	}
}

// render runs fn with frame as the active hook frame, then runs the effects
// queued during the pass. The realm lock must be held.
func (r *Realm) render(f *hookFrame, fn func() (goja.Value, error)) (goja.Value, error) {
	prev := r.frame
	r.frame = f
	f.begin()
	v, err := fn()
	r.frame = prev
	if err != nil {
		return nil, err
	}

	effects := append([]func(){}, f.effects...)
	f.effects = f.effects[:0]
	for _, run := range effects {
		run()
	}
	return v, nil
}

// currentFrame returns the active frame or throws.
func (r *Realm) currentFrame(vm *goja.Runtime) *hookFrame {
	if r.frame == nil {
		panic(vm.NewGoError(ErrHookOutsideRender))
	}
	return r.frame
}

func depsChanged(prev, next []goja.Value) bool {
	if len(prev) != len(next) {
		return true
	}
	for i := range prev {
		if !prev[i].SameAs(next[i]) {
			return true
		}
	}
	return false
}

func exportDeps(vm *goja.Runtime, v goja.Value) ([]goja.Value, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	obj := v.ToObject(vm)
	n := int(obj.Get("length").ToInteger())
	deps := make([]goja.Value, n)
	for i := 0; i < n; i++ {
		deps[i] = obj.Get(fmt.Sprint(i))
	}
	return deps, true
}

// installHooks adds the hook functions to the UI binding object.
func (r *Realm) installHooks(vm *goja.Runtime, ui *goja.Object) {
	_ = ui.Set("useState", func(call goja.FunctionCall) goja.Value {
		f := r.currentFrame(vm)
		s, first := f.next(vm, hookState)
		if first {
			s.value = call.Argument(0)
			if init, ok := goja.AssertFunction(s.value); ok {
				v, err := init(goja.Undefined())
				if err != nil {
					panic(err)
				}
				s.value = v
			}
		}
		setter := func(c goja.FunctionCall) goja.Value {
			next := c.Argument(0)
			if update, ok := goja.AssertFunction(next); ok {
				v, err := update(goja.Undefined(), s.value)
				if err != nil {
					panic(err)
				}
				next = v
			}
			s.value = next
			return goja.Undefined()
		}
		return vm.NewArray(s.value, vm.ToValue(setter))
	})

	_ = ui.Set("useReducer", func(call goja.FunctionCall) goja.Value {
		f := r.currentFrame(vm)
		reducer, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("useReducer: reducer is not a function"))
		}
		s, first := f.next(vm, hookReducer)
		if first {
			s.value = call.Argument(1)
			if init, ok := goja.AssertFunction(call.Argument(2)); ok {
				v, err := init(goja.Undefined(), s.value)
				if err != nil {
					panic(err)
				}
				s.value = v
			}
		}
		dispatch := func(c goja.FunctionCall) goja.Value {
			v, err := reducer(goja.Undefined(), s.value, c.Argument(0))
			if err != nil {
				panic(err)
			}
			s.value = v
			return goja.Undefined()
		}
		return vm.NewArray(s.value, vm.ToValue(dispatch))
	})

	_ = ui.Set("useRef", func(call goja.FunctionCall) goja.Value {
		f := r.currentFrame(vm)
		s, first := f.next(vm, hookRef)
		if first {
			ref := vm.NewObject()
			_ = ref.Set("current", call.Argument(0))
			s.value = ref
		}
		return s.value
	})

	memo := func(call goja.FunctionCall, compute func() goja.Value) goja.Value {
		f := r.currentFrame(vm)
		s, first := f.next(vm, hookMemo)
		deps, hasDeps := exportDeps(vm, call.Argument(1))
		if first || !hasDeps || !s.hasDeps || depsChanged(s.deps, deps) {
			s.value = compute()
			s.deps, s.hasDeps = deps, hasDeps
		}
		return s.value
	}

	_ = ui.Set("useMemo", func(call goja.FunctionCall) goja.Value {
		return memo(call, func() goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(vm.NewTypeError("useMemo: factory is not a function"))
			}
			v, err := fn(goja.Undefined())
			if err != nil {
				panic(err)
			}
			return v
		})
	})

	_ = ui.Set("useCallback", func(call goja.FunctionCall) goja.Value {
		return memo(call, func() goja.Value { return call.Argument(0) })
	})

	// useContext keeps no slot, so it may be called conditionally.
	_ = ui.Set("useContext", func(call goja.FunctionCall) goja.Value {
		r.currentFrame(vm)
		return contextValue(call.Argument(0))
	})

	_ = ui.Set("useEffect", func(call goja.FunctionCall) goja.Value {
		f := r.currentFrame(vm)
		effect, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("useEffect: effect is not a function"))
		}
		s, first := f.next(vm, hookEffect)
		deps, hasDeps := exportDeps(vm, call.Argument(1))
		if !first && hasDeps && s.hasDeps && !depsChanged(s.deps, deps) {
			return goja.Undefined()
		}
		s.deps, s.hasDeps = deps, hasDeps

		f.effects = append(f.effects, func() {
			if s.cleanup != nil {
				if _, err := s.cleanup(goja.Undefined()); err != nil {
					r.logger.Warn("effect cleanup failed", "error", scriptError(err))
				}
				s.cleanup = nil
			}
			ret, err := effect(goja.Undefined())
			if err != nil {
				r.logger.Warn("effect failed", "error", scriptError(err))
				return
			}
			if cleanup, ok := goja.AssertFunction(ret); ok {
				s.cleanup = cleanup
			}
		})
		return goja.Undefined()
	})
}
