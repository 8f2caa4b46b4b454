package realm

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/dop251/goja"

	"github.com/runnit/runnit/internal/plugin/app"
	"github.com/runnit/runnit/internal/plugin/resolve"
	"github.com/runnit/runnit/internal/plugin/ui"
)

//go:embed prelude.js
var preludeSource string

var prelude = goja.MustCompile("runnit:prelude", preludeSource, true)

var appIDs atomic.Int64

// newBridge builds the capability bridge object for the realm: the
// application base class, the UI framework binding and the markup runtime.
// The realm lock must be held.
func (r *Realm) newBridge(vm *goja.Runtime) (*goja.Object, error) {
	factoryVal, err := vm.RunProgram(prelude)
	if err != nil {
		return nil, fmt.Errorf("run prelude: %w", err)
	}
	factory, ok := goja.AssertFunction(factoryVal)
	if !ok {
		return nil, fmt.Errorf("prelude is not a function")
	}

	host := vm.NewObject()
	_ = host.Set("nextID", func() int64 { return appIDs.Add(1) })
	_ = host.Set("defaultWidth", app.DefaultSize.Width)
	_ = host.Set("defaultHeight", app.DefaultSize.Height)
	_ = host.Set("minimumWidth", app.MinimumSize.Width)
	_ = host.Set("minimumHeight", app.MinimumSize.Height)

	appVal, err := factory(goja.Undefined(), host)
	if err != nil {
		return nil, fmt.Errorf("prelude: %w", scriptError(err))
	}

	uiObj := vm.NewObject()
	_ = uiObj.Set("createElement", r.createElement(vm))
	_ = uiObj.Set("Fragment", ui.Fragment)
	_ = uiObj.Set("createContext", createContext(vm))
	r.installHooks(vm, uiObj)

	jsxObj := vm.NewObject()
	_ = jsxObj.Set("jsx", r.jsx(vm))
	_ = jsxObj.Set("jsxs", r.jsx(vm))
	_ = jsxObj.Set("Fragment", ui.Fragment)

	bridge := vm.NewObject()
	_ = bridge.Set(resolve.BridgeApp, appVal)
	_ = bridge.Set(resolve.BridgeUI, uiObj)
	_ = bridge.Set(resolve.BridgeJSX, jsxObj)
	return bridge, nil
}

// Context object fields.
const (
	contextCurrent = "_currentValue"
	contextDefault = "_defaultValue"
)

// createContext implements createContext(defaultValue). Components are
// rendered eagerly, before an enclosing Provider runs, so a Provider sets
// the value seen by every later read rather than scoping it to its
// children.
func createContext(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		ctx := vm.NewObject()
		_ = ctx.Set(contextCurrent, call.Argument(0))
		_ = ctx.Set(contextDefault, call.Argument(0))

		_ = ctx.Set("Provider", func(c goja.FunctionCall) goja.Value {
			props := c.Argument(0)
			if obj, ok := props.(*goja.Object); ok {
				if v := obj.Get("value"); v != nil {
					_ = ctx.Set(contextCurrent, v)
				}
				return orUndefined(obj.Get("children"))
			}
			return goja.Undefined()
		})
		_ = ctx.Set("Consumer", func(c goja.FunctionCall) goja.Value {
			obj, ok := c.Argument(0).(*goja.Object)
			if !ok {
				return goja.Undefined()
			}
			render, ok := goja.AssertFunction(obj.Get("children"))
			if !ok {
				panic(vm.NewTypeError("Context.Consumer expects a function as its child"))
			}
			v, err := render(goja.Undefined(), ctx.Get(contextCurrent))
			if err != nil {
				panic(err)
			}
			return v
		})
		return ctx
	}
}

// contextValue returns the current value of a context object, or undefined
// when v is not one.
func contextValue(v goja.Value) goja.Value {
	obj, ok := v.(*goja.Object)
	if !ok {
		return goja.Undefined()
	}
	return orUndefined(obj.Get(contextCurrent))
}

func orUndefined(v goja.Value) goja.Value {
	if v == nil {
		return goja.Undefined()
	}
	return v
}

// createElement implements createElement(type, props, ...children).
func (r *Realm) createElement(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var children []goja.Value
		if len(call.Arguments) > 2 {
			children = call.Arguments[2:]
		}
		return r.element(vm, call.Argument(0), call.Argument(1), children, goja.Undefined())
	}
}

// jsx implements jsx(type, props, key) and jsxs. Children arrive in
// props.children.
func (r *Realm) jsx(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		props := call.Argument(1)
		var children []goja.Value
		if obj, ok := props.(*goja.Object); ok {
			if c := obj.Get("children"); c != nil && !goja.IsUndefined(c) {
				children = []goja.Value{c}
			}
		}
		return r.element(vm, call.Argument(0), props, children, call.Argument(2))
	}
}

// element builds a node. Function components are called eagerly with their
// props, so the result is always a plain node.
func (r *Realm) element(vm *goja.Runtime, typ, props goja.Value, children []goja.Value, key goja.Value) goja.Value {
	if component, ok := goja.AssertFunction(typ); ok {
		p := vm.NewObject()
		if obj, ok := props.(*goja.Object); ok {
			for _, k := range obj.Keys() {
				_ = p.Set(k, obj.Get(k))
			}
		}
		switch len(children) {
		case 0:
		case 1:
			_ = p.Set("children", children[0])
		default:
			_ = p.Set("children", vm.NewArray(valuesToAny(children)...))
		}
		out, err := component(goja.Undefined(), p)
		if err != nil {
			panic(err)
		}
		n, err := toNode(vm, out)
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		return vm.ToValue(&n)
	}

	if typ == nil || goja.IsUndefined(typ) || goja.IsNull(typ) {
		panic(vm.NewTypeError("element type is invalid: expected a string or a function"))
	}

	n := ui.Node{Type: typ.String(), Props: r.convertProps(vm, props)}
	if k, ok := n.Props["key"]; ok {
		n.Key = fmt.Sprint(k)
		delete(n.Props, "key")
	}
	if key != nil && !goja.IsUndefined(key) && !goja.IsNull(key) {
		n.Key = key.String()
	}
	for _, c := range children {
		child, err := toNode(vm, c)
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		n.Children = appendChild(n.Children, child)
	}
	return vm.ToValue(&n)
}

// convertProps copies props into a Go map. Function values become handlers
// that re-enter the realm through Do.
func (r *Realm) convertProps(vm *goja.Runtime, props goja.Value) map[string]any {
	out := make(map[string]any)
	obj, ok := props.(*goja.Object)
	if !ok {
		return out
	}
	for _, k := range obj.Keys() {
		if k == "children" {
			continue
		}
		v := obj.Get(k)
		if fn, ok := goja.AssertFunction(v); ok {
			out[k] = r.handler(fn)
			continue
		}
		if n, ok := nodeOf(v); ok {
			out[k] = n
			continue
		}
		out[k] = v.Export()
	}
	return out
}

// handler wraps a realm function as a host handler.
func (r *Realm) handler(fn goja.Callable) ui.Handler {
	return func(args ...any) error {
		return r.Do(context.Background(), func(vm *goja.Runtime) error {
			jsArgs := make([]goja.Value, len(args))
			for i, a := range args {
				jsArgs[i] = vm.ToValue(a)
			}
			_, err := fn(goja.Undefined(), jsArgs...)
			return err
		})
	}
}

// nodeOf unwraps a node value created by the bridge.
func nodeOf(v goja.Value) (ui.Node, bool) {
	if v == nil {
		return ui.Node{}, false
	}
	switch n := v.Export().(type) {
	case *ui.Node:
		return *n, true
	case ui.Node:
		return n, true
	}
	return ui.Node{}, false
}

// toNode converts a render result or child value to a node. null, undefined
// and booleans render as nothing.
func toNode(vm *goja.Runtime, v goja.Value) (ui.Node, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ui.Node{}, nil
	}
	if n, ok := nodeOf(v); ok {
		return n, nil
	}

	switch exp := v.Export().(type) {
	case bool:
		return ui.Node{}, nil
	case string:
		return ui.Text(exp), nil
	case int64, float64, int, int32:
		return ui.Text(v.String()), nil
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return ui.Text(v.String()), nil
	}
	if obj.ClassName() == "Array" {
		var children []ui.Node
		n := int(obj.Get("length").ToInteger())
		for i := 0; i < n; i++ {
			child, err := toNode(vm, obj.Get(fmt.Sprint(i)))
			if err != nil {
				return ui.Node{}, err
			}
			children = appendChild(children, child)
		}
		return ui.Group(children...), nil
	}

	keys := obj.Keys()
	sort.Strings(keys)
	return ui.Node{}, fmt.Errorf("objects are not valid as a child (found object with keys %v)", keys)
}

// appendChild appends child, dropping empty nodes and inlining fragments
// without keys.
func appendChild(children []ui.Node, child ui.Node) []ui.Node {
	if child.IsZero() {
		return children
	}
	if child.Type == ui.Fragment && child.Key == "" {
		for _, c := range child.Children {
			children = appendChild(children, c)
		}
		return children
	}
	return append(children, child)
}

func valuesToAny(vs []goja.Value) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}
