package realm

import (
	"context"

	"github.com/dop251/goja"
	"github.com/hashicorp/go-hclog"

	"github.com/runnit/runnit/internal/plugin/app"
	"github.com/runnit/runnit/internal/plugin/ui"
)

// jsApp exposes a plugin object as an app.Application. The object only needs
// a metadata property; header() and body() are optional and fall back to the
// defaults of app.Base.
type jsApp struct {
	*app.Base

	realm  *Realm
	obj    *goja.Object
	path   string
	logger hclog.Logger

	// Hook frames, guarded by the realm lock
	headerFrame hookFrame
	bodyFrame   hookFrame
}

func newJSApp(r *Realm, vm *goja.Runtime, obj *goja.Object, path string) *jsApp {
	typeName := ""
	if ctor, ok := obj.Get("constructor").(*goja.Object); ok {
		if name := ctor.Get("name"); name != nil {
			typeName = name.String()
		}
	}
	a := &jsApp{
		realm:  r,
		obj:    obj,
		path:   path,
		logger: r.logger,
	}
	a.Base = app.NewBase(typeName, readMetadata(vm, obj))
	return a
}

func (a *jsApp) do(fn func(vm *goja.Runtime) error) error {
	return a.realm.Do(context.Background(), fn)
}

// Metadata implements app.Application.
func (a *jsApp) Metadata() app.Metadata {
	var m app.Metadata
	err := a.do(func(vm *goja.Runtime) error {
		m = readMetadata(vm, a.obj)
		return nil
	})
	if err != nil {
		return a.Base.Metadata()
	}
	return m
}

// SetMetadata implements app.Application. Empty fields keep their value.
func (a *jsApp) SetMetadata(m app.Metadata) {
	a.Base.SetMetadata(m)
	err := a.do(func(vm *goja.Runtime) error {
		cur := readMetadata(vm, a.obj)
		if m.Name != "" {
			cur.Name = m.Name
		}
		if m.Icon != "" {
			cur.Icon = m.Icon
		}
		mo := vm.NewObject()
		_ = mo.Set("name", cur.Name)
		_ = mo.Set("icon", cur.Icon)
		return a.obj.Set("metadata", mo)
	})
	if err != nil {
		a.logger.Warn("set metadata failed", "path", a.path, "error", err)
	}
}

// Header implements app.Application.
func (a *jsApp) Header() (ui.Node, error) {
	var (
		node     ui.Node
		fallback bool
		meta     app.Metadata
		trailing []ui.Node
	)
	err := a.do(func(vm *goja.Runtime) error {
		fn, ok := goja.AssertFunction(a.obj.Get("header"))
		if !ok {
			fallback = true
			meta = readMetadata(vm, a.obj)
			var err error
			trailing, err = readTrailing(vm, a.obj)
			return err
		}
		var err error
		node, err = a.renderWith(vm, &a.headerFrame, fn)
		return err
	})
	if err != nil {
		return ui.Node{}, err
	}
	if fallback {
		return a.Base.HeaderFor(meta, trailing), nil
	}
	return node, nil
}

// Body implements app.Application.
func (a *jsApp) Body() (ui.Node, error) {
	var (
		node     ui.Node
		fallback bool
	)
	err := a.do(func(vm *goja.Runtime) error {
		fn, ok := goja.AssertFunction(a.obj.Get("body"))
		if !ok {
			fallback = true
			return nil
		}
		var err error
		node, err = a.renderWith(vm, &a.bodyFrame, fn)
		return err
	})
	if err != nil {
		return ui.Node{}, err
	}
	if fallback {
		return a.Base.Body()
	}
	return node, nil
}

func (a *jsApp) renderWith(vm *goja.Runtime, f *hookFrame, fn goja.Callable) (ui.Node, error) {
	v, err := a.realm.render(f, func() (goja.Value, error) {
		return fn(a.obj)
	})
	if err != nil {
		return ui.Node{}, err
	}
	return toNode(vm, v)
}

// SetOnGrabStart implements app.Lifecycle.
func (a *jsApp) SetOnGrabStart(fn func()) {
	a.Base.SetOnGrabStart(fn)
	a.forward("setOnGrabStart", fn)
}

// SetOnGrabbing implements app.Lifecycle.
func (a *jsApp) SetOnGrabbing(fn func()) {
	a.Base.SetOnGrabbing(fn)
	a.forward("setOnGrabbing", fn)
}

// SetOnGrabEnd implements app.Lifecycle.
func (a *jsApp) SetOnGrabEnd(fn func()) {
	a.Base.SetOnGrabEnd(fn)
	a.forward("setOnGrabEnd", fn)
}

// SetOnMaximize implements app.Lifecycle.
func (a *jsApp) SetOnMaximize(fn func()) {
	a.Base.SetOnMaximize(fn)
	a.forward("setOnMaximize", fn)
}

// SetOnMinimize implements app.Lifecycle.
func (a *jsApp) SetOnMinimize(fn func()) {
	a.Base.SetOnMinimize(fn)
	a.forward("setOnMinimize", fn)
}

// SetOnClose implements app.Lifecycle.
func (a *jsApp) SetOnClose(fn func()) {
	a.Base.SetOnClose(fn)
	a.forward("setOnClose", fn)
}

// SetOnResizeStart implements app.Lifecycle.
func (a *jsApp) SetOnResizeStart(fn func([]app.Side)) {
	a.Base.SetOnResizeStart(fn)
	a.forwardSides("setOnResizeStart", fn)
}

// SetOnResizing implements app.Lifecycle.
func (a *jsApp) SetOnResizing(fn func([]app.Side)) {
	a.Base.SetOnResizing(fn)
	a.forwardSides("setOnResizing", fn)
}

// SetOnResizeEnd implements app.Lifecycle.
func (a *jsApp) SetOnResizeEnd(fn func([]app.Side)) {
	a.Base.SetOnResizeEnd(fn)
	a.forwardSides("setOnResizeEnd", fn)
}

// forward passes fn to the plugin's setter of the same name, if it has one.
// The callback runs with the realm lock held and must not call back into
// this instance synchronously.
func (a *jsApp) forward(setter string, fn func()) {
	a.callSetter(setter, func(goja.FunctionCall) goja.Value {
		if fn != nil {
			fn()
		}
		return goja.Undefined()
	})
}

func (a *jsApp) forwardSides(setter string, fn func([]app.Side)) {
	a.callSetter(setter, func(call goja.FunctionCall) goja.Value {
		if fn == nil {
			return goja.Undefined()
		}
		var sides []app.Side
		if n := len(call.Arguments); n > 0 {
			if list, ok := call.Arguments[n-1].Export().([]any); ok {
				for _, s := range list {
					if str, ok := s.(string); ok {
						sides = append(sides, app.Side(str))
					}
				}
			}
		}
		fn(sides)
		return goja.Undefined()
	})
}

func (a *jsApp) callSetter(setter string, wrapper func(goja.FunctionCall) goja.Value) {
	err := a.do(func(vm *goja.Runtime) error {
		fn, ok := goja.AssertFunction(a.obj.Get(setter))
		if !ok {
			return nil
		}
		_, err := fn(a.obj, vm.ToValue(wrapper))
		return err
	})
	if err != nil {
		a.logger.Warn("lifecycle setter failed", "path", a.path, "setter", setter, "error", err)
	}
}

// Close runs pending effect cleanups and releases the realm.
func (a *jsApp) Close() error {
	_ = a.do(func(*goja.Runtime) error {
		a.headerFrame.dispose()
		a.bodyFrame.dispose()
		return nil
	})
	return a.realm.Close()
}

// readMetadata reads obj.metadata, falling back to obj.appFile.
func readMetadata(vm *goja.Runtime, obj *goja.Object) app.Metadata {
	for _, prop := range []string{"metadata", "appFile"} {
		v := obj.Get(prop)
		mo, ok := v.(*goja.Object)
		if !ok {
			continue
		}
		return app.Metadata{
			Name: stringProp(mo, "name"),
			Icon: stringProp(mo, "icon"),
		}
	}
	return app.Metadata{}
}

func stringProp(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

// readTrailing converts obj.headerTrailingItems to nodes.
func readTrailing(vm *goja.Runtime, obj *goja.Object) ([]ui.Node, error) {
	v := obj.Get("headerTrailingItems")
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	n, err := toNode(vm, v)
	if err != nil {
		return nil, err
	}
	if n.Type == ui.Fragment {
		return n.Children, nil
	}
	if n.IsZero() {
		return nil, nil
	}
	return []ui.Node{n}, nil
}

var (
	_ app.Application = (*jsApp)(nil)
	_ app.Closer      = (*jsApp)(nil)
)
