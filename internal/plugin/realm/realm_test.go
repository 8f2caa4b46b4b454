package realm

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealmDo(t *testing.T) {
	r := New()
	defer r.Close()

	var got int64
	err := r.Do(context.Background(), func(vm *goja.Runtime) error {
		v, err := vm.RunString("6 * 7")
		if err != nil {
			return err
		}
		got = v.ToInteger()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestRealmScriptError(t *testing.T) {
	r := New()
	defer r.Close()

	err := r.Do(context.Background(), func(vm *goja.Runtime) error {
		_, err := vm.RunScript("boom.js", "function f() { throw new Error('boom'); }\nf();")
		return err
	})
	require.Error(t, err)

	var se *ScriptError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "Error: boom", se.Message)
	assert.Contains(t, se.Stack, "boom.js:1:")
	assert.Equal(t, se.Stack, StackOf(err))
}

func TestRealmRecoversPanics(t *testing.T) {
	r := New()
	defer r.Close()

	err := r.Do(context.Background(), func(*goja.Runtime) error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	// The realm stays usable.
	assert.NoError(t, r.Do(context.Background(), func(*goja.Runtime) error { return nil }))
}

func TestRealmTimeout(t *testing.T) {
	r := New(WithExecutionTimeout(50 * time.Millisecond))
	defer r.Close()

	err := r.Do(context.Background(), func(vm *goja.Runtime) error {
		_, err := vm.RunString("for (;;) {}")
		return err
	})
	assert.ErrorIs(t, err, ErrExecutionTimeout)

	// The interrupt is cleared for the next call.
	assert.NoError(t, r.Do(context.Background(), func(vm *goja.Runtime) error {
		_, err := vm.RunString("1")
		return err
	}))
}

func TestRealmContextCancel(t *testing.T) {
	r := New(WithExecutionTimeout(0))
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.Do(ctx, func(vm *goja.Runtime) error {
		_, err := vm.RunString("for (;;) {}")
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRealmClose(t *testing.T) {
	r := New()
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.True(t, r.IsClosed())

	err := r.Do(context.Background(), func(*goja.Runtime) error { return nil })
	assert.ErrorIs(t, err, ErrRealmClosed)
}

func TestSandbox(t *testing.T) {
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Name: "test", Level: hclog.Trace, Output: &buf})

	r := New(WithLogger(logger))
	defer r.Close()

	var kinds []string
	err := r.Do(context.Background(), func(vm *goja.Runtime) error {
		v, err := vm.RunString(`[typeof eval, typeof Function]`)
		if err != nil {
			return err
		}
		for _, k := range v.Export().([]any) {
			kinds = append(kinds, k.(string))
		}
		_, err = vm.RunString(`console.log("hello", 1, {a: 2}); console.error("bad")`)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"undefined", "undefined"}, kinds)
	assert.Contains(t, buf.String(), `hello 1 {"a":2}`)
	assert.Contains(t, buf.String(), "[ERROR]")
}

func TestSandboxBlocksFunctionConstructors(t *testing.T) {
	r := New()
	defer r.Close()

	escapes := []string{
		`(function () {}).constructor("return 1")()`,
		`Object.getPrototypeOf(function () {}).constructor("return 1")()`,
		`(function* () {}).constructor("yield 1")`,
		`(async function () {}).constructor("return 1")`,
		`(() => 0).constructor("return 1")()`,
	}
	for _, src := range escapes {
		t.Run(src, func(t *testing.T) {
			err := r.Do(context.Background(), func(vm *goja.Runtime) error {
				_, err := vm.RunString(src)
				return err
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), ErrCodeGeneration.Error())
		})
	}

	// Ordinary functions and classes still work.
	err := r.Do(context.Background(), func(vm *goja.Runtime) error {
		v, err := vm.RunString(`class A { f() { return 2; } } new A().f() + (function () { return 1; })()`)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(3), v.ToInteger())
		return nil
	})
	require.NoError(t, err)
}

func TestResourceTable(t *testing.T) {
	rt := NewResourceTable()

	a := rt.Publish("code a")
	b := rt.Publish("code b")
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, rt.Len())

	code, ok := rt.Lookup(a)
	require.True(t, ok)
	assert.Equal(t, "code a", code)

	rt.Release(a)
	rt.Release(a)
	_, ok = rt.Lookup(a)
	assert.False(t, ok)
	assert.Equal(t, 1, rt.Len())
}
