package realm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnit/runnit/internal/plugin/app"
	"github.com/runnit/runnit/internal/plugin/compiler"
	"github.com/runnit/runnit/internal/plugin/pluginerr"
	"github.com/runnit/runnit/internal/plugin/resolve"
	"github.com/runnit/runnit/internal/plugin/ui"
)

type noFetch struct{}

func (noFetch) Fetch(context.Context, string) (string, error) {
	return "", errors.New("offline")
}

func compile(t *testing.T, path, src string) *compiler.Artifact {
	t.Helper()
	c := compiler.New(resolve.New(resolve.WithFetcher(noFetch{})))
	art, err := c.Compile(context.Background(), path, src)
	require.NoError(t, err)
	return art
}

func instantiate(t *testing.T, l *Loader, path, src string) app.Application {
	t.Helper()
	mod, err := l.Import(context.Background(), compile(t, path, src))
	require.NoError(t, err)
	a, err := mod.Instantiate(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.(app.Closer).Close() })
	return a
}

func click(t *testing.T, tree ui.Node, id string) {
	t.Helper()
	n, ok := ui.Find(tree, ui.ByProp("id", id))
	require.True(t, ok, "node %q", id)
	h, ok := n.Handler("onClick")
	require.True(t, ok, "onClick on %q", id)
	require.NoError(t, h())
}

const counterApp = `import OSApp from "runnit/OSApp";
import { useState } from "react";

export default class Counter extends OSApp {
  constructor(props) {
    super(props);
    this.setAppFile({ name: "Counter", icon: "/icons/counter.png" });
  }

  body() {
    const [n, setN] = useState(0);
    return (
      <div>
        <button id="inc" onClick={() => setN((p) => p + 1)}>+</button>
        <p id="value">{n}</p>
        <button id="close" onClick={() => this.close()}>close</button>
      </div>
    );
  }
}
`

func TestImportInstantiate(t *testing.T) {
	l := NewLoader()
	a := instantiate(t, l, "/apps/counter.tsx", counterApp)

	assert.Equal(t, 0, l.Resources().Len())
	assert.Equal(t, app.Metadata{Name: "Counter", Icon: "/icons/counter.png"}, a.Metadata())

	body, err := a.Body()
	require.NoError(t, err)
	value, ok := ui.Find(body, ui.ByProp("id", "value"))
	require.True(t, ok)
	assert.Equal(t, "0", ui.PlainText(value))

	click(t, body, "inc")
	click(t, body, "inc")

	body, err = a.Body()
	require.NoError(t, err)
	value, _ = ui.Find(body, ui.ByProp("id", "value"))
	assert.Equal(t, "2", ui.PlainText(value))

	header, err := a.Header()
	require.NoError(t, err)
	assert.Contains(t, ui.PlainText(header), "Counter")
}

func TestLifecycleForwarding(t *testing.T) {
	a := instantiate(t, NewLoader(), "/apps/counter.tsx", counterApp)

	closed := make(chan struct{}, 1)
	a.SetOnClose(func() { closed <- struct{}{} })

	body, err := a.Body()
	require.NoError(t, err)
	click(t, body, "close")

	select {
	case <-closed:
	default:
		t.Fatal("close callback not called")
	}
}

func TestStructuralApp(t *testing.T) {
	src := `export default class Plain {
  constructor() { this.metadata = { name: "Plain", icon: "/icons/plain.png" }; }
}
`
	a := instantiate(t, NewLoader(), "/apps/plain.tsx", src)
	assert.Equal(t, "Plain", a.Metadata().Name)

	header, err := a.Header()
	require.NoError(t, err)
	assert.Contains(t, ui.PlainText(header), "Plain")
	_, ok := ui.Find(header, ui.ByProp("id", "maximize"))
	assert.True(t, ok)

	body, err := a.Body()
	require.NoError(t, err)
	assert.Equal(t, "Override Plain.body() to update the app.", ui.PlainText(body))

	a.SetMetadata(app.Metadata{Name: "Renamed"})
	assert.Equal(t, app.Metadata{Name: "Renamed", Icon: "/icons/plain.png"}, a.Metadata())
}

func TestDefineApp(t *testing.T) {
	src := `import { defineApp } from "runnit/OSApp";
export default defineApp({
  metadata: { name: "Defined", icon: "/icons/d.png" },
  body() { return <p>{this.metadata.name}</p>; },
});
`
	a := instantiate(t, NewLoader(), "/apps/defined.tsx", src)
	body, err := a.Body()
	require.NoError(t, err)
	assert.Equal(t, "Defined", ui.PlainText(body))
}

func TestEffectsAndTrailingItems(t *testing.T) {
	src := `import OSApp from "runnit/OSApp";
import { useState, useEffect, useRef, useMemo } from "react";

const Main = ({ add }) => {
  const [color] = useState("red");
  const renders = useRef(0);
  renders.current++;
  const label = useMemo(() => "color:" + color, [color]);
  useEffect(() => {
    add(<span id="extra">*</span>);
  }, []);
  return <p id="label">{label} {renders.current}</p>;
};

export default class Trailing extends OSApp {
  constructor(props) {
    super(props);
    this.setAppFile({ name: "Trailing" });
  }
  body = () => <Main add={(item) => this.addHeaderTrailingItem(item)} />;
}
`
	a := instantiate(t, NewLoader(), "/apps/trailing.tsx", src)

	for i := 1; i <= 2; i++ {
		body, err := a.Body()
		require.NoError(t, err)
		label, ok := ui.Find(body, ui.ByProp("id", "label"))
		require.True(t, ok)
		assert.Equal(t, "color:red "+string(rune('0'+i)), ui.PlainText(label))
	}

	header, err := a.Header()
	require.NoError(t, err)
	extras := ui.FindAll(header, ui.ByProp("id", "extra"))
	assert.Len(t, extras, 1, "effect with empty deps runs once")
}

func TestImportThrows(t *testing.T) {
	l := NewLoader()
	src := "const x = 1;\nthrow new Error(\"boom at import\");\nexport default class A {}\n"

	_, err := l.Import(context.Background(), compile(t, "/apps/throws.tsx", src))
	require.Error(t, err)
	assert.ErrorIs(t, err, pluginerr.ErrRuntimeInstantiation)

	var rie *pluginerr.RuntimeInstantiationError
	require.True(t, errors.As(err, &rie))
	assert.Equal(t, PhaseImport, rie.Phase)
	assert.Contains(t, rie.Stack, "boom at import")
	assert.Contains(t, rie.Stack, "bundle:/apps/throws.tsx:")
	assert.Equal(t, 0, l.Resources().Len())
}

func TestConstructorThrows(t *testing.T) {
	l := NewLoader()
	src := "export default class A {\n  constructor() {\n    throw new Error(\"no\");\n  }\n}\n"

	mod, err := l.Import(context.Background(), compile(t, "/apps/ctor.tsx", src))
	require.NoError(t, err)
	defer mod.Close()

	_, err = mod.Instantiate(context.Background())
	var rie *pluginerr.RuntimeInstantiationError
	require.True(t, errors.As(err, &rie))
	assert.Equal(t, PhaseConstruct, rie.Phase)
	assert.Contains(t, rie.Stack, "Error: no")
}

func TestNotConstructible(t *testing.T) {
	_, err := NewLoader().Import(context.Background(), compile(t, "/apps/num.tsx", "export default 42;\n"))
	assert.ErrorIs(t, err, ErrNotConstructible)
	assert.ErrorIs(t, err, pluginerr.ErrRuntimeInstantiation)
}

func TestArtifactSingleUse(t *testing.T) {
	l := NewLoader()
	art := compile(t, "/apps/counter.tsx", counterApp)

	mod, err := l.Import(context.Background(), art)
	require.NoError(t, err)
	defer mod.Close()

	_, err = l.Import(context.Background(), art)
	assert.ErrorIs(t, err, compiler.ErrArtifactConsumed)
}

func TestBridgeNotGlobal(t *testing.T) {
	src := `export default class Leak {
  metadata = { name: "Leak" };
  body() {
    const leaked = Object.getOwnPropertyNames(globalThis).filter((k) => k.indexOf("__runnit_bridge_") === 0);
    return <p>{String(leaked.length)}</p>;
  }
}
`
	a := instantiate(t, NewLoader(), "/apps/leak.tsx", src)
	body, err := a.Body()
	require.NoError(t, err)
	assert.Equal(t, "0", ui.PlainText(body))
}

func TestUseContext(t *testing.T) {
	src := `import { createContext, useContext } from "react";

const Theme = createContext("light");

function Label() {
  return <span>{useContext(Theme)}</span>;
}

export default class Themed {
  metadata = { name: "Themed" };
  header() {
    return <span>{String(useContext(null))}</span>;
  }
  body() {
    return (
      <div>
        <Theme.Provider value="dark">
          <Label />
        </Theme.Provider>
        <Theme.Consumer>{(v) => <b>{"/" + v}</b>}</Theme.Consumer>
      </div>
    );
  }
}
`
	a := instantiate(t, NewLoader(), "/apps/themed.tsx", src)

	header, err := a.Header()
	require.NoError(t, err)
	assert.Equal(t, "undefined", ui.PlainText(header))

	// Children render before their Provider, so the first pass sees the
	// default and the Consumer sees the provided value.
	body, err := a.Body()
	require.NoError(t, err)
	assert.Equal(t, "light/dark", ui.PlainText(body))

	body, err = a.Body()
	require.NoError(t, err)
	assert.Equal(t, "dark/dark", ui.PlainText(body))
}

func TestUseContextOutsideRender(t *testing.T) {
	src := `import { createContext, useContext } from "react";
const Theme = createContext(1);
export default class Early {
  constructor() { useContext(Theme); }
}
`
	mod, err := NewLoader().Import(context.Background(), compile(t, "/apps/early.tsx", src))
	require.NoError(t, err)
	defer mod.Close()

	_, err = mod.Instantiate(context.Background())
	require.Error(t, err)
	assert.Contains(t, pluginerr.Diagnostic(err), "hooks can only be called")
}

func TestHookOutsideRender(t *testing.T) {
	src := `import { useState } from "react";
export default class Early {
  constructor() { useState(0); }
}
`
	mod, err := NewLoader().Import(context.Background(), compile(t, "/apps/early.tsx", src))
	require.NoError(t, err)
	defer mod.Close()

	_, err = mod.Instantiate(context.Background())
	require.Error(t, err)
	assert.Contains(t, pluginerr.Diagnostic(err), "hooks can only be called")
}

func TestRenderThrows(t *testing.T) {
	src := "export default class Bad {\n  metadata = { name: \"Bad\" };\n  body() {\n    return missing.value;\n  }\n}\n"
	a := instantiate(t, NewLoader(), "/apps/bad.tsx", src)

	_, err := a.Body()
	require.Error(t, err)
	stack := StackOf(err)
	assert.True(t, strings.HasPrefix(stack, "ReferenceError"), stack)
	assert.Contains(t, stack, "bundle:/apps/bad.tsx:")
}

func TestInstantiateTimeout(t *testing.T) {
	l := NewLoader(WithLimits(50*time.Millisecond, 0))
	src := "export default class Spin {\n  constructor() { for (;;) {} }\n}\n"

	mod, err := l.Import(context.Background(), compile(t, "/apps/spin.tsx", src))
	require.NoError(t, err)
	defer mod.Close()

	_, err = mod.Instantiate(context.Background())
	assert.ErrorIs(t, err, ErrExecutionTimeout)
}

func TestClosedInstance(t *testing.T) {
	mod, err := NewLoader().Import(context.Background(), compile(t, "/apps/counter.tsx", counterApp))
	require.NoError(t, err)
	a, err := mod.Instantiate(context.Background())
	require.NoError(t, err)

	require.NoError(t, a.(app.Closer).Close())
	_, err = a.Body()
	assert.ErrorIs(t, err, ErrRealmClosed)
}
