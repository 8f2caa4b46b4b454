package compiler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnit/runnit/internal/plugin/pluginerr"
	"github.com/runnit/runnit/internal/plugin/resolve"
)

const notesApp = `import OSApp from "runnit/OSApp";
import { useState } from "react";

export default class Notes extends OSApp {
  metadata = { name: "Notes", icon: "/icons/notes.png" };

  body() {
    const [n, setN] = useState(0);
    return <div><button onClick={() => setN(n + 1)}>{n}</button></div>;
  }
}
`

type nopFetcher struct{}

func (nopFetcher) Fetch(context.Context, string) (string, error) {
	return "", errors.New("network disabled in tests")
}

func newTestCompiler() *Compiler {
	return New(resolve.New(resolve.WithFetcher(nopFetcher{})))
}

func TestCompile(t *testing.T) {
	c := newTestCompiler()

	art, err := c.Compile(context.Background(), "/apps/notes.tsx", notesApp)
	require.NoError(t, err)

	assert.Equal(t, "/apps/notes.tsx", art.Path)
	assert.Equal(t, "bundle:/apps/notes.tsx", art.GeneratedName)
	assert.True(t, resolve.ValidBridgeKey(art.BridgeKey))
	assert.Contains(t, art.Code, "module.exports")
	assert.Contains(t, art.Code, art.BridgeKey)
	assert.NotContains(t, art.Code, "sourceMappingURL")

	sources := mapSources(art.SourceMap)
	assert.Contains(t, sources, "/apps/notes.tsx")
}

func TestCompileFreshBridgeKey(t *testing.T) {
	c := newTestCompiler()

	a, err := c.Compile(context.Background(), "/apps/notes.tsx", notesApp)
	require.NoError(t, err)
	b, err := c.Compile(context.Background(), "/apps/notes.tsx", notesApp)
	require.NoError(t, err)

	assert.NotEqual(t, a.BridgeKey, b.BridgeKey)
	assert.NotContains(t, b.Code, a.BridgeKey)
}

func TestCompileSyntaxError(t *testing.T) {
	c := newTestCompiler()

	src := "export default class A {\n  body() {\n    return <div>;\n  }\n}\n"
	art, err := c.Compile(context.Background(), "/apps/bad.tsx", src)
	require.Error(t, err)
	assert.Nil(t, art)
	assert.ErrorIs(t, err, pluginerr.ErrTranspile)

	var te *pluginerr.TranspileError
	require.True(t, errors.As(err, &te))
	require.NotEmpty(t, te.Messages)
	assert.Equal(t, "/apps/bad.tsx", te.Messages[0].File)
	assert.Greater(t, te.Messages[0].Line, 0)
	assert.Greater(t, te.Messages[0].Column, 0)
}

func TestCompileUnresolvedImport(t *testing.T) {
	c := newTestCompiler()

	src := "import _ from \"lodash\";\nexport default class A { body() { return _.noop(); } }\n"
	art, err := c.Compile(context.Background(), "/apps/lodash.tsx", src)
	require.Error(t, err)
	assert.Nil(t, art)
	assert.ErrorIs(t, err, pluginerr.ErrModuleResolution)

	var mre *pluginerr.ModuleResolutionError
	require.True(t, errors.As(err, &mre))
	assert.Equal(t, "lodash", mre.Specifier)
}

func TestCompileRemoteFailure(t *testing.T) {
	c := newTestCompiler()

	src := "import x from \"https://cdn.example.com/x.js\";\nexport default x;\n"
	_, err := c.Compile(context.Background(), "/apps/remote.tsx", src)
	require.Error(t, err)
	assert.ErrorIs(t, err, pluginerr.ErrModuleResolution)
	assert.Contains(t, err.Error(), "network disabled")
}

func TestCompileEmptyPath(t *testing.T) {
	_, err := newTestCompiler().Compile(context.Background(), "", "export default 1")
	assert.Error(t, err)
}

func TestArtifactTakeOnce(t *testing.T) {
	art, err := newTestCompiler().Compile(context.Background(), "/apps/notes.tsx", notesApp)
	require.NoError(t, err)

	code, err := art.Take()
	require.NoError(t, err)
	assert.Equal(t, art.Code, code)
	assert.True(t, art.Consumed())

	_, err = art.Take()
	assert.ErrorIs(t, err, ErrArtifactConsumed)
}

func TestParseTarget(t *testing.T) {
	got, err := ParseTarget(" ES2020 ")
	require.NoError(t, err)
	assert.Equal(t, api.ES2020, got)

	_, err = ParseTarget("es3")
	assert.Error(t, err)
}

func TestRenameSource(t *testing.T) {
	raw := []byte(`{"version":3,"sources":["virtual:react","plugin:/apps/a.tsx"],"mappings":""}`)
	out, err := renameSource(raw, "plugin", "/apps/a.tsx")
	require.NoError(t, err)
	assert.Equal(t, []string{"virtual:react", "/apps/a.tsx"}, mapSources(out))

	_, err = renameSource([]byte("{"), "plugin", "/apps/a.tsx")
	assert.Error(t, err)

	_, err = renameSource([]byte(`{"version":3}`), "plugin", "/apps/a.tsx")
	assert.True(t, err != nil && strings.Contains(err.Error(), "no sources"))
}
