package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clockSrc = `export default class Clock {
  metadata = { name: "Clock", icon: "/icons/clock.png" };
  header() {
    return <span>Clock</span>;
  }
  body() {
    return <p>12:00</p>;
  }
}
`

const brokenSrc = `export default class Broken {
  body() {
    return 1 +;
  }
}
`

// setup writes plugin files under <root>/apps and a config pointing at root.
func setup(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	apps := filepath.Join(root, "apps")
	require.NoError(t, os.MkdirAll(apps, 0o755))
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(apps, name), []byte(src), 0o644))
	}

	cfg := fmt.Sprintf(`[store]
root = '%s'

[compiler]
allow_remote = false

[log]
level = "off"
`, root)
	path := filepath.Join(root, "runnit.toml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand("1.2.3", "abc", "today")
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "", "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "1.2.3 (commit: abc, built: today)")
}

func TestRunCommand(t *testing.T) {
	cfg := setup(t, map[string]string{"clock.tsx": clockSrc})

	out, _, err := execute(t, "", "--config", cfg, "run", "/apps/clock.tsx")
	require.NoError(t, err)
	assert.Contains(t, out, "Clock")
	assert.Contains(t, out, "12:00")
	assert.Contains(t, out, "/apps/clock.tsx")
}

func TestRunCommandFailure(t *testing.T) {
	cfg := setup(t, map[string]string{"broken.tsx": brokenSrc})

	_, errOut, err := execute(t, "", "--config", cfg, "run", "/apps/broken.tsx")
	assert.ErrorIs(t, err, errPluginsFailed)
	assert.Contains(t, errOut, "/apps/broken.tsx: transpile failed")
	assert.Contains(t, errOut, "/apps/broken.tsx:3:")
}

func TestRunCommandRequiresPath(t *testing.T) {
	_, _, err := execute(t, "", "run")
	assert.Error(t, err)
}

func TestDiscoverCommand(t *testing.T) {
	cfg := setup(t, map[string]string{
		"clock.tsx":  clockSrc,
		"broken.tsx": brokenSrc,
		"notes.txt":  "not a plugin",
	})

	out, errOut, err := execute(t, "", "--config", cfg, "discover", "-q")
	assert.ErrorIs(t, err, errPluginsFailed)
	assert.Equal(t, "1\t/apps/clock.tsx\tClock\n", out)
	assert.Contains(t, errOut, "/apps/broken.tsx")
}

func TestDiscoverCommandEmpty(t *testing.T) {
	cfg := setup(t, nil)

	out, _, err := execute(t, "", "--config", cfg, "discover")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTranslateCommand(t *testing.T) {
	cfg := setup(t, map[string]string{"clock.tsx": clockSrc})

	stack := "Error: boom\n\tat native\n\tat other (bundle:/apps/unknown.tsx:1:1(0))\n"
	out, _, err := execute(t, stack, "--config", cfg, "translate", "/apps/clock.tsx")
	require.NoError(t, err)
	assert.Equal(t, stack, out)
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runnit.toml")
	require.NoError(t, os.WriteFile(path, []byte("[store]\ndriver = \"s3\"\n"), 0o644))

	_, _, err := execute(t, "", "--config", path, "discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initializing config")
}
