package shell

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnit/runnit/internal/config"
)

const helloSrc = `export default class Hello {
  metadata = { name: "Hello", icon: "/icons/hello.png" };
  body() {
    return <p>hello</p>;
  }
}
`

func fsConfig(t *testing.T) (config.Config, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "apps"), 0o755))
	cfg := config.Default()
	cfg.Store.Root = root
	cfg.Log.Level = "debug"
	cfg.Watch.Debounce = config.Duration(50 * time.Millisecond)
	cfg.Compiler.AllowRemote = false
	return cfg, root
}

func newShell(t *testing.T, cfg config.Config) *Shell {
	t.Helper()
	s, err := New(context.Background(), Options{Config: &cfg, LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func TestNewFSStore(t *testing.T) {
	cfg, root := fsConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "apps", "hello.tsx"), []byte(helloSrc), 0o644))

	s := newShell(t, cfg)
	require.NotNil(t, s.Engine())

	report, err := s.Engine().Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Loaded, 1)
	assert.Equal(t, "Hello", report.Loaded[0].Metadata.Name)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, 0, s.Engine().Registry().Len())
	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestNewSQLiteStore(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = DriverSQLite
	cfg.Store.DSN = filepath.Join(t.TempDir(), "files.db")
	cfg.Compiler.AllowRemote = false

	s := newShell(t, cfg)
	ctx := context.Background()

	inst, err := s.Engine().Save(ctx, "/apps/hello.tsx", helloSrc)
	require.NoError(t, err)
	assert.Equal(t, "Hello", inst.Metadata.Name)

	f, err := s.Store().ReadText(ctx, "/apps/hello.tsx")
	require.NoError(t, err)
	assert.Equal(t, helloSrc, f.Text)

	assert.ErrorIs(t, s.Watch(ctx, nil), ErrWatchUnsupported)
}

func TestNewFailureReportsComponent(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*config.Config)
		component string
	}{
		{"invalid config", func(c *config.Config) { c.Store.Driver = "s3" }, "config"},
		{"missing root", func(c *config.Config) { c.Store.Root = filepath.Join(c.Store.Root, "nope") }, "store"},
		{"bad target", func(c *config.Config) { c.Compiler.Target = "es1999" }, "engine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := fsConfig(t)
			tt.mutate(&cfg)

			_, err := New(context.Background(), Options{Config: &cfg, LogOutput: &bytes.Buffer{}})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInitialization)

			var ie *InitError
			require.True(t, errors.As(err, &ie))
			assert.Equal(t, tt.component, ie.Component)
		})
	}
}

func TestLogLevelOverride(t *testing.T) {
	cfg, _ := fsConfig(t)
	var buf bytes.Buffer
	s, err := New(context.Background(), Options{Config: &cfg, LogLevel: "error", LogOutput: &buf})
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	assert.True(t, s.Logger().IsError())
	assert.False(t, s.Logger().IsInfo())
}

func TestEngineConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Plugins.Extension = "jsx"
	cfg.Sandbox.MaxCallStack = 64

	ec := EngineConfig(cfg)
	assert.Equal(t, ".jsx", ec.Extension)
	assert.Equal(t, "/apps", ec.PluginDir)
	assert.Equal(t, 64, ec.MaxCallStack)
	assert.Equal(t, 5*time.Second, ec.ExecutionTimeout)
}

func TestWatch(t *testing.T) {
	cfg, root := fsConfig(t)
	s := newShell(t, cfg)
	file := filepath.Join(root, "apps", "hello.tsx")

	var mu sync.Mutex
	var reloads []Reload
	last := func(match func(Reload) bool) bool {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range reloads {
			if match(r) {
				return true
			}
		}
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func(r Reload) {
			mu.Lock()
			reloads = append(reloads, r)
			mu.Unlock()
		})
	}()

	// The watcher starts asynchronously; rewrite until it notices.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(file, []byte(helloSrc), 0o644)
		return last(func(r Reload) bool { return r.Err == nil && r.Instance != nil })
	}, 5*time.Second, 100*time.Millisecond)

	inst, ok := s.Engine().Registry().FindByPath("/apps/hello.tsx")
	require.True(t, ok)
	assert.Equal(t, "Hello", inst.Metadata.Name)

	require.NoError(t, os.Remove(file))
	require.Eventually(t, func() bool {
		return last(func(r Reload) bool { return r.Closed })
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, s.Engine().Registry().Len())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchAfterShutdown(t *testing.T) {
	cfg, _ := fsConfig(t)
	s := newShell(t, cfg)
	require.NoError(t, s.Shutdown(context.Background()))
	assert.ErrorIs(t, s.Watch(context.Background(), nil), ErrClosed)
}
