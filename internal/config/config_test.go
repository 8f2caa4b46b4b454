package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runnit.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ".tsx", cfg.PluginExtension())
	assert.Equal(t, 5*time.Second, cfg.Sandbox.ExecutionTimeout.Std())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[plugins]
dir = "/home/apps"

[compiler]
target = "es2020"
allow_remote = false
fetch_timeout = "2s"

[sandbox]
execution_timeout = "250ms"

[store]
driver = "sqlite"
dsn = "/tmp/files.db"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/home/apps", cfg.Plugins.Dir)
	assert.Equal(t, "tsx", cfg.Plugins.Extension)
	assert.Equal(t, "es2020", cfg.Compiler.Target)
	assert.False(t, cfg.Compiler.AllowRemote)
	assert.Equal(t, 2*time.Second, cfg.Compiler.FetchTimeout.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Sandbox.ExecutionTimeout.Std())
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "[log]\nlevel = \"warn\"\n")
	t.Setenv("RUNNIT_LOG_LEVEL", "debug")
	t.Setenv("RUNNIT_SANDBOX_EXECUTION_TIMEOUT", "1s")
	t.Setenv("RUNNIT_PLUGINS_DIR", "/env/apps")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, time.Second, cfg.Sandbox.ExecutionTimeout.Std())
	assert.Equal(t, "/env/apps", cfg.Plugins.Dir)
}

func TestParseError(t *testing.T) {
	path := writeConfig(t, "[plugins]\ndir = \n")
	_, err := Load(path)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, path, pe.Path)
	assert.Equal(t, 2, pe.Line)
}

func TestUnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, "[plugins]\ndirectory = \"/apps\"\n")
	_, err := Load(path)

	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Plugins.Dir = "apps"
	cfg.Store.Driver = "s3"
	cfg.Diagnostics.MaxSourceMaps = 0
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Problems, 4)
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 1m30s ")))
	assert.Equal(t, 90*time.Second, d.Std())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
