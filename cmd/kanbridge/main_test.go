package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/kanbridge/internal/config"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "kanbridge vdev\n", out)
}

func TestConfig_PrintsEffectiveTOML(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("api_url = \"http://gateway:3000\"\nproject_id = \"p1\"\n"), 0o600))
	t.Setenv(config.EnvPrefix+"_REPO_ID", "r9")

	out, err := run(t, "--config", path, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "http://gateway:3000")
	assert.Contains(t, out, "project_id = ")
	assert.Contains(t, out, "r9", "environment overrides the file")
}

func TestLoadServeConfig_FlagsBeatEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[http]\naddr = \":6000\"\n"), 0o600))
	t.Setenv(config.EnvPrefix+"_HTTP_ADDR", ":7000")
	t.Setenv(config.EnvPrefix+"_METRICS_ADDR", ":7001")
	load := func(v *viper.Viper) (*config.Config, error) { return config.LoadWith(v, path) }

	cmd := newServeCmd(load)
	require.NoError(t, cmd.ParseFlags([]string{"--http", ":9000"}))
	cfg, err := loadServeConfig(cmd, load)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTP.Addr, "explicit flag")
	assert.Equal(t, ":7001", cfg.Metrics.Addr, "environment when the flag is not given")

	cmd = newServeCmd(load)
	require.NoError(t, cmd.ParseFlags(nil))
	cfg, err = loadServeConfig(cmd, load)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr, "environment over the file")
}

func TestConfig_MissingExplicitFile(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "nope.toml"), "config")
	assert.Error(t, err)
}

func TestBanner(t *testing.T) {
	cfg := config.Default()
	cfg.ProjectID = "p1"
	cfg.DataDir = filepath.Join("data", "kb")
	var buf bytes.Buffer
	banner(&buf, &cfg, "stdio")
	assert.Contains(t, buf.String(), "kanbridge")
	assert.Contains(t, buf.String(), "project  p1")
	assert.Contains(t, buf.String(), "history  "+filepath.Join("data", "kb", "history.db"))
	assert.Contains(t, buf.String(), "serving  stdio")

	buf.Reset()
	cfg.History.Enabled = false
	banner(&buf, &cfg, "stdio")
	assert.Contains(t, buf.String(), "disabled")
}
