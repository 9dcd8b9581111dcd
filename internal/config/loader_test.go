package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadWithHome(t *testing.T) *Config {
	t.Helper()
	cfg, err := NewLoader(viper.New(), WithHomeDir(t.TempDir())).Load()
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := loadWithHome(t)

	assert.Equal(t, 2*time.Second, cfg.Wait.DefaultPollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Wait.MinPollInterval)
	assert.Equal(t, 5*time.Second, cfg.Wait.MaxPollInterval)
	assert.Equal(t, 300*time.Second, cfg.Wait.DefaultTimeout)
	assert.Equal(t, 0.01, cfg.Wait.PixelDiffThreshold)
	assert.Equal(t, 320, cfg.Wait.DiffMaxWidth)
	assert.Equal(t, 30*time.Second, cfg.Wait.MaxStatic)
	assert.Equal(t, 2, cfg.Wait.PartialStreakResolve)
	assert.Equal(t, 0.75, cfg.Wait.ResolveConfidence)
	assert.True(t, cfg.Wait.AdaptivePolling)

	assert.Equal(t, 100, cfg.Display.SlotStart)
	assert.Equal(t, 1280, cfg.Display.DefaultWidth)
	assert.Equal(t, 720, cfg.Display.DefaultHeight)
	assert.Equal(t, 5*time.Second, cfg.Display.StopTimeout)

	assert.Equal(t, "ollama", cfg.Vision.Backend)
	assert.Equal(t, 180*time.Second, cfg.Vision.Timeout)

	assert.Equal(t, 300*time.Second, cfg.Journal.StuckThreshold)
	assert.Equal(t, 60*time.Second, cfg.Journal.StuckInterval)

	assert.Equal(t, "127.0.0.1:8765", cfg.Server.Addr())

	// Load creates the data directories.
	assert.DirExists(t, cfg.Paths.DataDir)
	assert.DirExists(t, cfg.Paths.ScreenshotsDir)
}

func TestLoadConfigFile(t *testing.T) {
	home := t.TempDir()
	content := []byte(`
wait:
  pollInterval: 1s
  maxPollInterval: 15s
  partialStreakResolve: 3
vision:
  backend: passthrough
server:
  port: 9000
`)
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), content, 0600))

	cfg, err := NewLoader(viper.New(), WithHomeDir(home)).Load()
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Wait.DefaultPollInterval)
	assert.Equal(t, 15*time.Second, cfg.Wait.MaxPollInterval)
	assert.Equal(t, 3, cfg.Wait.PartialStreakResolve)
	assert.Equal(t, "passthrough", cfg.Vision.Backend)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadBadDurationWarns(t *testing.T) {
	home := t.TempDir()
	content := []byte("wait:\n  pollInterval: nonsense\n")
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), content, 0600))

	cfg, err := NewLoader(viper.New(), WithHomeDir(home)).Load()
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Warnings)
	assert.Equal(t, time.Duration(0), cfg.Wait.DefaultPollInterval)
}

func TestLoadIntegerSecondsDuration(t *testing.T) {
	home := t.TempDir()
	content := []byte("wait:\n  defaultTimeout: 60\n")
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), content, 0600))

	cfg, err := NewLoader(viper.New(), WithHomeDir(home)).Load()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.Wait.DefaultTimeout)
}
