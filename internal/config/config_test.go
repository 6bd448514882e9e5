package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCoordinatorConfig(t *testing.T) {
	cfg, err := LoadCoordinatorConfig("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1030", cfg.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.LeaseDuration)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
}

func TestOptionsOverrideFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coordinator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: 0.0.0.0:9000\n"), 0o644))

	cfg, err := LoadCoordinatorConfig(path, WithListenAddr("10.0.0.1:1030"), WithLeaseDuration(9*time.Second))
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1:1030", cfg.ListenAddr, "option must win over file")
	assert.Equal(t, 9*time.Second, cfg.LeaseDuration, "option must win over default")
}

func TestZeroOptionsDoNotClobberLoadedValues(t *testing.T) {
	cfg, err := LoadCoordinatorConfig("", WithListenAddr(""), WithLeaseDuration(0))
	require.NoError(t, err)
	assert.Equal(t, DefaultCoordinatorConfig().ListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultCoordinatorConfig().LeaseDuration, cfg.LeaseDuration)
}

func TestDefaultWorkerConfig(t *testing.T) {
	cfg, err := LoadWorkerConfig("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1030", cfg.CoordinatorAddr)
	assert.Equal(t, 1*time.Second, cfg.PollInterval)
}
