package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernald/kernald/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9876", cfg.BindAddr)
	assert.Equal(t, 10000, cfg.PortRangeMin)
	assert.Equal(t, 20000, cfg.PortRangeMax)
	assert.Equal(t, 20, cfg.SalvageSnapshotNotes)
	assert.True(t, cfg.DeadAfter > cfg.StaleAfter)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("KERNALD_BIND_ADDR", "0.0.0.0:9999")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.BindAddr)
}

func TestLoad_MissingFileIsNotFatal(t *testing.T) {
	_, err := config.Load("/nonexistent/path/kernald.yaml")
	require.NoError(t, err)
}
