package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.InDelta(t, 0.5, cfg.Tape.TickSize, 1e-9)
	assert.InDelta(t, 0.7, cfg.Tape.LevelBuySplit, 1e-9)
	assert.InDelta(t, 0.6, cfg.Tape.ClusterBuySplit, 1e-9)
	assert.Equal(t, 30*time.Minute, cfg.Tape.LevelRetention)
	assert.Equal(t, time.Minute, cfg.Tape.ClusterWindow)
	assert.InDelta(t, 50.0, cfg.Tape.LargeVolume, 1e-9)
	assert.InDelta(t, 100.0, cfg.Tape.DominantVolume, 1e-9)
	assert.InDelta(t, 0.6, cfg.Tape.AggressiveFlowMin, 1e-9)
	assert.InDelta(t, 300.0, cfg.Tape.AbsorptionMinVolume, 1e-9)
	assert.InDelta(t, 500.0, cfg.Tape.HiddenMinVolume, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.Tape.HiddenWindow)
	assert.Equal(t, 5, cfg.Tape.BreakoutFastTicks)
	assert.Equal(t, 15, cfg.Tape.BreakoutSlowTicks)
	assert.InDelta(t, 2.5, cfg.Tape.BreakoutRatio, 1e-9)

	assert.Equal(t, 3, cfg.Risk.MaxPositions)
	assert.InDelta(t, 10000.0, cfg.Risk.StartingValue, 1e-9)
	assert.InDelta(t, 1.5, cfg.Risk.StopLossPoints, 1e-9)
	assert.InDelta(t, 3.0, cfg.Risk.TakeProfitPoints, 1e-9)
	assert.Equal(t, 7*24*time.Hour, cfg.Risk.SnapshotRetention)

	assert.Equal(t, "WDOFUT", cfg.Feed.Symbol)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
log_level: debug
tape:
  tick_size: 0.25
risk:
  max_positions: 5
  starting_value: 50000
feed:
  symbol: DOLFUT
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.InDelta(t, 0.25, cfg.Tape.TickSize, 1e-9)
	assert.Equal(t, 5, cfg.Risk.MaxPositions)
	assert.InDelta(t, 50000.0, cfg.Risk.StartingValue, 1e-9)
	assert.Equal(t, "DOLFUT", cfg.Feed.Symbol)

	// Defaults survive where the file is silent.
	assert.InDelta(t, 0.95, cfg.Risk.VaRConfidence, 1e-9)
	assert.Equal(t, time.Minute, cfg.Risk.SnapshotInterval)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml::"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick size", func(c *Config) { c.Tape.TickSize = 0 }},
		{"negative tick size", func(c *Config) { c.Tape.TickSize = -0.5 }},
		{"level split above one", func(c *Config) { c.Tape.LevelBuySplit = 1.2 }},
		{"cluster split below zero", func(c *Config) { c.Tape.ClusterBuySplit = -0.1 }},
		{"zero max positions", func(c *Config) { c.Risk.MaxPositions = 0 }},
		{"zero starting value", func(c *Config) { c.Risk.StartingValue = 0 }},
		{"var confidence at one", func(c *Config) { c.Risk.VaRConfidence = 1 }},
		{"var confidence at zero", func(c *Config) { c.Risk.VaRConfidence = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base().Validate())
}
