package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jannikluhn/tlbc-monitor/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, "http://localhost:8540", cfg.RPCURI)
	assert.Equal(t, "reports", cfg.ReportDir)
	assert.Equal(t, "state", cfg.DBDir)
	require.NotNil(t, cfg.SkipRate)
	assert.Equal(t, 0.5, *cfg.SkipRate)
	require.NotNil(t, cfg.OfflineWindow)
	assert.Equal(t, 24*time.Hour, cfg.OfflineWindow.Duration)
	assert.Equal(t, "-1000", cfg.SyncFrom)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout.Duration)

	require.NotNil(t, cfg.Retry)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialBackoff.Duration)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxBackoff.Duration)
	assert.Equal(t, 2.0, cfg.Retry.BackoffMultiplier)

	assert.Equal(t, "WAL", cfg.DB.JournalMode)
	assert.Equal(t, "NORMAL", cfg.DB.Synchronous)
	assert.Equal(t, 5000, cfg.DB.BusyTimeout)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	rate := 0.25
	cfg := &Config{RPCURI: "http://example.com:8545", SkipRate: &rate}
	cfg.ApplyDefaults()

	assert.Equal(t, "http://example.com:8545", cfg.RPCURI)
	assert.Equal(t, 0.25, *cfg.SkipRate)
}

func TestApplyDefaultsKeepsExplicitZeroValues(t *testing.T) {
	// zero is inside the valid domain of both fields and must survive
	rate := 0.0
	window := common.NewDuration(0)
	cfg := &Config{SkipRate: &rate, OfflineWindow: &window}
	cfg.ApplyDefaults()

	require.NotNil(t, cfg.SkipRate)
	assert.Equal(t, 0.0, *cfg.SkipRate)
	require.NotNil(t, cfg.OfflineWindow)
	assert.Equal(t, time.Duration(0), cfg.OfflineWindow.Duration)

	cfg.ChainSpecPath = "/some/spec.json"
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{ChainSpecPath: "/some/spec.json"}
		cfg.ApplyDefaults()
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "missing chain spec path",
			mutate: func(c *Config) { c.ChainSpecPath = "" },
		},
		{
			name:   "skip rate above one",
			mutate: func(c *Config) { *c.SkipRate = 1.5 },
		},
		{
			name:   "negative skip rate",
			mutate: func(c *Config) { *c.SkipRate = -0.1 },
		},
		{
			name:   "bad journal mode",
			mutate: func(c *Config) { c.DB.JournalMode = "SCROLL" },
		},
		{
			name:   "bad synchronous mode",
			mutate: func(c *Config) { c.DB.Synchronous = "MAYBE" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rpc_uri: http://node:8540
chain_spec_path: /chain/spec.json
skip_rate: 0.3
offline_window: 1h
retry:
  max_attempts: 5
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://node:8540", cfg.RPCURI)
	assert.Equal(t, "/chain/spec.json", cfg.ChainSpecPath)
	require.NotNil(t, cfg.SkipRate)
	assert.Equal(t, 0.3, *cfg.SkipRate)
	require.NotNil(t, cfg.OfflineWindow)
	assert.Equal(t, time.Hour, cfg.OfflineWindow.Duration)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
}

func TestLoadFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"rpc_uri": "http://node:8540",
		"chain_spec_path": "/chain/spec.json",
		"sync_from": "latest"
	}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://node:8540", cfg.RPCURI)
	assert.Equal(t, "latest", cfg.SyncFrom)
}

func TestLoadFromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
rpc_uri = "http://node:8540"
chain_spec_path = "/chain/spec.json"
watch_chain_spec = true
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://node:8540", cfg.RPCURI)
	assert.True(t, cfg.WatchChainSpec)
}

func TestLoadFromFileRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
}
