package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "http://127.0.0.1:8080", c.ServerURL)
	assert.Equal(t, "sqlite", c.StoreDriver)
	assert.Equal(t, 3*time.Second, c.OnlineCheckInterval)
	assert.Equal(t, 30*time.Second, c.Freshness)
	assert.Equal(t, 10, c.BackupRetention)
	assert.Equal(t, 50, c.BatchSize)
	assert.Equal(t, 500*time.Millisecond, c.BatchPause)
	assert.Zero(t, c.AutoBackupInterval)
	assert.NoError(t, c.Validate())
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"fleetsync"}

	cfg := LoadConfig()

	require.NotNil(t, cfg, "LoadConfig must not return nil")
	assert.Equal(t, "http://127.0.0.1:8080", cfg.ServerURL)
	assert.Equal(t, 3*time.Second, cfg.OnlineCheckInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "relative url", mutate: func(c *Config) { c.ServerURL = "fleet.local" }, want: "must be absolute"},
		{name: "no driver", mutate: func(c *Config) { c.StoreDriver = "" }, want: "store driver"},
		{name: "zero interval", mutate: func(c *Config) { c.OnlineCheckInterval = 0 }, want: "online check interval"},
		{name: "zero retention", mutate: func(c *Config) { c.BackupRetention = 0 }, want: "retention"},
		{name: "zero batch", mutate: func(c *Config) { c.BatchSize = 0 }, want: "batch size"},
		{name: "negative pause", mutate: func(c *Config) { c.BatchPause = -time.Second }, want: "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
