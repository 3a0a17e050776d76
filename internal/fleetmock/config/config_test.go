package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	c := &Config{}
	c.LoadDefaults()

	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, ":50051", c.GRPCAddr)
	assert.Empty(t, c.SecretKey)
	assert.Equal(t, 24*time.Hour, c.TokenValidity)
	assert.Equal(t, "json", c.LogFormat)
	assert.Equal(t, "info", c.LogLevel)
}

func TestLoadConfig_FlagsOverrideDefaults(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"fleetmock", "-a", ":9999", "-s", "k", "-unknown", "x"}

	c := LoadConfig()
	assert.Equal(t, ":9999", c.HTTPAddr)
	assert.Equal(t, "k", c.SecretKey)
	assert.Equal(t, ":50051", c.GRPCAddr)
}
