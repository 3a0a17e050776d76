package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/flagx"
	"github.com/dmitrijs2005/fleetsync/internal/timex"
)

// JsonConfig is the on-disk form of Config. Durations accept "1h" strings
// or integer nanoseconds via timex.Duration.
type JsonConfig struct {
	HTTPAddr      string          `json:"http_addr"`
	GRPCAddr      *string         `json:"grpc_addr"`
	SecretKey     string          `json:"secret_key"`
	TokenValidity *timex.Duration `json:"token_validity"`
	LogFormat     string          `json:"log_format"`
	LogLevel      string          `json:"log_level"`
}

// parseJson overlays the file named by -c/-config onto config. Missing
// keys keep their current values. Unreadable or invalid files panic.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.HTTPAddr != "" {
		config.HTTPAddr = c.HTTPAddr
	}
	if c.GRPCAddr != nil {
		config.GRPCAddr = *c.GRPCAddr
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.TokenValidity != nil {
		config.TokenValidity = time.Duration(c.TokenValidity.Duration)
	}
	if c.LogFormat != "" {
		config.LogFormat = c.LogFormat
	}
	if c.LogLevel != "" {
		config.LogLevel = c.LogLevel
	}
}
