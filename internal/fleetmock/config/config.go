// Package config handles configuration for the fleetmock server:
// defaults, a JSON overlay and command-line flags.
package config

import "time"

// Config holds runtime settings for the mock fleet API.
//
// Fields:
//   - HTTPAddr: bind address of the REST API.
//   - GRPCAddr: bind address of the gRPC health service; empty disables it.
//   - SecretKey: HMAC secret for device tokens (HS256). Empty disables auth.
//   - TokenValidity: lifetime of the token printed at startup.
//   - LogFormat / LogLevel: logger settings, see logging.New.
type Config struct {
	HTTPAddr      string
	GRPCAddr      string
	SecretKey     string
	TokenValidity time.Duration
	LogFormat     string
	LogLevel      string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.GRPCAddr = ":50051"
	c.SecretKey = ""
	c.TokenValidity = 24 * time.Hour
	c.LogFormat = "json"
	c.LogLevel = "info"
}

// LoadConfig applies defaults, then the optional JSON file, then flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
