package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds runtime settings for the fleetsync client.
//
// Durations are time.Duration values; in JSON they are written as strings
// like "3s" or integer nanoseconds (see timex.Duration).
type Config struct {
	ServerURL string
	APIToken  string

	StoreDriver string
	StoreDSN    string

	ProbeTimeout        time.Duration
	FallbackEndpoints   []string
	CaptiveURL          string
	Freshness           time.Duration
	OnlineCheckInterval time.Duration

	BackupRetention    int
	BatchSize          int
	BatchPause         time.Duration
	AutoBackupInterval time.Duration

	ArchiveDir  string
	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	LogFormat   string
	LogLevel    string
	MetricsAddr string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.StoreDriver = "sqlite"
	c.StoreDSN = "fleetsync.db"
	c.ProbeTimeout = 5 * time.Second
	c.Freshness = 30 * time.Second
	c.OnlineCheckInterval = 3 * time.Second
	c.BackupRetention = 10
	c.BatchSize = 50
	c.BatchPause = 500 * time.Millisecond
	c.ArchiveDir = "backups"
	c.S3Region = "us-east-1"
	c.LogFormat = "console"
	c.LogLevel = "info"
}

// Validate reports settings the client cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server url %q must be absolute", c.ServerURL))
	}
	if c.StoreDriver == "" {
		errs = append(errs, errors.New("store driver is required"))
	}
	if c.OnlineCheckInterval <= 0 {
		errs = append(errs, errors.New("online check interval must be positive"))
	}
	if c.BackupRetention <= 0 {
		errs = append(errs, errors.New("backup retention must be positive"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.BatchPause < 0 || c.AutoBackupInterval < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	return errors.Join(errs...)
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
