package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/fleetsync/internal/flagx"
	"github.com/dmitrijs2005/fleetsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer and
// zero-valued fields mark keys that were absent.
type JsonConfig struct {
	ServerURL string `json:"server_url"`
	APIToken  string `json:"api_token"`

	StoreDriver string `json:"store_driver"`
	StoreDSN    string `json:"store_dsn"`

	ProbeTimeout        timex.Duration `json:"probe_timeout"`
	FallbackEndpoints   []string       `json:"fallback_endpoints"`
	CaptiveURL          string         `json:"captive_url"`
	Freshness           timex.Duration `json:"freshness"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`

	BackupRetention    int             `json:"backup_retention"`
	BatchSize          int             `json:"batch_size"`
	BatchPause         *timex.Duration `json:"batch_pause"`
	AutoBackupInterval *timex.Duration `json:"auto_backup_interval"`

	ArchiveDir string `json:"archive_dir"`
	S3         struct {
		Bucket    string `json:"bucket"`
		Prefix    string `json:"prefix"`
		Region    string `json:"region"`
		Endpoint  string `json:"endpoint"`
		AccessKey string `json:"access_key"`
		SecretKey string `json:"secret_key"`
	} `json:"s3"`

	LogFormat   string  `json:"log_format"`
	LogLevel    string  `json:"log_level"`
	MetricsAddr *string `json:"metrics_addr"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. It panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerURL, jc.ServerURL)
	setString(&cfg.APIToken, jc.APIToken)
	setString(&cfg.StoreDriver, jc.StoreDriver)
	setString(&cfg.StoreDSN, jc.StoreDSN)
	setString(&cfg.CaptiveURL, jc.CaptiveURL)
	setString(&cfg.ArchiveDir, jc.ArchiveDir)
	setString(&cfg.S3Bucket, jc.S3.Bucket)
	setString(&cfg.S3Prefix, jc.S3.Prefix)
	setString(&cfg.S3Region, jc.S3.Region)
	setString(&cfg.S3Endpoint, jc.S3.Endpoint)
	setString(&cfg.S3AccessKey, jc.S3.AccessKey)
	setString(&cfg.S3SecretKey, jc.S3.SecretKey)
	setString(&cfg.LogFormat, jc.LogFormat)
	setString(&cfg.LogLevel, jc.LogLevel)

	if jc.FallbackEndpoints != nil {
		cfg.FallbackEndpoints = jc.FallbackEndpoints
	}
	if jc.ProbeTimeout.Duration > 0 {
		cfg.ProbeTimeout = jc.ProbeTimeout.Duration
	}
	if jc.Freshness.Duration > 0 {
		cfg.Freshness = jc.Freshness.Duration
	}
	if jc.OnlineCheckInterval.Duration > 0 {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	if jc.BackupRetention > 0 {
		cfg.BackupRetention = jc.BackupRetention
	}
	if jc.BatchSize > 0 {
		cfg.BatchSize = jc.BatchSize
	}
	if jc.BatchPause != nil {
		cfg.BatchPause = jc.BatchPause.Duration
	}
	if jc.AutoBackupInterval != nil {
		cfg.AutoBackupInterval = jc.AutoBackupInterval.Duration
	}
	if jc.MetricsAddr != nil {
		cfg.MetricsAddr = *jc.MetricsAddr
	}
}
