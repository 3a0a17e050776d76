// Package config loads runtime configuration for the fleetsync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string          base URL of the fleet REST API
//	-t string          bearer token
//	-d string          store driver: sqlite, pgx, redis or memory
//	-dsn string        store data source name
//	-i int             online status check interval (seconds)
//	-f string          comma separated fallback probe endpoints
//	-archive string    export directory
//	-bucket string     export to this S3 bucket instead of the directory
//	-log-format string console or json
//	-log-level string  debug, info, warn or error
//	-metrics string    address for the Prometheus endpoint, empty disables it
//
// # JSON schema
//
// Durations use timex.Duration, so values can be either strings like "3s"
// or integer nanoseconds. Absent keys keep the earlier value:
//
//	{
//	  "server_url": "https://fleet.example.com",
//	  "store_driver": "redis",
//	  "store_dsn": "redis://localhost:6379/0",
//	  "fallback_endpoints": ["https://www.google.com", "grpc://fleet.example.com:9090"],
//	  "online_check_interval": "3s",
//	  "batch_pause": "500ms",
//	  "auto_backup_interval": "24h",
//	  "s3": {"bucket": "fleet-backups", "region": "eu-north-1"}
//	}
package config
