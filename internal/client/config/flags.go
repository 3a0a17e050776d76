package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/flagx"
)

var knownFlags = []string{"-a", "-t", "-d", "-dsn", "-i", "-f", "-archive", "-bucket", "-log-format", "-log-level", "-metrics"}

// parseFlags populates Config fields from command-line flags. os.Args is
// filtered with flagx.FilterArgs first so flags owned by other components
// do not interfere.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "base URL of the fleet REST API")
	fs.StringVar(&cfg.APIToken, "t", cfg.APIToken, "bearer token")
	fs.StringVar(&cfg.StoreDriver, "d", cfg.StoreDriver, "store driver: sqlite, pgx, redis or memory")
	fs.StringVar(&cfg.StoreDSN, "dsn", cfg.StoreDSN, "store data source name")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fallbacks := fs.String("f", strings.Join(cfg.FallbackEndpoints, ","), "comma separated fallback probe endpoints")
	fs.StringVar(&cfg.ArchiveDir, "archive", cfg.ArchiveDir, "export directory")
	fs.StringVar(&cfg.S3Bucket, "bucket", cfg.S3Bucket, "S3 bucket for exports")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "console or json")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus listen address")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	if list := flagx.SplitList(*fallbacks); len(list) > 0 {
		cfg.FallbackEndpoints = list
	}
}
