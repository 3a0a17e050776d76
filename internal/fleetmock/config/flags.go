package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/flagx"
)

// parseFlags populates Config from command-line flags.
//
//	-a string           REST bind address
//	-g string           gRPC health bind address ("" disables)
//	-s string           token secret
//	-t int              token validity, hours
//	-log-format string  console or json
//	-log-level string   debug, info, warn or error
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-g", "-s", "-t", "-log-format", "-log-level"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port of the REST API")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "address and port of the gRPC health service")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	tokenValidity := fs.Int("t", int(config.TokenValidity.Hours()), "token validity (in hours)")
	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "console or json")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenValidity = time.Duration(*tokenValidity) * time.Hour
}
