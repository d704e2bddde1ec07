package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/burrow/internal/flagx"
)

// parseFlags reads -a, -t and -i; other arguments are ignored.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-t", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port of the directory gRPC endpoint")
	fs.StringVar(&cfg.AccessToken, "t", cfg.AccessToken, "access token")
	timeout := fs.Int("i", int(cfg.RequestTimeout.Seconds()), "request timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RequestTimeout = time.Duration(*timeout) * time.Second
}
