package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/burrow/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":3001")
//	-r string   gRPC bind address (e.g., ":50051")
//	-k string   storage backend: badger | postgres
//	-f string   badger data directory
//	-d string   PostgreSQL DSN
//	-s string   JWT / key-sealing secret
//	-t int      access token validity, minutes
//	-x string   hidden-service record store: kv | s3
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-n string   Tor control address (empty: simulate hidden addresses)
//	-w string   Tor control password
//	-i int      direct delivery port
//	-l string   log level
//
// Durations of the relay loop are only configurable through JSON.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-r", "-k", "-f", "-d", "-s", "-t", "-x",
		"-u", "-p", "-b", "-g", "-e", "-n", "-w", "-i", "-l",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddress, "a", config.HTTPAddress, "HTTP address and port")
	fs.StringVar(&config.GRPCAddress, "r", config.GRPCAddress, "gRPC address and port")
	fs.StringVar(&config.StorageBackend, "k", config.StorageBackend, "storage backend (badger|postgres)")
	fs.StringVar(&config.DataDir, "f", config.DataDir, "badger data directory")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")

	fs.StringVar(&config.HiddenServiceStore, "x", config.HiddenServiceStore, "hidden service store (kv|s3)")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.ControlAddress, "n", config.ControlAddress, "Tor control address")
	fs.StringVar(&config.ControlPassword, "w", config.ControlPassword, "Tor control password")
	fs.IntVar(&config.DirectPort, "i", config.DirectPort, "direct delivery port")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
}
