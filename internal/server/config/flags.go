package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/mediasync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC health bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN, empty for the in-memory store
//	-l string   log level (debug, info, warn, error)
//	-w int      number of upload workers
//	-q int      pending job queue size
//	-r int      retry ceiling per job
//	-f string   YAML accounts seed file
//	-m string   media root for relative source paths
//	-b string   S3 bucket used when an account names none
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-k string   Redis address for job events
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, so sub-mode arguments do not collide with these.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-l", "-w", "-q", "-r", "-f", "-m", "-b", "-g", "-e", "-k"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HealthAddrGRPC, "a", config.HealthAddrGRPC, "address and port of the health endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.IntVar(&config.Workers, "w", config.Workers, "upload workers")
	fs.IntVar(&config.QueueSize, "q", config.QueueSize, "pending job queue size")
	fs.IntVar(&config.MaxRetries, "r", config.MaxRetries, "retry ceiling per job")
	fs.StringVar(&config.AccountsFile, "f", config.AccountsFile, "accounts seed file (YAML)")
	fs.StringVar(&config.MediaRoot, "m", config.MediaRoot, "media root directory")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 default bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.RedisAddr, "k", config.RedisAddr, "redis address for job events")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
