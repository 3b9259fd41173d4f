package config

import (
	"flag"
	"os"
	"time"

	"github.com/contractorvault/broker/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-k string   hex-encoded artifact cipher key
//	-f string   cipher key file path
//	-m int      maximum token TTL, minutes
//	-w int      trust score floor for redemptions
//	-l int      public route rate limit, requests per window
//	-x string   Redis address for the cross-replica rate limit
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes
//     using flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers in minutes and then
//     converted to time.Duration values.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-k", "-f", "-m", "-w", "-l", "-x", "-u", "-p", "-b", "-g", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.CipherKeyHex, "k", config.CipherKeyHex, "artifact cipher key (hex)")
	fs.StringVar(&config.CipherKeyFile, "f", config.CipherKeyFile, "cipher key file path")

	maxTokenTTL := fs.Int("m", int(config.MaxTokenTTL.Minutes()), "max token ttl (in minutes)")

	fs.IntVar(&config.TrustBlockBelowScore, "w", config.TrustBlockBelowScore, "trust score floor")
	fs.IntVar(&config.RateLimitPerWindow, "l", config.RateLimitPerWindow, "rate limit per window")
	fs.StringVar(&config.RedisAddr, "x", config.RedisAddr, "redis address")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.MaxTokenTTL = time.Duration(*maxTokenTTL) * time.Minute
}
