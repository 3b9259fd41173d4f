package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/contractorvault/broker/internal/flagx"
	"github.com/contractorvault/broker/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "30s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into
// the runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddr         string         `json:"endpoint_addr"`
	DatabaseDSN          string         `json:"database_dsn"`
	SecretKey            string         `json:"secret_key"`
	CipherKeyHex         string         `json:"cipher_key_hex"`
	CipherKeyFile        string         `json:"cipher_key_file"`
	CipherPassphrase     string         `json:"cipher_passphrase"`
	CipherKeySalt        string         `json:"cipher_key_salt"`
	MaxTokenTTL          timex.Duration `json:"max_token_ttl"`
	TrustBlockBelowScore *int           `json:"trust_block_below_score"`
	RateLimitPerWindow   *int           `json:"rate_limit_per_window"`
	RateLimitWindow      timex.Duration `json:"rate_limit_window"`
	RedisAddr            string         `json:"redis_addr"`
	S3RootUser           string         `json:"s3_root_user"`
	S3RootPassword       string         `json:"s3_root_password"`
	S3Bucket             string         `json:"s3_bucket"`
	S3Region             string         `json:"s3_region"`
	S3BaseEndpoint       string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from the JSON file named by the
// -c or -config flags. Absent file means nothing to overlay; a file that
// cannot be read or parsed panics, configuration errors should stop the
// process before it binds a port. Only fields present in the file
// override the current values.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	if c.EndpointAddr != "" {
		config.EndpointAddr = c.EndpointAddr
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.CipherKeyHex != "" {
		config.CipherKeyHex = c.CipherKeyHex
	}
	if c.CipherKeyFile != "" {
		config.CipherKeyFile = c.CipherKeyFile
	}
	if c.CipherPassphrase != "" {
		config.CipherPassphrase = c.CipherPassphrase
	}
	if c.CipherKeySalt != "" {
		config.CipherKeySalt = c.CipherKeySalt
	}
	if c.MaxTokenTTL.Duration != 0 {
		config.MaxTokenTTL = time.Duration(c.MaxTokenTTL.Duration)
	}
	if c.TrustBlockBelowScore != nil {
		config.TrustBlockBelowScore = *c.TrustBlockBelowScore
	}
	if c.RateLimitPerWindow != nil {
		config.RateLimitPerWindow = *c.RateLimitPerWindow
	}
	if c.RateLimitWindow.Duration != 0 {
		config.RateLimitWindow = time.Duration(c.RateLimitWindow.Duration)
	}
	if c.RedisAddr != "" {
		config.RedisAddr = c.RedisAddr
	}
	if c.S3RootUser != "" {
		config.S3RootUser = c.S3RootUser
	}
	if c.S3RootPassword != "" {
		config.S3RootPassword = c.S3RootPassword
	}
	if c.S3Bucket != "" {
		config.S3Bucket = c.S3Bucket
	}
	if c.S3Region != "" {
		config.S3Region = c.S3Region
	}
	if c.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = c.S3BaseEndpoint
	}
}
