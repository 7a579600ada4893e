// Package config handles configuration for the upload service,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the mediasync server.
//
// Fields:
//   - HealthAddrGRPC: bind address for the gRPC health endpoint.
//   - DatabaseDSN: PostgreSQL DSN (pgx). Empty keeps jobs in memory.
//   - Workers / QueueSize: upload worker pool size and pending-job capacity.
//   - MaxRetries / BackoffInitial / BackoffMax: retry ceiling and schedule.
//   - RemoteCallTimeout / UploadTimeout: deadlines for remote calls and transfers.
//   - ConfigPollInterval: how often a running job re-checks its account.
//   - AccountsFile: YAML file with storage accounts to seed on start-up.
//   - S3* / Minio*: provider settings shared by all accounts.
//   - Redis*: event channel for external observers. Empty RedisAddr disables it.
type Config struct {
	HealthAddrGRPC     string
	DatabaseDSN        string
	LogLevel           string
	Workers            int
	QueueSize          int
	MaxRetries         int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	RemoteCallTimeout  time.Duration
	UploadTimeout      time.Duration
	ChunkSize          int64
	ProgressThreshold  float64
	ConfigPollInterval time.Duration
	MediaRoot          string
	AccountsFile       string
	S3Region           string
	S3BaseEndpoint     string
	S3Bucket           string
	S3ForcePathStyle   bool
	MinioEndpoint      string
	MinioUseSSL        bool
	LinkExpiry         time.Duration
	RedisAddr          string
	RedisChannel       string
	RedisStatusTTL     time.Duration
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.HealthAddrGRPC = ":50051"
	c.DatabaseDSN = ""
	c.LogLevel = "info"
	c.Workers = 4
	c.QueueSize = 64
	c.MaxRetries = 3
	c.BackoffInitial = 1 * time.Second
	c.BackoffMax = 30 * time.Second
	c.RemoteCallTimeout = 30 * time.Second
	c.UploadTimeout = 30 * time.Minute
	c.ChunkSize = 8 << 20
	c.ProgressThreshold = 5
	c.ConfigPollInterval = 2 * time.Second
	c.MediaRoot = ""
	c.AccountsFile = ""
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = ""
	c.S3Bucket = "media"
	c.S3ForcePathStyle = false
	c.MinioEndpoint = ""
	c.MinioUseSSL = false
	c.LinkExpiry = 24 * time.Hour
	c.RedisAddr = ""
	c.RedisChannel = "mediasync:events"
	c.RedisStatusTTL = 24 * time.Hour
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
