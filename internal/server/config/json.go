package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/flagx"
	"github.com/dmitrijs2005/mediasync/internal/timex"
)

// JsonConfig is the on-disk form of Config. Interval fields use
// timex.Duration, so both "1s" and integer nanoseconds are accepted.
// Fields left out of the file keep their current values.
type JsonConfig struct {
	HealthAddrGRPC     string         `json:"health_addr_grpc"`
	DatabaseDSN        string         `json:"database_dsn"`
	LogLevel           string         `json:"log_level"`
	Workers            int            `json:"workers"`
	QueueSize          int            `json:"queue_size"`
	MaxRetries         *int           `json:"max_retries"`
	BackoffInitial     timex.Duration `json:"backoff_initial"`
	BackoffMax         timex.Duration `json:"backoff_max"`
	RemoteCallTimeout  timex.Duration `json:"remote_call_timeout"`
	UploadTimeout      timex.Duration `json:"upload_timeout"`
	ChunkSize          int64          `json:"chunk_size"`
	ProgressThreshold  float64        `json:"progress_threshold"`
	ConfigPollInterval timex.Duration `json:"config_poll_interval"`
	MediaRoot          string         `json:"media_root"`
	AccountsFile       string         `json:"accounts_file"`
	S3Region           string         `json:"s3_region"`
	S3BaseEndpoint     string         `json:"s3_base_endpoint"`
	S3Bucket           string         `json:"s3_bucket"`
	S3ForcePathStyle   *bool          `json:"s3_force_path_style"`
	MinioEndpoint      string         `json:"minio_endpoint"`
	MinioUseSSL        *bool          `json:"minio_use_ssl"`
	LinkExpiry         timex.Duration `json:"link_expiry"`
	RedisAddr          string         `json:"redis_addr"`
	RedisChannel       string         `json:"redis_channel"`
	RedisStatusTTL     timex.Duration `json:"redis_status_ttl"`
}

// parseJson loads configuration values from the JSON file named by the
// -c or -config flag. Without the flag nothing is loaded. An unreadable
// file or invalid JSON panics.
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

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.HealthAddrGRPC, c.HealthAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.LogLevel, c.LogLevel)
	if c.Workers > 0 {
		config.Workers = c.Workers
	}
	if c.QueueSize > 0 {
		config.QueueSize = c.QueueSize
	}
	if c.MaxRetries != nil {
		config.MaxRetries = *c.MaxRetries
	}
	setDuration(&config.BackoffInitial, c.BackoffInitial)
	setDuration(&config.BackoffMax, c.BackoffMax)
	setDuration(&config.RemoteCallTimeout, c.RemoteCallTimeout)
	setDuration(&config.UploadTimeout, c.UploadTimeout)
	if c.ChunkSize > 0 {
		config.ChunkSize = c.ChunkSize
	}
	if c.ProgressThreshold > 0 {
		config.ProgressThreshold = c.ProgressThreshold
	}
	setDuration(&config.ConfigPollInterval, c.ConfigPollInterval)
	setString(&config.MediaRoot, c.MediaRoot)
	setString(&config.AccountsFile, c.AccountsFile)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3Bucket, c.S3Bucket)
	if c.S3ForcePathStyle != nil {
		config.S3ForcePathStyle = *c.S3ForcePathStyle
	}
	setString(&config.MinioEndpoint, c.MinioEndpoint)
	if c.MinioUseSSL != nil {
		config.MinioUseSSL = *c.MinioUseSSL
	}
	setDuration(&config.LinkExpiry, c.LinkExpiry)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisChannel, c.RedisChannel)
	setDuration(&config.RedisStatusTTL, c.RedisStatusTTL)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}
