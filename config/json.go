package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// duration accepts either a Go duration string ("3s") or integer nanoseconds.
type duration time.Duration

func (d *duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*d = duration(time.Duration(x))
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return err
		}
		*d = duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// jsonConfig is the on-disk shape. Pointer fields distinguish "absent" from
// zero so a partial file only overrides what it names.
type jsonConfig struct {
	HTTPAddr        *string   `json:"http_addr"`
	ShutdownTimeout *duration `json:"shutdown_timeout"`
	LogLevel        *string   `json:"log_level"`

	DatabaseDSN    *string `json:"database_dsn"`
	DBMaxConns     *int32  `json:"db_max_conns"`
	DBMinConns     *int32  `json:"db_min_conns"`
	MigrateOnStart *bool   `json:"migrate_on_start"`

	JWTSecret     *string   `json:"jwt_secret"`
	TokenTTL      *duration `json:"token_ttl"`
	ResetTokenTTL *duration `json:"reset_token_ttl"`

	StorageBackend    *string   `json:"storage_backend"`
	S3AccessKey       *string   `json:"s3_access_key"`
	S3SecretKey       *string   `json:"s3_secret_key"`
	S3Bucket          *string   `json:"s3_bucket"`
	S3Region          *string   `json:"s3_region"`
	S3Endpoint        *string   `json:"s3_endpoint"`
	PresignTTL        *duration `json:"presign_ttl"`
	UploadMaxBytes    *int64    `json:"upload_max_bytes"`
	AllowedMediaTypes []string  `json:"allowed_media_types"`

	OutboxPollInterval *duration `json:"outbox_poll_interval"`
	OutboxBatchSize    *int      `json:"outbox_batch_size"`
	OutboxMaxAttempts  *int      `json:"outbox_max_attempts"`
	WebhookURL         *string   `json:"webhook_url"`
	WebhookSecret      *string   `json:"webhook_secret"`
}

func parseJSONFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	jc.applyTo(cfg)
	return nil
}

func (jc *jsonConfig) applyTo(cfg *Config) {
	setString(&cfg.HTTPAddr, jc.HTTPAddr)
	setDuration(&cfg.ShutdownTimeout, jc.ShutdownTimeout)
	setString(&cfg.LogLevel, jc.LogLevel)

	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	if jc.DBMaxConns != nil {
		cfg.DBMaxConns = *jc.DBMaxConns
	}
	if jc.DBMinConns != nil {
		cfg.DBMinConns = *jc.DBMinConns
	}
	if jc.MigrateOnStart != nil {
		cfg.MigrateOnStart = *jc.MigrateOnStart
	}

	setString(&cfg.JWTSecret, jc.JWTSecret)
	setDuration(&cfg.TokenTTL, jc.TokenTTL)
	setDuration(&cfg.ResetTokenTTL, jc.ResetTokenTTL)

	setString(&cfg.StorageBackend, jc.StorageBackend)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setDuration(&cfg.PresignTTL, jc.PresignTTL)
	if jc.UploadMaxBytes != nil {
		cfg.UploadMaxBytes = *jc.UploadMaxBytes
	}
	if len(jc.AllowedMediaTypes) > 0 {
		cfg.AllowedMediaTypes = jc.AllowedMediaTypes
	}

	setDuration(&cfg.OutboxPollInterval, jc.OutboxPollInterval)
	if jc.OutboxBatchSize != nil {
		cfg.OutboxBatchSize = *jc.OutboxBatchSize
	}
	if jc.OutboxMaxAttempts != nil {
		cfg.OutboxMaxAttempts = *jc.OutboxMaxAttempts
	}
	setString(&cfg.WebhookURL, jc.WebhookURL)
	setString(&cfg.WebhookSecret, jc.WebhookSecret)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *duration) {
	if v != nil {
		*dst = time.Duration(*v)
	}
}
