package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseEnv overlays the variables a container deployment usually sets.
func parseEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = v
	}
	if v := getenv("S3_ACCESS_KEY"); v != "" {
		cfg.S3AccessKey = v
	}
	if v := getenv("S3_SECRET_KEY"); v != "" {
		cfg.S3SecretKey = v
	}
	if v := getenv("S3_BUCKET"); v != "" {
		cfg.S3Bucket = v
	}
	if v := getenv("S3_REGION"); v != "" {
		cfg.S3Region = v
	}
	if v := getenv("S3_ENDPOINT"); v != "" {
		cfg.S3Endpoint = v
	}
	if v := getenv("WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}
	if v := getenv("WEBHOOK_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}
	if v := getenv("ALLOWED_MEDIA_TYPES"); v != "" {
		cfg.AllowedMediaTypes = splitList(v)
	}
	if v := getenv("TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: TOKEN_TTL: %w", err)
		}
		cfg.TokenTTL = d
	}
	if v := getenv("UPLOAD_MAX_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: UPLOAD_MAX_BYTES: %w", err)
		}
		cfg.UploadMaxBytes = n
	}
	if v := getenv("MIGRATE_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: MIGRATE_ON_START: %w", err)
		}
		cfg.MigrateOnStart = b
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
