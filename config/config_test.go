package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil, envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StorageMemory, cfg.StorageBackend)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"application/pdf"}, cfg.AllowedMediaTypes)
	assert.True(t, cfg.MigrateOnStart)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"http_addr": ":9000",
		"database_dsn": "postgres://json/db",
		"token_ttl": "2h",
		"outbox_poll_interval": 500000000,
		"storage_backend": "s3",
		"s3_bucket": "json-bucket"
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	env := envMap(map[string]string{
		"DATABASE_URL": "postgres://env/db",
		"HTTP_ADDR":    ":9100",
	})

	cfg, err := Load([]string{"-c", path, "--addr", ":9200"}, env)
	require.NoError(t, err)

	assert.Equal(t, ":9200", cfg.HTTPAddr, "flag beats env and json")
	assert.Equal(t, "postgres://env/db", cfg.DatabaseDSN, "env beats json")
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.OutboxPollInterval)
	assert.Equal(t, StorageS3, cfg.StorageBackend)
	assert.Equal(t, "json-bucket", cfg.S3Bucket)
	assert.Equal(t, "us-east-1", cfg.S3Region, "absent json keys keep defaults")
}

func TestLoad_EnvLists(t *testing.T) {
	cfg, err := Load(nil, envMap(map[string]string{
		"ALLOWED_MEDIA_TYPES": "application/pdf, application/zip ,",
		"UPLOAD_MAX_BYTES":    "1024",
		"MIGRATE_ON_START":    "false",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"application/pdf", "application/zip"}, cfg.AllowedMediaTypes)
	assert.Equal(t, int64(1024), cfg.UploadMaxBytes)
	assert.False(t, cfg.MigrateOnStart)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load([]string{"--storage", "ftp"}, envMap(nil))
	assert.ErrorContains(t, err, "unknown storage backend")

	_, err = Load(nil, envMap(map[string]string{"TOKEN_TTL": "soon"}))
	assert.ErrorContains(t, err, "TOKEN_TTL")

	_, err = Load([]string{"-c", filepath.Join(t.TempDir(), "missing.json")}, envMap(nil))
	assert.Error(t, err)

	_, err = Load([]string{"--bogus"}, envMap(nil))
	assert.Error(t, err)
}
