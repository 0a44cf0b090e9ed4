package config

import (
	"time"

	"github.com/spf13/pflag"
)

// flagValues holds parsed command-line values until the JSON and env layers
// have been applied; only flags set explicitly override them.
type flagValues struct {
	fs         *pflag.FlagSet
	configPath string

	httpAddr       string
	databaseDSN    string
	logLevel       string
	jwtSecret      string
	storage        string
	s3Bucket       string
	s3Endpoint     string
	webhookURL     string
	migrate        bool
	dbMaxConns     int32
	uploadMaxBytes int64
	outboxPoll     time.Duration
}

// parseFlags understands:
//
//	-c, --config string        path to a JSON config file
//	-a, --addr string          HTTP listen address
//	-d, --database-dsn string  PostgreSQL DSN
//	    --log-level string     debug|info|warn|error
//	    --jwt-secret string    HMAC secret for access tokens
//	    --storage string       memory|s3
//	    --s3-bucket, --s3-endpoint string
//	    --webhook-url string   notification webhook target
//	    --migrate              run migrations on start
//	    --db-max-conns int
//	    --upload-max-bytes int
//	    --outbox-poll duration
func parseFlags(args []string) (*flagValues, error) {
	fv := &flagValues{}
	fs := pflag.NewFlagSet("expertflow", pflag.ContinueOnError)
	fs.StringVarP(&fv.configPath, "config", "c", "", "path to a JSON config file")
	fs.StringVarP(&fv.httpAddr, "addr", "a", "", "HTTP listen address")
	fs.StringVarP(&fv.databaseDSN, "database-dsn", "d", "", "PostgreSQL DSN")
	fs.StringVar(&fv.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&fv.jwtSecret, "jwt-secret", "", "HMAC secret for access tokens")
	fs.StringVar(&fv.storage, "storage", "", "blob storage backend (memory, s3)")
	fs.StringVar(&fv.s3Bucket, "s3-bucket", "", "S3 bucket for deliverables")
	fs.StringVar(&fv.s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint URL")
	fs.StringVar(&fv.webhookURL, "webhook-url", "", "notification webhook URL")
	fs.BoolVar(&fv.migrate, "migrate", false, "apply database migrations on start")
	fs.Int32Var(&fv.dbMaxConns, "db-max-conns", 0, "maximum pooled database connections")
	fs.Int64Var(&fv.uploadMaxBytes, "upload-max-bytes", 0, "maximum deliverable size in bytes")
	fs.DurationVar(&fv.outboxPoll, "outbox-poll", 0, "outbox relay poll interval")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fv.fs = fs
	return fv, nil
}

func (fv *flagValues) apply(cfg *Config) {
	changed := fv.fs.Changed
	if changed("addr") {
		cfg.HTTPAddr = fv.httpAddr
	}
	if changed("database-dsn") {
		cfg.DatabaseDSN = fv.databaseDSN
	}
	if changed("log-level") {
		cfg.LogLevel = fv.logLevel
	}
	if changed("jwt-secret") {
		cfg.JWTSecret = fv.jwtSecret
	}
	if changed("storage") {
		cfg.StorageBackend = fv.storage
	}
	if changed("s3-bucket") {
		cfg.S3Bucket = fv.s3Bucket
	}
	if changed("s3-endpoint") {
		cfg.S3Endpoint = fv.s3Endpoint
	}
	if changed("webhook-url") {
		cfg.WebhookURL = fv.webhookURL
	}
	if changed("migrate") {
		cfg.MigrateOnStart = fv.migrate
	}
	if changed("db-max-conns") {
		cfg.DBMaxConns = fv.dbMaxConns
	}
	if changed("upload-max-bytes") {
		cfg.UploadMaxBytes = fv.uploadMaxBytes
	}
	if changed("outbox-poll") {
		cfg.OutboxPollInterval = fv.outboxPoll
	}
}
