// Package config centralizes how DeedGate reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration for the gateway and worker. It is
// constructed once at process start and passed into constructors; nothing in
// the request path reads the environment.
type Config struct {
	Address     string
	MaxFileSize int64

	DatabaseURL string

	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3Region      string
	S3UseSSL      bool
	PrivateBucket string
	PublicBucket  string

	TokenSecret  []byte
	SignedURLTTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	WorkerCount   int
}

const (
	defaultAddress       = ":8080"
	defaultMaxFileSize   = 25 << 20 // 25 MiB
	defaultSignedTTL     = 5 * time.Minute
	defaultWorkerCount   = 2
	defaultRedisAddr     = "localhost:6379"
	defaultS3Region      = "us-east-1"
	defaultPrivateBucket = "deedgate-private"
	defaultPublicBucket  = "deedgate-public"
)

// Load reads configuration from DEEDGATE_* environment variables, falling
// back to defaults for optional fields. Required fields (database, object
// store, token secret) produce a descriptive error so the process fails at
// startup instead of deep inside a request handler.
func Load() (*Config, error) {
	cfg := &Config{
		Address:       readEnv("DEEDGATE_ADDRESS", defaultAddress),
		MaxFileSize:   parseInt64("DEEDGATE_MAX_FILE_BYTES", defaultMaxFileSize),
		DatabaseURL:   os.Getenv("DEEDGATE_DATABASE_URL"),
		S3Endpoint:    os.Getenv("DEEDGATE_S3_ENDPOINT"),
		S3AccessKey:   os.Getenv("DEEDGATE_S3_ACCESS_KEY"),
		S3SecretKey:   os.Getenv("DEEDGATE_S3_SECRET_KEY"),
		S3Region:      readEnv("DEEDGATE_S3_REGION", defaultS3Region),
		S3UseSSL:      parseBool("DEEDGATE_S3_USE_SSL", false),
		PrivateBucket: readEnv("DEEDGATE_PRIVATE_BUCKET", defaultPrivateBucket),
		PublicBucket:  readEnv("DEEDGATE_PUBLIC_BUCKET", defaultPublicBucket),
		TokenSecret:   []byte(os.Getenv("DEEDGATE_TOKEN_SECRET")),
		SignedURLTTL:  parseDuration("DEEDGATE_SIGNED_TTL", defaultSignedTTL),
		RedisAddr:     readEnv("DEEDGATE_REDIS_ADDR", defaultRedisAddr),
		RedisPassword: os.Getenv("DEEDGATE_REDIS_PASSWORD"),
		RedisDB:       parseInt("DEEDGATE_REDIS_DB", 0),
		WorkerCount:   parseInt("DEEDGATE_WORKERS", defaultWorkerCount),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedTTL
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = defaultWorkerCount
	}
	return cfg, nil
}

func (c *Config) validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"DEEDGATE_DATABASE_URL", c.DatabaseURL},
		{"DEEDGATE_S3_ENDPOINT", c.S3Endpoint},
		{"DEEDGATE_S3_ACCESS_KEY", c.S3AccessKey},
		{"DEEDGATE_S3_SECRET_KEY", c.S3SecretKey},
		{"DEEDGATE_TOKEN_SECRET", string(c.TokenSecret)},
	}
	for _, field := range required {
		if field.value == "" {
			return fmt.Errorf("%s is required", field.name)
		}
	}
	return nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
