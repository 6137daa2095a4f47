package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds store configuration.
type Config struct {
	StoreDir    string        `yaml:"store_dir"`
	TempDir     string        `yaml:"temp_dir"`
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"` // "text" | "json"
	DatabaseURL string        `yaml:"database_url"`
	ArchiveTTL  time.Duration `yaml:"archive_ttl"`
	Publish     Publish       `yaml:"publish"`
	Telemetry   Telemetry     `yaml:"telemetry"`
}

// Publish selects where finished bulk archives are copied, if anywhere.
type Publish struct {
	Type string     `yaml:"type"` // "none" | "s3" | "gcs"
	S3   S3Publish  `yaml:"s3"`
	GCS  GCSPublish `yaml:"gcs"`
}

// S3Publish configures the S3 archive publisher.
type S3Publish struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // MinIO, LocalStack
	Prefix   string `yaml:"prefix"`
}

// GCSPublish configures the GCS archive publisher.
type GCSPublish struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		StoreDir:   "/var/lib/securedrop/store",
		TempDir:    "/var/lib/securedrop/tmp",
		LogLevel:   "INFO",
		LogFormat:  "text",
		ArchiveTTL: 24 * time.Hour,
		Publish:    Publish{Type: "none", S3: S3Publish{Region: "us-east-1"}},
		Telemetry:  Telemetry{Endpoint: "localhost:4317"},
	}
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := Defaults()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.StoreDir, "STORE_DIR")
	setString(&cfg.TempDir, "TEMP_DIR")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.DatabaseURL, "DATABASE_URL")

	if v := os.Getenv("ARCHIVE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: ARCHIVE_TTL: %w", err)
		}
		cfg.ArchiveTTL = ttl
	}

	setString(&cfg.Publish.Type, "ARCHIVE_PUBLISH_TYPE")
	setString(&cfg.Publish.S3.Bucket, "ARCHIVE_S3_BUCKET")
	setString(&cfg.Publish.S3.Region, "AWS_REGION")
	setString(&cfg.Publish.S3.Region, "ARCHIVE_S3_REGION")
	setString(&cfg.Publish.S3.Endpoint, "ARCHIVE_S3_ENDPOINT")
	setString(&cfg.Publish.S3.Prefix, "ARCHIVE_S3_PREFIX")
	setString(&cfg.Publish.GCS.Bucket, "ARCHIVE_GCS_BUCKET")
	setString(&cfg.Publish.GCS.Prefix, "ARCHIVE_GCS_PREFIX")

	if err := setBool(&cfg.Telemetry.Enabled, "OTEL_ENABLED"); err != nil {
		return err
	}
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	return setBool(&cfg.Telemetry.Insecure, "OTEL_INSECURE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}
