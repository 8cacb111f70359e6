package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	StoreTimeout         time.Duration
	SyncRetryMaxElapsed  time.Duration
	LegacyTokenNumbering bool
	RegisterRetries      int

	RateLimitPerMinute       int
	RateLimitBurst           int
	TenantRateLimitPerMinute int
	TenantRateLimitBurst     int
	CORSOrigins              []string

	AuthSecret   string
	AuthTokenTTL time.Duration

	AnnounceProvider     string
	AnnounceWebhookURL   string
	AnnounceWebhookToken string
	AnnounceRescan       time.Duration

	LogLevel        string
	LogFormat       string
	OTelEndpoint    string
	OTelInsecure    bool
	OTelSampleRatio float64
	Environment     string
}

var keys = []string{
	"PORT", "DB_DSN", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"STORE_TIMEOUT_SECONDS", "SYNC_RETRY_MAX_ELAPSED_SECONDS", "LEGACY_TOKEN_NUMBERING", "REGISTER_RETRIES",
	"RATE_LIMIT_PER_MIN", "RATE_LIMIT_BURST", "TENANT_RATE_LIMIT_PER_MIN", "TENANT_RATE_LIMIT_BURST",
	"CORS_ORIGINS", "AUTH_SECRET", "AUTH_TOKEN_TTL_MINUTES",
	"ANNOUNCE_PROVIDER", "ANNOUNCE_WEBHOOK_URL", "ANNOUNCE_WEBHOOK_TOKEN", "ANNOUNCE_RESCAN_SECONDS",
	"LOG_LEVEL", "LOG_FORMAT", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_SAMPLE_RATIO", "APP_ENV",
}

// Load reads the environment, plus a .env file in the working directory
// when there is one.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("STORE_TIMEOUT_SECONDS", 5)
	v.SetDefault("SYNC_RETRY_MAX_ELAPSED_SECONDS", 10)
	v.SetDefault("LEGACY_TOKEN_NUMBERING", false)
	v.SetDefault("REGISTER_RETRIES", 3)
	v.SetDefault("RATE_LIMIT_PER_MIN", 120)
	v.SetDefault("RATE_LIMIT_BURST", 30)
	v.SetDefault("TENANT_RATE_LIMIT_PER_MIN", 600)
	v.SetDefault("TENANT_RATE_LIMIT_BURST", 120)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("AUTH_TOKEN_TTL_MINUTES", 720)
	v.SetDefault("ANNOUNCE_PROVIDER", "log")
	v.SetDefault("ANNOUNCE_RESCAN_SECONDS", 30)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)
	v.SetDefault("APP_ENV", "development")
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}

	cfg := Config{
		Port:                     v.GetString("PORT"),
		DatabaseURL:              v.GetString("DB_DSN"),
		DBMaxConns:               v.GetInt32("DB_MAX_CONNS"),
		DBMinConns:               v.GetInt32("DB_MIN_CONNS"),
		StoreTimeout:             seconds(v.GetInt("STORE_TIMEOUT_SECONDS")),
		SyncRetryMaxElapsed:      seconds(v.GetInt("SYNC_RETRY_MAX_ELAPSED_SECONDS")),
		LegacyTokenNumbering:     v.GetBool("LEGACY_TOKEN_NUMBERING"),
		RegisterRetries:          v.GetInt("REGISTER_RETRIES"),
		RateLimitPerMinute:       v.GetInt("RATE_LIMIT_PER_MIN"),
		RateLimitBurst:           v.GetInt("RATE_LIMIT_BURST"),
		TenantRateLimitPerMinute: v.GetInt("TENANT_RATE_LIMIT_PER_MIN"),
		TenantRateLimitBurst:     v.GetInt("TENANT_RATE_LIMIT_BURST"),
		CORSOrigins:              splitList(v.GetString("CORS_ORIGINS")),
		AuthSecret:               v.GetString("AUTH_SECRET"),
		AuthTokenTTL:             time.Duration(v.GetInt("AUTH_TOKEN_TTL_MINUTES")) * time.Minute,
		AnnounceProvider:         v.GetString("ANNOUNCE_PROVIDER"),
		AnnounceWebhookURL:       v.GetString("ANNOUNCE_WEBHOOK_URL"),
		AnnounceWebhookToken:     v.GetString("ANNOUNCE_WEBHOOK_TOKEN"),
		AnnounceRescan:           seconds(v.GetInt("ANNOUNCE_RESCAN_SECONDS")),
		LogLevel:                 strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:                strings.ToLower(v.GetString("LOG_FORMAT")),
		OTelEndpoint:             v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelInsecure:             v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		OTelSampleRatio:          v.GetFloat64("OTEL_SAMPLE_RATIO"),
		Environment:              v.GetString("APP_ENV"),
	}
	return cfg, nil
}

// Validate reports settings that cannot work together. requireDB is false
// for the in-memory dev mode.
func (c Config) Validate(requireDB bool) error {
	if requireDB && c.DatabaseURL == "" {
		return errors.New("DB_DSN is required")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.StoreTimeout <= 0 {
		return errors.New("STORE_TIMEOUT_SECONDS must be positive")
	}
	if c.AuthSecret != "" && len(c.AuthSecret) < 16 {
		return errors.New("AUTH_SECRET must be at least 16 characters")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

func (c Config) AuthEnabled() bool {
	return c.AuthSecret != ""
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}
