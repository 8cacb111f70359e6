package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_DSN", "postgres://localhost/meditoken")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.StoreTimeout != 5*time.Second || cfg.SyncRetryMaxElapsed != 10*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.RegisterRetries != 3 || cfg.LegacyTokenNumbering || cfg.AuthEnabled() || cfg.AnnounceRescan != 30*time.Second ||
		cfg.OTelSampleRatio != 1 || cfg.Environment != "development" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
	if err := cfg.Validate(true); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_TIMEOUT_SECONDS", "2")
	t.Setenv("LEGACY_TOKEN_NUMBERING", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("AUTH_SECRET", "0123456789abcdef")
	t.Setenv("AUTH_TOKEN_TTL_MINUTES", "30")
	t.Setenv("LOG_FORMAT", "Console")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || cfg.StoreTimeout != 2*time.Second || !cfg.LegacyTokenNumbering {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
	if !cfg.AuthEnabled() || cfg.AuthTokenTTL != 30*time.Minute || cfg.LogFormat != "console" {
		t.Fatalf("unexpected auth/log settings %+v", cfg)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("REGISTER_RETRIES=7\nANNOUNCE_PROVIDER=noop\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RegisterRetries != 7 || cfg.AnnounceProvider != "noop" {
		t.Fatalf("expected .env values, got %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	base := Config{DatabaseURL: "postgres://x", DBMaxConns: 10, DBMinConns: 1, StoreTimeout: time.Second, LogFormat: "json"}
	tests := []struct {
		name      string
		mutate    func(*Config)
		requireDB bool
		wantErr   bool
	}{
		{"valid", func(c *Config) {}, true, false},
		{"missing dsn", func(c *Config) { c.DatabaseURL = "" }, true, true},
		{"memory mode without dsn", func(c *Config) { c.DatabaseURL = "" }, false, false},
		{"min above max", func(c *Config) { c.DBMinConns = 20 }, true, true},
		{"short secret", func(c *Config) { c.AuthSecret = "short" }, true, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate(tc.requireDB)
			if (err != nil) != tc.wantErr {
				t.Fatalf("expected error=%v, got %v", tc.wantErr, err)
			}
		})
	}
}
