package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SAMSARA_RULES_PATH", "")
	t.Setenv("SAMSARA_PROFILE", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.LogLevel != "INFO" {
		t.Errorf("expected default log level INFO, got %q", cfg.LogLevel)
	}
	if cfg.DatabaseURL != "file:samsara.db" {
		t.Errorf("expected sqlite default, got %q", cfg.DatabaseURL)
	}
	if cfg.Profile != "default" {
		t.Errorf("expected default profile, got %q", cfg.Profile)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://samsara@localhost:5432/samsara?sslmode=disable")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("SAMSARA_PROFILE", "strict")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %q", cfg.Port)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("expected redis addr, got %q", cfg.RedisAddr)
	}
	if cfg.Profile != "strict" {
		t.Errorf("expected strict profile, got %q", cfg.Profile)
	}
}
