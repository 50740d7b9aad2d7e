package config

import (
	"os"
	"testing"
	"time"
)

var envVars = []string{
	"PORT", "LOG_LEVEL", "ENV", "BASE_URL",
	"DB_HOST", "DB_PORT", "DB_PASSWORD",
	"REDIS_HOST", "REDIS_PORT",
	"RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW", "IDEMPOTENCY_TTL",
	"DELIVERY_TIMEOUT", "DELIVERY_INSECURE_SKIP_VERIFY", "MAX_BODY_BYTES",
	"AUTH_TOKENS", "EVENTS_SNS_TOPIC_ARN", "EVENTS_SQS_QUEUE_URL",
}

func clearEnv() {
	for _, name := range envVars {
		os.Unsetenv(name)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8081 {
		t.Errorf("expected port 8081, got %d", cfg.Port)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}

	if cfg.Env != "development" {
		t.Errorf("expected env 'development', got %s", cfg.Env)
	}

	if cfg.BaseURL != "http://localhost:8081" {
		t.Errorf("expected default base url, got %s", cfg.BaseURL)
	}

	if cfg.RedisEnabled() {
		t.Error("redis should be disabled without REDIS_HOST")
	}

	if cfg.DeliveryTimeout != 10*time.Second {
		t.Errorf("expected delivery timeout 10s, got %v", cfg.DeliveryTimeout)
	}

	if cfg.MaxBodyBytes != 10<<20 {
		t.Errorf("expected 10 MiB body limit, got %d", cfg.MaxBodyBytes)
	}

	if cfg.RateLimitRequests != 120 || cfg.RateLimitWindow != time.Minute {
		t.Errorf("unexpected rate limit %d/%v", cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv()
	os.Setenv("PORT", "9000")
	os.Setenv("ENV", "production")
	os.Setenv("BASE_URL", "https://ldn.example.org/")
	os.Setenv("REDIS_HOST", "cache")
	os.Setenv("DELIVERY_TIMEOUT", "3s")
	os.Setenv("DELIVERY_INSECURE_SKIP_VERIFY", "true")
	os.Setenv("DB_PASSWORD", "")
	defer clearEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}

	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}

	if cfg.BaseURL != "https://ldn.example.org" {
		t.Errorf("expected trailing slash stripped, got %s", cfg.BaseURL)
	}

	if !cfg.RedisEnabled() {
		t.Error("redis should be enabled")
	}

	if cfg.DeliveryTimeout != 3*time.Second || !cfg.DeliveryInsecureSkipVerify {
		t.Errorf("unexpected delivery config %v/%v", cfg.DeliveryTimeout, cfg.DeliveryInsecureSkipVerify)
	}

	if cfg.DBPassword != "" {
		t.Errorf("expected explicit empty password, got %q", cfg.DBPassword)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"PORT", "eighty"},
		{"DB_PORT", "x"},
		{"RATE_LIMIT_WINDOW", "often"},
		{"DELIVERY_TIMEOUT", "10"},
		{"DELIVERY_INSECURE_SKIP_VERIFY", "maybe"},
		{"MAX_BODY_BYTES", "lots"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv()
			os.Setenv(tt.name, tt.value)
			defer clearEnv()

			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.name, tt.value)
			}
		})
	}
}
