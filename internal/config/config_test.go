package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	c := Config{
		App:   AppConfig{Env: "local", Port: 8080, PublicBaseURL: "http://localhost:8080"},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "softphone"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
	c.applyDefaults()
	return c
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLModeAndSignatures(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "production", Port: 8080, PublicBaseURL: "https://voice.example.com"},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "softphone"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret", JWTIssuer: "i", JWTAudience: "a"},
	}
	c.applyDefaults()
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
	for _, want := range []string{"DB_SSLMODE", "TWILIO_VALIDATE_SIGNATURES"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestApplyDefaults_Local(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Twilio.RequestTimeout != 30*time.Second || c.Twilio.TokenTTL != time.Hour {
		t.Fatalf("unexpected provider defaults: %+v", c.Twilio)
	}
	if c.EventBus.Backlog != 50 || c.EventBus.QueueSize != 64 || c.Cache.CredentialTTL != time.Minute {
		t.Fatalf("unexpected defaults: %+v %+v", c.EventBus, c.Cache)
	}
}

func TestValidate_PublicBaseURL(t *testing.T) {
	c := validLocal()
	c.App.PublicBaseURL = "voice.example.com"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "PUBLIC_BASE_URL") {
		t.Fatalf("expected PUBLIC_BASE_URL error, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	for k, v := range map[string]string{
		"APP_ENV":                    "dev",
		"APP_PORT":                   "9000",
		"PUBLIC_BASE_URL":            "https://voice.example.com/",
		"WS_ALLOWED_ORIGINS":         "https://app.example.com, https://admin.example.com",
		"DB_HOST":                    "db",
		"DB_PORT":                    "5432",
		"DB_USER":                    "u",
		"DB_NAME":                    "softphone",
		"REDIS_HOST":                 "redis",
		"REDIS_PORT":                 "6379",
		"JWT_SECRET":                 "s",
		"TWILIO_VALIDATE_SIGNATURES": "true",
		"TWILIO_REQUEST_TIMEOUT":     "10s",
		"WEBHOOK_RATE_LIMIT":         "5",
	} {
		t.Setenv(k, v)
	}

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.PublicBaseURL != "https://voice.example.com" || len(c.App.AllowedOrigins) != 2 {
		t.Fatalf("unexpected app config: %+v", c.App)
	}
	if !c.Twilio.ValidateSignatures || c.Twilio.RequestTimeout != 10*time.Second {
		t.Fatalf("unexpected twilio config: %+v", c.Twilio)
	}
	if c.Webhook.RateLimit != 5 || c.Webhook.RateBurst != 10 {
		t.Fatalf("unexpected webhook config: %+v", c.Webhook)
	}
}

func TestLoad_RejectsMalformedOptionalValues(t *testing.T) {
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("TWILIO_REQUEST_TIMEOUT", "soon")
	t.Setenv("EVENTBUS_BACKLOG", "many")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected parse errors")
	}
	for _, want := range []string{"TWILIO_REQUEST_TIMEOUT", "EVENTBUS_BACKLOG"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}
