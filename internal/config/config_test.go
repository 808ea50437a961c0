package config

import (
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.FlowTimeoutSeconds != 300 {
		t.Fatalf("expected 5 minute flow timeout, got %d", cfg.FlowTimeoutSeconds)
	}
	if cfg.PinMaxAttempts != 3 || cfg.PinLockoutSeconds != 1800 {
		t.Fatalf("expected 3 attempts / 30 minute lockout, got %d / %d", cfg.PinMaxAttempts, cfg.PinLockoutSeconds)
	}
	if cfg.VelocityWindowHours != 24 {
		t.Fatalf("expected 24h velocity window, got %d", cfg.VelocityWindowHours)
	}
	if cfg.RateLimitPerMinute != 30 {
		t.Fatalf("expected 30 messages per minute, got %d", cfg.RateLimitPerMinute)
	}
	if cfg.SweepSchedule != "* * * * *" {
		t.Fatalf("expected every-minute sweep, got %q", cfg.SweepSchedule)
	}
	if cfg.TransferCeilingCents <= cfg.TransferSoftThresholdCents {
		t.Fatal("expected hard ceiling above soft threshold")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("FLOW_TIMEOUT_SECONDS", "120")
	t.Setenv("VELOCITY_LIMIT_RANDS", "2500.50")
	t.Setenv("PIN_MAX_ATTEMPTS", "5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.FlowTimeoutSeconds != 120 {
		t.Fatalf("expected env override, got %d", cfg.FlowTimeoutSeconds)
	}
	if cfg.VelocityLimitCents != 250050 {
		t.Fatalf("expected rand amount converted to cents, got %d", cfg.VelocityLimitCents)
	}
	if cfg.PinMaxAttempts != 5 {
		t.Fatalf("expected env override, got %d", cfg.PinMaxAttempts)
	}
}

func TestLoadConfig_CoercesBadValues(t *testing.T) {
	t.Setenv("INTENT_CONFIDENCE_THRESHOLD", "7.5")
	t.Setenv("PIN_MAX_ATTEMPTS", "-1")
	t.Setenv("FLOW_TIMEOUT_SECONDS", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.IntentConfidenceThreshold != 0.5 {
		t.Fatalf("expected threshold coerced to 0.5, got %f", cfg.IntentConfidenceThreshold)
	}
	if cfg.PinMaxAttempts != 3 {
		t.Fatalf("expected attempts coerced to 3, got %d", cfg.PinMaxAttempts)
	}
	if cfg.FlowTimeoutSeconds != 300 {
		t.Fatalf("expected timeout coerced to 300, got %d", cfg.FlowTimeoutSeconds)
	}
}
