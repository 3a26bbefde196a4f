package config

import (
	"testing"
	"time"
)

func TestLoad_RequiresSessionSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when SESSION_SECRET is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %q", cfg.Port)
	}
	if cfg.Adherence.Window != 7*24*time.Hour {
		t.Errorf("expected 7 day window, got %s", cfg.Adherence.Window)
	}
	if cfg.Adherence.DefaultSimplifyAfter != 3 {
		t.Errorf("expected default threshold 3, got %d", cfg.Adherence.DefaultSimplifyAfter)
	}
	if cfg.Adherence.PartialCheckinWeight != 0.5 {
		t.Errorf("expected partial weight 0.5, got %v", cfg.Adherence.PartialCheckinWeight)
	}
	if cfg.Adherence.ManualRegenerateResetsWindow {
		t.Error("expected manual regeneration to preserve the window by default")
	}
}

func TestLoad_AdherenceOverrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", "secret")
	t.Setenv("ADHERENCE_WINDOW", "72h")
	t.Setenv("STORAGE_RETRY_ATTEMPTS", "5")
	t.Setenv("MANUAL_REGENERATE_RESETS_WINDOW", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if cfg.Adherence.Window != 72*time.Hour {
		t.Errorf("expected 72h window, got %s", cfg.Adherence.Window)
	}
	if cfg.Adherence.StorageRetryAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Adherence.StorageRetryAttempts)
	}
	if !cfg.Adherence.ManualRegenerateResetsWindow {
		t.Error("expected manual regeneration to reset the window")
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "ADHERENCE_WINDOW", "a week"},
		{"window shorter than recent window", "ADHERENCE_WINDOW", "12h"},
		{"zero threshold", "DEFAULT_SIMPLIFY_AFTER_DEVIATIONS", "0"},
		{"weight above one", "PARTIAL_CHECKIN_WEIGHT", "1.5"},
		{"bad bool", "MANUAL_REGENERATE_RESETS_WINDOW", "sometimes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SESSION_SECRET", "secret")
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
