package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabasePath     string
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
	SessionSecret    string
	LogLevel         string
	Port             string

	RedisAddr    string
	RedisChannel string

	Adherence AdherenceConfig
}

// AdherenceConfig tunes deviation tracking and the plan adjustment policy.
type AdherenceConfig struct {
	Window                       time.Duration
	RecentAdjustmentWindow       time.Duration
	DefaultSimplifyAfter         int
	PartialCheckinWeight         float64
	ManualRegenerateResetsWindow bool
	RequestTimeout               time.Duration
	StorageRetryAttempts         int
	StorageRetryBackoff          time.Duration
}

func DefaultAdherenceConfig() AdherenceConfig {
	return AdherenceConfig{
		Window:                 7 * 24 * time.Hour,
		RecentAdjustmentWindow: 24 * time.Hour,
		DefaultSimplifyAfter:   3,
		PartialCheckinWeight:   0.5,
		RequestTimeout:         5 * time.Second,
		StorageRetryAttempts:   3,
		StorageRetryBackoff:    50 * time.Millisecond,
	}
}

func Load() (Config, error) {
	config := Config{
		DatabasePath:     envOrDefault("DATABASE_PATH", "./data/adherence.db"),
		OIDCIssuer:       os.Getenv("OIDC_ISSUER"),
		OIDCClientID:     os.Getenv("OIDC_CLIENT_ID"),
		OIDCClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
		OIDCRedirectURL:  os.Getenv("OIDC_REDIRECT_URL"),
		SessionSecret:    os.Getenv("SESSION_SECRET"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		Port:             envOrDefault("PORT", "8080"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisChannel:     envOrDefault("REDIS_CHANNEL", "adherence-events"),
	}

	if config.SessionSecret == "" {
		return Config{}, fmt.Errorf("SESSION_SECRET is required")
	}

	adherence, err := loadAdherence()
	if err != nil {
		return Config{}, err
	}
	config.Adherence = adherence

	return config, nil
}

func loadAdherence() (AdherenceConfig, error) {
	adherence := DefaultAdherenceConfig()
	var err error

	if adherence.Window, err = envDuration("ADHERENCE_WINDOW", adherence.Window); err != nil {
		return AdherenceConfig{}, err
	}
	if adherence.RecentAdjustmentWindow, err = envDuration("RECENT_ADJUSTMENT_WINDOW", adherence.RecentAdjustmentWindow); err != nil {
		return AdherenceConfig{}, err
	}
	if adherence.RequestTimeout, err = envDuration("REQUEST_TIMEOUT", adherence.RequestTimeout); err != nil {
		return AdherenceConfig{}, err
	}
	if adherence.StorageRetryBackoff, err = envDuration("STORAGE_RETRY_BACKOFF", adherence.StorageRetryBackoff); err != nil {
		return AdherenceConfig{}, err
	}
	if adherence.DefaultSimplifyAfter, err = envInt("DEFAULT_SIMPLIFY_AFTER_DEVIATIONS", adherence.DefaultSimplifyAfter); err != nil {
		return AdherenceConfig{}, err
	}
	if adherence.StorageRetryAttempts, err = envInt("STORAGE_RETRY_ATTEMPTS", adherence.StorageRetryAttempts); err != nil {
		return AdherenceConfig{}, err
	}

	if value := os.Getenv("PARTIAL_CHECKIN_WEIGHT"); value != "" {
		weight, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return AdherenceConfig{}, fmt.Errorf("parsing PARTIAL_CHECKIN_WEIGHT: %w", err)
		}
		adherence.PartialCheckinWeight = weight
	}
	if value := os.Getenv("MANUAL_REGENERATE_RESETS_WINDOW"); value != "" {
		resets, err := strconv.ParseBool(value)
		if err != nil {
			return AdherenceConfig{}, fmt.Errorf("parsing MANUAL_REGENERATE_RESETS_WINDOW: %w", err)
		}
		adherence.ManualRegenerateResetsWindow = resets
	}

	if adherence.Window <= adherence.RecentAdjustmentWindow {
		return AdherenceConfig{}, fmt.Errorf("ADHERENCE_WINDOW must be longer than RECENT_ADJUSTMENT_WINDOW")
	}
	if adherence.DefaultSimplifyAfter < 1 {
		return AdherenceConfig{}, fmt.Errorf("DEFAULT_SIMPLIFY_AFTER_DEVIATIONS must be at least 1")
	}
	if adherence.StorageRetryAttempts < 1 {
		return AdherenceConfig{}, fmt.Errorf("STORAGE_RETRY_ATTEMPTS must be at least 1")
	}
	if adherence.PartialCheckinWeight < 0 || adherence.PartialCheckinWeight > 1 {
		return AdherenceConfig{}, fmt.Errorf("PARTIAL_CHECKIN_WEIGHT must be between 0 and 1")
	}

	return adherence, nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (config Config) SlogLevel() slog.Level {
	switch strings.ToLower(config.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return duration, nil
}

func envInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return parsed, nil
}
