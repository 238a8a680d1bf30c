package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port int
	Env  string

	// CORS
	AllowedOrigins []string

	// Database URLs
	PostgresURL string
	RedisURL    string

	// Gateway debounce (§4.2)
	VoiceDebounce time.Duration

	// Ad-hoc session defaults (§4.5), overridable per binding
	DefaultMinPlayers     int
	DefaultGracePeriodSec int
	CoalesceWindow        time.Duration

	// Channel-binding cache (§4.1)
	BindingCacheTTL      time.Duration
	BindingSweepInterval time.Duration

	// Game-name resolver (§4.3)
	ResolverCacheTTL      time.Duration
	ResolverSweepInterval time.Duration
	OverrideTTL           time.Duration

	// Voice-attendance flush cadence (§4.6)
	AttendanceFlushInterval time.Duration

	// Scheduled-classification loop (§4.9)
	ClassificationInterval time.Duration
	ClassificationGrace    time.Duration
	ClassificationLookback time.Duration

	// Rate limiting (admin command surface)
	RateLimitPerSecond int
	RateLimitBurst     int
}

// Load loads configuration from environment variables.
// It returns an error if critical configuration is missing.
func Load() (*Config, error) {
	cfg := &Config{
		Port: getEnvInt("PORT", 8080),
		Env:  getEnv("ENV", "development"),

		VoiceDebounce: getEnvDuration("VOICE_DEBOUNCE", 2*time.Second),

		DefaultMinPlayers:     getEnvInt("DEFAULT_MIN_PLAYERS", 2),
		DefaultGracePeriodSec: getEnvInt("DEFAULT_GRACE_PERIOD_SEC", 180),
		CoalesceWindow:        getEnvDuration("COALESCE_WINDOW", 10*time.Second),

		BindingCacheTTL:      getEnvDuration("BINDING_CACHE_TTL", 60*time.Second),
		BindingSweepInterval: getEnvDuration("BINDING_SWEEP_INTERVAL", 10*time.Minute),

		ResolverCacheTTL:      getEnvDuration("RESOLVER_CACHE_TTL", 10*time.Minute),
		ResolverSweepInterval: getEnvDuration("RESOLVER_SWEEP_INTERVAL", 30*time.Minute),
		OverrideTTL:           getEnvDuration("OVERRIDE_TTL", 30*time.Minute),

		AttendanceFlushInterval: getEnvDuration("ATTENDANCE_FLUSH_INTERVAL", 30*time.Second),

		ClassificationInterval: getEnvDuration("CLASSIFICATION_INTERVAL", time.Minute),
		ClassificationGrace:    getEnvDuration("CLASSIFICATION_GRACE", 5*time.Minute),
		ClassificationLookback: getEnvDuration("CLASSIFICATION_LOOKBACK", 24*time.Hour),

		RateLimitPerSecond: getEnvInt("RATE_LIMIT_PER_SECOND", 100),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 200),
	}

	// CORS
	origins := getEnv("ALLOWED_ORIGINS", "http://localhost:3000")
	rawOrigins := strings.Split(origins, ",")
	for _, o := range rawOrigins {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	// Critical configuration - fail if missing
	var err error
	if cfg.PostgresURL, err = getEnvRequired("POSTGRES_URL"); err != nil {
		return nil, err
	}
	if cfg.RedisURL, err = getEnvRequired("REDIS_URL"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvRequired(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("missing required environment variable: %s", key)
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
