package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the telecare session service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	// LiveKit credentials. All three are required before a token can be
	// issued; absence is reported on the first issuance, never papered over
	// with a fallback.
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string

	TokenTTL         time.Duration
	DefaultAgentName string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "telecare"),
		LiveKitURL:       envTrimmed("LIVEKIT_URL"),
		LiveKitAPIKey:    envTrimmed("LIVEKIT_API_KEY"),
		LiveKitAPISecret: envTrimmed("LIVEKIT_API_SECRET"),
		// Matches the 15 minute participant token lifetime used by the
		// consultation frontend.
		TokenTTL:         15 * time.Minute,
		DefaultAgentName: envOrDefault("DEFAULT_AGENT_NAME", "medical-assistant"),
		DatabaseURL:      envTrimmed("DATABASE_URL"),
		ShutdownTimeout:  15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenTTL, err = durationFromEnv("TOKEN_TTL", cfg.TokenTTL)
	if err != nil {
		return Config{}, err
	}

	if cfg.TokenTTL < time.Minute {
		return Config{}, fmt.Errorf("TOKEN_TTL must be at least 1m")
	}
	if strings.TrimSpace(cfg.BindAddr) == "" {
		return Config{}, fmt.Errorf("APP_BIND_ADDR must not be empty")
	}

	return cfg, nil
}

// HasLiveKitSecrets reports whether all three LiveKit secrets are present.
func (c Config) HasLiveKitSecrets() bool {
	return c.LiveKitURL != "" && c.LiveKitAPIKey != "" && c.LiveKitAPISecret != ""
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}
