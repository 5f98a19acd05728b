package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the avatar lesson backend.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	OpenAIAPIKey          string
	OpenAIRealtimeURL     string
	OpenAIRealtimeModel   string
	OpenAITranscribeModel string
	RealtimeVoice         string
	TranscribeLanguage    string

	VADThreshold         float64
	VADPrefixPaddingMS   int
	VADSilenceDurationMS int
	VADCreateResponse    bool

	InternalAPISecret  string
	AgentAvatarURL     string
	LiveAvatarAvatarID string

	RedisURL       string
	DemoRateLimit  int64
	DemoRateWindow time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":3000"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "uroklive"),
		AllowAnyOrigin:      false,
		OpenAIAPIKey:        trimmedEnv("OPENAI_API_KEY"),
		OpenAIRealtimeURL:   envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		OpenAIRealtimeModel: envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		// gpt-4o-transcribe gives better Ukrainian, whisper-1 is the safe default.
		OpenAITranscribeModel: envOrDefault("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		RealtimeVoice:         envOrDefault("OPENAI_REALTIME_VOICE", "shimmer"),
		TranscribeLanguage:    envOrDefault("OPENAI_TRANSCRIBE_LANGUAGE", "uk"),
		VADThreshold:          0.5,
		VADPrefixPaddingMS:    300,
		// Long pause before the model answers: the demo audience thinks
		// while speaking a non-native language.
		VADSilenceDurationMS: 3000,
		VADCreateResponse:    true,
		InternalAPISecret:    trimmedEnv("INTERNAL_API_SECRET"),
		AgentAvatarURL:       envOrDefault("AGENT_AVATAR_URL", "http://localhost:3001"),
		LiveAvatarAvatarID:   trimmedEnv("LIVEAVATAR_AVATAR_ID"),
		RedisURL:             trimmedEnv("REDIS_URL"),
		DemoRateLimit:        120,
		DemoRateWindow:       time.Minute,
		DatabaseURL:          trimmedEnv("DATABASE_URL"),
		ShutdownTimeout:      15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DemoRateWindow, err = durationFromEnv("DEMO_RATE_WINDOW", cfg.DemoRateWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.VADCreateResponse, err = boolFromEnv("OPENAI_VAD_CREATE_RESPONSE", cfg.VADCreateResponse)
	if err != nil {
		return Config{}, err
	}
	cfg.VADThreshold, err = floatFromEnv("OPENAI_VAD_THRESHOLD", cfg.VADThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VADPrefixPaddingMS, err = intFromEnv("OPENAI_VAD_PREFIX_PADDING_MS", cfg.VADPrefixPaddingMS)
	if err != nil {
		return Config{}, err
	}
	cfg.VADSilenceDurationMS, err = intFromEnv("OPENAI_VAD_SILENCE_DURATION_MS", cfg.VADSilenceDurationMS)
	if err != nil {
		return Config{}, err
	}
	rateLimit, err := intFromEnv("DEMO_RATE_LIMIT", int(cfg.DemoRateLimit))
	if err != nil {
		return Config{}, err
	}
	cfg.DemoRateLimit = int64(rateLimit)

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.InternalAPISecret == "" {
		return Config{}, fmt.Errorf("INTERNAL_API_SECRET is required")
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("OPENAI_VAD_THRESHOLD must be within [0, 1]")
	}
	if cfg.VADPrefixPaddingMS < 0 || cfg.VADSilenceDurationMS < 0 {
		return Config{}, fmt.Errorf("VAD paddings must be non-negative")
	}
	if cfg.DemoRateLimit <= 0 {
		return Config{}, fmt.Errorf("DEMO_RATE_LIMIT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
