// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/unfolding/internal/compress"
	"github.com/ashureev/unfolding/internal/transcript"
)

// Config holds all application configuration.
type Config struct {
	Port              string
	FrontendURL       string
	DBPath            string
	ShutdownTimeout   time.Duration
	ReconnectInterval time.Duration
	Model             ModelConfig
	Chat              ChatConfig
	Transcript        transcript.Config
}

// ModelConfig selects the upstream language model.
type ModelConfig struct {
	APIKey string
	Name   string
}

// ChatConfig tunes chat turns.
type ChatConfig struct {
	MaxToolRounds int
	RatePerMinute int
	Compress      compress.Options
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	defaults := compress.DefaultOptions()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		FrontendURL:       getEnv("FRONTEND_URL", ""),
		DBPath:            getEnv("DB_PATH", "./data/unfolding.db"),
		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		ReconnectInterval: getEnvDuration("RECONNECT_INTERVAL", time.Second),
		Model: ModelConfig{
			APIKey: getEnv("GEMINI_API_KEY", ""),
			Name:   getEnv("MODEL_NAME", "gemini-2.5-flash"),
		},
		Chat: ChatConfig{
			MaxToolRounds: getEnvInt("MAX_TOOL_ROUNDS", 5),
			RatePerMinute: getEnvInt("CHAT_RATE_PER_MINUTE", 20),
			Compress: compress.Options{
				Verbatim:    getEnvInt("COMPRESS_VERBATIM", defaults.Verbatim),
				Compressed:  getEnvInt("COMPRESS_WINDOW", defaults.Compressed),
				MaxKept:     getEnvInt("COMPRESS_MAX_KEPT", defaults.MaxKept),
				PrefixRunes: defaults.PrefixRunes,
			},
		},
		Transcript: transcript.Config{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", false),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/logs/transcripts"),
			QueueSize: getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 256),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if n, err := strconv.Atoi(c.Port); err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("PORT must be a valid port number, got %q", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if strings.TrimSpace(c.Model.APIKey) == "" {
		return fmt.Errorf("GEMINI_API_KEY cannot be empty")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("MODEL_NAME cannot be empty")
	}
	if c.Chat.MaxToolRounds <= 0 {
		return fmt.Errorf("MAX_TOOL_ROUNDS must be > 0")
	}
	if c.Chat.RatePerMinute < 0 {
		return fmt.Errorf("CHAT_RATE_PER_MINUTE must be >= 0")
	}
	cp := c.Chat.Compress
	if cp.Verbatim <= 0 || cp.Compressed < 0 {
		return fmt.Errorf("COMPRESS_VERBATIM must be > 0 and COMPRESS_WINDOW >= 0")
	}
	if cp.MaxKept < cp.Verbatim {
		return fmt.Errorf("COMPRESS_MAX_KEPT must be >= COMPRESS_VERBATIM")
	}
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("RECONNECT_INTERVAL must be > 0")
	}
	if c.Transcript.Enabled {
		if c.Transcript.Dir == "" {
			return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
		}
		if c.Transcript.QueueSize <= 0 {
			return fmt.Errorf("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the origins accepted for CORS and WebSocket.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("1s") or bare milliseconds ("1000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
