// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/natal-chart/internal/segment"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	LogLevel    string

	Store      StoreConfig
	Engine     EngineConfig
	Generation GenerationConfig
	Messages   MessageConfig
	Languages  LanguageConfig
	Session    SessionConfig
	RateLimit  RateLimitConfig

	// ChartConfigPath optionally points at a YAML file overriding Chart.
	ChartConfigPath string
	Chart           ChartConfig
}

// StoreConfig selects and configures the birth record store.
type StoreConfig struct {
	Backend       string // "sqlite", "redis" or "memory"
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// EngineConfig configures the astrology engine client.
type EngineConfig struct {
	Addr             string
	Timeout          time.Duration
	GeonamesUsername string
	HouseSystem      string
}

// GenerationConfig configures the text generation backend.
type GenerationConfig struct {
	Provider string // "gemini", "openai" or "" for disabled
	Timeout  time.Duration

	GeminiAPIKey          string
	GeminiModel           string
	GeminiBaseURL         string
	GeminiSafetyThreshold string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

// MessageConfig bounds outbound chat messages.
type MessageConfig struct {
	Limit        int
	SafetyMargin int
}

// LanguageConfig configures the message catalog.
type LanguageConfig struct {
	Default    string
	Secondary  string
	LocalesDir string
}

// SessionConfig tunes dialogue session expiry.
type SessionConfig struct {
	IdleTimeout     time.Duration
	JanitorInterval time.Duration
}

// RateLimitConfig bounds inbound chat messages per user.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Store: StoreConfig{
			Backend:       strings.ToLower(getEnv("STORE_BACKEND", "sqlite")),
			DBPath:        getEnv("DB_PATH", "./data/natal.db"),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			Addr:             getEnv("ASTRO_ENGINE_ADDR", "localhost:50051"),
			Timeout:          getEnvDuration("ASTRO_ENGINE_TIMEOUT", 30*time.Second),
			GeonamesUsername: getEnv("GEONAMES_USERNAME", ""),
			HouseSystem:      getEnv("HOUSE_SYSTEM", ""),
		},
		Generation: GenerationConfig{
			Provider:              strings.ToLower(getEnv("GENERATION_PROVIDER", "gemini")),
			Timeout:               getEnvDuration("GENERATION_TIMEOUT", 3*time.Minute),
			GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
			GeminiModel:           getEnv("GEMINI_MODEL", ""),
			GeminiBaseURL:         getEnv("GEMINI_BASE_URL", ""),
			GeminiSafetyThreshold: getEnv("GEMINI_SAFETY_THRESHOLD", "BLOCK_NONE"),
			OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
			OpenAIModel:           getEnv("OPENAI_MODEL", ""),
		},
		Messages: MessageConfig{
			Limit:        getEnvInt("MESSAGE_LIMIT", 4096),
			SafetyMargin: getEnvInt("MESSAGE_SAFETY_MARGIN", 96),
		},
		Languages: LanguageConfig{
			Default:    getEnv("DEFAULT_LANGUAGE", "en"),
			Secondary:  getEnv("SECONDARY_LANGUAGE", "ka"),
			LocalesDir: getEnv("LOCALES_DIR", ""),
		},
		Session: SessionConfig{
			IdleTimeout:     getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
			JanitorInterval: getEnvDuration("SESSION_JANITOR_INTERVAL", time.Minute),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ChartConfigPath: getEnv("CHART_CONFIG_PATH", ""),
		Chart:           DefaultChartConfig(),
	}

	if cfg.ChartConfigPath != "" {
		if err := cfg.Chart.LoadFile(cfg.ChartConfigPath); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if cfg.Engine.HouseSystem != "" {
		cfg.Chart.HouseSystem = cfg.Engine.HouseSystem
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
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be sqlite, redis or memory, got %q", c.Store.Backend)
	}
	if c.Engine.Addr == "" {
		return fmt.Errorf("ASTRO_ENGINE_ADDR cannot be empty")
	}
	switch c.Generation.Provider {
	case "gemini":
		if c.Generation.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
	case "openai":
		if c.Generation.OpenAIBaseURL == "" || c.Generation.OpenAIModel == "" {
			return fmt.Errorf("OPENAI_BASE_URL and OPENAI_MODEL are required for the openai provider")
		}
	case "", "none":
	default:
		return fmt.Errorf("GENERATION_PROVIDER must be gemini, openai or none, got %q", c.Generation.Provider)
	}
	if c.Generation.Timeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be > 0")
	}
	if c.Messages.Limit <= 0 || c.Messages.SafetyMargin < 0 || c.Messages.SafetyMargin >= c.Messages.Limit {
		return fmt.Errorf("MESSAGE_LIMIT must be > MESSAGE_SAFETY_MARGIN >= 0")
	}
	if c.Languages.Default == "" {
		return fmt.Errorf("DEFAULT_LANGUAGE cannot be empty")
	}
	if c.Session.IdleTimeout <= 0 || c.Session.JanitorInterval <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT and SESSION_JANITOR_INTERVAL must be > 0")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0 when RATE_LIMIT_REQUESTS is set")
	}
	return c.Chart.Validate()
}

// MessageLimit returns the usable byte budget per outbound chat message.
func (c *Config) MessageLimit() int {
	return segment.Limit(c.Messages.Limit, c.Messages.SafetyMargin)
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

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
