package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Version string
	}

	// Database configuration
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Retries  int
		Delay    time.Duration
	}

	// Redis configuration, used when the change-feed runs over redis
	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	// Feed selects the change-feed transport
	Feed struct {
		Driver     string // "memory" or "redis"
		Channel    string
		BufferSize int
	}

	// Inference endpoints
	Inference struct {
		BaseURL string
		Timeout time.Duration
		APIKey  string
		// Consecutive failures before a provider's breaker opens, and how
		// long it stays open
		BreakerThreshold int
		BreakerCoolDown  time.Duration
	}

	// Chat session behaviour
	Chat struct {
		RecentLimit    int
		DefaultProfile string
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Observability configuration
	Observability struct {
		ServiceName    string
		TracingEnabled bool
		HealthPeriod   time.Duration
		OpenAPISchema  string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates the Config singleton from environment variables
func New() *Config {
	once.Do(func() {
		godotenv.Load()
		instance = Load()
	})
	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load reads a fresh Config from the environment without touching the singleton
func Load() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "8081")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Version = getEnvString("APP_VERSION", "dev")

	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "realtime_chat")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Retries = getEnvInt("DB_CONNECT_RETRIES", 5)
	cfg.Database.Delay = getEnvDuration("DB_CONNECT_DELAY", 5*time.Second)

	cfg.Redis.Addr = getEnvString("REDIS_URL", "localhost:6379")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Feed.Driver = getEnvString("FEED_DRIVER", "memory")
	cfg.Feed.Channel = getEnvString("FEED_CHANNEL", "chat:messages:insert")
	cfg.Feed.BufferSize = getEnvInt("FEED_BUFFER_SIZE", 256)

	cfg.Inference.BaseURL = inferenceBaseURL()
	cfg.Inference.Timeout = getEnvDuration("INFERENCE_TIMEOUT", 0)
	cfg.Inference.APIKey = getEnvString("INFERENCE_API_KEY", "")
	cfg.Inference.BreakerThreshold = getEnvInt("INFERENCE_BREAKER_THRESHOLD", 5)
	cfg.Inference.BreakerCoolDown = getEnvDuration("INFERENCE_BREAKER_COOLDOWN", 30*time.Second)

	cfg.Chat.RecentLimit = getEnvInt("CHAT_RECENT_LIMIT", 100)
	cfg.Chat.DefaultProfile = getEnvString("CHAT_DEFAULT_PROFILE", "customer")

	cfg.Security.RateLimit = float64(getEnvInt("RATE_LIMIT", 5))
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.Observability.ServiceName = getEnvString("OTEL_SERVICE_NAME", "realtime-chat")
	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.Observability.HealthPeriod = getEnvDuration("HEALTH_CHECK_PERIOD", 30*time.Second)
	cfg.Observability.OpenAPISchema = getEnvString("OPENAPI_SCHEMA_PATH", "")

	return cfg
}

// inferenceBaseURL selects between an explicit override, the deployed
// endpoint and the local development endpoint.
func inferenceBaseURL() string {
	if base := getEnvString("INFERENCE_BASE_URL", ""); base != "" {
		return strings.TrimRight(base, "/")
	}
	if host := getEnvString("VERCEL_URL", ""); host != "" {
		return "https://" + host + "/api"
	}
	return "http://localhost:3000/api"
}

// LlamaURL is the tiny llama completion endpoint
func (c *Config) LlamaURL() string {
	return c.Inference.BaseURL + "/llama"
}

// BruviURL is the retrieval-augmented endpoint
func (c *Config) BruviURL() string {
	return c.Inference.BaseURL + "/bruvi"
}

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
