package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents service configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	StoreDriver string // postgres | sqlite | mysql
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	FeedBackend  string // local | redis | postgres
	AMQPURL      string
	AMQPExchange string

	JWTSecret string

	Workers           int
	WorkerIdleDelay   time.Duration
	DefaultMaxRetries int
	AutoRetry         bool
	StaleAfter        time.Duration
	ReaperInterval    time.Duration
	EmbeddedWorkers   bool
	FacadeTimeout     time.Duration

	AIProvider        string
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string

	TranscriptServiceURL string

	SupabaseURL  string
	SupabaseKey  string
	PlanCacheTTL time.Duration
	DefaultTier  string

	RateLimitPerMin  int
	CORSOrigins      []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
}

// Load reads the environment and applies defaults. Values that would make the
// service misbehave silently are rejected.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "development"),
		Port:   getEnv("PORT", "8080"),

		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		FeedBackend:  os.Getenv("FEED_BACKEND"),
		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "jobs.events"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		Workers:           getEnvInt("WORKERS", 4),
		WorkerIdleDelay:   getEnvDuration("WORKER_IDLE_DELAY", 5*time.Second),
		DefaultMaxRetries: getEnvInt("DEFAULT_MAX_RETRIES", 3),
		AutoRetry:         getEnvBool("AUTO_RETRY", false),
		StaleAfter:        getEnvDuration("STALE_AFTER", 15*time.Minute),
		ReaperInterval:    getEnvDuration("REAPER_INTERVAL", 30*time.Second),
		EmbeddedWorkers:   getEnvBool("EMBEDDED_WORKERS", false),
		FacadeTimeout:     getEnvDuration("FACADE_TIMEOUT", 5*time.Minute),

		AIProvider:        getEnv("AI_PROVIDER", "ollama"),
		OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       getEnv("OLLAMA_MODEL", "llama3:latest"),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   getEnv("OPENROUTER_MODEL", "openrouter/auto"),

		TranscriptServiceURL: os.Getenv("TRANSCRIPT_SERVICE_URL"),

		SupabaseURL:  os.Getenv("SUPABASE_URL"),
		SupabaseKey:  os.Getenv("SUPABASE_KEY"),
		PlanCacheTTL: getEnvDuration("PLAN_CACHE_TTL", 5*time.Minute),
		DefaultTier:  getEnv("DEFAULT_TIER", "free"),

		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:      getEnvList("CORS_ORIGINS", []string{"*"}),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
	}

	switch cfg.StoreDriver {
	case "postgres", "mysql":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=%s", cfg.StoreDriver)
		}
	case "sqlite":
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = "file:notes.db?_pragma=busy_timeout(5000)"
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.FeedBackend == "" {
		cfg.FeedBackend = defaultFeedBackend(cfg)
	}
	switch cfg.FeedBackend {
	case "local":
		if !cfg.EmbeddedWorkers {
			return nil, fmt.Errorf("FEED_BACKEND=local only sees events of embedded workers: set EMBEDDED_WORKERS=true or use redis or postgres")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required for FEED_BACKEND=redis")
		}
	case "postgres":
		if cfg.StoreDriver != "postgres" {
			return nil, fmt.Errorf("FEED_BACKEND=postgres needs STORE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported FEED_BACKEND %q", cfg.FeedBackend)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("WORKERS must be positive, got %d", cfg.Workers)
	}
	if cfg.DefaultMaxRetries < 0 {
		return nil, fmt.Errorf("DEFAULT_MAX_RETRIES must not be negative")
	}

	return cfg, nil
}

// ValidateWorker rejects settings a standalone worker process cannot serve.
// Its store events must reach the API through a shared feed.
func (c *Config) ValidateWorker() error {
	if c.FeedBackend == "local" {
		return fmt.Errorf("FEED_BACKEND=local cannot carry events from a standalone worker, use redis or postgres")
	}
	return nil
}

// defaultFeedBackend picks a feed every process can share: the notify trigger
// on postgres, Redis Pub/Sub when Redis is configured, otherwise in-process.
func defaultFeedBackend(c *Config) string {
	switch {
	case c.StoreDriver == "postgres":
		return "postgres"
	case c.RedisAddr != "":
		return "redis"
	}
	return "local"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if s, err := strconv.Atoi(v); err == nil {
		return time.Duration(s) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
