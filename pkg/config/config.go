package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Providers ProvidersConfig `json:"providers"`
	Router    RouterConfig    `json:"router"`
	Jobs      JobsConfig      `json:"jobs"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Feeds     FeedsConfig     `json:"feeds"`
	Logging   LoggingConfig   `json:"logging"`
	Tracing   TracingConfig   `json:"tracing"`
	Alerting  AlertingConfig  `json:"alerting"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	MigrationsPath  string        `json:"migrations_path"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// ProviderConfig describes one inference backend
type ProviderConfig struct {
	Enabled        bool          `json:"enabled"`
	APIKey         string        `json:"-"`
	Model          string        `json:"model"`
	Endpoint       string        `json:"endpoint"`
	MaxConcurrency int           `json:"max_concurrency"`
	Timeout        time.Duration `json:"timeout"`
}

// ProvidersConfig holds configuration for every known backend
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
	Google    ProviderConfig `json:"google"`
	Local     ProviderConfig `json:"local"`
}

// RouterConfig contains hedged-routing and circuit breaker configuration
type RouterConfig struct {
	Primary          string        `json:"primary"`
	Fallbacks        []string      `json:"fallbacks"`
	FailureThreshold int           `json:"failure_threshold"`
	ResetAfter       time.Duration `json:"reset_after"`
	CallTimeout      time.Duration `json:"call_timeout"`
	HedgeTimeout     time.Duration `json:"hedge_timeout"`
	TotalBudget      time.Duration `json:"total_budget"`
}

// JobsConfig contains background job queue configuration
type JobsConfig struct {
	MaxRetries     int           `json:"max_retries"`
	RetryBaseDelay time.Duration `json:"retry_base_delay"`
	Retention      time.Duration `json:"retention"`
	SweepInterval  time.Duration `json:"sweep_interval"`
}

// PipelineConfig contains pipeline orchestration configuration
type PipelineConfig struct {
	ConsolidationBudgets []int         `json:"consolidation_budgets"`
	StageTimeout         time.Duration `json:"stage_timeout"`
}

// FeedsConfig contains contextual feed endpoints and caching
type FeedsConfig struct {
	WeatherEndpoint    string        `json:"weather_endpoint"`
	AirQualityEndpoint string        `json:"air_quality_endpoint"`
	CacheTTL           time.Duration `json:"cache_ttl"`
	Timeout            time.Duration `json:"timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// AlertingConfig contains operator alerting configuration
type AlertingConfig struct {
	SlackWebhookURL string `json:"-"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "driveline"),
			User:            getEnvString("DB_USER", "driveline"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsPath:  getEnvString("DB_MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Providers: ProvidersConfig{
			Anthropic: ProviderConfig{
				Enabled:        getEnvBool("PROVIDER_ANTHROPIC_ENABLED", true),
				APIKey:         getEnvString("ANTHROPIC_API_KEY", ""),
				Model:          getEnvString("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
				Endpoint:       getEnvString("ANTHROPIC_ENDPOINT", "https://api.anthropic.com/v1/messages"),
				MaxConcurrency: getEnvInt("PROVIDER_ANTHROPIC_MAX_CONCURRENCY", 4),
				Timeout:        getEnvDuration("PROVIDER_ANTHROPIC_TIMEOUT", 25*time.Second),
			},
			OpenAI: ProviderConfig{
				Enabled:        getEnvBool("PROVIDER_OPENAI_ENABLED", true),
				APIKey:         getEnvString("OPENAI_API_KEY", ""),
				Model:          getEnvString("OPENAI_MODEL", "gpt-5"),
				Endpoint:       getEnvString("OPENAI_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
				MaxConcurrency: getEnvInt("PROVIDER_OPENAI_MAX_CONCURRENCY", 4),
				Timeout:        getEnvDuration("PROVIDER_OPENAI_TIMEOUT", 25*time.Second),
			},
			Google: ProviderConfig{
				Enabled:        getEnvBool("PROVIDER_GOOGLE_ENABLED", true),
				APIKey:         getEnvString("GOOGLE_AI_API_KEY", ""),
				Model:          getEnvString("GOOGLE_AI_MODEL", "gemini-2.0-flash-001"),
				Endpoint:       getEnvString("GOOGLE_AI_ENDPOINT", "https://generativelanguage.googleapis.com/v1beta/models"),
				MaxConcurrency: getEnvInt("PROVIDER_GOOGLE_MAX_CONCURRENCY", 4),
				Timeout:        getEnvDuration("PROVIDER_GOOGLE_TIMEOUT", 25*time.Second),
			},
			Local: ProviderConfig{
				Enabled:        getEnvBool("PROVIDER_LOCAL_ENABLED", false),
				APIKey:         getEnvString("LOCAL_API_KEY", ""),
				Model:          getEnvString("LOCAL_MODEL", "llama-3.1-8b-instruct"),
				Endpoint:       getEnvString("LOCAL_ENDPOINT", "http://localhost:8000/v1/chat/completions"),
				MaxConcurrency: getEnvInt("PROVIDER_LOCAL_MAX_CONCURRENCY", 2),
				Timeout:        getEnvDuration("PROVIDER_LOCAL_TIMEOUT", 25*time.Second),
			},
		},
		Router: RouterConfig{
			Primary:          getEnvString("ROUTER_PRIMARY", "anthropic"),
			Fallbacks:        getEnvStringSlice("ROUTER_FALLBACKS", []string{"openai", "google"}),
			FailureThreshold: getEnvInt("ROUTER_FAILURE_THRESHOLD", 3),
			ResetAfter:       getEnvDuration("ROUTER_RESET_AFTER", 60*time.Second),
			CallTimeout:      getEnvDuration("ROUTER_CALL_TIMEOUT", 25*time.Second),
			HedgeTimeout:     getEnvDuration("ROUTER_HEDGE_TIMEOUT", 1200*time.Millisecond),
			TotalBudget:      getEnvDuration("ROUTER_TOTAL_BUDGET", 30*time.Second),
		},
		Jobs: JobsConfig{
			MaxRetries:     getEnvInt("JOB_MAX_RETRIES", 3),
			RetryBaseDelay: getEnvDuration("JOB_RETRY_BASE_DELAY", 2*time.Second),
			Retention:      getEnvDuration("JOB_RETENTION", 1*time.Hour),
			SweepInterval:  getEnvDuration("JOB_SWEEP_INTERVAL", 5*time.Minute),
		},
		Pipeline: PipelineConfig{
			ConsolidationBudgets: getEnvIntSlice("PIPELINE_CONSOLIDATION_BUDGETS", []int{4096, 2048, 1024}),
			StageTimeout:         getEnvDuration("PIPELINE_STAGE_TIMEOUT", 45*time.Second),
		},
		Feeds: FeedsConfig{
			WeatherEndpoint:    getEnvString("FEEDS_WEATHER_ENDPOINT", "https://api.open-meteo.com/v1/forecast"),
			AirQualityEndpoint: getEnvString("FEEDS_AIR_QUALITY_ENDPOINT", "https://air-quality-api.open-meteo.com/v1/air-quality"),
			CacheTTL:           getEnvDuration("FEEDS_CACHE_TTL", 10*time.Minute),
			Timeout:            getEnvDuration("FEEDS_TIMEOUT", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
		Alerting: AlertingConfig{
			SlackWebhookURL: getEnvString("ALERT_SLACK_WEBHOOK_URL", ""),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Router.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1")
	}

	if c.Router.HedgeTimeout >= c.Router.TotalBudget {
		return fmt.Errorf("hedge timeout must be shorter than the total budget")
	}

	if c.Jobs.MaxRetries < 1 {
		return fmt.Errorf("job max retries must be at least 1")
	}

	if len(c.Pipeline.ConsolidationBudgets) == 0 {
		return fmt.Errorf("at least one consolidation budget is required")
	}

	if _, ok := c.ProviderByName(c.Router.Primary); !ok {
		return fmt.Errorf("unknown primary provider: %s", c.Router.Primary)
	}

	for _, name := range c.Router.Fallbacks {
		if _, ok := c.ProviderByName(name); !ok {
			return fmt.Errorf("unknown fallback provider: %s", name)
		}
	}

	return nil
}

// ProviderByName returns the configuration for a named backend
func (c *Config) ProviderByName(name string) (ProviderConfig, bool) {
	switch name {
	case "anthropic":
		return c.Providers.Anthropic, true
	case "openai":
		return c.Providers.OpenAI, true
	case "google":
		return c.Providers.Google, true
	case "local":
		return c.Providers.Local, true
	default:
		return ProviderConfig{}, false
	}
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getEnvIntSlice(key string, defaultValue []int) []int {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
				out = append(out, n)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
