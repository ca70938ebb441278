package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the metric engine
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	Database DatabaseConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Engine   EngineConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
	MetricsPort    string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// ProviderConfig holds the upstream financial data provider configuration
type ProviderConfig struct {
	BaseURL         string
	APIKey          string
	RateLimitPerMin int           // 분당 요청 한도
	Timeout         time.Duration // fetch 1건당 deadline
}

// EngineConfig holds batch computation tunables
type EngineConfig struct {
	Workers         int // 동시에 처리하는 ticker 수
	MaxPeers        int
	DefinitionsPath string
	Schedule        string // cron (with seconds)
	LookbackDays    int    // scheduled run 재계산 구간
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Provider: ProviderConfig{
			BaseURL:         getEnv("PROVIDER_BASE_URL", "https://financialmodelingprep.com/api/v3"),
			APIKey:          getEnv("PROVIDER_API_KEY", ""),
			RateLimitPerMin: getEnvAsInt("PROVIDER_RATE_LIMIT_PER_MIN", 300),
			Timeout:         getEnvAsDuration("PROVIDER_TIMEOUT", "20s"),
		},

		Engine: EngineConfig{
			Workers:         getEnvAsInt("ENGINE_WORKERS", 10),
			MaxPeers:        getEnvAsInt("ENGINE_MAX_PEERS", 10),
			DefinitionsPath: getEnv("ENGINE_DEFINITIONS_PATH", "configs/metrics.yaml"),
			Schedule:        getEnv("ENGINE_SCHEDULE", "0 30 6 * * *"),
			LookbackDays:    getEnvAsInt("ENGINE_LOOKBACK_DAYS", 7),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// RequireDatabase fails when a command needs Postgres but DATABASE_URL is unset
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// validate checks if configuration values are usable
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Provider.RateLimitPerMin <= 0 {
		return fmt.Errorf("PROVIDER_RATE_LIMIT_PER_MIN must be > 0")
	}

	if c.Engine.Workers <= 0 {
		return fmt.Errorf("ENGINE_WORKERS must be > 0")
	}

	if c.Engine.MaxPeers < 0 {
		return fmt.Errorf("ENGINE_MAX_PEERS must be >= 0")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
		"backend/.env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
