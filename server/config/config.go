package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	LLM        LLMConfig        `json:"llm"`
	Simulation SimulationConfig `json:"simulation"`
	Cache      CacheConfig      `json:"cache"`
	Security   SecurityConfig   `json:"security"`
	Logging    LoggingConfig    `json:"logging"`
}

type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
	DashboardDir string        `json:"dashboard_dir"`
}

type LLMConfig struct {
	BaseURL             string        `json:"base_url"`
	APIKey              string        `json:"api_key"`
	Model               string        `json:"model"`
	Timeout             time.Duration `json:"timeout"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
}

type SimulationConfig struct {
	Period    time.Duration `json:"period"`
	AutoStart bool          `json:"auto_start"`
	VehicleID string        `json:"vehicle_id"`
}

type CacheConfig struct {
	Enabled    bool          `json:"enabled"`
	MaxEntries int           `json:"max_entries"`
	TTL        time.Duration `json:"ttl"`
}

type SecurityConfig struct {
	AdminSecret    string        `json:"admin_secret"`
	AllowedOrigins []string      `json:"allowed_origins"`
	RateLimitRPS   int           `json:"rate_limit_rps"`
	RateLimitBurst int           `json:"rate_limit_burst"`
	MaxRequestSize int64         `json:"max_request_size"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func LoadConfig() *Config {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
			DashboardDir: getEnv("DASHBOARD_DIR", ""),
		},
		LLM: LLMConfig{
			BaseURL: getEnv("LLM_BASE_URL", "https://api.openai.com"),
			APIKey:  getEnv("LLM_API_KEY", ""),
			Model:   getEnv("LLM_MODEL", "gpt-4o-mini"),
			// A hanging call blocks only the busy indicator, never the
			// simulation ticker, so there is no client timeout by default.
			Timeout:             getEnvAsDuration("LLM_TIMEOUT", 0),
			HealthCheckInterval: getEnvAsDuration("LLM_HEALTH_CHECK_INTERVAL", 0),
		},
		Simulation: SimulationConfig{
			Period:    getEnvAsDuration("SIMULATION_PERIOD", 4*time.Second),
			AutoStart: getEnvAsBool("SIMULATION_AUTO_START", false),
			VehicleID: getEnv("SIMULATION_VEHICLE_ID", "BUS_01"),
		},
		Cache: CacheConfig{
			Enabled:    getEnvAsBool("CACHE_ENABLED", true),
			MaxEntries: getEnvAsInt("CACHE_MAX_ENTRIES", 500),
			TTL:        getEnvAsDuration("CACHE_TTL", 5*time.Minute),
		},
		Security: SecurityConfig{
			AdminSecret:    getEnv("ADMIN_SECRET", ""),
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 50),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 100),
			MaxRequestSize: getEnvAsInt64("MAX_REQUEST_SIZE", 1024*1024), // 1MB
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config
}

func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "server port must be between 1 and 65535")
	}

	if c.LLM.BaseURL == "" {
		errors = append(errors, "LLM base URL is required")
	}

	if c.LLM.APIKey == "" {
		logger.Warn("LLM API key not set, classification requests may be rejected")
	}

	if c.Simulation.Period < time.Second {
		errors = append(errors, "simulation period must be at least 1s")
	}

	if c.Cache.Enabled && c.Cache.MaxEntries <= 0 {
		errors = append(errors, "cache max entries must be positive")
	}

	if c.Security.MaxRequestSize <= 0 {
		errors = append(errors, "max request size must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
