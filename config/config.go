// Package config loads the service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Slack    SlackConfig
	OCR      OCRConfig
	Money    MoneyConfig
	NewRelic NewRelicConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          string
	GinMode       string
	PublicBaseURL string
	CORSOrigins   []string
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver          string
	URL             string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuthConfig holds token verification settings
type AuthConfig struct {
	JWTSecret     string
	TokenDuration time.Duration
}

// RedisConfig is optional, an empty Address keeps cache and rate limiting in memory
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// CacheConfig holds read-through cache settings
type CacheConfig struct {
	TTL  time.Duration
	Size int
}

// SlackConfig holds outbound Slack webhook settings
type SlackConfig struct {
	Timeout       time.Duration
	RatePerMinute int
}

// OCRConfig holds receipt extraction settings
type OCRConfig struct {
	APIKey        string
	URL           string
	Model         string
	Timeout       time.Duration
	MaxImageWidth int
}

// MoneyConfig holds currency and phone defaults
type MoneyConfig struct {
	DefaultCurrency    string
	DefaultPhoneRegion string
}

// NewRelicConfig holds APM settings
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          getEnv("PORT", "8080"),
			GinMode:       getEnv("GIN_MODE", "release"),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
			CORSOrigins:   getEnvAsList("CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			URL:             getEnv("DB_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Name:            getEnv("DB_NAME", "splitbill"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET", ""),
			TokenDuration: getEnvAsDuration("JWT_TOKEN_DURATION", 24*time.Hour),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			TTL:  getEnvAsDuration("CACHE_TTL", 5*time.Minute),
			Size: getEnvAsInt("CACHE_SIZE", 1024),
		},
		Slack: SlackConfig{
			Timeout:       getEnvAsDuration("SLACK_TIMEOUT", 10*time.Second),
			RatePerMinute: getEnvAsInt("SLACK_RATE_LIMIT", 5),
		},
		OCR: OCRConfig{
			APIKey:        getEnv("ANTHROPIC_API_KEY", ""),
			URL:           getEnv("OCR_URL", "https://api.anthropic.com/v1/messages"),
			Model:         getEnv("OCR_MODEL", "claude-sonnet-4-20250514"),
			Timeout:       getEnvAsDuration("OCR_TIMEOUT", 60*time.Second),
			MaxImageWidth: getEnvAsInt("OCR_MAX_IMAGE_WIDTH", 1600),
		},
		Money: MoneyConfig{
			DefaultCurrency:    strings.ToUpper(getEnv("DEFAULT_CURRENCY", "IDR")),
			DefaultPhoneRegion: strings.ToUpper(getEnv("DEFAULT_PHONE_REGION", "ID")),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "SplitBill API"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.Database.Driver {
	case "postgres", "pgx", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Slack.RatePerMinute <= 0 {
		return errors.New("SLACK_RATE_LIMIT must be positive")
	}
	return nil
}

// DSN returns the connection string for the configured driver
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	if d.Driver == "sqlite" {
		return d.Name + ".db"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
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

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			list = append(list, part)
		}
	}
	return list
}
