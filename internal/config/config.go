package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Echo service
	EchoMode      string        `env:"ECHO_MODE" default:"loopback"` // loopback | explicit | wildcard
	EchoHost      string        `env:"ECHO_HOST"`                    // required for explicit
	EchoPort      int           `env:"ECHO_PORT" default:"10000"`
	ChunkSize     int           `env:"ECHO_CHUNK_SIZE" default:"16"`
	IOTimeout     time.Duration `env:"ECHO_IO_TIMEOUT" default:"0s"` // 0 = block forever
	DiagQueueSize int           `env:"ECHO_DIAG_QUEUE" default:"256"`
	DiagRate      int           `env:"ECHO_DIAG_RATE" default:"0"` // chunk events per second, 0 = unlimited

	// Status API
	StatusPort int `env:"STATUS_PORT" default:"0"` // 0 = disabled

	// Session storage (both optional)
	RedisURL      string        `env:"REDIS_URL"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	SessionTTL    time.Duration `env:"SESSION_TTL" default:"24h"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// LoadConfig loads configuration from .env (if present) and the environment.
func LoadConfig() (*Config, error) {
	// a missing .env is fine, system env vars still apply
	_ = godotenv.Load(".env")

	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}

	// Echo service
	if err := loadEnvString(&config.EchoMode, "ECHO_MODE", "loopback"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.EchoHost, "ECHO_HOST", ""); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.EchoPort, "ECHO_PORT", 10000); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.ChunkSize, "ECHO_CHUNK_SIZE", 16); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.IOTimeout, "ECHO_IO_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.DiagQueueSize, "ECHO_DIAG_QUEUE", 256); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.DiagRate, "ECHO_DIAG_RATE", 0); err != nil {
		return nil, err
	}

	// Status API
	if err := loadEnvInt(&config.StatusPort, "STATUS_PORT", 0); err != nil {
		return nil, err
	}

	// Session storage
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.DatabaseURL, "DATABASE_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.SessionTTL, "SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	validModes := []string{"loopback", "explicit", "wildcard"}
	if !contains(validModes, strings.ToLower(c.EchoMode)) {
		errors = append(errors, fmt.Sprintf("ECHO_MODE must be one of: %s", strings.Join(validModes, ", ")))
	}
	if strings.EqualFold(c.EchoMode, "explicit") && strings.TrimSpace(c.EchoHost) == "" {
		errors = append(errors, "ECHO_HOST is required when ECHO_MODE=explicit")
	}

	if c.EchoPort < 1 || c.EchoPort > 65535 {
		errors = append(errors, "ECHO_PORT must be between 1 and 65535")
	}
	if c.StatusPort < 0 || c.StatusPort > 65535 {
		errors = append(errors, "STATUS_PORT must be between 0 and 65535")
	}
	if c.StatusPort != 0 && c.StatusPort == c.EchoPort {
		errors = append(errors, "STATUS_PORT must differ from ECHO_PORT")
	}
	if c.ChunkSize <= 0 {
		errors = append(errors, "ECHO_CHUNK_SIZE must be greater than 0")
	}
	if c.IOTimeout < 0 {
		errors = append(errors, "ECHO_IO_TIMEOUT must not be negative")
	}
	if c.DiagQueueSize <= 0 {
		errors = append(errors, "ECHO_DIAG_QUEUE must be greater than 0")
	}
	if c.DiagRate < 0 {
		errors = append(errors, "ECHO_DIAG_RATE must not be negative")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
