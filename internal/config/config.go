package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"retail-ledger/internal/core"
	"retail-ledger/internal/logger"
)

type Config struct {
	DatabaseURL string
	// StoreDriver selects postgres (atomic transactions) or memory (compensated sagas).
	StoreDriver string

	// ReceiptCounter selects store or redis.
	ReceiptCounter string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKey       string

	ReceiptPrefix     string
	CustomerTermsDays int
	SupplierTermsDays int

	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		StoreDriver:    getEnv("STORE_DRIVER", "postgres"),
		ReceiptCounter: getEnv("RECEIPT_COUNTER", "store"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisKey:       getEnv("REDIS_RECEIPT_KEY", "retail-ledger:receipt"),
		ReceiptPrefix:  getEnv("RECEIPT_PREFIX", "REC-"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		LogTimeFormat:  getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:      getEnv("LOG_OUTPUT", "stderr"),
	}

	var err error
	if config.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if config.CustomerTermsDays, err = getEnvInt("DEFAULT_CUSTOMER_TERMS_DAYS", 15); err != nil {
		return nil, err
	}
	if config.SupplierTermsDays, err = getEnvInt("DEFAULT_SUPPLIER_TERMS_DAYS", 30); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver)
	}
	switch c.ReceiptCounter {
	case "store":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis receipt counter")
		}
	default:
		return fmt.Errorf("RECEIPT_COUNTER must be store or redis, got %q", c.ReceiptCounter)
	}
	if c.CustomerTermsDays < 0 || c.SupplierTermsDays < 0 {
		return fmt.Errorf("payment terms cannot be negative")
	}
	return nil
}

func (c *Config) Policy() core.Policy {
	p := core.DefaultPolicy()
	p.CustomerTermsDays = c.CustomerTermsDays
	p.SupplierTermsDays = c.SupplierTermsDays
	p.ReceiptPrefix = c.ReceiptPrefix
	return p
}

func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
