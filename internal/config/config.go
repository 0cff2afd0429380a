package config

import (
	"fmt"
	"os"
	"strconv"
)

// Storage backend selectors.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds application configuration
type Config struct {
	Port     string
	LogLevel string

	StorageBackend string
	DataFile       string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	DBConn         string

	JWTSecret    string
	PasscodeHash string // bcrypt hash; empty disables the lock gate

	SMTPHost          string
	SMTPPort          string
	SMTPUsername      string
	SMTPPassword      string
	SenderEmail       string
	ReminderEmail     string
	ReminderCron      string
	ReminderAfterDays int
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	reminderDays, err := strconv.Atoi(getEnv("REMINDER_AFTER_DAYS", "14"))
	if err != nil {
		return nil, fmt.Errorf("REMINDER_AFTER_DAYS must be an integer: %w", err)
	}
	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB must be an integer: %w", err)
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "INFO"),

		StorageBackend: getEnv("STORAGE_BACKEND", BackendFile),
		DataFile:       getEnv("DATA_FILE", "data/ledger.json"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        redisDB,
		DBConn:         getEnv("DB_CONN", "host=localhost port=5432 user=ledger password=ledger dbname=ledger sslmode=disable"),

		JWTSecret:    getEnv("JWT_SECRET", "secret"),
		PasscodeHash: getEnv("PASSCODE_HASH", ""),

		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getEnv("SMTP_PORT", "587"),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		SenderEmail:       getEnv("SENDER_EMAIL", "ledger@localhost"),
		ReminderEmail:     getEnv("REMINDER_EMAIL", ""),
		ReminderCron:      getEnv("REMINDER_CRON", "0 9 * * *"),
		ReminderAfterDays: reminderDays,
	}

	switch cfg.StorageBackend {
	case BackendFile, BackendRedis, BackendPostgres:
	default:
		return nil, fmt.Errorf("STORAGE_BACKEND must be one of file, redis, postgres")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.StorageBackend == BackendFile && cfg.DataFile == "" {
		return nil, fmt.Errorf("DATA_FILE is required for the file backend")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
