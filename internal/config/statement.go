package config

import (
	"os"
	"strconv"
	"time"
)

// StatementAPIConfig configures the external bank/property-management
// system the reconciliation sync reads from.
type StatementAPIConfig struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	Timeout       time.Duration
	MaxPageSize   int
	RetryInterval time.Duration
}

func LoadStatementAPIConfig() *StatementAPIConfig {
	return &StatementAPIConfig{
		BaseURL:       getEnv("STATEMENT_API_BASE_URL", "https://api.buildium.com/v1"),
		ClientID:      getEnv("STATEMENT_API_CLIENT_ID", ""),
		ClientSecret:  getEnv("STATEMENT_API_CLIENT_SECRET", ""),
		Timeout:       getEnvAsDuration("STATEMENT_API_TIMEOUT", 30*time.Second),
		MaxPageSize:   getEnvAsInt("STATEMENT_API_MAX_PAGE_SIZE", 500),
		RetryInterval: getEnvAsDuration("STATEMENT_API_RETRY_INTERVAL", 5*time.Minute),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
