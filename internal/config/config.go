package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURI       string
	TelegramToken     string
	AIAPIKey          string
	AIBaseURL         string
	AIModel           string
	SnoozeDuration    time.Duration
	ReconcileInterval time.Duration
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}

	return &Config{
		DatabaseURI:       os.Getenv("DATABASE_URI"),
		TelegramToken:     os.Getenv("TELEGRAM_TOKEN"),
		AIAPIKey:          os.Getenv("AI_API_KEY"),
		AIBaseURL:         getEnvOrDefault("AI_BASE_URL", "https://openrouter.ai/api/v1"),
		AIModel:           getEnvOrDefault("AI_MODEL", "openai/gpt-4o-mini"),
		SnoozeDuration:    getEnvMinutes("SNOOZE_MINUTES", 5),
		ReconcileInterval: getEnvMinutes("RECONCILE_INTERVAL_MINUTES", 60),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvMinutes(key string, defaultMinutes int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return time.Duration(n) * time.Minute
		}
	}
	return time.Duration(defaultMinutes) * time.Minute
}
