package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the terminal client's settings, read from the environment.
type Config struct {
	ServerURL   string
	Token       string
	SelfID      int64
	SelfName    string
	CachePath   string
	SendTimeout time.Duration
	Debug       bool
}

// Load reads the configuration from .env and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	serverURL, exists := os.LookupEnv("CHAT_SERVER_URL")
	if !exists || serverURL == "" {
		return nil, fmt.Errorf("CHAT_SERVER_URL is required")
	}
	token, exists := os.LookupEnv("CHAT_TOKEN")
	if !exists || token == "" {
		return nil, fmt.Errorf("CHAT_TOKEN is required")
	}
	selfID, err := getEnvInt64("CHAT_USER_ID", 0)
	if err != nil || selfID == 0 {
		return nil, fmt.Errorf("CHAT_USER_ID is required and must be numeric")
	}

	return &Config{
		ServerURL:   serverURL,
		Token:       token,
		SelfID:      selfID,
		SelfName:    getEnv("CHAT_USERNAME", ""),
		CachePath:   getEnv("CHAT_CACHE_PATH", defaultCachePath()),
		SendTimeout: getEnvDuration("CHAT_SEND_TIMEOUT", 12*time.Second),
		Debug:       getEnvBool("CHAT_DEBUG", false),
	}, nil
}

func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chat-cache.db"
	}
	return home + "/.cache/elearning-chat/cache.db"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	return strconv.ParseInt(value, 10, 64)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
