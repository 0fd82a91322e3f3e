package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string

	// WebSocket timing
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Presence store (Redis); empty selects the in-process store
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PresenceTTL   time.Duration
	StoreTimeout  time.Duration
	HistoryLimit  int

	// Event bus (Kafka)
	KafkaBrokers       []string
	KafkaConsumerGroup string

	// Archive (Postgres); empty disables the archive path
	DatabaseURL string

	// Chat defaults
	DefaultMaxChats int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:               getEnv("PORT", "8080"),
		AllowedOrigins:     strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "livechat-backend"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
	}

	// Empty means the in-memory fallback; a comma list enables Kafka
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		config.KafkaBrokers = strings.Split(brokers, ",")
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	config.RedisDB = redisDB

	presenceTTL, err := strconv.Atoi(getEnv("PRESENCE_TTL", "1800"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRESENCE_TTL: %w", err)
	}
	config.PresenceTTL = time.Duration(presenceTTL) * time.Second

	storeTimeout, err := strconv.Atoi(getEnv("STORE_TIMEOUT", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_TIMEOUT: %w", err)
	}
	config.StoreTimeout = time.Duration(storeTimeout) * time.Second

	historyLimit, err := strconv.Atoi(getEnv("HISTORY_LIMIT", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid HISTORY_LIMIT: %w", err)
	}
	config.HistoryLimit = historyLimit

	maxChats, err := strconv.Atoi(getEnv("DEFAULT_MAX_CHATS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_MAX_CHATS: %w", err)
	}
	config.DefaultMaxChats = maxChats

	// Parse WebSocket timeouts
	wsReadTimeout, err := strconv.Atoi(getEnv("WS_READ_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(getEnv("WS_WRITE_TIMEOUT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 4096

	// Trim spaces from list values
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	for i, broker := range config.KafkaBrokers {
		config.KafkaBrokers[i] = strings.TrimSpace(broker)
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
