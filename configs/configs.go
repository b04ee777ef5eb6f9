// Package configs provides application configuration loaded from
// environment variables. All configuration is externalized for
// 12-factor app compliance.
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig holds all application configuration.
// Load it once at startup using AppLoad().
type AppConfig struct {
	// DBDSN is the ClickHouse connection string for the archive.
	DBDSN string

	// KafkaMarket contains broker settings for the market tick stream.
	KafkaMarket KafkaConfig

	// KafkaScreenTime contains broker settings for the screen-time stream.
	KafkaScreenTime KafkaConfig

	// Consumer contains settings shared by both consumer loops.
	Consumer ConsumerConfig

	// CacheDir is the live-cache database directory. Empty runs the
	// cache in memory (dev mode, nothing survives a restart).
	CacheDir string

	// ServerPort is the HTTP API listen port.
	ServerPort string

	// Feeder contains settings for the market quote feeder job.
	Feeder FeederConfig

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// KafkaConfig holds broker connection settings for one stream.
type KafkaConfig struct {
	// Broker is the Kafka broker address (e.g., "localhost:9092").
	Broker string

	// Topic is the stream's topic.
	Topic string

	// GroupID is the consumer group ID for the stream's loop.
	GroupID string
}

// ConsumerConfig holds worker-pool and timeout settings.
type ConsumerConfig struct {
	// Workers is the dispatch pool size per stream.
	Workers int

	// QueueDepth is the per-worker queue capacity.
	QueueDepth int

	// StoreTimeoutSeconds bounds each archive/cache write.
	StoreTimeoutSeconds int

	// DrainTimeoutSeconds bounds the graceful drain on shutdown.
	DrainTimeoutSeconds int
}

// FeederConfig holds settings for the quote polling job.
type FeederConfig struct {
	// BaseURL is the quote provider endpoint.
	BaseURL string

	// APIKey authenticates against the quote provider.
	APIKey string

	// Symbols is the list of symbols to poll (comma-separated in env).
	Symbols []string

	// IntervalMinutes is the poll period in continuous mode.
	IntervalMinutes int

	// RequestsPerMinute caps calls to the provider (free tiers are
	// typically 5/min).
	RequestsPerMinute int
}

// getDatabaseDSN constructs the ClickHouse DSN from environment variables.
func getDatabaseDSN() string {
	dbUser := getEnv("CLICKHOUSE_USER", "user")
	dbPassword := getEnv("CLICKHOUSE_PASSWORD", "password")
	dbHost := getEnv("CLICKHOUSE_HOST", "localhost")
	dbPort := getEnv("CLICKHOUSE_TCP_PORT", "9000")
	dbName := getEnv("CLICKHOUSE_DB", "pulse")

	return fmt.Sprintf(
		"clickhouse://%s:%s@%s:%s/%s?dial_timeout=10s&read_timeout=20s",
		dbUser, dbPassword, dbHost, dbPort, dbName,
	)
}

func getFeederConfig() FeederConfig {
	symbolsEnv := getEnv("FEEDER_SYMBOLS", "RELIANCE,TCS,HDFCBANK,INFY,ICICIBANK")
	var symbols []string
	for _, s := range strings.Split(symbolsEnv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, s)
		}
	}

	return FeederConfig{
		BaseURL:           getEnv("QUOTE_API_BASE_URL", "https://www.alphavantage.co/query"),
		APIKey:            getEnv("QUOTE_API_KEY", ""),
		Symbols:           symbols,
		IntervalMinutes:   getEnvInt("FEEDER_INTERVAL_MINUTES", 5),
		RequestsPerMinute: getEnvInt("FEEDER_REQUESTS_PER_MINUTE", 5),
	}
}

// AppLoad loads all application configuration from environment
// variables. It attempts to load a .env file first (for local
// development). Call this once at application startup.
func AppLoad() *AppConfig {
	_ = godotenv.Load() // .env is optional

	broker := getEnv("KAFKA_BROKER", "localhost:9092")

	return &AppConfig{
		DBDSN: getDatabaseDSN(),
		KafkaMarket: KafkaConfig{
			Broker:  broker,
			Topic:   getEnv("KAFKA_MARKET_TOPIC", "pulse_market_ticks"),
			GroupID: getEnv("KAFKA_MARKET_GROUP_ID", "pulse-market-consumer"),
		},
		KafkaScreenTime: KafkaConfig{
			Broker:  broker,
			Topic:   getEnv("KAFKA_SCREENTIME_TOPIC", "pulse_screentime"),
			GroupID: getEnv("KAFKA_SCREENTIME_GROUP_ID", "pulse-screentime-consumer"),
		},
		Consumer: ConsumerConfig{
			Workers:             getEnvInt("CONSUMER_WORKERS", 4),
			QueueDepth:          getEnvInt("CONSUMER_QUEUE_DEPTH", 16),
			StoreTimeoutSeconds: getEnvInt("STORE_TIMEOUT_SECONDS", 10),
			DrainTimeoutSeconds: getEnvInt("DRAIN_TIMEOUT_SECONDS", 10),
		},
		CacheDir:   getEnv("CACHE_DIR", "data/cache"),
		ServerPort: getEnv("SERVER_PORT", "8080"),
		Feeder:     getFeederConfig(),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
