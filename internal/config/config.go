package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	// Common
	Environment string
	LogLevel    string

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Engine
	Engine    EngineConfig
	Channel   ChannelConfig
	Feed      FeedConfig
	Publisher PublisherConfig
	WSGateway WSGatewayConfig
}

// DatabaseConfig holds TimescaleDB configuration
type DatabaseConfig struct {
	Enabled         bool // Backfill from TimescaleDB on startup
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	CandleTable     string // Hypertable holding base-timeframe candles
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           int
	Password       string
	DB             int
	PoolSize       int
	MinIdleConns   int
	ConnectTimeout time.Duration // Total time to keep retrying the initial ping
}

// EngineConfig holds indicator engine configuration
type EngineConfig struct {
	HealthCheckPort int
	Symbol          string
	BaseTimeframe   time.Duration
	MaxBars         int
	BackfillBars    int    // Candles loaded from storage on startup
	SpecsFile       string // JSON array of indicator specs
}

// ChannelConfig holds distribution channel configuration
type ChannelConfig struct {
	Capacity        int
	MaxSeriesPoints int
}

// FeedConfig holds candle feed consumer configuration
type FeedConfig struct {
	StreamName    string
	ConsumerGroup string
	ConsumerName  string
	Partitions    int
	BatchSize     int
	AckTimeout    time.Duration
}

// PublisherConfig holds Redis publisher configuration
type PublisherConfig struct {
	Enabled       bool
	KeyPrefix     string
	TTL           time.Duration
	UpdateChannel string
}

// WSGatewayConfig holds WebSocket gateway configuration
type WSGatewayConfig struct {
	Enabled        bool
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxConnections int
	SendBuffer     int
	APIRateLimit   int // Admin API requests per second per client, 0 disables
}

// Load loads configuration from environment variables
// It automatically loads .env file if it exists in the current directory
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	symbol := getEnv("ENGINE_SYMBOL", "")
	baseTimeframe, err := getEnvAsTimeframe("ENGINE_BASE_TIMEFRAME", time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Enabled:         getEnvAsBool("DB_BACKFILL_ENABLED", true),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "market_data"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			CandleTable:     getEnv("DB_CANDLE_TABLE", "bars_1m"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 5),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:           getEnv("REDIS_HOST", "localhost"),
			Port:           getEnvAsInt("REDIS_PORT", 6379),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvAsInt("REDIS_DB", 0),
			PoolSize:       getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:   getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
			ConnectTimeout: getEnvAsDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		},
		Engine: EngineConfig{
			HealthCheckPort: getEnvAsInt("ENGINE_HEALTH_PORT", 8085),
			Symbol:          symbol,
			BaseTimeframe:   baseTimeframe,
			MaxBars:         getEnvAsInt("ENGINE_MAX_BARS", 5000),
			BackfillBars:    getEnvAsInt("ENGINE_BACKFILL_BARS", 1000),
			SpecsFile:       getEnv("ENGINE_SPECS_FILE", "config/indicators.json"),
		},
		Channel: ChannelConfig{
			Capacity:        getEnvAsInt("CHANNEL_CAPACITY", 1000),
			MaxSeriesPoints: getEnvAsInt("CHANNEL_MAX_SERIES_POINTS", 5000),
		},
		Feed: FeedConfig{
			StreamName:    getEnv("FEED_STREAM_NAME", "candles."+strings.ToLower(symbol)),
			ConsumerGroup: getEnv("FEED_CONSUMER_GROUP", "indicator-engine"),
			ConsumerName:  getEnv("FEED_CONSUMER_NAME", "engine-1"),
			Partitions:    getEnvAsInt("FEED_PARTITIONS", 0),
			BatchSize:     getEnvAsInt("FEED_BATCH_SIZE", 100),
			AckTimeout:    getEnvAsDuration("FEED_ACK_TIMEOUT", 1*time.Second),
		},
		Publisher: PublisherConfig{
			Enabled:       getEnvAsBool("PUBLISHER_ENABLED", true),
			KeyPrefix:     getEnv("PUBLISHER_KEY_PREFIX", "ind:"),
			TTL:           getEnvAsDuration("PUBLISHER_TTL", 10*time.Minute),
			UpdateChannel: getEnv("PUBLISHER_UPDATE_CHANNEL", "indicators.updated"),
		},
		WSGateway: WSGatewayConfig{
			Enabled:        getEnvAsBool("WS_GATEWAY_ENABLED", true),
			Port:           getEnvAsInt("WS_GATEWAY_PORT", 8088),
			ReadTimeout:    getEnvAsDuration("WS_GATEWAY_READ_TIMEOUT", 60*time.Second),
			WriteTimeout:   getEnvAsDuration("WS_GATEWAY_WRITE_TIMEOUT", 10*time.Second),
			PingInterval:   getEnvAsDuration("WS_GATEWAY_PING_INTERVAL", 30*time.Second),
			MaxConnections: getEnvAsInt("WS_GATEWAY_MAX_CONNECTIONS", 1000),
			SendBuffer:     getEnvAsInt("WS_GATEWAY_SEND_BUFFER", 256),
			APIRateLimit:   getEnvAsInt("WS_GATEWAY_API_RATE_LIMIT", 50),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Engine.Symbol == "" {
		return fmt.Errorf("ENGINE_SYMBOL is required")
	}
	if c.Engine.BaseTimeframe <= 0 {
		return fmt.Errorf("ENGINE_BASE_TIMEFRAME must be positive")
	}
	if c.Engine.MaxBars <= 0 {
		return fmt.Errorf("ENGINE_MAX_BARS must be positive")
	}
	if c.Engine.BackfillBars < 0 || c.Engine.BackfillBars > c.Engine.MaxBars {
		return fmt.Errorf("ENGINE_BACKFILL_BARS must be between 0 and ENGINE_MAX_BARS")
	}
	if c.Channel.Capacity <= 0 {
		return fmt.Errorf("CHANNEL_CAPACITY must be positive")
	}
	if c.Channel.MaxSeriesPoints <= 0 {
		return fmt.Errorf("CHANNEL_MAX_SERIES_POINTS must be positive")
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.Database.Enabled && c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required when DB_BACKFILL_ENABLED is set")
	}
	if c.Feed.StreamName == "" {
		return fmt.Errorf("FEED_STREAM_NAME is required")
	}
	if c.Feed.BatchSize <= 0 {
		return fmt.Errorf("FEED_BATCH_SIZE must be positive")
	}
	return nil
}

// LoadIndicatorSpecs reads a JSON array of indicator specs.
// A missing file yields no specs.
func LoadIndicatorSpecs(path string) ([]models.IndicatorSpec, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read indicator specs: %w", err)
	}

	var specs []models.IndicatorSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse indicator specs %s: %w", path, err)
	}
	return specs, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

// getEnvAsTimeframe reads a timeframe like "1m" or "4h". Unlike the other
// helpers a malformed value is an error, not a silent default.
func getEnvAsTimeframe(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := models.ParseTimeframe(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
