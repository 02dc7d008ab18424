package storage

import (
	"context"
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// CandleStorage defines the read side of the candle store used for backfill
type CandleStorage interface {
	// GetCandles retrieves candles for a symbol within a time range, oldest first
	GetCandles(ctx context.Context, symbol string, start, end time.Time) ([]models.Candle, error)

	// GetLatestCandles retrieves the latest N candles for a symbol, oldest first
	GetLatestCandles(ctx context.Context, symbol string, limit int) ([]models.Candle, error)

	// Close closes the storage connection
	Close() error
}

// RedisClient defines the interface for Redis operations
type RedisClient interface {
	// Stream operations
	ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan StreamMessage, error)
	AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error

	// Key-value operations
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Pub/Sub operations
	Publish(ctx context.Context, channel string, message interface{}) error

	// Ping checks the connection
	Ping(ctx context.Context) error

	// Close closes the Redis connection
	Close() error
}

// StreamMessage represents a message from a Redis stream
type StreamMessage struct {
	ID     string
	Stream string
	Values map[string]interface{}
}
