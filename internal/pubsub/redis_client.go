package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mohamedkhairy/indicator-engine/internal/config"
	"github.com/mohamedkhairy/indicator-engine/internal/storage"
	"github.com/mohamedkhairy/indicator-engine/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	streamReadCount = 50
	streamBlockTime = time.Second
)

// RedisClientImpl implements the storage.RedisClient interface
type RedisClientImpl struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client. The initial ping is retried
// with exponential backoff for up to cfg.ConnectTimeout.
func NewRedisClient(cfg config.RedisConfig) (storage.RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = connectTimeout

	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return rdb.Ping(ctx).Err()
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("Redis not reachable, retrying",
			logger.ErrorField(err),
			logger.Duration("next_attempt", next),
		)
	}
	if err := backoff.RetryNotify(ping, b, notify); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
	)

	return &RedisClientImpl{client: rdb}, nil
}

// ensureGroup creates the consumer group (and stream) if missing.
func (r *RedisClientImpl) ensureGroup(ctx context.Context, stream, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err == nil || strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

// ConsumeFromStream reads new messages for consumer in group. The returned
// channel closes when ctx is cancelled.
func (r *RedisClientImpl) ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan storage.StreamMessage, error) {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err := backoff.RetryNotify(func() error {
		return r.ensureGroup(ctx, stream, group)
	}, b, func(err error, next time.Duration) {
		logger.Warn("Failed to create consumer group, retrying",
			logger.ErrorField(err),
			logger.String("stream", stream),
			logger.String("group", group),
			logger.Duration("next_attempt", next),
		)
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		// the read loop recreates the group on NOGROUP
		logger.Error("Failed to create consumer group after retries",
			logger.ErrorField(err),
			logger.String("stream", stream),
			logger.String("group", group),
		)
	}

	messageChan := make(chan storage.StreamMessage, streamReadCount*2)
	go func() {
		defer close(messageChan)

		for ctx.Err() == nil {
			streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    group,
				Consumer: consumer,
				Streams:  []string{stream, ">"},
				Count:    streamReadCount,
				Block:    streamBlockTime,
			}).Result()

			switch {
			case err == nil:
			case errors.Is(err, redis.Nil):
				continue
			case ctx.Err() != nil:
				return
			case strings.Contains(err.Error(), "NOGROUP"):
				logger.Warn("Consumer group not found, recreating",
					logger.String("stream", stream),
					logger.String("group", group),
				)
				if err := r.ensureGroup(ctx, stream, group); err != nil {
					logger.Error("Failed to recreate consumer group",
						logger.ErrorField(err),
						logger.String("stream", stream),
					)
				}
				sleep(ctx, 2*time.Second)
				continue
			default:
				logger.Error("Error reading from stream",
					logger.ErrorField(err),
					logger.String("stream", stream),
				)
				sleep(ctx, time.Second)
				continue
			}

			for _, s := range streams {
				for _, message := range s.Messages {
					msg := storage.StreamMessage{
						ID:     message.ID,
						Stream: s.Stream,
						Values: message.Values,
					}
					select {
					case messageChan <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return messageChan, nil
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// AcknowledgeMessage acknowledges a message in a Redis stream
func (r *RedisClientImpl) AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error {
	return r.client.XAck(ctx, stream, group, id).Err()
}

// Set stores value as JSON with a TTL
func (r *RedisClientImpl) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return r.client.Set(ctx, key, jsonData, ttl).Err()
}

// Delete deletes a key
func (r *RedisClientImpl) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Publish publishes a JSON message to a pub/sub channel
func (r *RedisClientImpl) Publish(ctx context.Context, channel string, message interface{}) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return r.client.Publish(ctx, channel, jsonData).Err()
}

// Ping checks the connection
func (r *RedisClientImpl) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisClientImpl) Close() error {
	return r.client.Close()
}
