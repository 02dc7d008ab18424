package indicator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/config"
	"github.com/mohamedkhairy/indicator-engine/internal/distribution"
	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/mohamedkhairy/indicator-engine/internal/storage"
	"github.com/mohamedkhairy/indicator-engine/pkg/logger"
)

// Publisher mirrors channel updates into Redis: the latest point of every
// indicator under a key, plus an update envelope on a pub/sub channel.
type Publisher struct {
	redis       storage.RedisClient
	config      PublisherConfig
	mu          sync.RWMutex
	unsubscribe func()
}

// PublisherConfig holds configuration for the indicator publisher
type PublisherConfig struct {
	IndicatorKeyPrefix string        // Prefix for indicator keys (default: "ind:")
	IndicatorTTL       time.Duration // TTL for indicator keys (default: 10 minutes)
	UpdateChannel      string        // Redis pub/sub channel for indicator updates (default: "indicators.updated")
	WriteTimeout       time.Duration // Per-update Redis timeout (default: 5 seconds)
}

// DefaultPublisherConfig returns default configuration
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		IndicatorKeyPrefix: "ind:",
		IndicatorTTL:       10 * time.Minute,
		UpdateChannel:      "indicators.updated",
		WriteTimeout:       5 * time.Second,
	}
}

// PublisherConfigFrom creates a PublisherConfig from the service configuration
func PublisherConfigFrom(cfg config.PublisherConfig) PublisherConfig {
	out := DefaultPublisherConfig()
	if cfg.KeyPrefix != "" {
		out.IndicatorKeyPrefix = cfg.KeyPrefix
	}
	if cfg.TTL > 0 {
		out.IndicatorTTL = cfg.TTL
	}
	if cfg.UpdateChannel != "" {
		out.UpdateChannel = cfg.UpdateChannel
	}
	return out
}

// LatestPoint is the value stored under an indicator key
type LatestPoint struct {
	IndicatorID string        `json:"indicatorId"`
	Time        time.Time     `json:"time"`
	Values      models.Values `json:"values"`
	Partial     bool          `json:"partial"`
}

// NewPublisher creates a new indicator publisher
func NewPublisher(redis storage.RedisClient, config PublisherConfig) *Publisher {
	return &Publisher{
		redis:  redis,
		config: config,
	}
}

// Attach subscribes the publisher to ch
func (p *Publisher) Attach(ch *distribution.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	p.unsubscribe = ch.Subscribe(p.PublishUpdate)

	logger.Info("Indicator publisher attached",
		logger.String("indicator_prefix", p.config.IndicatorKeyPrefix),
		logger.String("update_channel", p.config.UpdateChannel),
	)
}

// Detach unsubscribes the publisher
func (p *Publisher) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

// Key returns the Redis key holding an indicator's latest point
func (p *Publisher) Key(indicatorID string) string {
	return p.config.IndicatorKeyPrefix + indicatorID
}

// PublishUpdate stores the latest point of u and notifies subscribers.
// A failed notification is logged; a failed key write is returned.
func (p *Publisher) PublishUpdate(u models.IndicatorUpdate) error {
	if len(u.Points) == 0 {
		return nil
	}
	last := u.Points[len(u.Points)-1]

	ctx, cancel := context.WithTimeout(context.Background(), p.config.WriteTimeout)
	defer cancel()

	key := p.Key(u.IndicatorID)
	err := p.redis.Set(ctx, key, LatestPoint{
		IndicatorID: u.IndicatorID,
		Time:        last.Time,
		Values:      last.Values,
		Partial:     u.Partial,
	}, p.config.IndicatorTTL)
	if err != nil {
		return fmt.Errorf("failed to publish indicator %s: %w", u.IndicatorID, err)
	}

	// Only the latest point goes out on pub/sub; backfills stay in the channel series
	msg := models.NewUpdateMessage(models.IndicatorUpdate{
		IndicatorID: u.IndicatorID,
		Points:      []models.IndicatorPoint{last},
		Partial:     u.Partial,
	})
	if err := p.redis.Publish(ctx, p.config.UpdateChannel, msg); err != nil {
		logger.Warn("Failed to publish indicator update",
			logger.ErrorField(err),
			logger.String("indicator_id", u.IndicatorID),
			logger.String("channel", p.config.UpdateChannel),
		)
	}

	logger.Debug("Published indicator",
		logger.String("indicator_id", u.IndicatorID),
		logger.Bool("partial", u.Partial),
	)
	return nil
}

// Forget deletes an indicator's key
func (p *Publisher) Forget(indicatorID string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.WriteTimeout)
	defer cancel()
	if err := p.redis.Delete(ctx, p.Key(indicatorID)); err != nil {
		logger.Warn("Failed to delete indicator key",
			logger.ErrorField(err),
			logger.String("indicator_id", indicatorID),
		)
	}
}
