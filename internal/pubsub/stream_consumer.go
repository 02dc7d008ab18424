package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/config"
	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/mohamedkhairy/indicator-engine/internal/storage"
	"github.com/mohamedkhairy/indicator-engine/pkg/logger"
)

// StreamConsumerConfig holds configuration for the stream consumer
type StreamConsumerConfig struct {
	StreamName    string
	ConsumerGroup string
	ConsumerName  string
	Partitions    int // Number of partitions to consume from (0 = no partitioning)
	BatchSize     int // Number of messages to process before acknowledging
	AckTimeout    time.Duration
}

// DefaultStreamConsumerConfig returns default configuration
func DefaultStreamConsumerConfig(streamName, consumerGroup, consumerName string) StreamConsumerConfig {
	return StreamConsumerConfig{
		StreamName:    streamName,
		ConsumerGroup: consumerGroup,
		ConsumerName:  consumerName,
		Partitions:    0, // No partitioning by default
		BatchSize:     100,
		AckTimeout:    1 * time.Second,
	}
}

// StreamConsumerConfigFromFeed creates a StreamConsumerConfig from FeedConfig
func StreamConsumerConfigFromFeed(feed config.FeedConfig) StreamConsumerConfig {
	return StreamConsumerConfig{
		StreamName:    feed.StreamName,
		ConsumerGroup: feed.ConsumerGroup,
		ConsumerName:  feed.ConsumerName,
		Partitions:    feed.Partitions,
		BatchSize:     feed.BatchSize,
		AckTimeout:    feed.AckTimeout,
	}
}

// MessageHandler processes one stream message. Returning an error that
// matches models.ErrValidation marks the message as unprocessable: it is
// acknowledged and never redelivered. Any other error leaves it pending.
type MessageHandler interface {
	HandleMessage(msg storage.StreamMessage) error
}

// HandlerFunc adapts a function to MessageHandler
type HandlerFunc func(msg storage.StreamMessage) error

// HandleMessage calls f(msg)
func (f HandlerFunc) HandleMessage(msg storage.StreamMessage) error {
	return f(msg)
}

// StreamConsumer consumes messages from Redis streams in order and hands
// them to a MessageHandler
type StreamConsumer struct {
	config  StreamConsumerConfig
	redis   storage.RedisClient
	handler MessageHandler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	statsMu sync.RWMutex
	stats   ConsumerStats
}

// ConsumerStats holds statistics about the consumer
type ConsumerStats struct {
	MessagesProcessed int64
	MessagesAcked     int64
	MessagesRejected  int64
	MessagesFailed    int64
	LastMessageTime   time.Time
}

// NewStreamConsumer creates a new stream consumer
func NewStreamConsumer(redis storage.RedisClient, config StreamConsumerConfig, handler MessageHandler) *StreamConsumer {
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &StreamConsumer{
		config:  config,
		redis:   redis,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts consuming from the stream
func (c *StreamConsumer) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer is already running")
	}
	c.running = true
	c.mu.Unlock()

	// Determine which streams to consume from
	streams := c.getStreams()

	logger.Info("Starting stream consumer",
		logger.String("stream", c.config.StreamName),
		logger.String("group", c.config.ConsumerGroup),
		logger.String("consumer", c.config.ConsumerName),
		logger.Int("partitions", c.config.Partitions),
		logger.Int("stream_count", len(streams)),
	)

	// Start consumer goroutine for each stream
	for _, stream := range streams {
		c.wg.Add(1)
		go c.consumeStream(stream)
	}

	return nil
}

// Stop stops the consumer
func (c *StreamConsumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	logger.Info("Stopping stream consumer")
	c.cancel()
	c.wg.Wait()
	logger.Info("Stream consumer stopped")
}

// Wait blocks until every stream goroutine has exited
func (c *StreamConsumer) Wait() {
	c.wg.Wait()
}

// getStreams returns the list of streams to consume from
func (c *StreamConsumer) getStreams() []string {
	if c.config.Partitions == 0 {
		return []string{c.config.StreamName}
	}

	// If partitioning is enabled, consume from all partitions
	streams := make([]string, c.config.Partitions)
	for i := 0; i < c.config.Partitions; i++ {
		streams[i] = fmt.Sprintf("%s.p%d", c.config.StreamName, i)
	}
	return streams
}

// consumeStream consumes messages from a single stream
func (c *StreamConsumer) consumeStream(stream string) {
	defer c.wg.Done()

	messageChan, err := c.redis.ConsumeFromStream(c.ctx, stream, c.config.ConsumerGroup, c.config.ConsumerName)
	if err != nil {
		logger.Error("Failed to start consuming from stream",
			logger.ErrorField(err),
			logger.String("stream", stream),
		)
		return
	}

	batch := make([]storage.StreamMessage, 0, c.config.BatchSize)
	ticker := time.NewTicker(c.config.AckTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			// Process remaining batch before exiting
			c.processBatch(stream, batch)
			return

		case msg, ok := <-messageChan:
			if !ok {
				c.processBatch(stream, batch)
				logger.Debug("Message channel closed", logger.String("stream", stream))
				return
			}

			batch = append(batch, msg)
			if len(batch) >= c.config.BatchSize {
				c.processBatch(stream, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			c.processBatch(stream, batch)
			batch = batch[:0]
		}
	}
}

// processBatch hands messages to the handler in order and acknowledges the
// ones that are done with
func (c *StreamConsumer) processBatch(stream string, messages []storage.StreamMessage) {
	if len(messages) == 0 {
		return
	}

	done := make([]string, 0, len(messages)) // Message IDs to acknowledge
	failed := 0

	for _, msg := range messages {
		err := c.handle(msg)
		switch {
		case err == nil:
			done = append(done, msg.ID)
			c.record(func(s *ConsumerStats) {
				s.MessagesProcessed++
				s.LastMessageTime = time.Now()
			})
			logger.FeedMessagesTotal.WithLabelValues("processed").Inc()

		case errors.Is(err, models.ErrValidation):
			logger.Warn("Rejected stream message",
				logger.ErrorField(err),
				logger.String("stream", stream),
				logger.String("message_id", msg.ID),
			)
			done = append(done, msg.ID)
			c.record(func(s *ConsumerStats) { s.MessagesRejected++ })
			logger.FeedMessagesTotal.WithLabelValues("rejected").Inc()

		default:
			logger.Error("Failed to process stream message",
				logger.ErrorField(err),
				logger.String("stream", stream),
				logger.String("message_id", msg.ID),
			)
			failed++
			c.record(func(s *ConsumerStats) { s.MessagesFailed++ })
			logger.FeedMessagesTotal.WithLabelValues("failed").Inc()
		}
	}

	if len(done) > 0 {
		acked := c.acknowledgeMessages(stream, done)
		c.record(func(s *ConsumerStats) { s.MessagesAcked += int64(acked) })
	}

	// Failed messages stay pending in the consumer group
	if failed > 0 {
		logger.Warn("Some messages failed to process",
			logger.Int("failed_count", failed),
			logger.String("stream", stream),
		)
	}
}

func (c *StreamConsumer) handle(msg storage.StreamMessage) (err error) {
	if c.handler == nil {
		return fmt.Errorf("no handler set")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler.HandleMessage(msg)
}

// acknowledgeMessages acknowledges a batch of messages
func (c *StreamConsumer) acknowledgeMessages(stream string, messageIDs []string) int {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.AckTimeout)
	defer cancel()

	acked := 0
	for _, id := range messageIDs {
		err := c.redis.AcknowledgeMessage(ctx, stream, c.config.ConsumerGroup, id)
		if err != nil {
			logger.Error("Failed to acknowledge message",
				logger.ErrorField(err),
				logger.String("stream", stream),
				logger.String("message_id", id),
			)
			continue
		}
		acked++
	}
	return acked
}

func (c *StreamConsumer) record(fn func(*ConsumerStats)) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	fn(&c.stats)
}

// GetStats returns current consumer statistics
func (c *StreamConsumer) GetStats() ConsumerStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

// IsRunning returns whether the consumer is running
func (c *StreamConsumer) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}
