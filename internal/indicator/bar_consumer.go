package indicator

import (
	"fmt"
	"strings"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/mohamedkhairy/indicator-engine/internal/pubsub"
	"github.com/mohamedkhairy/indicator-engine/internal/storage"
	"github.com/mohamedkhairy/indicator-engine/pkg/logger"
)

var errWrongSymbol = models.NewValidationError("bar.symbol", "does not match the feed")

// BarHandler decodes candle feed messages and hands them to a processor.
// It implements pubsub.MessageHandler.
type BarHandler struct {
	processor BarProcessorInterface
	symbol    string
}

// NewBarHandler creates a handler. When symbol is set, bars for any other
// symbol are rejected.
func NewBarHandler(processor BarProcessorInterface, symbol string) *BarHandler {
	return &BarHandler{processor: processor, symbol: symbol}
}

// HandleMessage processes a stream message containing a bar
func (h *BarHandler) HandleMessage(msg storage.StreamMessage) error {
	update, err := DecodeBarUpdate(msg)
	if err != nil {
		logger.Warn("Failed to decode bar",
			logger.ErrorField(err),
			logger.String("stream", msg.Stream),
			logger.String("message_id", msg.ID),
		)
		return err
	}

	sym := update.Candle.Symbol
	if h.symbol != "" && sym != "" && !strings.EqualFold(sym, h.symbol) {
		return fmt.Errorf("bar for %s on %s feed: %w", sym, h.symbol, errWrongSymbol)
	}
	if h.processor == nil {
		return fmt.Errorf("no processor set")
	}

	return h.processor.ProcessBar(update)
}

// NewBarConsumer creates a stream consumer feeding processor from the candle stream
func NewBarConsumer(redis storage.RedisClient, config pubsub.StreamConsumerConfig, processor BarProcessorInterface, symbol string) *pubsub.StreamConsumer {
	return pubsub.NewStreamConsumer(redis, config, NewBarHandler(processor, symbol))
}
