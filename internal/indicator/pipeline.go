package indicator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mohamedkhairy/indicator-engine/internal/distribution"
	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/mohamedkhairy/indicator-engine/internal/storage"
	"github.com/mohamedkhairy/indicator-engine/pkg/logger"
)

// Pipeline connects the candle feed to the engine and the engine to the
// distribution channel. It is the BarProcessorInterface used by the feed
// consumer.
type Pipeline struct {
	engine  *Engine
	channel *distribution.Channel

	// seq orders engine results onto the channel. A new indicator's
	// backfill is enqueued before any live point computed after it.
	seq sync.Mutex

	mu       sync.RWMutex
	onRemove []func(id string)
}

// NewPipeline creates a new pipeline
func NewPipeline(engine *Engine, channel *distribution.Channel) *Pipeline {
	return &Pipeline{engine: engine, channel: channel}
}

// Engine returns the underlying engine
func (p *Pipeline) Engine() *Engine {
	return p.engine
}

// ProcessBar runs one feed event through the engine and publishes the
// resulting points. Malformed and stale bars fail with a ValidationError.
// Per-indicator compute errors are logged by the engine; the other
// indicators' points are still published.
func (p *Pipeline) ProcessBar(update models.BarUpdate) error {
	p.seq.Lock()
	defer p.seq.Unlock()

	out, err := p.engine.Incremental(update)
	if err != nil && errors.Is(err, models.ErrValidation) {
		return err
	}

	updates := p.updates(out, update.IsPartial)
	if perr := p.channel.PublishBatch(updates); perr != nil {
		logger.Warn("Some indicator updates were rejected",
			logger.ErrorField(perr),
			logger.Int("update_count", len(updates)),
		)
	}
	return nil
}

// updates orders per-indicator points by compute order.
func (p *Pipeline) updates(out map[string][]models.IndicatorPoint, partial bool) []models.IndicatorUpdate {
	updates := make([]models.IndicatorUpdate, 0, len(out))
	for _, spec := range p.engine.Specs() {
		points, ok := out[spec.ID]
		if !ok || len(points) == 0 {
			continue
		}
		updates = append(updates, models.IndicatorUpdate{
			IndicatorID: spec.ID,
			Points:      points,
			Partial:     partial,
		})
	}
	return updates
}

// AddIndicator registers spec on the engine, declares its output shape on
// the channel and publishes its backfilled history.
func (p *Pipeline) AddIndicator(spec models.IndicatorSpec) error {
	p.seq.Lock()
	defer p.seq.Unlock()

	points, err := p.engine.AddIndicator(spec)
	if err != nil {
		return err
	}

	outputs, _ := p.engine.Outputs(spec.ID)
	p.channel.SetShape(spec.ID, outputs)

	if len(points) > 0 {
		if err := p.channel.Publish(models.IndicatorUpdate{IndicatorID: spec.ID, Points: points}); err != nil {
			return fmt.Errorf("publish backfill for %s: %w", spec.ID, err)
		}
	}
	return nil
}

// RemoveIndicator stops an indicator and forgets its shared series.
func (p *Pipeline) RemoveIndicator(id string) error {
	p.seq.Lock()
	err := p.engine.RemoveIndicator(id)
	if err == nil {
		p.channel.RemoveSeries(id)
	}
	p.seq.Unlock()
	if err != nil {
		return err
	}

	p.mu.RLock()
	hooks := append([]func(string){}, p.onRemove...)
	p.mu.RUnlock()
	for _, fn := range hooks {
		fn(id)
	}
	return nil
}

// OnRemove registers fn to run after an indicator is removed
func (p *Pipeline) OnRemove(fn func(id string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRemove = append(p.onRemove, fn)
}

// Backfill loads the latest limit candles from store, recomputes every
// indicator over them and publishes the full series.
func (p *Pipeline) Backfill(ctx context.Context, store storage.CandleStorage, symbol string, limit int) (int, error) {
	candles, err := store.GetLatestCandles(ctx, symbol, limit)
	if err != nil {
		return 0, fmt.Errorf("load candles for %s: %w", symbol, err)
	}
	if len(candles) == 0 {
		return 0, nil
	}

	p.seq.Lock()
	defer p.seq.Unlock()

	results, err := p.engine.Batch(candles)
	if err != nil && errors.Is(err, models.ErrValidation) {
		return 0, err
	}
	if err != nil {
		logger.Warn("Backfill completed with compute errors", logger.ErrorField(err))
	}

	if perr := p.channel.PublishBatch(p.updates(results, false)); perr != nil {
		logger.Warn("Some backfill updates were rejected", logger.ErrorField(perr))
	}

	logger.Info("Backfill complete",
		logger.String("symbol", symbol),
		logger.Int("candles", len(candles)),
		logger.Int("indicators", len(results)),
	)
	return len(candles), nil
}
