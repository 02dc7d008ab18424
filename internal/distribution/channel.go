package distribution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/mohamedkhairy/indicator-engine/pkg/logger"
)

// ErrorKind classifies an ErrorEvent
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindOverflow   ErrorKind = "overflow"
	KindSubscriber ErrorKind = "subscriber"
)

// ErrorEvent is delivered to error subscribers. Update is the rejected,
// dropped or failed update.
type ErrorEvent struct {
	Kind   ErrorKind
	Err    error
	Update models.IndicatorUpdate
}

// Subscriber receives every applied update in publish order
type Subscriber func(models.IndicatorUpdate) error

// ErrorHandler receives validation, overflow and subscriber failures
type ErrorHandler func(ErrorEvent)

// Config holds configuration for the distribution channel
type Config struct {
	Capacity        int // Max queued updates before drop-oldest (default: 1000)
	MaxSeriesPoints int // Points retained per indicator series (default: 5000)
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Capacity:        1000,
		MaxSeriesPoints: 5000,
	}
}

type subscription[F any] struct {
	id uint64
	fn F
}

// Channel is a bounded, non-blocking queue of indicator updates drained by
// a single worker. The worker merges each update into the shared series and
// then fans it out to subscribers, strictly in publish order.
type Channel struct {
	config Config

	mu      sync.Mutex
	queue   []models.IndicatorUpdate
	dropped uint64
	busy    bool
	idle    chan struct{} // closed when the queue drains
	notify  chan struct{}

	shapes map[string][]string
	series map[string][]models.IndicatorPoint

	nextID    uint64
	subs      []subscription[Subscriber]
	errorSubs []subscription[ErrorHandler]

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewChannel creates a new distribution channel
func NewChannel(config Config) *Channel {
	defaults := DefaultConfig()
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.MaxSeriesPoints <= 0 {
		config.MaxSeriesPoints = defaults.MaxSeriesPoints
	}

	return &Channel{
		config: config,
		queue:  make([]models.IndicatorUpdate, 0, config.Capacity),
		idle:   make(chan struct{}),
		notify: make(chan struct{}, 1),
		shapes: make(map[string][]string),
		series: make(map[string][]models.IndicatorPoint),
	}
}

// Start starts the delivery worker
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("distribution channel is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})

	logger.Info("Starting distribution channel",
		logger.Int("capacity", c.config.Capacity),
		logger.Int("max_series_points", c.config.MaxSeriesPoints),
	)

	go c.run(ctx, c.done)
	return nil
}

// Stop stops the worker. Queued updates stay queued.
func (c *Channel) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	logger.Info("Distribution channel stopped", logger.Int("pending", c.Pending()))
}

// SetShape registers the output names every point of id must carry
func (c *Channel) SetShape(id string, outputs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shapes[id] = append([]string(nil), outputs...)
}

// Subscribe registers fn for applied updates and returns its unsubscribe func
func (c *Channel) Subscribe(fn Subscriber) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscription[Subscriber]{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subs = without(c.subs, id)
	}
}

// OnError registers fn for error events and returns its unsubscribe func
func (c *Channel) OnError(fn ErrorHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.errorSubs = append(c.errorSubs, subscription[ErrorHandler]{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.errorSubs = without(c.errorSubs, id)
	}
}

func without[F any](subs []subscription[F], id uint64) []subscription[F] {
	out := make([]subscription[F], 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish validates and enqueues one update. It never blocks: when the
// queue is full the oldest queued update is dropped.
func (c *Channel) Publish(update models.IndicatorUpdate) error {
	if err := c.validate(update); err != nil {
		logger.ChannelValidationErrorsTotal.Inc()
		logger.Warn("Rejected indicator update",
			logger.String("indicator_id", update.IndicatorID),
			logger.ErrorField(err),
		)
		c.emit(ErrorEvent{Kind: KindValidation, Err: err, Update: update})
		return err
	}
	c.enqueue(copyUpdate(update))
	return nil
}

// PublishBatch publishes updates in order. Invalid updates are rejected
// individually; the rest are still enqueued.
func (c *Channel) PublishBatch(updates []models.IndicatorUpdate) error {
	var errs []error
	for _, u := range updates {
		if err := c.Publish(u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Channel) enqueue(u models.IndicatorUpdate) {
	c.mu.Lock()
	var dropped *models.IndicatorUpdate
	if len(c.queue) >= c.config.Capacity {
		oldest := c.queue[0]
		dropped = &oldest
		c.queue = c.queue[1:]
		c.dropped++
	}
	c.queue = append(c.queue, u)
	depth := len(c.queue)
	c.mu.Unlock()

	logger.ChannelQueueDepth.Set(float64(depth))
	select {
	case c.notify <- struct{}{}:
	default:
	}

	if dropped != nil {
		logger.ChannelDroppedTotal.Inc()
		logger.Warn("Distribution queue full, dropped oldest update",
			logger.String("indicator_id", dropped.IndicatorID),
			logger.Int("capacity", c.config.Capacity),
		)
		c.emit(ErrorEvent{
			Kind:   KindOverflow,
			Err:    fmt.Errorf("%w: capacity %d", models.ErrQueueOverflow, c.config.Capacity),
			Update: *dropped,
		})
	}
}

// Dropped returns the number of updates discarded by overflow
func (c *Channel) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Pending returns the number of queued, undelivered updates
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Flush waits until every queued update has been delivered. Without a
// running worker it drains the queue on the caller's goroutine.
func (c *Channel) Flush(ctx context.Context) error {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 && !c.busy {
			c.mu.Unlock()
			return nil
		}
		running, idle := c.running, c.idle
		c.mu.Unlock()

		if !running {
			for c.deliverNext() {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			continue
		}

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Series returns the merged point series of an indicator
func (c *Channel) Series(id string) ([]models.IndicatorPoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.series[id]
	if !ok {
		return nil, false
	}
	return append([]models.IndicatorPoint(nil), s...), true
}

// Snapshot returns a copy of every merged series
func (c *Channel) Snapshot() map[string][]models.IndicatorPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]models.IndicatorPoint, len(c.series))
	for id, s := range c.series {
		out[id] = append([]models.IndicatorPoint(nil), s...)
	}
	return out
}

// RemoveSeries forgets an indicator's series and shape. Updates for it that
// are still queued are delivered and start a new series.
func (c *Channel) RemoveSeries(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.series, id)
	delete(c.shapes, id)
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}
		if c.deliverNext() {
			runtime.Gosched()
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-c.notify:
		}
	}
}

// deliverNext applies and fans out the oldest queued update. It reports
// false when the queue was empty.
func (c *Channel) deliverNext() bool {
	c.mu.Lock()
	if len(c.queue) == 0 || c.busy {
		c.mu.Unlock()
		return false
	}
	u := c.queue[0]
	c.queue[0] = models.IndicatorUpdate{}
	c.queue = c.queue[1:]
	c.busy = true
	c.merge(u)
	subs := append([]subscription[Subscriber](nil), c.subs...)
	depth := len(c.queue)
	c.mu.Unlock()

	logger.ChannelQueueDepth.Set(float64(depth))
	for _, s := range subs {
		c.callSubscriber(s.fn, u)
	}
	logger.ChannelDeliveredTotal.Inc()

	c.mu.Lock()
	c.busy = false
	if len(c.queue) == 0 {
		close(c.idle)
		c.idle = make(chan struct{})
	}
	c.mu.Unlock()
	return true
}

func (c *Channel) callSubscriber(fn Subscriber, u models.IndicatorUpdate) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("subscriber panic: %v", r)
			}
		}()
		err = fn(u)
	}()
	if err == nil {
		return
	}

	logger.SubscriberFailuresTotal.Inc()
	logger.Error("Indicator subscriber failed",
		logger.String("indicator_id", u.IndicatorID),
		logger.ErrorField(err),
	)
	c.emit(ErrorEvent{Kind: KindSubscriber, Err: err, Update: u})
}

func (c *Channel) emit(ev ErrorEvent) {
	c.mu.Lock()
	handlers := append([]subscription[ErrorHandler](nil), c.errorSubs...)
	c.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Error handler panicked", logger.Any("panic", r))
				}
			}()
			h.fn(ev)
		}()
	}
}

// merge folds u into its series. Caller holds c.mu.
func (c *Channel) merge(u models.IndicatorUpdate) {
	s := c.series[u.IndicatorID]
	for _, p := range u.Points {
		n := len(s)
		switch {
		case n == 0 || p.Time.After(s[n-1].Time):
			s = append(s, p)
		default:
			i := sort.Search(n, func(i int) bool { return !s[i].Time.Before(p.Time) })
			if i < n && s[i].Time.Equal(p.Time) {
				s[i] = p
				continue
			}
			s = append(s, models.IndicatorPoint{})
			copy(s[i+1:], s[i:])
			s[i] = p
		}
	}
	if over := len(s) - c.config.MaxSeriesPoints; over > 0 {
		s = append([]models.IndicatorPoint(nil), s[over:]...)
	}
	c.series[u.IndicatorID] = s
}

func (c *Channel) validate(u models.IndicatorUpdate) error {
	if u.IndicatorID == "" {
		return models.NewValidationError("indicatorId", "must not be empty")
	}
	if len(u.Points) == 0 {
		return models.NewValidationError("points", "at least one point is required")
	}

	c.mu.Lock()
	shape, hasShape := c.shapes[u.IndicatorID]
	c.mu.Unlock()

	for i, p := range u.Points {
		field := fmt.Sprintf("points[%d]", i)
		if p.Time.IsZero() {
			return models.NewValidationError(field+".time", "must be set")
		}
		if i > 0 && !p.Time.After(u.Points[i-1].Time) {
			return models.NewValidationError(field+".time", "times must be strictly increasing")
		}
		if len(p.Values) == 0 {
			return models.NewValidationError(field+".values", "at least one output is required")
		}
		for name, v := range p.Values {
			if name == "" {
				return models.NewValidationError(field+".values", "output names must not be empty")
			}
			if v.Defined && (math.IsNaN(v.Float) || math.IsInf(v.Float, 0)) {
				return models.NewValidationError(field+".values."+name, "must be finite or undefined")
			}
		}
		if hasShape && !sameShape(shape, p.Values) {
			return models.NewValidationError(field+".values",
				fmt.Sprintf("outputs %v do not match %v", p.Values.Names(), shape))
		}
	}
	return nil
}

func sameShape(shape []string, v models.Values) bool {
	if len(shape) != len(v) {
		return false
	}
	for _, name := range shape {
		if _, ok := v[name]; !ok {
			return false
		}
	}
	return true
}

func copyUpdate(u models.IndicatorUpdate) models.IndicatorUpdate {
	points := make([]models.IndicatorPoint, len(u.Points))
	for i, p := range u.Points {
		points[i] = models.IndicatorPoint{Time: p.Time, Values: p.Values.Clone()}
	}
	u.Points = points
	return u
}
