package indicator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/mohamedkhairy/indicator-engine/pkg/logger"
)

// EngineConfig holds configuration for the indicator engine
type EngineConfig struct {
	Symbol        string        // Symbol of the candle feed, informational
	BaseTimeframe time.Duration // Timeframe of the candle feed (default: 1m)
	MaxBars       int           // Closed candles and points retained per indicator (default: 5000)
}

// DefaultEngineConfig returns default configuration
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BaseTimeframe: time.Minute,
		MaxBars:       5000,
	}
}

// Engine runs registered indicators over one candle feed, either as a full
// recompute (Batch) or one bar at a time (Incremental). It owns every
// ComputeState; callers only see copies.
type Engine struct {
	mu       sync.RWMutex
	config   EngineConfig
	registry *IndicatorRegistry

	specs map[string]*specEntry
	order []string

	candles  []models.Candle // retained closed candles
	open     *models.Candle  // still-open last bar, if any
	barsSeen int             // closed candles committed since the last Batch
	lastTime time.Time
}

// NewEngine creates a new indicator engine
func NewEngine(config EngineConfig, registry *IndicatorRegistry) *Engine {
	defaults := DefaultEngineConfig()
	if config.BaseTimeframe <= 0 {
		config.BaseTimeframe = defaults.BaseTimeframe
	}
	if config.MaxBars <= 0 {
		config.MaxBars = defaults.MaxBars
	}

	return &Engine{
		config:   config,
		registry: registry,
		specs:    make(map[string]*specEntry),
	}
}

// Config returns the engine configuration
func (e *Engine) Config() EngineConfig {
	return e.config
}

// Registry returns the registry the engine resolves specs against
func (e *Engine) Registry() *IndicatorRegistry {
	return e.registry
}

// AddIndicator registers a spec and backfills it over the retained history.
// Unknown names, bad parameters and bad dependencies fail here.
func (e *Engine) AddIndicator(spec models.IndicatorSpec) ([]models.IndicatorPoint, error) {
	resolved, err := e.registry.Resolve(spec)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.specs[spec.ID]; exists {
		return nil, models.NewValidationError("id", fmt.Sprintf("indicator %q already registered", spec.ID))
	}
	if err := e.checkTimeframe(resolved); err != nil {
		return nil, err
	}
	if err := e.checkDependency(resolved); err != nil {
		return nil, err
	}

	specs := append(e.specList(), spec)
	order, err := ComputeOrder(specs)
	if err != nil {
		return nil, err
	}

	entry, err := newSpecEntry(resolved, e.config.BaseTimeframe)
	if err != nil {
		return nil, err
	}

	points, _, err := e.safeBatch(entry, e.candles, e.retainedSeries(), e.barsSeen-len(e.candles))
	if err != nil {
		return nil, err
	}

	e.specs[spec.ID] = entry
	e.order = order
	logger.ActiveIndicators.Set(float64(len(e.specs)))

	logger.Info("Indicator registered",
		logger.String("id", spec.ID),
		logger.String("name", spec.Name),
		logger.String("timeframe", spec.Timeframe),
		logger.Int("backfill_points", len(points)),
	)
	return points, nil
}

// RemoveIndicator stops computing an indicator immediately. Updates already
// handed to a distribution channel are not retracted.
func (e *Engine) RemoveIndicator(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.specs[id]; !exists {
		return fmt.Errorf("indicator %q: %w", id, models.ErrUnknownIndicator)
	}
	for _, other := range e.specs {
		if other.resolved.Spec.Source.IndicatorID == id {
			return fmt.Errorf("%w: %q is read by %q", models.ErrHasDependents, id, other.id())
		}
	}

	delete(e.specs, id)
	order := e.order[:0:0]
	for _, o := range e.order {
		if o != id {
			order = append(order, o)
		}
	}
	e.order = order
	logger.ActiveIndicators.Set(float64(len(e.specs)))

	logger.Info("Indicator removed", logger.String("id", id))
	return nil
}

// Batch recomputes every indicator from scratch over candles and replaces
// the retained history and all compute state. Per-indicator failures are
// isolated and returned joined; the other indicators still complete.
func (e *Engine) Batch(candles []models.Candle) (map[string][]models.IndicatorPoint, error) {
	if err := validateSeries(candles); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		logger.ComputeDuration.WithLabelValues("batch").Observe(time.Since(start).Seconds())
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	results := make(map[string][]models.IndicatorPoint, len(e.specs))
	deps := make(map[string][]models.IndicatorPoint, len(e.specs))
	entries := make(map[string]*specEntry, len(e.specs))
	var errs []error

	for _, id := range e.order {
		entry, err := e.specs[id].fresh(e.config.BaseTimeframe)
		if err != nil {
			errs = append(errs, &models.ComputeError{SpecID: id, Err: err})
			entries[id] = e.specs[id]
			continue
		}
		entries[id] = entry

		points, folded, err := e.safeBatch(entry, candles, deps, 0)
		if err != nil {
			errs = append(errs, err)
			if reset, rerr := entry.fresh(e.config.BaseTimeframe); rerr == nil {
				entries[id] = reset
			}
			continue
		}
		deps[id] = folded
		results[id] = points
	}

	e.specs = entries
	e.open = nil
	e.barsSeen = len(candles)
	e.candles = tail(candles, e.config.MaxBars)
	if n := len(candles); n > 0 {
		e.lastTime = candles[n-1].OpenTime
	} else {
		e.lastTime = time.Time{}
	}
	logger.BarsProcessedTotal.WithLabelValues("batch").Add(float64(len(candles)))

	return results, errors.Join(errs...)
}

// Incremental consumes one feed event and returns the delta point per
// indicator. A closed bar commits state. A partial bar only peeks, so the
// same still-open bar can be re-evaluated any number of times.
func (e *Engine) Incremental(update models.BarUpdate) (map[string][]models.IndicatorPoint, error) {
	c := update.Candle
	if err := c.Validate(); err != nil {
		return nil, &models.ValidationError{Field: "bar", Err: err}
	}

	start := time.Now()
	mode := "closed"
	if update.IsPartial {
		mode = "partial"
	}
	defer func() {
		logger.ComputeDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.lastTime.IsZero() && !c.OpenTime.After(e.lastTime) {
		return nil, &models.ValidationError{
			Field:  "bar.openTime",
			Reason: fmt.Sprintf("%s is not after %s", c.OpenTime.Format(time.RFC3339), e.lastTime.Format(time.RFC3339)),
			Err:    models.ErrStaleBar,
		}
	}

	commit := !update.IsPartial
	if commit {
		e.open = nil
	} else {
		open := c
		e.open = &open
	}
	logger.BarsProcessedTotal.WithLabelValues(mode).Inc()

	out := make(map[string][]models.IndicatorPoint, len(e.order))
	values := make(map[string]models.Values, len(e.order))
	var errs []error

	index := e.barsSeen
	for _, id := range e.order {
		entry := e.specs[id]
		v, err := e.safeStep(entry, c, values, commit)
		if err != nil {
			errs = append(errs, err)
			if commit {
				// keep the retained series aligned with the candles
				entry.record(models.IndicatorPoint{Time: c.OpenTime, Values: models.Undefined(entry.outputs())}, index, e.config.MaxBars)
			}
			continue
		}

		p := models.IndicatorPoint{Time: c.OpenTime, Values: v}
		values[id] = v
		out[id] = []models.IndicatorPoint{p}
		if commit {
			entry.record(p, index, e.config.MaxBars)
		}
	}

	if commit {
		e.candles = append(e.candles, c)
		if over := len(e.candles) - e.config.MaxBars; over > 0 {
			e.candles = e.candles[over:]
		}
		e.barsSeen++
		e.lastTime = c.OpenTime
	}

	return out, errors.Join(errs...)
}

// State returns a copy of an indicator's compute state
func (e *Engine) State(id string) (models.ComputeState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry, ok := e.specs[id]
	if !ok {
		return models.ComputeState{}, false
	}
	return entry.state(), true
}

// Series returns the retained point series of an indicator
func (e *Engine) Series(id string) ([]models.IndicatorPoint, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry, ok := e.specs[id]
	if !ok {
		return nil, false
	}
	return append([]models.IndicatorPoint(nil), entry.series...), true
}

// Outputs returns the output names of a registered indicator
func (e *Engine) Outputs(id string) ([]string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry, ok := e.specs[id]
	if !ok {
		return nil, false
	}
	return append([]string(nil), entry.outputs()...), true
}

// Specs returns the registered specs in compute order
func (e *Engine) Specs() []models.IndicatorSpec {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.specList()
}

// Candles returns the retained closed candles followed by the open bar, if any
func (e *Engine) Candles() []models.Candle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.candleList()
}

// Snapshot builds the envelope a new consumer receives on connect. Candles
// and series are read under one lock, so every point has its candle.
func (e *Engine) Snapshot() models.SnapshotMessage {
	e.mu.RLock()
	defer e.mu.RUnlock()

	candles := e.candleList()
	indicators := make(map[string][]models.IndicatorPoint, len(e.specs))
	for id, entry := range e.specs {
		indicators[id] = append([]models.IndicatorPoint(nil), entry.series...)
	}
	return models.NewSnapshotMessage(e.config.Symbol, models.FormatTimeframe(e.config.BaseTimeframe), candles, indicators)
}

// BatchCompute runs a one-shot batch of specs over candles on a fresh engine.
func BatchCompute(registry *IndicatorRegistry, config EngineConfig, specs []models.IndicatorSpec, candles []models.Candle) (map[string][]models.IndicatorPoint, error) {
	order, err := ComputeOrder(specs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.IndicatorSpec, len(specs))
	for _, s := range specs {
		byID[s.ID] = s
	}

	engine := NewEngine(config, registry)
	for _, id := range order {
		if _, err := engine.AddIndicator(byID[id]); err != nil {
			return nil, fmt.Errorf("register %s: %w", id, err)
		}
	}
	return engine.Batch(candles)
}

func (e *Engine) specList() []models.IndicatorSpec {
	out := make([]models.IndicatorSpec, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.specs[id].resolved.Spec)
	}
	return out
}

func (e *Engine) candleList() []models.Candle {
	out := make([]models.Candle, len(e.candles), len(e.candles)+1)
	copy(out, e.candles)
	if e.open != nil {
		out = append(out, *e.open)
	}
	return out
}

func (e *Engine) retainedSeries() map[string][]models.IndicatorPoint {
	out := make(map[string][]models.IndicatorPoint, len(e.specs))
	for id, entry := range e.specs {
		out[id] = entry.series
	}
	return out
}

func (e *Engine) checkTimeframe(r *Resolved) error {
	tf, base := r.Timeframe, e.config.BaseTimeframe
	if tf == 0 || tf == base {
		return nil
	}
	if tf < base || tf%base != 0 {
		return models.NewValidationError("timeframe",
			fmt.Sprintf("%s is not a multiple of the base timeframe %s", r.Spec.Timeframe, models.FormatTimeframe(base)))
	}
	if r.Spec.Source.IsComposite() {
		return models.NewValidationError("timeframe", "composite indicators run on the base timeframe")
	}
	return nil
}

func (e *Engine) checkDependency(r *Resolved) error {
	src := r.Spec.Source
	if !src.IsComposite() {
		return nil
	}
	dep, ok := e.specs[src.IndicatorID]
	if !ok {
		return fmt.Errorf("%w: %q reads %q", models.ErrUnknownDependency, r.Spec.ID, src.IndicatorID)
	}
	for _, o := range dep.outputs() {
		if o == src.Output {
			return nil
		}
	}
	return models.NewValidationError("source.output", fmt.Sprintf("%q has no output %q", src.IndicatorID, src.Output))
}

// safeBatch runs one spec's batch with panic isolation.
func (e *Engine) safeBatch(entry *specEntry, candles []models.Candle, deps map[string][]models.IndicatorPoint, firstIndex int) (points, folded []models.IndicatorPoint, err error) {
	defer e.recoverCompute(entry.id(), &err)

	points, folded, err = entry.batch(candles, deps, firstIndex, e.config.MaxBars)
	if err != nil {
		return nil, nil, e.computeError(entry.id(), err)
	}
	return points, folded, nil
}

// safeStep runs one spec's incremental step with panic isolation.
func (e *Engine) safeStep(entry *specEntry, c models.Candle, pass map[string]models.Values, commit bool) (v models.Values, err error) {
	defer e.recoverCompute(entry.id(), &err)

	src := models.Value{}
	if dep := entry.resolved.Spec.Source; dep.IsComposite() {
		depValues, ok := pass[dep.IndicatorID]
		if !ok {
			return nil, e.computeError(entry.id(), fmt.Errorf("%w: %s", models.ErrDependencyFailed, dep.IndicatorID))
		}
		src = depValues[dep.Output]
	} else {
		src, err = entry.fieldValue(c)
		if err != nil {
			return nil, e.computeError(entry.id(), err)
		}
	}

	v, err = entry.step(c, src, commit)
	if err != nil {
		return nil, e.computeError(entry.id(), err)
	}
	return v, nil
}

func (e *Engine) recoverCompute(id string, err *error) {
	if r := recover(); r != nil {
		*err = e.computeError(id, fmt.Errorf("panic: %v", r))
	}
}

func (e *Engine) computeError(id string, err error) error {
	var cerr *models.ComputeError
	if errors.As(err, &cerr) {
		return err
	}
	logger.ComputeErrorsTotal.WithLabelValues(id).Inc()
	logger.Error("Indicator compute failed",
		logger.String("id", id),
		logger.ErrorField(err),
	)
	return &models.ComputeError{SpecID: id, Err: err}
}

func validateSeries(candles []models.Candle) error {
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return &models.ValidationError{Field: fmt.Sprintf("candles[%d]", i), Err: err}
		}
		if i > 0 && !candles[i].OpenTime.After(candles[i-1].OpenTime) {
			return &models.ValidationError{
				Field:  fmt.Sprintf("candles[%d]", i),
				Reason: "open times must be strictly increasing",
				Err:    models.ErrStaleBar,
			}
		}
	}
	return nil
}

func tail(candles []models.Candle, n int) []models.Candle {
	start := 0
	if len(candles) > n {
		start = len(candles) - n
	}
	return append([]models.Candle(nil), candles[start:]...)
}
