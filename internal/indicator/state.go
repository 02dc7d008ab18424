package indicator

import (
	"fmt"
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/bars"
	"github.com/mohamedkhairy/indicator-engine/internal/models"
	indicatorpkg "github.com/mohamedkhairy/indicator-engine/pkg/indicator"
)

// specEntry is the engine-owned runtime of one registered spec.
type specEntry struct {
	resolved *Resolved
	calc     indicatorpkg.Calculator
	agg      *bars.Aggregator // nil on the base timeframe

	lastClosed models.Values
	lastIndex  int
	lastTime   time.Time

	// series is aligned with the engine's retained closed candles
	series []models.IndicatorPoint
}

func newSpecEntry(r *Resolved, base time.Duration) (*specEntry, error) {
	calc, err := r.Def.New(r.Params)
	if err != nil {
		return nil, &models.ValidationError{Field: "params", Err: err}
	}

	entry := &specEntry{resolved: r, calc: calc, lastIndex: -1}
	if r.Timeframe > 0 && r.Timeframe != base {
		entry.agg = bars.NewAggregator(r.Timeframe)
	}
	return entry, nil
}

func (s *specEntry) id() string {
	return s.resolved.Spec.ID
}

func (s *specEntry) outputs() []string {
	return s.resolved.Def.Outputs
}

func (s *specEntry) coarse() bool {
	return s.agg != nil
}

// fresh returns an entry with the same spec and empty state.
func (s *specEntry) fresh(base time.Duration) (*specEntry, error) {
	return newSpecEntry(s.resolved, base)
}

func (s *specEntry) state() models.ComputeState {
	st := models.ComputeState{
		SpecID:     s.id(),
		LastIndex:  s.lastIndex,
		LastTime:   s.lastTime,
		Carry:      s.calc.Snapshot(),
		Warmup:     s.calc.WindowSize(),
		Bars:       s.calc.BarsProcessed(),
		Ready:      s.calc.IsReady(),
		LastClosed: s.lastClosed.Clone(),
	}
	if s.agg != nil {
		st.Forming = s.agg.Forming()
	}
	return st
}

// input builds the calculator input for a candle on this spec's timeframe.
func (s *specEntry) input(c models.Candle, src models.Value) indicatorpkg.Input {
	return indicatorpkg.Input{Candle: c, Source: src}
}

// fieldValue reads the spec's candle field. Composite specs never call it.
func (s *specEntry) fieldValue(c models.Candle) (models.Value, error) {
	if s.resolved.Def.Input == InputCandles {
		return models.Number(c.Close), nil
	}
	f, err := c.Field(s.resolved.Spec.Source.Field)
	if err != nil {
		return models.Value{}, err
	}
	return models.Number(f), nil
}

// step computes the output for one fine bar. With commit it advances the
// calculator and aggregator; otherwise it only peeks. State is swapped in
// only after every computation has succeeded.
func (s *specEntry) step(c models.Candle, src models.Value, commit bool) (models.Values, error) {
	if !s.coarse() {
		if commit {
			return s.calc.Update(s.input(c, src)), nil
		}
		return s.calc.Peek(s.input(c, src)), nil
	}

	closed, forming := s.agg.Peek(c)
	calc := s.calc
	lastClosed := s.lastClosed
	if closed != nil {
		v, err := s.fieldValue(*closed)
		if err != nil {
			return nil, err
		}
		calc = s.calc.Clone()
		lastClosed = calc.Update(s.input(*closed, v))
	}

	var out models.Values
	if s.resolved.Spec.Confirm() {
		out = lastClosed.Clone()
		if out == nil {
			out = models.Undefined(s.outputs())
		}
	} else {
		v, err := s.fieldValue(forming)
		if err != nil {
			return nil, err
		}
		out = calc.Peek(s.input(forming, v))
	}

	if commit {
		s.calc = calc
		s.lastClosed = lastClosed
		s.agg.Add(c)
	}
	return out, nil
}

// record appends a committed point and trims the retained series.
func (s *specEntry) record(p models.IndicatorPoint, index, maxBars int) {
	s.lastIndex = index
	s.lastTime = p.Time
	s.series = append(s.series, p)
	if over := len(s.series) - maxBars; over > 0 {
		s.series = s.series[over:]
	}
}

// sourceOf returns the per-bar source values for a batch over candles.
// deps holds the full point series of already computed specs.
func (s *specEntry) sourceOf(candles []models.Candle, deps map[string][]models.IndicatorPoint) ([]models.Value, error) {
	out := make([]models.Value, len(candles))
	src := s.resolved.Spec.Source
	if src.IsComposite() {
		series, ok := deps[src.IndicatorID]
		if !ok || len(series) != len(candles) {
			return nil, fmt.Errorf("%w: %s", models.ErrDependencyFailed, src.IndicatorID)
		}
		for i, p := range series {
			out[i] = p.Values[src.Output]
		}
		return out, nil
	}

	for i := range candles {
		v, err := s.fieldValue(candles[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// batch computes the full point series for candles and leaves the entry's
// state equal to an incremental replay over the same candles. It also
// returns the replayed points, which dependents read so their carry state
// matches a live engine exactly.
func (s *specEntry) batch(candles []models.Candle, deps map[string][]models.IndicatorPoint, firstIndex, maxBars int) (points, folded []models.IndicatorPoint, err error) {
	src, err := s.sourceOf(candles, deps)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case !s.coarse():
		values, err := s.resolved.Def.Batch(s.resolved.Params, BatchInput{Candles: candles, Source: src})
		if err != nil {
			return nil, nil, err
		}
		points = make([]models.IndicatorPoint, len(candles))
		for i := range candles {
			points[i] = models.IndicatorPoint{Time: candles[i].OpenTime, Values: values[i]}
		}

	case s.resolved.Spec.Confirm():
		coarse := bars.Resample(candles, s.resolved.Timeframe)
		csrc, err := s.sourceOf(coarse, nil)
		if err != nil {
			return nil, nil, err
		}
		values, err := s.resolved.Def.Batch(s.resolved.Params, BatchInput{Candles: coarse, Source: csrc})
		if err != nil {
			return nil, nil, err
		}
		cpoints := make([]models.IndicatorPoint, len(coarse))
		for i := range coarse {
			cpoints[i] = models.IndicatorPoint{Time: coarse[i].OpenTime, Values: values[i]}
		}
		times := make([]time.Time, len(candles))
		for i := range candles {
			times[i] = candles[i].OpenTime
		}
		points = bars.Align(times, cpoints, s.resolved.Timeframe, true, s.outputs())
	}

	// Fold the calculator over the history so carry state matches a replay.
	folded = make([]models.IndicatorPoint, len(candles))
	for i := range candles {
		v, err := s.step(candles[i], src[i], true)
		if err != nil {
			return nil, nil, err
		}
		folded[i] = models.IndicatorPoint{Time: candles[i].OpenTime, Values: v}
	}
	if points == nil {
		// in-progress coarse values depend on each bar's partial bucket
		points = folded
	}

	start := 0
	if len(points) > maxBars {
		start = len(points) - maxBars
	}
	s.series = append([]models.IndicatorPoint(nil), points[start:]...)
	if n := len(points); n > 0 {
		s.lastIndex = firstIndex + n - 1
		s.lastTime = points[n-1].Time
	}
	return points, folded, nil
}
