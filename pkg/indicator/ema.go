package indicator

import (
	"fmt"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// EMA calculates the Exponential Moving Average.
// Seed = mean of the first Length values, then EMA = price*k + prevEMA*(1-k),
// k = 2 / (Length + 1).
type EMA struct {
	stateful[emaState]
	length int
}

type emaState struct {
	Seed  []float64
	Value float64
	Ready bool
}

// emaNext advances an EMA by one defined value.
func emaNext(s emaState, v float64, length int) (emaState, models.Value) {
	if !s.Ready {
		s.Seed = push(s.Seed, v, length)
		if len(s.Seed) < length {
			return s, models.Value{}
		}
		s.Value = mean(s.Seed)
		s.Seed = nil
		s.Ready = true
		return s, models.Number(s.Value)
	}

	k := 2.0 / float64(length+1)
	s.Value = v*k + s.Value*(1-k)
	return s, models.Number(s.Value)
}

// emaDense is the EMA over a gap-free series, using the same recurrence as emaNext.
func emaDense(xs []float64, length int) []models.Value {
	out := make([]models.Value, len(xs))
	if len(xs) < length {
		return out
	}

	k := 2.0 / float64(length+1)
	value := mean(xs[:length])
	out[length-1] = models.Number(value)
	for i := length; i < len(xs); i++ {
		value = xs[i]*k + value*(1-k)
		out[i] = models.Number(value)
	}
	return out
}

// NewEMA creates a new EMA calculator with the specified length
func NewEMA(length int) (*EMA, error) {
	if err := checkPeriod("EMA", "length", length); err != nil {
		return nil, err
	}

	step := func(s emaState, in Input) (emaState, models.Values) {
		if !in.Source.Defined {
			return s, undefinedOf(OutputValue)
		}
		next, v := emaNext(s, in.Source.Float, length)
		return next, models.Values{OutputValue: v}
	}

	return &EMA{
		stateful: newStateful[emaState](fmt.Sprintf("ema_%d", length), []string{OutputValue}, length, step),
		length:   length,
	}, nil
}

// Clone returns an independent copy of the calculator
func (e *EMA) Clone() Calculator {
	c := *e
	return &c
}

// EMASeries computes the EMA over a whole source series.
func EMASeries(values []models.Value, length int) ([]models.Values, error) {
	if err := checkPeriod("EMA", "length", length); err != nil {
		return nil, err
	}
	xs, idx := compact(values)
	return singleSeries(len(values), idx, emaDense(xs, length)), nil
}
