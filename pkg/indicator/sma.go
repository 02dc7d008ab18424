package indicator

import (
	"fmt"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// SMA calculates the Simple Moving Average of the last Length source values
type SMA struct {
	stateful[smaState]
	length int
}

type smaState struct {
	Window []float64
}

// NewSMA creates a new SMA calculator with the specified length
func NewSMA(length int) (*SMA, error) {
	if err := checkPeriod("SMA", "length", length); err != nil {
		return nil, err
	}

	step := func(s smaState, in Input) (smaState, models.Values) {
		if !in.Source.Defined {
			return s, undefinedOf(OutputValue)
		}
		s.Window = push(s.Window, in.Source.Float, length)
		if len(s.Window) < length {
			return s, undefinedOf(OutputValue)
		}
		return s, models.Values{OutputValue: models.Number(mean(s.Window))}
	}

	return &SMA{
		stateful: newStateful[smaState](fmt.Sprintf("sma_%d", length), []string{OutputValue}, length, step),
		length:   length,
	}, nil
}

// Clone returns an independent copy of the calculator
func (s *SMA) Clone() Calculator {
	c := *s
	return &c
}

// SMASeries computes the SMA over a whole source series.
// Undefined inputs yield undefined outputs and are skipped by the window.
func SMASeries(values []models.Value, length int) ([]models.Values, error) {
	if err := checkPeriod("SMA", "length", length); err != nil {
		return nil, err
	}
	xs, idx := compact(values)
	return singleSeries(len(values), idx, smaDense(xs, length)), nil
}
