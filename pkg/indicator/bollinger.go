package indicator

import (
	"fmt"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// Bollinger calculates Bollinger Bands: SMA middle band with upper and lower
// bands at Multiplier population standard deviations.
type Bollinger struct {
	stateful[smaState]
	period     int
	multiplier float64
}

var bollingerOutputs = []string{OutputUpper, OutputMiddle, OutputLower}

func checkBollinger(period int, multiplier float64) error {
	if err := checkPeriod("Bollinger", "period", period); err != nil {
		return err
	}
	if multiplier < 0 {
		return fmt.Errorf("Bollinger multiplier must not be negative, got %g", multiplier)
	}
	return nil
}

func bollingerPoint(window []float64, multiplier float64) models.Values {
	middle := mean(window)
	sd := popStdDev(window, middle)
	return models.Values{
		OutputUpper:  models.Number(middle + multiplier*sd),
		OutputMiddle: models.Number(middle),
		OutputLower:  models.Number(middle - multiplier*sd),
	}
}

// NewBollinger creates a new Bollinger Bands calculator
func NewBollinger(period int, multiplier float64) (*Bollinger, error) {
	if err := checkBollinger(period, multiplier); err != nil {
		return nil, err
	}

	step := func(s smaState, in Input) (smaState, models.Values) {
		if !in.Source.Defined {
			return s, undefinedOf(bollingerOutputs...)
		}
		s.Window = push(s.Window, in.Source.Float, period)
		if len(s.Window) < period {
			return s, undefinedOf(bollingerOutputs...)
		}
		return s, bollingerPoint(s.Window, multiplier)
	}

	name := fmt.Sprintf("bollinger_%d_%s", period, formatParam(multiplier))
	return &Bollinger{
		stateful:   newStateful[smaState](name, bollingerOutputs, period, step),
		period:     period,
		multiplier: multiplier,
	}, nil
}

// Clone returns an independent copy of the calculator
func (b *Bollinger) Clone() Calculator {
	c := *b
	return &c
}

// BollingerSeries computes the three bands over a whole source series.
func BollingerSeries(values []models.Value, period int, multiplier float64) ([]models.Values, error) {
	if err := checkBollinger(period, multiplier); err != nil {
		return nil, err
	}

	xs, idx := compact(values)
	out := undefinedSeries(len(values), bollingerOutputs...)
	for j := period - 1; j < len(xs); j++ {
		out[idx[j]] = bollingerPoint(xs[j-period+1:j+1], multiplier)
	}
	return out, nil
}
