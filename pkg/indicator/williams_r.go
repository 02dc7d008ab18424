package indicator

import (
	"fmt"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// WilliamsR calculates Williams %R = (highestHigh - close) / (highestHigh - lowestLow) * -100.
// A flat range reads -50.
type WilliamsR struct {
	stateful[rangeState]
	period int
}

type rangeState struct {
	Highs []float64
	Lows  []float64
}

func williamsR(highs, lows []float64, close float64) float64 {
	hh, ll := highest(highs), lowest(lows)
	if hh == ll {
		return -50
	}
	return (hh - close) / (hh - ll) * -100
}

// NewWilliamsR creates a new Williams %R calculator
func NewWilliamsR(period int) (*WilliamsR, error) {
	if err := checkPeriod("Williams %R", "period", period); err != nil {
		return nil, err
	}

	step := func(s rangeState, in Input) (rangeState, models.Values) {
		c := in.Candle
		s.Highs = push(s.Highs, c.High, period)
		s.Lows = push(s.Lows, c.Low, period)
		if len(s.Highs) < period {
			return s, undefinedOf(OutputValue)
		}
		return s, models.Values{OutputValue: models.Number(williamsR(s.Highs, s.Lows, c.Close))}
	}

	return &WilliamsR{
		stateful: newStateful[rangeState](fmt.Sprintf("williams_r_%d", period), []string{OutputValue}, period, step),
		period:   period,
	}, nil
}

// Clone returns an independent copy of the calculator
func (w *WilliamsR) Clone() Calculator {
	c := *w
	return &c
}

// WilliamsRSeries computes Williams %R over a whole candle series.
func WilliamsRSeries(candles []models.Candle, period int) ([]models.Values, error) {
	if err := checkPeriod("Williams %R", "period", period); err != nil {
		return nil, err
	}

	out := undefinedSeries(len(candles), OutputValue)
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i := range candles {
		highs[i], lows[i] = candles[i].High, candles[i].Low
		if i >= period-1 {
			r := williamsR(highs[i-period+1:i+1], lows[i-period+1:i+1], candles[i].Close)
			out[i] = models.Values{OutputValue: models.Number(r)}
		}
	}
	return out, nil
}
