package indicator

import (
	"fmt"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// ATR calculates the Average True Range.
// The first bar's true range is high - low. The first ATR is the mean of the
// first Period true ranges; after that ATR = (prevATR*(Period-1) + TR) / Period.
type ATR struct {
	stateful[atrState]
	period int
}

type atrState struct {
	PrevClose float64
	HasPrev   bool
	Ranges    []float64
	Value     float64
	Ready     bool
}

// NewATR creates a new ATR calculator
func NewATR(period int) (*ATR, error) {
	if err := checkPeriod("ATR", "period", period); err != nil {
		return nil, err
	}

	step := func(s atrState, in Input) (atrState, models.Values) {
		c := in.Candle
		tr := c.High - c.Low
		if s.HasPrev {
			tr = trueRange(c.High, c.Low, s.PrevClose)
		}
		s.PrevClose = c.Close
		s.HasPrev = true

		if !s.Ready {
			s.Ranges = push(s.Ranges, tr, period)
			if len(s.Ranges) < period {
				return s, undefinedOf(OutputValue)
			}
			s.Value = mean(s.Ranges)
			s.Ranges = nil
			s.Ready = true
		} else {
			s.Value = wilder(s.Value, tr, period)
		}
		return s, models.Values{OutputValue: models.Number(s.Value)}
	}

	return &ATR{
		stateful: newStateful[atrState](fmt.Sprintf("atr_%d", period), []string{OutputValue}, period, step),
		period:   period,
	}, nil
}

// Clone returns an independent copy of the calculator
func (a *ATR) Clone() Calculator {
	c := *a
	return &c
}

// TrueRangeSeries returns the true range of every candle; the first uses high - low.
func TrueRangeSeries(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		if i == 0 {
			out[i] = candles[i].High - candles[i].Low
			continue
		}
		out[i] = trueRange(candles[i].High, candles[i].Low, candles[i-1].Close)
	}
	return out
}

// ATRSeries computes the ATR over a whole candle series.
func ATRSeries(candles []models.Candle, period int) ([]models.Values, error) {
	if err := checkPeriod("ATR", "period", period); err != nil {
		return nil, err
	}

	out := undefinedSeries(len(candles), OutputValue)
	if len(candles) < period {
		return out, nil
	}

	tr := TrueRangeSeries(candles)
	atr := mean(tr[:period])
	out[period-1] = models.Values{OutputValue: models.Number(atr)}
	for i := period; i < len(candles); i++ {
		atr = wilder(atr, tr[i], period)
		out[i] = models.Values{OutputValue: models.Number(atr)}
	}
	return out, nil
}
