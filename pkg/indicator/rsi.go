package indicator

import (
	"fmt"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// RSI calculates the Relative Strength Index using Wilder's smoothing.
// The seed averages are the means of the first Length gains and losses,
// so the first defined value appears once Length price changes exist.
type RSI struct {
	stateful[rsiState]
	length int
}

type rsiState struct {
	Prev    float64
	HasPrev bool
	Gains   []float64
	Losses  []float64
	AvgGain float64
	AvgLoss float64
	Ready   bool
}

// rsiValue maps smoothed averages to RSI. A flat series reads 50.
func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func gainLoss(delta float64) (float64, float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// NewRSI creates a new RSI calculator with the specified length
func NewRSI(length int) (*RSI, error) {
	if err := checkPeriod("RSI", "length", length); err != nil {
		return nil, err
	}

	step := func(s rsiState, in Input) (rsiState, models.Values) {
		if !in.Source.Defined {
			return s, undefinedOf(OutputValue)
		}
		price := in.Source.Float
		if !s.HasPrev {
			s.Prev = price
			s.HasPrev = true
			return s, undefinedOf(OutputValue)
		}

		gain, loss := gainLoss(price - s.Prev)
		s.Prev = price

		if !s.Ready {
			s.Gains = push(s.Gains, gain, length)
			s.Losses = push(s.Losses, loss, length)
			if len(s.Gains) < length {
				return s, undefinedOf(OutputValue)
			}
			s.AvgGain = mean(s.Gains)
			s.AvgLoss = mean(s.Losses)
			s.Gains, s.Losses = nil, nil
			s.Ready = true
		} else {
			s.AvgGain = wilder(s.AvgGain, gain, length)
			s.AvgLoss = wilder(s.AvgLoss, loss, length)
		}
		return s, models.Values{OutputValue: models.Number(rsiValue(s.AvgGain, s.AvgLoss))}
	}

	return &RSI{
		stateful: newStateful[rsiState](fmt.Sprintf("rsi_%d", length), []string{OutputValue}, length+1, step),
		length:   length,
	}, nil
}

// Clone returns an independent copy of the calculator
func (r *RSI) Clone() Calculator {
	c := *r
	return &c
}

// RSISeries computes the RSI over a whole source series.
func RSISeries(values []models.Value, length int) ([]models.Values, error) {
	if err := checkPeriod("RSI", "length", length); err != nil {
		return nil, err
	}

	xs, idx := compact(values)
	dense := make([]models.Value, len(xs))
	if len(xs) > length {
		gains := make([]float64, len(xs))
		losses := make([]float64, len(xs))
		for i := 1; i < len(xs); i++ {
			gains[i], losses[i] = gainLoss(xs[i] - xs[i-1])
		}

		avgGain := mean(gains[1 : length+1])
		avgLoss := mean(losses[1 : length+1])
		dense[length] = models.Number(rsiValue(avgGain, avgLoss))
		for i := length + 1; i < len(xs); i++ {
			avgGain = wilder(avgGain, gains[i], length)
			avgLoss = wilder(avgLoss, losses[i], length)
			dense[i] = models.Number(rsiValue(avgGain, avgLoss))
		}
	}
	return singleSeries(len(values), idx, dense), nil
}
