package indicator

import (
	"fmt"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// Stochastic calculates the stochastic oscillator.
// Raw %K = (close - lowestLow) / (highestHigh - lowestLow) * 100 over KPeriod,
// 50 on a flat range; %K is the SMA(SmoothK) of raw %K when SmoothK > 1;
// %D = SMA(DPeriod) of %K.
type Stochastic struct {
	stateful[stochasticState]
	kPeriod int
	dPeriod int
	smoothK int
}

type stochasticState struct {
	Highs []float64
	Lows  []float64
	RawK  []float64
	K     []float64
}

var stochasticOutputs = []string{OutputK, OutputD}

func checkStochastic(kPeriod, dPeriod, smoothK int) error {
	if err := checkPeriod("Stochastic", "kPeriod", kPeriod); err != nil {
		return err
	}
	if err := checkPeriod("Stochastic", "dPeriod", dPeriod); err != nil {
		return err
	}
	return checkPeriod("Stochastic", "smoothK", smoothK)
}

func rawStochastic(highs, lows []float64, close float64) float64 {
	hh, ll := highest(highs), lowest(lows)
	if hh == ll {
		return 50
	}
	return (close - ll) / (hh - ll) * 100
}

// NewStochastic creates a new Stochastic calculator
func NewStochastic(kPeriod, dPeriod, smoothK int) (*Stochastic, error) {
	if err := checkStochastic(kPeriod, dPeriod, smoothK); err != nil {
		return nil, err
	}

	step := func(s stochasticState, in Input) (stochasticState, models.Values) {
		c := in.Candle
		s.Highs = push(s.Highs, c.High, kPeriod)
		s.Lows = push(s.Lows, c.Low, kPeriod)
		if len(s.Highs) < kPeriod {
			return s, undefinedOf(stochasticOutputs...)
		}

		k := rawStochastic(s.Highs, s.Lows, c.Close)
		if smoothK > 1 {
			s.RawK = push(s.RawK, k, smoothK)
			if len(s.RawK) < smoothK {
				return s, undefinedOf(stochasticOutputs...)
			}
			k = mean(s.RawK)
		}

		s.K = push(s.K, k, dPeriod)
		d := models.Value{}
		if len(s.K) == dPeriod {
			d = models.Number(mean(s.K))
		}
		return s, models.Values{OutputK: models.Number(k), OutputD: d}
	}

	name := fmt.Sprintf("stochastic_%d_%d_%d", kPeriod, dPeriod, smoothK)
	smoothLag := 0
	if smoothK > 1 {
		smoothLag = smoothK - 1
	}
	return &Stochastic{
		stateful: newStateful[stochasticState](name, stochasticOutputs, kPeriod+smoothLag+dPeriod-1, step),
		kPeriod:  kPeriod,
		dPeriod:  dPeriod,
		smoothK:  smoothK,
	}, nil
}

// Clone returns an independent copy of the calculator
func (s *Stochastic) Clone() Calculator {
	c := *s
	return &c
}

// StochasticSeries computes %K and %D over a whole candle series.
func StochasticSeries(candles []models.Candle, kPeriod, dPeriod, smoothK int) ([]models.Values, error) {
	if err := checkStochastic(kPeriod, dPeriod, smoothK); err != nil {
		return nil, err
	}

	raw := make([]models.Value, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i := range candles {
		highs[i], lows[i] = candles[i].High, candles[i].Low
		if i >= kPeriod-1 {
			raw[i] = models.Number(rawStochastic(highs[i-kPeriod+1:i+1], lows[i-kPeriod+1:i+1], candles[i].Close))
		}
	}

	k := raw
	if smoothK > 1 {
		rxs, ridx := compact(raw)
		dense := smaDense(rxs, smoothK)
		k = make([]models.Value, len(candles))
		for j, i := range ridx {
			k[i] = dense[j]
		}
	}

	kxs, kidx := compact(k)
	dDense := smaDense(kxs, dPeriod)
	d := make([]models.Value, len(candles))
	for j, i := range kidx {
		d[i] = dDense[j]
	}

	out := make([]models.Values, len(candles))
	for i := range candles {
		out[i] = models.Values{OutputK: k[i], OutputD: d[i]}
	}
	return out, nil
}
