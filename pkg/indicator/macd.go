package indicator

import (
	"fmt"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// MACD calculates MACD = EMA(fast) - EMA(slow), the signal line as an EMA of
// the defined MACD values, and histogram = MACD - signal.
type MACD struct {
	stateful[macdState]
	fast   int
	slow   int
	signal int
}

type macdState struct {
	Fast   emaState
	Slow   emaState
	Signal emaState
}

var macdOutputs = []string{OutputMACD, OutputSignal, OutputHistogram}

func checkMACD(fast, slow, signal int) error {
	if err := checkPeriod("MACD", "fast", fast); err != nil {
		return err
	}
	if err := checkPeriod("MACD", "slow", slow); err != nil {
		return err
	}
	if err := checkPeriod("MACD", "signal", signal); err != nil {
		return err
	}
	if fast >= slow {
		return fmt.Errorf("MACD fast period (%d) must be less than slow period (%d)", fast, slow)
	}
	return nil
}

func macdPoint(m, sig models.Value) models.Values {
	hist := models.Value{}
	if m.Defined && sig.Defined {
		hist = models.Number(m.Float - sig.Float)
	}
	return models.Values{OutputMACD: m, OutputSignal: sig, OutputHistogram: hist}
}

// NewMACD creates a new MACD calculator
func NewMACD(fast, slow, signal int) (*MACD, error) {
	if err := checkMACD(fast, slow, signal); err != nil {
		return nil, err
	}

	step := func(s macdState, in Input) (macdState, models.Values) {
		if !in.Source.Defined {
			return s, undefinedOf(macdOutputs...)
		}
		var f, sl models.Value
		s.Fast, f = emaNext(s.Fast, in.Source.Float, fast)
		s.Slow, sl = emaNext(s.Slow, in.Source.Float, slow)
		if !f.Defined || !sl.Defined {
			return s, undefinedOf(macdOutputs...)
		}

		m := models.Number(f.Float - sl.Float)
		var sig models.Value
		s.Signal, sig = emaNext(s.Signal, m.Float, signal)
		return s, macdPoint(m, sig)
	}

	name := fmt.Sprintf("macd_%d_%d_%d", fast, slow, signal)
	return &MACD{
		stateful: newStateful[macdState](name, macdOutputs, slow+signal-1, step),
		fast:     fast,
		slow:     slow,
		signal:   signal,
	}, nil
}

// Clone returns an independent copy of the calculator
func (m *MACD) Clone() Calculator {
	c := *m
	return &c
}

// MACDSeries computes MACD, signal and histogram over a whole source series.
func MACDSeries(values []models.Value, fast, slow, signal int) ([]models.Values, error) {
	if err := checkMACD(fast, slow, signal); err != nil {
		return nil, err
	}

	xs, idx := compact(values)
	fastEMA := emaDense(xs, fast)
	slowEMA := emaDense(xs, slow)

	macd := make([]models.Value, len(xs))
	for i := range xs {
		if fastEMA[i].Defined && slowEMA[i].Defined {
			macd[i] = models.Number(fastEMA[i].Float - slowEMA[i].Float)
		}
	}

	mxs, midx := compact(macd)
	sigDense := emaDense(mxs, signal)
	sig := make([]models.Value, len(xs))
	for j, i := range midx {
		sig[i] = sigDense[j]
	}

	out := undefinedSeries(len(values), macdOutputs...)
	for j, i := range idx {
		out[i] = macdPoint(macd[j], sig[j])
	}
	return out, nil
}
