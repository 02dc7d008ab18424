package indicator

import (
	"fmt"
	"math"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// ADX calculates the Average Directional Index with +DI and -DI.
//
// +DM, -DM and TR start at the second bar and are Wilder-smoothed (mean seed
// over the first Period values). DI and DX are defined from bar index Period.
// ADX is the SMA of DX and is emitted at the first bar where Period DX values
// exist, i.e. index 2*Period-1.
type ADX struct {
	stateful[adxState]
	period int
}

type adxState struct {
	PrevHigh  float64
	PrevLow   float64
	PrevClose float64
	HasPrev   bool

	SeedTR    []float64
	SeedPlus  []float64
	SeedMinus []float64

	TR       float64
	PlusDM   float64
	MinusDM  float64
	Smoothed bool

	DX []float64
}

var adxOutputs = []string{OutputADX, OutputPlusDI, OutputMinusDI}

func directionalMovement(high, low, prevHigh, prevLow float64) (float64, float64) {
	up := high - prevHigh
	down := prevLow - low
	plus, minus := 0.0, 0.0
	if up > down && up > 0 {
		plus = up
	}
	if down > up && down > 0 {
		minus = down
	}
	return plus, minus
}

// directional converts smoothed movement into DI+, DI- and DX.
// A zero denominator reads 0.
func directional(tr, plusDM, minusDM float64) (plusDI, minusDI, dx float64) {
	if tr != 0 {
		plusDI = 100 * plusDM / tr
		minusDI = 100 * minusDM / tr
	}
	if sum := plusDI + minusDI; sum != 0 {
		dx = 100 * math.Abs(plusDI-minusDI) / sum
	}
	return plusDI, minusDI, dx
}

// NewADX creates a new ADX calculator
func NewADX(period int) (*ADX, error) {
	if err := checkPeriod("ADX", "period", period); err != nil {
		return nil, err
	}

	step := func(s adxState, in Input) (adxState, models.Values) {
		c := in.Candle
		if !s.HasPrev {
			s.PrevHigh, s.PrevLow, s.PrevClose = c.High, c.Low, c.Close
			s.HasPrev = true
			return s, undefinedOf(adxOutputs...)
		}

		plus, minus := directionalMovement(c.High, c.Low, s.PrevHigh, s.PrevLow)
		tr := trueRange(c.High, c.Low, s.PrevClose)
		s.PrevHigh, s.PrevLow, s.PrevClose = c.High, c.Low, c.Close

		if !s.Smoothed {
			s.SeedTR = push(s.SeedTR, tr, period)
			s.SeedPlus = push(s.SeedPlus, plus, period)
			s.SeedMinus = push(s.SeedMinus, minus, period)
			if len(s.SeedTR) < period {
				return s, undefinedOf(adxOutputs...)
			}
			s.TR, s.PlusDM, s.MinusDM = mean(s.SeedTR), mean(s.SeedPlus), mean(s.SeedMinus)
			s.SeedTR, s.SeedPlus, s.SeedMinus = nil, nil, nil
			s.Smoothed = true
		} else {
			s.TR = wilder(s.TR, tr, period)
			s.PlusDM = wilder(s.PlusDM, plus, period)
			s.MinusDM = wilder(s.MinusDM, minus, period)
		}

		plusDI, minusDI, dx := directional(s.TR, s.PlusDM, s.MinusDM)
		s.DX = push(s.DX, dx, period)
		adx := models.Value{}
		if len(s.DX) == period {
			adx = models.Number(mean(s.DX))
		}
		return s, models.Values{
			OutputADX:     adx,
			OutputPlusDI:  models.Number(plusDI),
			OutputMinusDI: models.Number(minusDI),
		}
	}

	return &ADX{
		stateful: newStateful[adxState](fmt.Sprintf("adx_%d", period), adxOutputs, 2*period, step),
		period:   period,
	}, nil
}

// Clone returns an independent copy of the calculator
func (a *ADX) Clone() Calculator {
	c := *a
	return &c
}

// ADXSeries computes ADX, +DI and -DI over a whole candle series.
func ADXSeries(candles []models.Candle, period int) ([]models.Values, error) {
	if err := checkPeriod("ADX", "period", period); err != nil {
		return nil, err
	}

	out := undefinedSeries(len(candles), adxOutputs...)
	if len(candles) <= period {
		return out, nil
	}

	n := len(candles)
	tr := make([]float64, n)
	plus := make([]float64, n)
	minus := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = trueRange(candles[i].High, candles[i].Low, candles[i-1].Close)
		plus[i], minus[i] = directionalMovement(candles[i].High, candles[i].Low, candles[i-1].High, candles[i-1].Low)
	}

	sTR := mean(tr[1 : period+1])
	sPlus := mean(plus[1 : period+1])
	sMinus := mean(minus[1 : period+1])

	dx := make([]float64, 0, n)
	for i := period; i < n; i++ {
		if i > period {
			sTR = wilder(sTR, tr[i], period)
			sPlus = wilder(sPlus, plus[i], period)
			sMinus = wilder(sMinus, minus[i], period)
		}
		plusDI, minusDI, x := directional(sTR, sPlus, sMinus)
		dx = append(dx, x)

		adx := models.Value{}
		if len(dx) >= period {
			adx = models.Number(mean(dx[len(dx)-period:]))
		}
		out[i] = models.Values{
			OutputADX:     adx,
			OutputPlusDI:  models.Number(plusDI),
			OutputMinusDI: models.Number(minusDI),
		}
	}
	return out, nil
}
