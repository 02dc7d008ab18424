package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

var testStart = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

// makeCandles builds a deterministic oscillating price walk.
func makeCandles(n int) []models.Candle {
	candles := make([]models.Candle, n)
	prev := 100.0
	for i := 0; i < n; i++ {
		close := 100 + 8*math.Sin(float64(i)/6) + 0.15*float64(i) + float64((i*7)%5-2)*0.4
		open := prev
		high := math.Max(open, close) + 0.3 + float64(i%3)*0.2
		low := math.Min(open, close) - 0.25 - float64(i%4)*0.1
		candles[i] = models.Candle{
			Symbol:   "TEST",
			OpenTime: testStart.Add(time.Duration(i) * time.Minute),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    close,
			Volume:   float64(1000 + (i*37)%500),
		}
		prev = close
	}
	return candles
}

// closeCandles builds flat-bodied candles from a list of closes.
func closeCandles(closes ...float64) []models.Candle {
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		candles[i] = models.Candle{
			OpenTime: testStart.Add(time.Duration(i) * time.Minute),
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
			Volume:   100,
		}
	}
	return candles
}

func closeValues(candles []models.Candle) []models.Value {
	out := make([]models.Value, len(candles))
	for i := range candles {
		out[i] = models.Number(candles[i].Close)
	}
	return out
}

func feed(calc Calculator, candles []models.Candle) []models.Values {
	out := make([]models.Values, len(candles))
	for i, c := range candles {
		out[i] = calc.Update(CandleInput(c))
	}
	return out
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

// assertSeriesEqual checks two point series agree output by output.
func assertSeriesEqual(t *testing.T, got, want []models.Values) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		for name, w := range want[i] {
			g, ok := got[i][name]
			if !ok {
				t.Fatalf("index %d: missing output %q", i, name)
			}
			if g.Defined != w.Defined {
				t.Fatalf("index %d output %q: defined=%v, want %v", i, name, g.Defined, w.Defined)
			}
			if w.Defined && !approxEqual(g.Float, w.Float) {
				t.Fatalf("index %d output %q: got %.12f, want %.12f", i, name, g.Float, w.Float)
			}
		}
	}
}

// firstDefined returns the first index where output is defined, or -1.
func firstDefined(series []models.Values, output string) int {
	for i, v := range series {
		if v[output].Defined {
			return i
		}
	}
	return -1
}

func assertBounded(t *testing.T, series []models.Values, output string, lo, hi float64) {
	t.Helper()
	for i, v := range series {
		x := v[output]
		if !x.Defined {
			continue
		}
		if x.Float < lo-1e-9 || x.Float > hi+1e-9 {
			t.Errorf("index %d output %q = %f outside [%f, %f]", i, output, x.Float, lo, hi)
		}
	}
}
