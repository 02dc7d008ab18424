package indicator

import (
	"fmt"
	"math"
	"strconv"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// push returns a freshly allocated window holding the last n-1 values of w
// followed by v. The input slice is never written to.
func push(w []float64, v float64, n int) []float64 {
	start := 0
	if len(w)+1 > n {
		start = len(w) + 1 - n
	}
	out := make([]float64, 0, len(w)-start+1)
	out = append(out, w[start:]...)
	return append(out, v)
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// popStdDev is the population standard deviation of xs around m.
func popStdDev(xs []float64, m float64) float64 {
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func highest(xs []float64) float64 {
	h := xs[0]
	for _, x := range xs[1:] {
		if x > h {
			h = x
		}
	}
	return h
}

func lowest(xs []float64) float64 {
	l := xs[0]
	for _, x := range xs[1:] {
		if x < l {
			l = x
		}
	}
	return l
}

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// wilder applies one step of Wilder smoothing.
func wilder(prev, x float64, period int) float64 {
	return (prev*float64(period-1) + x) / float64(period)
}

// compact returns the defined values and the index each came from.
func compact(values []models.Value) ([]float64, []int) {
	xs := make([]float64, 0, len(values))
	idx := make([]int, 0, len(values))
	for i, v := range values {
		if v.Defined {
			xs = append(xs, v.Float)
			idx = append(idx, i)
		}
	}
	return xs, idx
}

// undefinedSeries returns n points with every named output undefined.
func undefinedSeries(n int, names ...string) []models.Values {
	out := make([]models.Values, n)
	for i := range out {
		out[i] = models.Undefined(names)
	}
	return out
}

// singleSeries wraps a dense series computed over the defined inputs back
// onto the original n positions under OutputValue.
func singleSeries(n int, idx []int, dense []models.Value) []models.Values {
	out := undefinedSeries(n, OutputValue)
	for j, i := range idx {
		out[i] = models.Values{OutputValue: dense[j]}
	}
	return out
}

// smaDense is the simple moving average over a gap-free series.
func smaDense(xs []float64, length int) []models.Value {
	out := make([]models.Value, len(xs))
	for i := length - 1; i < len(xs); i++ {
		out[i] = models.Number(mean(xs[i-length+1 : i+1]))
	}
	return out
}

func checkPeriod(kind, param string, n int) error {
	if n < 1 {
		return fmt.Errorf("%s %s must be at least 1, got %d", kind, param, n)
	}
	return nil
}

// formatParam renders a float parameter for use in indicator names
func formatParam(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func candleCloses(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}
