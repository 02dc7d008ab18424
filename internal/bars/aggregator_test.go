package bars

import (
	"testing"
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 6, 13, 0, 0, 0, time.UTC)

func minuteCandles(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := 0; i < n; i++ {
		p := 100 + float64(i%7) - float64(i%3)
		out[i] = models.Candle{
			Symbol:   "AAPL",
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     p,
			High:     p + 1 + float64(i%2),
			Low:      p - 1,
			Close:    p + 0.5,
			Volume:   float64(100 + i),
		}
	}
	return out
}

func TestAggregator_MatchesResample(t *testing.T) {
	candles := minuteCandles(47)
	agg := NewAggregator(5 * time.Minute)

	var closed []models.Candle
	for _, c := range candles {
		if done := agg.Add(c); done != nil {
			closed = append(closed, *done)
		}
	}
	forming := agg.Forming()
	require.NotNil(t, forming)
	closed = append(closed, *forming)

	assert.Equal(t, Resample(candles, 5*time.Minute), closed)
}

func TestAggregator_Peek(t *testing.T) {
	candles := minuteCandles(7)
	agg := NewAggregator(5 * time.Minute)
	for _, c := range candles[:4] {
		agg.Add(c)
	}
	before := agg.Forming()
	require.NotNil(t, before)

	closed, forming := agg.Peek(candles[4])
	assert.Nil(t, closed)
	assert.Equal(t, candles[4].Close, forming.Close)
	assert.Equal(t, before, agg.Forming(), "Peek must not change the forming candle")

	agg.Add(candles[4])
	closed, forming = agg.Peek(candles[5])
	require.NotNil(t, closed)
	assert.Equal(t, base, closed.OpenTime)
	assert.Equal(t, base.Add(5*time.Minute), forming.OpenTime)
	assert.Equal(t, candles[5].Open, forming.Open)
	assert.Equal(t, base, agg.Forming().OpenTime)
}

func TestAggregator_FormingIsACopy(t *testing.T) {
	agg := NewAggregator(time.Hour)
	agg.Add(minuteCandles(1)[0])

	c := agg.Forming()
	c.Close = 1
	assert.NotEqual(t, 1.0, agg.Forming().Close, "Forming must return a copy")
}
