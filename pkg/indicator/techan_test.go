package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/sdcoffey/big"
	"github.com/sdcoffey/techan"
)

// toTechanSeries converts candles into a techan time series.
func toTechanSeries(t *testing.T, candles []models.Candle) *techan.TimeSeries {
	t.Helper()
	series := techan.NewTimeSeries()
	for _, c := range candles {
		candle := techan.NewCandle(techan.NewTimePeriod(c.OpenTime, 30*time.Second))
		candle.OpenPrice = big.NewDecimal(c.Open)
		candle.MaxPrice = big.NewDecimal(c.High)
		candle.MinPrice = big.NewDecimal(c.Low)
		candle.ClosePrice = big.NewDecimal(c.Close)
		candle.Volume = big.NewDecimal(c.Volume)
		if !series.AddCandle(candle) {
			t.Fatalf("techan rejected candle at %v", c.OpenTime)
		}
	}
	return series
}

// assertMatchesTechan compares one output from index from onwards.
func assertMatchesTechan(t *testing.T, ours []models.Values, output string, reference techan.Indicator, from int) {
	t.Helper()
	for i := from; i < len(ours); i++ {
		want := reference.Calculate(i).Float()
		got := ours[i][output]
		if !got.Defined {
			t.Fatalf("index %d: expected defined %s", i, output)
		}
		if math.Abs(got.Float-want) > 1e-6 {
			t.Errorf("index %d: got %f, techan %f", i, got.Float, want)
		}
	}
}

func TestSMA_MatchesTechan(t *testing.T) {
	candles := makeCandles(120)
	const length = 20

	series := toTechanSeries(t, candles)
	reference := techan.NewSimpleMovingAverage(techan.NewClosePriceIndicator(series), length)

	ours, err := SMASeries(closeValues(candles), length)
	if err != nil {
		t.Fatalf("SMASeries failed: %v", err)
	}
	assertMatchesTechan(t, ours, OutputValue, reference, length-1)
}

func TestEMA_MatchesTechan(t *testing.T) {
	candles := makeCandles(120)
	const length = 10

	series := toTechanSeries(t, candles)
	reference := techan.NewEMAIndicator(techan.NewClosePriceIndicator(series), length)

	ours, err := EMASeries(closeValues(candles), length)
	if err != nil {
		t.Fatalf("EMASeries failed: %v", err)
	}
	assertMatchesTechan(t, ours, OutputValue, reference, length-1)
}

func TestMACD_LineMatchesTechan(t *testing.T) {
	candles := makeCandles(150)
	const fast, slow, signal = 12, 26, 9

	series := toTechanSeries(t, candles)
	reference := techan.NewMACDIndicator(techan.NewClosePriceIndicator(series), fast, slow)

	ours, err := MACDSeries(closeValues(candles), fast, slow, signal)
	if err != nil {
		t.Fatalf("MACDSeries failed: %v", err)
	}
	// techan's signal line averages the undefined warm-up, so only the MACD line is comparable
	assertMatchesTechan(t, ours, OutputMACD, reference, slow-1)
}

func TestTrueRange_MatchesTechan(t *testing.T) {
	candles := makeCandles(60)
	reference := techan.NewTrueRangeIndicator(toTechanSeries(t, candles))

	ours := TrueRangeSeries(candles)
	for i := 1; i < len(candles); i++ {
		want := reference.Calculate(i).Float()
		if math.Abs(ours[i]-want) > 1e-6 {
			t.Errorf("index %d: got %f, techan %f", i, ours[i], want)
		}
	}
}
