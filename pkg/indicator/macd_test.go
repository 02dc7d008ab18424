package indicator

import (
	"testing"
)

func TestMACD_Validation(t *testing.T) {
	if _, err := NewMACD(26, 12, 9); err == nil {
		t.Error("Expected error when fast >= slow")
	}
	if _, err := NewMACD(12, 26, 0); err == nil {
		t.Error("Expected error for signal < 1")
	}
	m, err := NewMACD(12, 26, 9)
	if err != nil {
		t.Fatalf("Failed to create MACD: %v", err)
	}
	if m.Name() != "macd_12_26_9" {
		t.Errorf("Expected name 'macd_12_26_9', got '%s'", m.Name())
	}
}

func TestMACD_WarmUpAndHistogram(t *testing.T) {
	candles := makeCandles(120)
	series, err := MACDSeries(closeValues(candles), 3, 6, 4)
	if err != nil {
		t.Fatalf("MACDSeries failed: %v", err)
	}

	if idx := firstDefined(series, OutputMACD); idx != 5 {
		t.Errorf("macd first defined at %d, want 5", idx)
	}
	// signal seeds after 4 consecutive macd values
	if idx := firstDefined(series, OutputSignal); idx != 8 {
		t.Errorf("signal first defined at %d, want 8", idx)
	}
	if idx := firstDefined(series, OutputHistogram); idx != 8 {
		t.Errorf("histogram first defined at %d, want 8", idx)
	}

	for i, p := range series {
		if !p[OutputHistogram].Defined {
			continue
		}
		want := p[OutputMACD].Float - p[OutputSignal].Float
		if !approxEqual(p[OutputHistogram].Float, want) {
			t.Errorf("index %d: histogram %f, want %f", i, p[OutputHistogram].Float, want)
		}
	}

	fast, _ := EMASeries(closeValues(candles), 3)
	slow, _ := EMASeries(closeValues(candles), 6)
	for i := 5; i < len(candles); i++ {
		want := fast[i][OutputValue].Float - slow[i][OutputValue].Float
		if !approxEqual(series[i][OutputMACD].Float, want) {
			t.Fatalf("index %d: macd %f, want %f", i, series[i][OutputMACD].Float, want)
		}
	}
}
