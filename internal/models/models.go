package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Candle is one OHLCV bar. OpenTime is the start of the bar's bucket.
type Candle struct {
	Symbol   string    `json:"symbol,omitempty"`
	OpenTime time.Time `json:"openTime"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Validate validates a Candle
func (c *Candle) Validate() error {
	if c.OpenTime.IsZero() {
		return ErrInvalidTimestamp
	}
	for _, p := range []float64{c.Open, c.High, c.Low, c.Close} {
		if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
			return ErrInvalidPrice
		}
	}
	if c.High < c.Low {
		return ErrInvalidBar
	}
	if c.Open > c.High || c.Open < c.Low || c.Close > c.High || c.Close < c.Low {
		return ErrInvalidBar
	}
	if math.IsNaN(c.Volume) || math.IsInf(c.Volume, 0) || c.Volume < 0 {
		return ErrInvalidVolume
	}
	return nil
}

// Source fields a spec may read from a candle.
const (
	FieldOpen   = "open"
	FieldHigh   = "high"
	FieldLow    = "low"
	FieldClose  = "close"
	FieldHL2    = "hl2"
	FieldHLC3   = "hlc3"
	FieldOHLC4  = "ohlc4"
	FieldVolume = "volume"
)

// IsCandleField reports whether name is a readable candle field.
func IsCandleField(name string) bool {
	switch name {
	case FieldOpen, FieldHigh, FieldLow, FieldClose, FieldHL2, FieldHLC3, FieldOHLC4, FieldVolume:
		return true
	}
	return false
}

// Field returns the named source value of the candle. An empty name means close.
func (c *Candle) Field(name string) (float64, error) {
	switch name {
	case "", FieldClose:
		return c.Close, nil
	case FieldOpen:
		return c.Open, nil
	case FieldHigh:
		return c.High, nil
	case FieldLow:
		return c.Low, nil
	case FieldHL2:
		return (c.High + c.Low) / 2, nil
	case FieldHLC3:
		return (c.High + c.Low + c.Close) / 3, nil
	case FieldOHLC4:
		return (c.Open + c.High + c.Low + c.Close) / 4, nil
	case FieldVolume:
		return c.Volume, nil
	}
	return 0, fmt.Errorf("unknown candle field %q", name)
}

// BarUpdate is one event from the candle feed. IsPartial marks an in-place
// update of the still-open last bar.
type BarUpdate struct {
	Candle    Candle `json:"bar"`
	IsPartial bool   `json:"partial"`
}

// ParseTimeframe parses strings like "30s", "1m", "15m", "4h", "1d", "1w".
func ParseTimeframe(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
	}

	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
	}
	return time.Duration(n) * unit, nil
}

// FormatTimeframe is the inverse of ParseTimeframe, using the largest exact unit.
func FormatTimeframe(d time.Duration) string {
	units := []struct {
		suffix string
		size   time.Duration
	}{
		{"w", 7 * 24 * time.Hour},
		{"d", 24 * time.Hour},
		{"h", time.Hour},
		{"m", time.Minute},
		{"s", time.Second},
	}
	for _, u := range units {
		if d >= u.size && d%u.size == 0 {
			return fmt.Sprintf("%d%s", d/u.size, u.suffix)
		}
	}
	return d.String()
}
