package bars

import (
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// BucketStart returns floor(t / bucket) * bucket on the Unix millisecond axis, in UTC.
func BucketStart(t time.Time, bucket time.Duration) time.Time {
	size := bucket.Milliseconds()
	if size <= 0 {
		return t.UTC()
	}
	ms := t.UnixMilli()
	q := ms / size
	if ms%size != 0 && ms < 0 {
		q--
	}
	return time.UnixMilli(q * size).UTC()
}

// startBucket opens a coarse candle from its first member.
func startBucket(c models.Candle, bucket time.Duration) models.Candle {
	c.OpenTime = BucketStart(c.OpenTime, bucket)
	return c
}

// mergeInto folds a later member into a coarse candle.
func mergeInto(coarse *models.Candle, c models.Candle) {
	if c.High > coarse.High {
		coarse.High = c.High
	}
	if c.Low < coarse.Low {
		coarse.Low = c.Low
	}
	coarse.Close = c.Close
	coarse.Volume += c.Volume
}

// Resample aggregates an ordered fine-timeframe series into coarse buckets:
// open of the first member, max high, min low, close of the last member and
// summed volume. Empty buckets produce no candle.
func Resample(candles []models.Candle, bucket time.Duration) []models.Candle {
	out := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		start := BucketStart(c.OpenTime, bucket)
		if n := len(out); n > 0 && out[n-1].OpenTime.Equal(start) {
			mergeInto(&out[n-1], c)
			continue
		}
		out = append(out, startBucket(c, bucket))
	}
	return out
}
