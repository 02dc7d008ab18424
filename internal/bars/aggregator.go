package bars

import (
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/mohamedkhairy/indicator-engine/pkg/logger"
)

// Aggregator builds coarse candles incrementally from closed fine candles.
// It produces the same candles as Resample over the same input. It is not
// safe for concurrent use; the owner serialises access.
type Aggregator struct {
	bucket  time.Duration
	forming *models.Candle
}

// NewAggregator creates an aggregator for the given bucket size
func NewAggregator(bucket time.Duration) *Aggregator {
	return &Aggregator{bucket: bucket}
}

// Add commits a closed fine candle. When it opens a new bucket the previous
// coarse candle is complete and is returned.
func (a *Aggregator) Add(c models.Candle) *models.Candle {
	closed, next := a.fold(c)
	a.forming = &next

	if closed != nil {
		logger.Debug("Coarse bar finalized",
			logger.Time("open_time", closed.OpenTime),
			logger.Duration("bucket", a.bucket),
			logger.Float64("close", closed.Close),
		)
	}
	return closed
}

// Peek returns what Add would produce for c without changing the aggregator.
func (a *Aggregator) Peek(c models.Candle) (closed *models.Candle, forming models.Candle) {
	return a.fold(c)
}

func (a *Aggregator) fold(c models.Candle) (*models.Candle, models.Candle) {
	start := BucketStart(c.OpenTime, a.bucket)
	if a.forming == nil {
		return nil, startBucket(c, a.bucket)
	}
	if !a.forming.OpenTime.Equal(start) {
		closed := *a.forming
		return &closed, startBucket(c, a.bucket)
	}
	next := *a.forming
	mergeInto(&next, c)
	return nil, next
}

// Forming returns a copy of the coarse candle still accumulating, or nil.
func (a *Aggregator) Forming() *models.Candle {
	if a.forming == nil {
		return nil
	}
	c := *a.forming
	return &c
}
