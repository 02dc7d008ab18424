package bars

import (
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// Align maps a coarse indicator series onto fine bar times.
//
// With confirmOnClose each fine bar reads the latest coarse point whose
// bucket started before the fine bar's bucket, so it never sees the bucket
// still accumulating. Without it the fine bar reads its own bucket's point.
// Fine bars with no such coarse point get undefined outputs.
//
// fine and coarse must both be in ascending time order.
func Align(fine []time.Time, coarse []models.IndicatorPoint, bucket time.Duration, confirmOnClose bool, outputs []string) []models.IndicatorPoint {
	out := make([]models.IndicatorPoint, len(fine))
	j := -1
	for i, t := range fine {
		b := BucketStart(t, bucket)
		for j+1 < len(coarse) && visible(coarse[j+1].Time, b, confirmOnClose) {
			j++
		}

		out[i].Time = t
		if j < 0 {
			out[i].Values = models.Undefined(outputs)
			continue
		}
		out[i].Values = coarse[j].Values.Clone()
	}
	return out
}

func visible(coarseStart, fineBucket time.Time, confirmOnClose bool) bool {
	if confirmOnClose {
		return coarseStart.Before(fineBucket)
	}
	return !coarseStart.After(fineBucket)
}
