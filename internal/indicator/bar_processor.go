package indicator

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/mohamedkhairy/indicator-engine/internal/storage"
)

// BarProcessorInterface defines the interface for processing feed events.
// Pipeline is the production implementation.
type BarProcessorInterface interface {
	ProcessBar(update models.BarUpdate) error
}

// DecodeBarUpdate decodes a candle feed message. The candle is JSON under
// "bar"; "partial" marks an in-place update of the still-open bar.
func DecodeBarUpdate(msg storage.StreamMessage) (models.BarUpdate, error) {
	var update models.BarUpdate

	raw, ok := msg.Values["bar"]
	if !ok {
		return update, models.NewValidationError("bar", "no bar data found in message")
	}
	barJSON, ok := raw.(string)
	if !ok {
		return update, models.NewValidationError("bar", fmt.Sprintf("expected JSON string, got %T", raw))
	}
	if err := json.Unmarshal([]byte(barJSON), &update.Candle); err != nil {
		return update, &models.ValidationError{Field: "bar", Reason: "failed to unmarshal bar", Err: err}
	}

	partial, err := parseFlag(msg.Values["partial"])
	if err != nil {
		return update, &models.ValidationError{Field: "partial", Err: err}
	}
	update.IsPartial = partial
	return update, nil
}

func parseFlag(v interface{}) (bool, error) {
	switch x := v.(type) {
	case nil:
		return false, nil
	case bool:
		return x, nil
	case string:
		if x == "" {
			return false, nil
		}
		return strconv.ParseBool(x)
	default:
		return false, fmt.Errorf("unsupported flag type %T", v)
	}
}
