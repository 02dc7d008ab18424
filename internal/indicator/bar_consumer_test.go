package indicator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/mohamedkhairy/indicator-engine/internal/pubsub"
	"github.com/mohamedkhairy/indicator-engine/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barMessage(t *testing.T, id string, c models.Candle, partial interface{}) storage.StreamMessage {
	t.Helper()
	raw, err := json.Marshal(c)
	require.NoError(t, err)
	values := map[string]interface{}{"bar": string(raw)}
	if partial != nil {
		values["partial"] = partial
	}
	return storage.StreamMessage{ID: id, Values: values}
}

type recordingProcessor struct {
	updates []models.BarUpdate
	err     error
}

func (r *recordingProcessor) ProcessBar(u models.BarUpdate) error {
	r.updates = append(r.updates, u)
	return r.err
}

func TestDecodeBarUpdate(t *testing.T) {
	c := testCandles(1)[0]

	t.Run("closed bar", func(t *testing.T) {
		u, err := DecodeBarUpdate(barMessage(t, "1-0", c, nil))
		require.NoError(t, err)
		assert.False(t, u.IsPartial)
		assert.Equal(t, c.Close, u.Candle.Close)
		assert.True(t, u.Candle.OpenTime.Equal(c.OpenTime))
	})

	t.Run("partial flag forms", func(t *testing.T) {
		for _, flag := range []interface{}{true, "true", "1"} {
			u, err := DecodeBarUpdate(barMessage(t, "1-0", c, flag))
			require.NoError(t, err)
			assert.True(t, u.IsPartial, "%v", flag)
		}
		u, err := DecodeBarUpdate(barMessage(t, "1-0", c, ""))
		require.NoError(t, err)
		assert.False(t, u.IsPartial)
	})

	tests := []struct {
		name   string
		values map[string]interface{}
	}{
		{"missing bar", map[string]interface{}{}},
		{"bar not a string", map[string]interface{}{"bar": 42}},
		{"bad json", map[string]interface{}{"bar": "{"}},
		{"bad partial", map[string]interface{}{"bar": `{"close":1}`, "partial": "maybe"}},
		{"partial wrong type", map[string]interface{}{"bar": `{"close":1}`, "partial": 3.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBarUpdate(storage.StreamMessage{ID: "1-0", Values: tt.values})
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}

func TestBarHandler(t *testing.T) {
	c := testCandles(1)[0]

	t.Run("passes matching symbol", func(t *testing.T) {
		proc := &recordingProcessor{}
		h := NewBarHandler(proc, "msft")
		require.NoError(t, h.HandleMessage(barMessage(t, "1-0", c, "false")))
		require.Len(t, proc.updates, 1)
	})

	t.Run("rejects other symbol", func(t *testing.T) {
		proc := &recordingProcessor{}
		h := NewBarHandler(proc, "AAPL")
		err := h.HandleMessage(barMessage(t, "1-0", c, nil))
		assert.ErrorIs(t, err, models.ErrValidation)
		assert.Empty(t, proc.updates)
	})

	t.Run("returns processor error", func(t *testing.T) {
		proc := &recordingProcessor{err: errors.New("boom")}
		h := NewBarHandler(proc, "")
		assert.ErrorIs(t, h.HandleMessage(barMessage(t, "1-0", c, nil)), proc.err)
	})

	t.Run("no processor", func(t *testing.T) {
		h := NewBarHandler(nil, "")
		assert.Error(t, h.HandleMessage(barMessage(t, "1-0", c, nil)))
	})
}

func TestBarConsumer_FeedsPipeline(t *testing.T) {
	p, ch := newTestPipeline(t)
	require.NoError(t, p.AddIndicator(models.IndicatorSpec{ID: "sma", Name: "sma", Params: map[string]float64{"length": 2}}))

	candles := testCandles(4)
	redis := storage.NewMockRedisClient()
	redis.StreamData = []storage.StreamMessage{
		barMessage(t, "1-0", candles[0], nil),
		barMessage(t, "2-0", candles[1], nil),
		barMessage(t, "3-0", candles[0], nil), // stale
		{ID: "4-0", Values: map[string]interface{}{"bar": "not json"}},
		barMessage(t, "5-0", candles[2], "true"),
		barMessage(t, "6-0", candles[2], nil),
	}

	cfg := pubsub.DefaultStreamConsumerConfig("candles.msft", "engine", "engine-1")
	consumer := NewBarConsumer(redis, cfg, p, "MSFT")
	require.NoError(t, consumer.Start())
	consumer.Wait()
	consumer.Stop()
	require.NoError(t, ch.Flush(context.Background()))

	_, _, acked := redis.Snapshot()
	assert.Equal(t, []string{"1-0", "2-0", "3-0", "4-0", "5-0", "6-0"}, acked)

	stats := consumer.GetStats()
	assert.Equal(t, int64(4), stats.MessagesProcessed)
	assert.Equal(t, int64(2), stats.MessagesRejected)

	series, ok := ch.Series("sma")
	require.True(t, ok)
	require.Len(t, series, 3)
	assert.True(t, series[2].Values["value"].Defined)
	assert.Len(t, p.Engine().Candles(), 3)
}
