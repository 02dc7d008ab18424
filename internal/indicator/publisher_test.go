package indicator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/config"
	"github.com/mohamedkhairy/indicator-engine/internal/distribution"
	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/mohamedkhairy/indicator-engine/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUpdate(id string, n int, partial bool) models.IndicatorUpdate {
	points := make([]models.IndicatorPoint, n)
	for i := range points {
		points[i] = models.IndicatorPoint{
			Time:   engineStart.Add(time.Duration(i) * time.Minute),
			Values: models.Values{"value": models.Number(float64(10 + i))},
		}
	}
	return models.IndicatorUpdate{IndicatorID: id, Points: points, Partial: partial}
}

func TestPublisherConfigFrom(t *testing.T) {
	cfg := PublisherConfigFrom(config.PublisherConfig{KeyPrefix: "x:", TTL: time.Minute})
	assert.Equal(t, "x:", cfg.IndicatorKeyPrefix)
	assert.Equal(t, time.Minute, cfg.IndicatorTTL)
	assert.Equal(t, "indicators.updated", cfg.UpdateChannel)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
}

func TestPublisher_PublishUpdate(t *testing.T) {
	redis := storage.NewMockRedisClient()
	p := NewPublisher(redis, DefaultPublisherConfig())

	require.NoError(t, p.PublishUpdate(testUpdate("ema_20", 3, true)))

	data, published, _ := redis.Snapshot()
	require.Contains(t, data, "ind:ema_20")
	assert.Equal(t, 10*time.Minute, redis.TTLs["ind:ema_20"])

	var latest LatestPoint
	require.NoError(t, json.Unmarshal([]byte(data["ind:ema_20"]), &latest))
	assert.Equal(t, "ema_20", latest.IndicatorID)
	assert.True(t, latest.Partial)
	assert.True(t, latest.Time.Equal(engineStart.Add(2*time.Minute)))
	assert.Equal(t, models.Number(12), latest.Values["value"])

	require.Len(t, published, 1)
	assert.Equal(t, "indicators.updated", published[0].Channel)

	var msg models.UpdateMessage
	require.NoError(t, json.Unmarshal([]byte(published[0].Payload), &msg))
	assert.Equal(t, models.MessageTypeUpdate, msg.Type)
	assert.Equal(t, "ema_20", msg.IndicatorID)
	assert.Len(t, msg.Points, 1)
}

func TestPublisher_EmptyUpdateIsIgnored(t *testing.T) {
	redis := storage.NewMockRedisClient()
	p := NewPublisher(redis, DefaultPublisherConfig())

	require.NoError(t, p.PublishUpdate(models.IndicatorUpdate{IndicatorID: "sma"}))

	data, published, _ := redis.Snapshot()
	assert.Empty(t, data)
	assert.Empty(t, published)
}

func TestPublisher_Errors(t *testing.T) {
	t.Run("set failure is returned", func(t *testing.T) {
		redis := storage.NewMockRedisClient()
		redis.SetErr = errors.New("connection refused")
		p := NewPublisher(redis, DefaultPublisherConfig())

		err := p.PublishUpdate(testUpdate("sma", 1, false))
		require.Error(t, err)
		assert.ErrorIs(t, err, redis.SetErr)
	})

	t.Run("notify failure is only logged", func(t *testing.T) {
		redis := storage.NewMockRedisClient()
		redis.PublishErr = errors.New("connection refused")
		p := NewPublisher(redis, DefaultPublisherConfig())

		require.NoError(t, p.PublishUpdate(testUpdate("sma", 1, false)))
		data, _, _ := redis.Snapshot()
		assert.Contains(t, data, "ind:sma")
	})
}

func TestPublisher_AttachAndForget(t *testing.T) {
	redis := storage.NewMockRedisClient()
	p := NewPublisher(redis, DefaultPublisherConfig())
	ch := distribution.NewChannel(distribution.DefaultConfig())
	p.Attach(ch)

	require.NoError(t, ch.Publish(testUpdate("rsi", 2, false)))
	require.NoError(t, ch.Flush(context.Background()))

	data, _, _ := redis.Snapshot()
	assert.Contains(t, data, "ind:rsi")

	p.Forget("rsi")
	data, _, _ = redis.Snapshot()
	assert.NotContains(t, data, "ind:rsi")

	p.Detach()
	require.NoError(t, ch.Publish(testUpdate("macd", 1, false)))
	require.NoError(t, ch.Flush(context.Background()))
	data, _, _ = redis.Snapshot()
	assert.NotContains(t, data, "ind:macd")
}
