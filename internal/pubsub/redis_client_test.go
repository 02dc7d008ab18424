package pubsub

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mohamedkhairy/indicator-engine/internal/config"
	"github.com/mohamedkhairy/indicator-engine/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, storage.RedisClient) {
	t.Helper()
	s := miniredis.RunT(t)
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)

	client, err := NewRedisClient(config.RedisConfig{
		Host:           s.Host(),
		Port:           port,
		PoolSize:       2,
		ConnectTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return s, client
}

func TestRedisClient_SetAndDelete(t *testing.T) {
	s, client := newMiniredisClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "ind:ema_20", map[string]float64{"value": 101.5}, time.Minute))

	raw, err := s.Get("ind:ema_20")
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":101.5}`, raw)
	assert.Equal(t, time.Minute, s.TTL("ind:ema_20"))

	require.NoError(t, client.Delete(ctx, "ind:ema_20"))
	assert.False(t, s.Exists("ind:ema_20"))
}

func TestRedisClient_Publish(t *testing.T) {
	s, client := newMiniredisClient(t)
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()
	sub := rdb.Subscribe(ctx, "indicators.updated")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, "indicators.updated", map[string]string{"indicatorId": "rsi_14"}))

	select {
	case msg := <-sub.Channel():
		var payload map[string]string
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
		assert.Equal(t, "rsi_14", payload["indicatorId"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestRedisClient_ConsumeAndAcknowledge(t *testing.T) {
	s, client := newMiniredisClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := client.ConsumeFromStream(ctx, "candles.msft", "engine", "engine-1")
	require.NoError(t, err)

	id, err := s.XAdd("candles.msft", "*", []string{"bar", `{"symbol":"MSFT"}`, "partial", "false"})
	require.NoError(t, err)

	var msg storage.StreamMessage
	select {
	case msg = <-messages:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for stream message")
	}
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, "candles.msft", msg.Stream)
	assert.Equal(t, `{"symbol":"MSFT"}`, msg.Values["bar"])

	require.NoError(t, client.AcknowledgeMessage(ctx, "candles.msft", "engine", msg.ID))

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()
	pending, err := rdb.XPending(ctx, "candles.msft", "engine").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)

	cancel()
	for range messages {
	}
}

func TestRedisClient_Ping(t *testing.T) {
	s, client := newMiniredisClient(t)
	require.NoError(t, client.Ping(context.Background()))

	s.Close()
	assert.Error(t, client.Ping(context.Background()))
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	host := s.Host()
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)
	s.Close()

	_, err = NewRedisClient(config.RedisConfig{
		Host:           host,
		Port:           port,
		ConnectTimeout: 200 * time.Millisecond,
	})
	assert.Error(t, err)
}
