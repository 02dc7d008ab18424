package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// MockCandleStorage is a mock implementation of CandleStorage for testing
type MockCandleStorage struct {
	Candles  []models.Candle
	QueryErr error
}

func (m *MockCandleStorage) GetCandles(ctx context.Context, symbol string, start, end time.Time) ([]models.Candle, error) {
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	var out []models.Candle
	for _, c := range m.Candles {
		if c.Symbol == symbol && !c.OpenTime.Before(start) && !c.OpenTime.After(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockCandleStorage) GetLatestCandles(ctx context.Context, symbol string, limit int) ([]models.Candle, error) {
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	var out []models.Candle
	for _, c := range m.Candles {
		if c.Symbol == symbol {
			out = append(out, c)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MockCandleStorage) Close() error {
	return nil
}

// PublishedMessage is a pub/sub message captured by MockRedisClient
type PublishedMessage struct {
	Channel string
	Payload string
}

// MockRedisClient is a mock implementation of RedisClient for testing
type MockRedisClient struct {
	mu         sync.Mutex
	Data       map[string]string
	TTLs       map[string]time.Duration
	StreamData []StreamMessage
	Acked      []string
	Published  []PublishedMessage
	PublishErr error
	SetErr     error
	ConsumeErr error
	PingErr    error
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{
		Data: make(map[string]string),
		TTLs: make(map[string]time.Duration),
	}
}

func (m *MockRedisClient) ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan StreamMessage, error) {
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan StreamMessage, len(m.StreamData))
	for _, msg := range m.StreamData {
		if msg.Stream == "" || msg.Stream == stream {
			msg.Stream = stream
			ch <- msg
		}
	}
	close(ch)
	return ch, nil
}

func (m *MockRedisClient) AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Acked = append(m.Acked, id)
	return nil
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.SetErr != nil {
		return m.SetErr
	}
	// Marshal to JSON like the real implementation
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Data[key] = string(jsonData)
	m.TTLs[key] = ttl
	return nil
}

func (m *MockRedisClient) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Data, key)
	delete(m.TTLs, key)
	return nil
}

func (m *MockRedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	jsonData, err := json.Marshal(message)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, PublishedMessage{Channel: channel, Payload: string(jsonData)})
	return nil
}

func (m *MockRedisClient) Ping(ctx context.Context) error {
	return m.PingErr
}

func (m *MockRedisClient) Close() error {
	return nil
}

// Snapshot returns copies of the captured keys and messages
func (m *MockRedisClient) Snapshot() (map[string]string, []PublishedMessage, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := make(map[string]string, len(m.Data))
	for k, v := range m.Data {
		data[k] = v
	}
	return data, append([]PublishedMessage(nil), m.Published...), append([]string(nil), m.Acked...)
}
