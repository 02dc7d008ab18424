package wsgateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

var errSendBufferFull = errors.New("send buffer full")

// Connection represents a WebSocket connection with a client
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	Send          chan []byte
	Subscriptions map[string]bool // indicator_id -> subscribed
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	lastPong      time.Time
	createdAt     time.Time
}

// NewConnection creates a new WebSocket connection
func NewConnection(id string, conn *websocket.Conn, sendBuffer int) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:            id,
		Conn:          conn,
		Send:          make(chan []byte, sendBuffer),
		Subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
		createdAt:     time.Now(),
		lastPong:      time.Now(),
	}
}

// Subscribe limits the connection to the given indicators
func (c *Connection) Subscribe(indicatorIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range indicatorIDs {
		c.Subscriptions[id] = true
	}
}

// Unsubscribe removes indicators from the connection's filter
func (c *Connection) Unsubscribe(indicatorIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range indicatorIDs {
		delete(c.Subscriptions, id)
	}
}

// IsSubscribed checks if the connection is subscribed to an indicator
func (c *Connection) IsSubscribed(indicatorID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Subscriptions[indicatorID]
}

// ShouldReceive reports whether updates for indicatorID go to this
// connection. With no subscriptions a connection receives everything.
func (c *Connection) ShouldReceive(indicatorID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.Subscriptions) == 0 {
		return true
	}
	return c.Subscriptions[indicatorID]
}

// UpdateLastPong updates the last pong time
func (c *Connection) UpdateLastPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPong = time.Now()
}

// GetLastPong returns the last pong time
func (c *Connection) GetLastPong() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPong
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close closes the connection. It is safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}

// enqueue hands a frame to the write pump without blocking. Slow clients
// lose frames rather than stall the broadcaster.
func (c *Connection) enqueue(data []byte) error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// SendJSON marshals v and queues it for the client
func (c *Connection) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

// SendError sends an error message to the connection
func (c *Connection) SendError(code string, message string) error {
	return c.SendJSON(models.ErrorMessage{
		Type:    models.MessageTypeError,
		Code:    code,
		Message: message,
	})
}
