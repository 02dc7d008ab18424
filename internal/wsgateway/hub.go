package wsgateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/indicator-engine/internal/config"
	"github.com/mohamedkhairy/indicator-engine/internal/distribution"
	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/mohamedkhairy/indicator-engine/pkg/logger"
)

// SnapshotSource provides the state a client receives on connect
type SnapshotSource interface {
	Snapshot() models.SnapshotMessage
	Outputs(id string) ([]string, bool)
}

// Hub manages WebSocket connections and broadcasts indicator updates
type Hub struct {
	config   config.WSGatewayConfig
	registry *ConnectionRegistry
	source   SnapshotSource
	upgrader websocket.Upgrader
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	detach   []func()

	// held while a snapshot is queued so no update slips in ahead of it
	broadcastMu sync.Mutex

	statsMu sync.RWMutex
	stats   HubStats
}

// HubStats holds statistics about the hub
type HubStats struct {
	ConnectionsTotal  int64
	ConnectionsActive int64
	UpdatesReceived   int64
	MessagesSent      int64
	MessagesDropped   int64
	LastUpdateTime    time.Time
}

// NewHub creates a new WebSocket hub
func NewHub(config config.WSGatewayConfig, source SnapshotSource) *Hub {
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 60 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config:   config,
		registry: NewConnectionRegistry(),
		source:   source,
		upgrader: websocket.Upgrader{
			// Origin checks belong to the fronting proxy
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the connection health monitor
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	logger.Info("Starting WebSocket hub",
		logger.Int("max_connections", h.config.MaxConnections),
		logger.Duration("ping_interval", h.config.PingInterval),
	)

	h.wg.Add(1)
	go h.monitorConnections()

	return nil
}

// Stop closes every connection and stops the hub
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	detach := h.detach
	h.detach = nil
	h.mu.Unlock()

	logger.Info("Stopping WebSocket hub")
	for _, fn := range detach {
		fn()
	}
	h.cancel()
	for _, conn := range h.registry.GetAll() {
		h.Unregister(conn)
	}
	h.wg.Wait()
	logger.Info("WebSocket hub stopped")
}

// Attach subscribes the hub to a distribution channel
func (h *Hub) Attach(ch *distribution.Channel) {
	unsub := ch.Subscribe(h.Broadcast)
	unsubErr := ch.OnError(h.handleChannelError)

	h.mu.Lock()
	h.detach = append(h.detach, unsub, unsubErr)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and registers the connection
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.config.MaxConnections > 0 && h.registry.Count() >= h.config.MaxConnections {
		logger.Warn("Max connections reached, rejecting new connection",
			logger.Int("max_connections", h.config.MaxConnections),
		)
		http.Error(w, "Max connections reached", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade connection", logger.ErrorField(err))
		return
	}

	conn := NewConnection(uuid.New().String(), ws, h.config.SendBuffer)
	h.Register(conn)

	logger.Info("WebSocket connection established",
		logger.String("connection_id", conn.ID),
		logger.String("remote_addr", r.RemoteAddr),
	)
}

// Register queues the snapshot for conn, adds it to the registry and
// starts its pumps.
func (h *Hub) Register(conn *Connection) {
	h.broadcastMu.Lock()
	if err := h.sendSnapshot(conn); err != nil {
		logger.Warn("Failed to queue snapshot",
			logger.ErrorField(err),
			logger.String("connection_id", conn.ID),
		)
	}
	h.registry.Add(conn)
	h.broadcastMu.Unlock()

	h.statsMu.Lock()
	h.stats.ConnectionsTotal++
	h.statsMu.Unlock()
	logger.WSConnections.Set(float64(h.registry.Count()))

	logger.Info("Connection registered",
		logger.String("connection_id", conn.ID),
		logger.Int("total_connections", h.registry.Count()),
	)

	if conn.Conn == nil {
		return
	}
	h.wg.Add(2)
	go h.writePump(conn)
	go h.readPump(conn)
}

// Unregister removes and closes a connection
func (h *Hub) Unregister(conn *Connection) {
	removed := h.registry.Remove(conn.ID)
	conn.Close()
	if !removed {
		return
	}
	logger.WSConnections.Set(float64(h.registry.Count()))

	logger.Info("Connection unregistered",
		logger.String("connection_id", conn.ID),
		logger.Int("total_connections", h.registry.Count()),
	)
}

// Broadcast sends an update envelope to every interested connection. It is
// a distribution.Subscriber.
func (h *Hub) Broadcast(u models.IndicatorUpdate) error {
	data, err := json.Marshal(models.NewUpdateMessage(u))
	if err != nil {
		return err
	}

	h.broadcastMu.Lock()
	connections := h.registry.Receivers(u.IndicatorID)
	sent, dropped := 0, 0
	for _, conn := range connections {
		if err := conn.enqueue(data); err != nil {
			dropped++
			continue
		}
		sent++
	}
	h.broadcastMu.Unlock()

	h.statsMu.Lock()
	h.stats.UpdatesReceived++
	h.stats.MessagesSent += int64(sent)
	h.stats.MessagesDropped += int64(dropped)
	h.stats.LastUpdateTime = time.Now()
	h.statsMu.Unlock()

	if dropped > 0 {
		logger.Warn("Dropped indicator update for slow connections",
			logger.String("indicator_id", u.IndicatorID),
			logger.Int("dropped", dropped),
		)
	}
	return nil
}

// handleChannelError tells clients that an update they would have received
// was discarded.
func (h *Hub) handleChannelError(ev distribution.ErrorEvent) {
	if ev.Kind != distribution.KindOverflow {
		return
	}
	for _, conn := range h.registry.Receivers(ev.Update.IndicatorID) {
		_ = conn.SendError("update_dropped", ev.Err.Error())
	}
}

// sendSnapshot queues the snapshot, narrowed to the connection's
// subscriptions when it has any.
func (h *Hub) sendSnapshot(conn *Connection) error {
	if h.source == nil {
		return nil
	}
	snap := h.source.Snapshot()
	conn.mu.RLock()
	if len(conn.Subscriptions) > 0 {
		filtered := make(map[string][]models.IndicatorPoint, len(conn.Subscriptions))
		for id, points := range snap.Indicators {
			if conn.Subscriptions[id] {
				filtered[id] = points
			}
		}
		snap.Indicators = filtered
	}
	conn.mu.RUnlock()
	return conn.SendJSON(snap)
}

func (h *Hub) knownIndicator(id string) bool {
	if h.source == nil {
		return true
	}
	_, ok := h.source.Outputs(id)
	return ok
}

func (h *Hub) requestSnapshot(conn *Connection) error {
	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()
	return h.sendSnapshot(conn)
}

// writePump pumps messages from the hub to the WebSocket connection
func (h *Hub) writePump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-conn.Done():
			return

		case message := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("Write failed",
					logger.ErrorField(err),
					logger.String("connection_id", conn.ID),
				)
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (h *Hub) readPump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.UpdateLastPong()
		conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket error",
					logger.ErrorField(err),
					logger.String("connection_id", conn.ID),
				)
			}
			return
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			_ = conn.SendError(CodeInvalidMessage, "failed to parse message")
			continue
		}

		if err := conn.HandleClientMessage(&clientMsg, h.knownIndicator, h.requestSnapshot); err != nil {
			if errors.Is(err, errSendBufferFull) {
				logger.Warn("Connection send buffer full", logger.String("connection_id", conn.ID))
				continue
			}
			logger.Debug("Failed to handle client message",
				logger.ErrorField(err),
				logger.String("connection_id", conn.ID),
			)
		}
	}
}

// monitorConnections removes connections that stopped answering pings
func (h *Hub) monitorConnections() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			staleThreshold := h.config.ReadTimeout * 2

			for _, conn := range h.registry.GetAll() {
				lastPong := conn.GetLastPong()
				if now.Sub(lastPong) > staleThreshold {
					logger.Info("Removing stale connection",
						logger.String("connection_id", conn.ID),
						logger.Duration("idle_time", now.Sub(lastPong)),
					)
					h.Unregister(conn)
				}
			}
		}
	}
}

// GetStats returns hub statistics
func (h *Hub) GetStats() HubStats {
	h.statsMu.RLock()
	defer h.statsMu.RUnlock()

	stats := h.stats
	stats.ConnectionsActive = int64(h.registry.Count())
	return stats
}
