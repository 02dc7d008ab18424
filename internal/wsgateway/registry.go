package wsgateway

import (
	"sync"
)

// ConnectionRegistry manages all active WebSocket connections
type ConnectionRegistry struct {
	connections map[string]*Connection // connection_id -> connection
	mu          sync.RWMutex
}

// NewConnectionRegistry creates a new connection registry
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		connections: make(map[string]*Connection),
	}
}

// Add adds a connection to the registry
func (r *ConnectionRegistry) Add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID] = conn
}

// Remove removes a connection and reports whether it was present
func (r *ConnectionRegistry) Remove(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connections[connectionID]; !exists {
		return false
	}
	delete(r.connections, connectionID)
	return true
}

// Get retrieves a connection by ID
func (r *ConnectionRegistry) Get(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.connections[connectionID]
	return conn, exists
}

// GetAll retrieves all connections
func (r *ConnectionRegistry) GetAll() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		connections = append(connections, conn)
	}
	return connections
}

// Receivers returns the connections that should get updates for indicatorID
func (r *ConnectionRegistry) Receivers(indicatorID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Connection
	for _, conn := range r.connections {
		if conn.ShouldReceive(indicatorID) {
			out = append(out, conn)
		}
	}
	return out
}

// Count returns the total number of connections
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
