package chat

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnectionRegistry tracks open chat sockets per user. A user may hold
// several at once (one per browser tab).
type ConnectionRegistry struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		active: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Register adds conn for userID.
func (m *ConnectionRegistry) Register(userID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[*websocket.Conn]struct{})
	}
	m.active[userID][conn] = struct{}{}
	slog.Info("Chat connection registered", "user_id", userID, "connections", len(m.active[userID]))
}

// Unregister removes conn for userID.
func (m *ConnectionRegistry) Unregister(userID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.active[userID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; !exists {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(m.active, userID)
	}
	slog.Info("Chat connection unregistered", "user_id", userID)
}

// Count returns the number of open sockets for userID.
func (m *ConnectionRegistry) Count(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[userID])
}

// Total returns the number of open sockets across users.
func (m *ConnectionRegistry) Total() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, conns := range m.active {
		n += len(conns)
	}
	return n
}

// CloseAll closes every registered socket with StatusGoingAway, used on
// server shutdown. Clients treat it as retryable and reconnect once the
// server is back.
func (m *ConnectionRegistry) CloseAll(reason string) {
	m.mu.Lock()
	snapshot := m.active
	m.active = make(map[string]map[*websocket.Conn]struct{})
	m.mu.Unlock()

	for userID, conns := range snapshot {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, reason)
		}
		slog.Info("Chat connections closed", "user_id", userID, "reason", reason)
	}
}
