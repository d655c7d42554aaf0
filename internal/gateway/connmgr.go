package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn represents a single WebSocket connection.
type Conn struct {
	ID          string
	Role        string // "bridge" | "client"
	Channel     string // bridge only: channel name
	WS          *websocket.Conn
	writeMu     sync.Mutex
	ConnectedAt time.Time
}

// Send writes a frame to the WebSocket connection (thread-safe).
func (c *Conn) Send(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.WS.WriteJSON(frame)
}

// ConnManager tracks all active WebSocket connections.
type ConnManager struct {
	mu    sync.RWMutex
	conns map[string]*Conn // connID → conn
	seq   atomic.Int64     // event sequence, shared by all broadcast paths
}

func NewConnManager() *ConnManager {
	return &ConnManager{conns: make(map[string]*Conn)}
}

// Add registers a new connection.
func (m *ConnManager) Add(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ID] = conn
}

// Remove unregisters a connection.
func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connID)
}

// Broadcast sends an event to all connections.
func (m *ConnManager) Broadcast(event string, payload any) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	frame := EventFrame(event, int(m.seq.Add(1)), payload)

	for _, conn := range m.conns {
		if err := conn.Send(frame); err != nil {
			slog.Warn("broadcast failed", "conn", conn.ID, "error", err)
		}
	}
}

// SendToChannel delivers an event to the bridges of a channel. It fails when
// no bridge for that channel is connected, so callers know the message never
// left the building.
func (m *ConnManager) SendToChannel(channel, event string, payload any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	frame := EventFrame(event, int(m.seq.Add(1)), payload)

	delivered := 0
	for _, conn := range m.conns {
		if conn.Role != RoleBridge || conn.Channel != channel {
			continue
		}
		if err := conn.Send(frame); err != nil {
			slog.Warn("send to channel failed", "channel", channel, "conn", conn.ID, "error", err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("no connected bridge for channel %q", channel)
	}
	return nil
}

// BridgeCount returns the number of connected bridges.
func (m *ConnManager) BridgeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, conn := range m.conns {
		if conn.Role == RoleBridge {
			count++
		}
	}
	return count
}

// ClientCount returns the number of connected clients.
func (m *ConnManager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, conn := range m.conns {
		if conn.Role == RoleClient {
			count++
		}
	}
	return count
}

// ReadFrame reads and parses a WebSocket message into a Frame.
func ReadFrame(ws *websocket.Conn) (Frame, error) {
	var frame Frame
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return frame, err
	}
	err = json.Unmarshal(msg, &frame)
	return frame, err
}
