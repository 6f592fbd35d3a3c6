package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one authenticated WebSocket. A session may hold several
// connections at once (one per tab or device); they share SessionID.
type Connection struct {
	ID        string   // connection ID (UUID), distinct from the session
	SessionID string   // owning radar session
	Conn      net.Conn // the conn returned by Epoll.Add; read and write through it
	CreatedAt time.Time

	lastSeen   atomic.Int64 // unix nanos of the last frame received
	writeMu    sync.Mutex   // serializes writes to this connection
	processing atomic.Bool  // set while a worker reads a frame
}

// NewConnection wraps conn for sessionID.
func NewConnection(id, sessionID string, conn net.Conn) *Connection {
	now := time.Now()
	c := &Connection{ID: id, SessionID: sessionID, Conn: conn, CreatedAt: now}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// Touch records inbound activity.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns when the connection last delivered a frame.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// WriteMessage sends a text frame. The write mutex keeps concurrent pushes
// from interleaving frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager indexes live connections by connection ID, by net.Conn
// (for readiness lookups) and by session ID (for pushes).
type ConnectionManager struct {
	mu        sync.RWMutex
	byID      map[string]*Connection
	byConn    map[net.Conn]*Connection
	bySession map[string]map[string]*Connection
}

// NewConnectionManager creates an empty ConnectionManager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:      make(map[string]*Connection),
		byConn:    make(map[net.Conn]*Connection),
		bySession: make(map[string]map[string]*Connection),
	}
}

// Add registers conn in every index.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byConn[conn.Conn] = conn
	set, ok := cm.bySession[conn.SessionID]
	if !ok {
		set = make(map[string]*Connection)
		cm.bySession[conn.SessionID] = set
	}
	set[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove unregisters the connection with id and closes it. It returns the
// removed connection and whether it was the session's last one, or nil when
// the connection was already gone.
func (cm *ConnectionManager) Remove(id string) (removed *Connection, lastForSession bool) {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byConn, conn.Conn)
		set := cm.bySession[conn.SessionID]
		delete(set, id)
		if len(set) == 0 {
			delete(cm.bySession, conn.SessionID)
			lastForSession = true
		}
	}
	cm.mu.Unlock()

	if !ok {
		return nil, false
	}
	_ = conn.Close()
	return conn, lastForSession
}

// Get returns the connection with id, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

// GetByConn returns the connection wrapping c, or nil.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byConn[c]
}

// BySession returns a snapshot of sessionID's connections.
func (cm *ConnectionManager) BySession(sessionID string) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	set := cm.bySession[sessionID]
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// Sessions returns the number of sessions with at least one connection.
func (cm *ConnectionManager) Sessions() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.bySession)
}

// All returns a snapshot of every live connection.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
