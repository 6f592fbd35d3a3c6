// Package ws is the radar's WebSocket transport. It authenticates and
// upgrades HTTP requests, multiplexes reads over epoll into a bounded worker
// pool, tracks which connections belong to which session and pushes frames
// to every connection of a session.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nearby/radar/internal/apperr"
	"github.com/nearby/radar/internal/metrics"
)

// MaxFrameSize caps an inbound data frame. Larger frames drop the connection.
const MaxFrameSize = 64 << 10

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string
	WorkerPoolSize int           // max concurrent frame readers
	MaxConnections int           // hard cap on open connections
	ReadTimeout    time.Duration // per-frame read deadline
	WriteTimeout   time.Duration // per-push write deadline
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns the production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 10000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Handler is the application side of the transport.
type Handler interface {
	// Authenticate resolves the upgrade request to a session ID. A non-nil
	// error rejects the request before the upgrade.
	Authenticate(r *http.Request) (string, error)
	// OnConnect runs after the connection is registered.
	OnConnect(c *Connection)
	// OnMessage runs on a worker goroutine for every data frame.
	OnMessage(c *Connection, data []byte)
	// OnDisconnect runs once per connection after it is unregistered.
	// last is true when the session has no connections left.
	OnDisconnect(c *Connection, last bool)
}

// Server is the WebSocket server.
type Server struct {
	config     ServerConfig
	handler    Handler
	epoll      *Epoll
	conns      *ConnectionManager
	workerPool chan struct{}
	mux        *http.ServeMux
	httpServer *http.Server
	done       chan struct{}
	startedAt  time.Time
}

// NewServer creates a Server. Extra HTTP routes can be added with Handle
// before Serve.
func NewServer(config ServerConfig, handler Handler) *Server {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	s := &Server{
		config:     config,
		handler:    handler,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		mux:        http.NewServeMux(),
		done:       make(chan struct{}),
	}
	s.mux.HandleFunc("GET /ws", s.handleUpgrade)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

// Handle registers an extra HTTP route.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("ws: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}
	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.eventLoop()
	s.startHeartbeat(s.config.Heartbeat)

	log.Info().Str("component", "ws").Str("addr", ln.Addr().String()).
		Int("workers", s.config.WorkerPoolSize).Int("max_conns", s.config.MaxConnections).
		Msg("server listening")

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	sessionID, err := s.handler.Authenticate(r)
	if err != nil {
		WriteHTTPError(w, http.StatusUnauthorized, err)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Debug().Err(err).Str("component", "ws").Msg("upgrade failed")
		return
	}

	conn, err := s.epoll.Add(netConn)
	if err != nil {
		log.Error().Err(err).Str("component", "ws").Str("session_id", sessionID).Msg("epoll add failed")
		_ = netConn.Close()
		return
	}

	c := NewConnection(uuid.NewString(), sessionID, conn)
	s.conns.Add(c)
	metrics.ConnectionsTotal.Inc()

	log.Debug().Str("component", "ws").Str("conn_id", c.ID).Str("session_id", sessionID).
		Int("total", s.conns.Count()).Msg("connection opened")

	s.handler.OnConnect(c)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Sessions    int    `json:"sessions"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Sessions:    s.conns.Sessions(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// eventLoop hands every ready connection to a worker, bounded by the pool.
func (s *Server) eventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		ready, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			log.Error().Err(err).Str("component", "ws").Msg("epoll wait failed")
			continue
		}

		for _, conn := range ready {
			c := s.conns.GetByConn(conn)
			if c == nil || !c.processing.CompareAndSwap(false, true) {
				continue
			}
			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				defer s.epoll.Rearm(conn)
				defer c.processing.Store(false)
				s.readFrame(c)
			}()
		}
	}
}

// readFrame reads one frame from c. Control frames only refresh liveness;
// close frames and read errors drop the connection.
func (s *Server) readFrame(c *Connection) {
	if s.config.ReadTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}
	_ = c.Conn.SetReadDeadline(time.Time{})
	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}
	if header.Length > MaxFrameSize {
		log.Warn().Str("component", "ws").Str("conn_id", c.ID).Int64("length", header.Length).Msg("frame too large")
		s.RemoveConnection(c)
		return
	}

	data := make([]byte, header.Length)
	if _, err := io.ReadFull(reader, data); err != nil {
		s.RemoveConnection(c)
		return
	}
	if len(data) > 0 {
		s.handler.OnMessage(c, data)
	}
}

// RemoveConnection unregisters and closes c. Concurrent removals of the
// same connection run the disconnect callback once.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}
	removed, last := s.conns.Remove(c.ID)
	if removed == nil {
		return
	}
	metrics.ConnectionsTotal.Dec()
	log.Debug().Str("component", "ws").Str("conn_id", c.ID).Str("session_id", c.SessionID).
		Int("total", s.conns.Count()).Msg("connection closed")
	s.handler.OnDisconnect(c, last)
}

// SendToSession writes data to every connection of sessionID and returns how
// many writes succeeded. Connections that fail to write are dropped.
func (s *Server) SendToSession(sessionID string, data []byte) int {
	sent := 0
	for _, c := range s.conns.BySession(sessionID) {
		if err := s.write(c, data); err != nil {
			log.Debug().Err(err).Str("component", "ws").Str("conn_id", c.ID).Msg("push failed")
			s.RemoveConnection(c)
			continue
		}
		sent++
	}
	return sent
}

func (s *Server) write(c *Connection, data []byte) error {
	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		defer func() { _ = c.Conn.SetWriteDeadline(time.Time{}) }()
	}
	return c.WriteMessage(data)
}

// Connections exposes the connection registry.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops accepting requests, closes every connection and releases
// the poller.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Str("component", "ws").Msg("shutting down server")
	close(s.done)

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}
	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	log.Info().Str("component", "ws").Msg("server stopped")
	return err
}

// WriteHTTPError writes a JSON error body, carrying the business code when
// err is one.
func WriteHTTPError(w http.ResponseWriter, status int, err error) {
	body := struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		ExpiresAt int64  `json:"expires_at,omitempty"`
	}{Code: "bad_request", Message: err.Error()}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Code, body.Message = string(ae.Code), ae.Message
		if !ae.ExpiresAt.IsZero() {
			body.ExpiresAt = ae.ExpiresAt.UnixMilli()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
