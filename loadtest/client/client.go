// Package client provides a WebSocket load test client for the radar
// server. A client onboards over HTTP, dials the socket with its session
// token and tracks per-connection metrics.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client -> Server message types.
const (
	TypeLocationUpdate = "location:update"
	TypeRadarSubscribe = "radar:subscribe"
	TypeChatRequest    = "chat:request"
	TypeChatAccept     = "chat:accept"
	TypeChatEnd        = "chat:end"
	TypeChatMessage    = "chat:message"
	TypePing           = "ping"
)

// Server -> Client message types.
const (
	TypeSessionReady   = "session:ready"
	TypeRadarUpdate    = "radar:update"
	TypeChatRequestAck = "chat:request:ack"
	TypeChatAccepted   = "chat:accepted"
	TypeError          = "error"
	TypePong           = "pong"
)

// Profile is the onboarding body sent to POST /session.
type Profile struct {
	Vibe    string   `json:"vibe"`
	Tags    []string `json:"tags,omitempty"`
	Visible bool     `json:"visible"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// Metrics tracks per-connection performance data.
type Metrics struct {
	OnboardLatency   time.Duration
	ConnectLatency   time.Duration
	MessagesReceived int64
	MessagesSent     int64
	Errors           int64
}

// Client is one simulated radar user.
type Client struct {
	conn      net.Conn
	sessionID string
	handle    string

	writeMu   sync.Mutex
	handlerMu sync.RWMutex
	handlers  map[string]func(json.RawMessage)
	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	onboard  time.Duration
	connect  time.Duration
	sent     atomic.Int64
	received atomic.Int64
	errors   atomic.Int64
}

// New onboards profile against apiBase and connects to wsURL with the
// issued token. It returns once the server has sent session:ready.
func New(ctx context.Context, apiBase, wsURL string, profile Profile) (*Client, error) {
	start := time.Now()
	token, err := onboard(ctx, apiBase, profile)
	if err != nil {
		return nil, err
	}
	c := &Client{
		handlers: make(map[string]func(json.RawMessage)),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		onboard:  time.Since(start),
	}

	start = time.Now()
	conn, _, _, err := ws.Dial(ctx, wsURL+"?token="+url.QueryEscape(token))
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	c.conn = conn
	c.connect = time.Since(start)

	go c.readLoop()

	select {
	case <-c.ready:
		return c, nil
	case <-c.done:
		return nil, fmt.Errorf("connection closed before session:ready")
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
}

func onboard(ctx context.Context, apiBase string, profile Profile) (string, error) {
	body, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("marshal profile: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/session", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("onboard: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("onboard: status %d", resp.StatusCode)
	}
	var created struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("onboard: decode: %w", err)
	}
	return created.Token, nil
}

// Send writes msg as a typed frame. It is goroutine-safe.
func (c *Client) Send(msgType string, payload any) error {
	fields := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return fmt.Errorf("payload must be an object: %w", err)
		}
	}
	fields["type"] = msgType
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.sent.Add(1)
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// On registers the handler for a server message type, replacing any
// previous one. Handlers run on the read goroutine.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.handlerMu.Lock()
	c.handlers[msgType] = handler
	c.handlerMu.Unlock()
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// SessionID returns the server-assigned session id.
func (c *Client) SessionID() string { return c.sessionID }

// Handle returns the server-assigned display handle.
func (c *Client) Handle() string { return c.handle }

// GetMetrics returns a snapshot of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	return Metrics{
		OnboardLatency:   c.onboard,
		ConnectLatency:   c.connect,
		MessagesReceived: c.received.Load(),
		MessagesSent:     c.sent.Load(),
		Errors:           c.errors.Load(),
	}
}

func (c *Client) readLoop() {
	defer c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.errors.Add(1)
			}
			return
		}
		c.received.Add(1)

		var envelope struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
			Handle    string `json:"handle"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}
		switch envelope.Type {
		case TypeSessionReady:
			if c.sessionID == "" {
				c.sessionID, c.handle = envelope.SessionID, envelope.Handle
				close(c.ready)
			}
		case TypeError:
			c.errors.Add(1)
		}

		c.handlerMu.RLock()
		handler := c.handlers[envelope.Type]
		c.handlerMu.RUnlock()
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}
