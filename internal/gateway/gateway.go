// Package gateway connects the WebSocket transport to the radar service. It
// authenticates connections, turns client frames into service calls, fans
// service notifications out to every connection of a session and keeps
// radar subscribers up to date.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nearby/radar/internal/apperr"
	"github.com/nearby/radar/internal/metrics"
	"github.com/nearby/radar/internal/protocol"
	"github.com/nearby/radar/internal/radar"
	"github.com/nearby/radar/internal/ratelimit"
	"github.com/nearby/radar/internal/ws"
)

// DefaultRadarDebounce coalesces bursts of state changes into one refresh.
const DefaultRadarDebounce = 250 * time.Millisecond

// Sender delivers an encoded frame to every connection of a session.
type Sender interface {
	SendToSession(sessionID string, data []byte) int
}

// Config holds gateway settings.
type Config struct {
	// RadarDebounce delays subscriber refreshes after a change. Zero
	// refreshes synchronously.
	RadarDebounce time.Duration
}

// Gateway implements ws.Handler and chat.Notifier.
type Gateway struct {
	svc        *radar.Service
	limiter    *ratelimit.Limiter
	config     Config
	dispatcher *ws.MessageDispatcher

	mu         sync.Mutex
	sender     Sender
	subscribed map[string]struct{}
	timer      *time.Timer
	closed     bool
}

// New creates a Gateway and registers it as svc's notifier. limiter may be
// nil to disable rate limiting.
func New(svc *radar.Service, limiter *ratelimit.Limiter, config Config) *Gateway {
	g := &Gateway{
		svc:        svc,
		limiter:    limiter,
		config:     config,
		dispatcher: ws.NewMessageDispatcher(),
		subscribed: make(map[string]struct{}),
	}
	g.registerHandlers()
	svc.SetNotifier(g)
	svc.OnChange(g.scheduleRefresh)
	return g
}

// SetSender wires the transport. It is set after construction because the
// server itself needs the gateway as its handler.
func (g *Gateway) SetSender(s Sender) {
	g.mu.Lock()
	g.sender = s
	g.mu.Unlock()
}

// Notify encodes payload and pushes it to every connection of sessionID.
func (g *Gateway) Notify(sessionID, msgType string, payload any) {
	g.mu.Lock()
	sender := g.sender
	g.mu.Unlock()
	if sender == nil {
		return
	}

	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("component", "gateway").Str("type", msgType).Msg("failed to build push")
		return
	}
	sender.SendToSession(sessionID, data)
}

// Authenticate resolves the ?token= query parameter to a live session.
func (g *Gateway) Authenticate(r *http.Request) (string, error) {
	sess, ok := g.svc.Authenticate(r.URL.Query().Get("token"))
	if !ok {
		return "", apperr.ErrInvalidSession
	}
	return sess.ID, nil
}

// OnConnect greets the new connection with session:ready.
func (g *Gateway) OnConnect(c *ws.Connection) {
	sess, ok := g.svc.Store().Get(c.SessionID)
	if !ok {
		ws.SendError(c, apperr.ErrInvalidSession)
		return
	}
	data, err := protocol.NewServerMessage(protocol.TypeSessionReady, protocol.SessionReadyMsg{
		SessionID: sess.ID,
		Handle:    sess.Handle,
		ExpiresAt: sess.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return
	}
	if err := c.WriteMessage(data); err != nil {
		log.Debug().Err(err).Str("component", "gateway").Str("conn_id", c.ID).Msg("session:ready failed")
	}
}

// OnMessage dispatches one client frame.
func (g *Gateway) OnMessage(c *ws.Connection, data []byte) {
	g.dispatcher.Dispatch(c, data)
}

// OnDisconnect drops the radar subscription once a session has no
// connections left. The session itself lives until its TTL.
func (g *Gateway) OnDisconnect(c *ws.Connection, last bool) {
	if last {
		g.Unsubscribe(c.SessionID)
	}
}

// Subscribe adds sessionID to the radar subscribers.
func (g *Gateway) Subscribe(sessionID string) {
	g.mu.Lock()
	g.subscribed[sessionID] = struct{}{}
	g.mu.Unlock()
}

// Unsubscribe removes sessionID from the radar subscribers.
func (g *Gateway) Unsubscribe(sessionID string) {
	g.mu.Lock()
	delete(g.subscribed, sessionID)
	g.mu.Unlock()
}

// Subscribed reports whether sessionID receives radar updates.
func (g *Gateway) Subscribed(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.subscribed[sessionID]
	return ok
}

// PushRadar ranks sessionID's radar and pushes it.
func (g *Gateway) PushRadar(sessionID string) error {
	entries, err := g.svc.Radar(sessionID)
	if err != nil {
		return err
	}
	g.Notify(sessionID, protocol.TypeRadarUpdate, radarUpdate(entries))
	metrics.RadarUpdates.Inc()
	return nil
}

// RefreshAll pushes a fresh radar to every subscriber. Subscribers whose
// session is gone are dropped.
func (g *Gateway) RefreshAll() {
	g.mu.Lock()
	g.timer = nil
	ids := make([]string, 0, len(g.subscribed))
	for id := range g.subscribed {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	for _, id := range ids {
		if err := g.PushRadar(id); err != nil {
			g.Unsubscribe(id)
		}
	}
}

// Close stops any pending refresh.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()
}

func (g *Gateway) scheduleRefresh() {
	if g.config.RadarDebounce <= 0 {
		g.RefreshAll()
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.timer != nil || len(g.subscribed) == 0 {
		return
	}
	g.timer = time.AfterFunc(g.config.RadarDebounce, g.RefreshAll)
}

// allow applies rule to id and converts a rejection to a rate_limited error
// carrying the window reset. Limiter errors fail open.
func (g *Gateway) allow(id string, rule ratelimit.Rule) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	d, _ := g.limiter.Allow(ctx, id, rule)
	if !d.Allowed {
		return apperr.WithExpiry(apperr.ErrRateLimited, d.RetryAt)
	}
	return nil
}

func radarUpdate(entries []radar.Entry) protocol.RadarUpdateMsg {
	out := protocol.RadarUpdateMsg{Entries: make([]protocol.RadarEntry, len(entries))}
	for i, e := range entries {
		out.Entries[i] = protocol.RadarEntry{
			SessionID:  e.SessionID,
			Handle:     e.Handle,
			Vibe:       string(e.Vibe),
			Tags:       e.Tags,
			SharedTags: e.SharedTags,
			Score:      e.Score,
			Tier:       string(e.Tier),
		}
	}
	return out
}
