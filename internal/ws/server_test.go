package ws

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	gws "github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearby/radar/internal/apperr"
)

type recordingConn struct {
	net.Conn
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (r *recordingConn) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, net.ErrClosed
	}
	return r.buf.Write(p)
}

func (r *recordingConn) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recordingConn) SetReadDeadline(time.Time) error  { return nil }
func (r *recordingConn) SetWriteDeadline(time.Time) error { return nil }

func (r *recordingConn) frames(t *testing.T) []gws.Frame {
	t.Helper()
	r.mu.Lock()
	rd := bytes.NewReader(r.buf.Bytes())
	r.mu.Unlock()
	var out []gws.Frame
	for rd.Len() > 0 {
		f, err := gws.ReadFrame(rd)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

type testHandler struct {
	mu           sync.Mutex
	connected    []string
	disconnected []bool
}

func (h *testHandler) Authenticate(r *http.Request) (string, error) {
	if r.URL.Query().Get("token") != "good" {
		return "", apperr.ErrInvalidSession
	}
	return "sess-1", nil
}

func (h *testHandler) OnConnect(c *Connection) {
	h.mu.Lock()
	h.connected = append(h.connected, c.SessionID)
	h.mu.Unlock()
	_ = c.WriteMessage([]byte(`{"type":"hello"}`))
}

func (h *testHandler) OnMessage(c *Connection, data []byte) {
	_ = c.WriteMessage(append([]byte("echo:"), data...))
}

func (h *testHandler) OnDisconnect(_ *Connection, last bool) {
	h.mu.Lock()
	h.disconnected = append(h.disconnected, last)
	h.mu.Unlock()
}

func (h *testHandler) disconnects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.disconnected)
}

func TestConnectionManager_SessionIndex(t *testing.T) {
	cm := NewConnectionManager()
	a1 := NewConnection("a1", "A", &recordingConn{})
	a2 := NewConnection("a2", "A", &recordingConn{})
	b1 := NewConnection("b1", "B", &recordingConn{})
	cm.Add(a1)
	cm.Add(a2)
	cm.Add(b1)

	assert.Equal(t, 3, cm.Count())
	assert.Equal(t, 2, cm.Sessions())
	assert.Len(t, cm.BySession("A"), 2)
	assert.Same(t, b1, cm.GetByConn(b1.Conn))

	removed, last := cm.Remove("a1")
	require.Same(t, a1, removed)
	assert.False(t, last)
	assert.True(t, a1.Conn.(*recordingConn).closed)

	_, last = cm.Remove("a2")
	assert.True(t, last)
	assert.Empty(t, cm.BySession("A"))

	removed, _ = cm.Remove("a2")
	assert.Nil(t, removed, "second removal is a no-op")
	assert.Equal(t, 1, cm.Count())
}

func TestSendToSession_FansOutAndDropsBroken(t *testing.T) {
	h := &testHandler{}
	s := NewServer(DefaultServerConfig(), h)

	good := &recordingConn{}
	broken := &recordingConn{closed: true}
	s.conns.Add(NewConnection("c1", "A", good))
	s.conns.Add(NewConnection("c2", "A", broken))

	assert.Equal(t, 1, s.SendToSession("A", []byte(`{"type":"x"}`)))
	frames := good.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, gws.OpText, frames[0].Header.OpCode)
	assert.Equal(t, `{"type":"x"}`, string(frames[0].Payload))

	assert.Equal(t, 1, s.conns.Count())
	assert.Equal(t, 1, h.disconnects())
	assert.Zero(t, s.SendToSession("nobody", []byte("x")))
}

func TestHeartbeat_PingsLiveAndDropsStale(t *testing.T) {
	h := &testHandler{}
	cfg := HeartbeatConfig{Interval: 30 * time.Second, Timeout: 10 * time.Second}
	s := NewServer(DefaultServerConfig(), h)

	live := &recordingConn{}
	s.conns.Add(NewConnection("live", "A", live))
	stale := NewConnection("stale", "B", &recordingConn{})
	stale.lastSeen.Store(time.Now().Add(-time.Minute).UnixNano())
	s.conns.Add(stale)

	dropped := s.checkConnections(cfg, time.Now())
	assert.Equal(t, 1, dropped)
	assert.Nil(t, s.conns.Get("stale"))

	frames := live.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, gws.OpPing, frames[0].Header.OpCode)
}

func TestErrorMessage(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	msg := ErrorMessage(apperr.WithExpiry(apperr.ErrInCooldown, at))
	assert.Equal(t, "in_cooldown", msg.Code)
	assert.Equal(t, at.UnixMilli(), msg.ExpiresAt)

	msg = ErrorMessage(apperr.ErrBlocked)
	assert.Zero(t, msg.ExpiresAt)

	msg = ErrorMessage(errors.New("boom"))
	assert.Equal(t, "internal", msg.Code)
}

func TestServer_EndToEnd(t *testing.T) {
	h := &testHandler{}
	cfg := DefaultServerConfig()
	cfg.Heartbeat.Interval = 0
	s := NewServer(cfg, h)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	url := "ws://" + ln.Addr().String() + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, _, err = gws.Dial(ctx, url+"?token=bad")
	require.Error(t, err)

	conn, br, _, err := gws.Dial(ctx, url+"?token=good")
	require.NoError(t, err)
	rw := clientRW(conn, br)

	data, err := wsutil.ReadServerText(rw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"hello"}`, string(data))

	require.NoError(t, wsutil.WriteClientText(conn, []byte("hi")))
	data, err = wsutil.ReadServerText(rw)
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(data))

	assert.Equal(t, 1, s.SendToSession("sess-1", []byte("push")))
	data, err = wsutil.ReadServerText(rw)
	require.NoError(t, err)
	assert.Equal(t, "push", string(data))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.disconnects() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, s.Connections().Count())
}

// clientRW reads through any bytes the handshake buffered before the conn.
func clientRW(conn net.Conn, br *bufio.Reader) io.ReadWriter {
	if br == nil {
		return conn
	}
	return struct {
		io.Reader
		io.Writer
	}{io.MultiReader(br, conn), conn}
}
