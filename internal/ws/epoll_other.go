//go:build !linux

package ws

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// waitTimeout bounds each Wait so the event loop notices shutdown.
const waitTimeout = 200 * time.Millisecond

// peekConn buffers reads so a watcher can detect pending data with Peek
// without consuming frame bytes.
type peekConn struct {
	net.Conn
	br    *bufio.Reader
	rearm chan struct{}
}

func (p *peekConn) Read(b []byte) (int, error) {
	return p.br.Read(b)
}

// Epoll is the portable fallback: one watcher goroutine per connection
// peeks for data and reports readiness, then waits to be rearmed once the
// worker has read the frame.
type Epoll struct {
	mu      sync.Mutex
	conns   map[net.Conn]*peekConn
	readyCh chan net.Conn
	done    chan struct{}
	once    sync.Once
}

// NewEpoll creates the fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]*peekConn),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts watching conn and returns the buffered conn that all reads
// must go through.
func (e *Epoll) Add(conn net.Conn) (net.Conn, error) {
	pc := &peekConn{Conn: conn, br: bufio.NewReader(conn), rearm: make(chan struct{}, 1)}
	e.mu.Lock()
	e.conns[pc] = pc
	e.mu.Unlock()

	go e.watch(pc)
	return pc, nil
}

func (e *Epoll) watch(pc *peekConn) {
	for {
		// A read error also counts as readiness so the worker sees it.
		_, err := pc.br.Peek(1)
		select {
		case e.readyCh <- pc:
		case <-e.done:
			return
		}
		if err != nil {
			return
		}
		select {
		case <-pc.rearm:
		case <-e.done:
			return
		}
		if !e.watching(pc) {
			return
		}
	}
}

func (e *Epoll) watching(pc *peekConn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.conns[pc]
	return ok
}

// Remove stops watching conn.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	pc, ok := e.conns[conn]
	delete(e.conns, conn)
	e.mu.Unlock()
	if ok {
		e.Rearm(pc)
	}
	return nil
}

// Rearm lets the watcher of conn look for the next frame.
func (e *Epoll) Rearm(conn net.Conn) {
	if pc, ok := conn.(*peekConn); ok {
		select {
		case pc.rearm <- struct{}{}:
		default:
		}
	}
}

// Wait returns the ready connections, or an empty slice after waitTimeout.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-time.After(waitTimeout):
		return nil, nil
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close stops every watcher.
func (e *Epoll) Close() error {
	e.once.Do(func() { close(e.done) })
	e.mu.Lock()
	e.conns = map[net.Conn]*peekConn{}
	e.mu.Unlock()
	return nil
}
