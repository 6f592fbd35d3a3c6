//go:build linux

package ws

import (
	"errors"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// waitTimeoutMS bounds each epoll_wait so the event loop notices shutdown.
const waitTimeoutMS = 200

// Epoll multiplexes reads over Linux epoll. Registered sockets are polled
// level-triggered; a ready socket is handed to a worker which reads exactly
// one frame.
type Epoll struct {
	fd     int
	mu     sync.RWMutex
	conns  map[int]net.Conn // fd -> conn
	events []unix.EpollEvent
}

// NewEpoll creates an epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:     fd,
		conns:  make(map[int]net.Conn),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Add registers conn for read readiness and returns the conn callers should
// read from. On Linux that is conn itself.
func (e *Epoll) Add(conn net.Conn) (net.Conn, error) {
	fd := socketFD(conn)
	if fd < 0 {
		return nil, errors.New("ws: connection has no file descriptor")
	}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.conns[fd] = conn
	e.mu.Unlock()
	return conn, nil
}

// Remove unregisters conn. Removing an unknown conn is not an error.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	e.mu.Lock()
	_, ok := e.conns[fd]
	delete(e.conns, fd)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}

// Rearm is a no-op: level-triggered epoll reports pending data again on the
// next Wait.
func (e *Epoll) Rearm(net.Conn) {}

// Wait returns the connections with pending data. It returns an empty slice
// on timeout or EINTR.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.events, waitTimeoutMS)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}

	e.mu.RLock()
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := e.conns[int(e.events[i].Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	e.mu.RUnlock()
	return conns, nil
}

// Close releases the epoll descriptor.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns = map[int]net.Conn{}
	return unix.Close(e.fd)
}

// socketFD reads the descriptor through SyscallConn, which unlike File()
// does not dup it.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
