package net

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
)

// Listener accepts TCP connections and hands them, unwrapped, to the owner
// through a channel. Deciding whether a connection may become a session is
// the owner's job, done on the owner's goroutine.
type Listener struct {
	listener net.Listener
	incoming chan net.Conn
	log      *zap.Logger
	closeCh  chan struct{}
}

func Listen(bindAddr string, backlog int, log *zap.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", bindAddr, err)
	}
	return &Listener{
		listener: ln,
		incoming: make(chan net.Conn, backlog),
		log:      log,
		closeCh:  make(chan struct{}),
	}, nil
}

// AcceptLoop runs in its own goroutine until Shutdown.
func (l *Listener) AcceptLoop() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.closeCh:
				return
			default:
			}
			l.log.Error("accept failed", zap.Error(err))
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		l.log.Debug("inbound connection", zap.String("remote", conn.RemoteAddr().String()))

		select {
		case l.incoming <- conn:
		default:
			l.log.Warn("accept queue full, closing connection")
			conn.Close()
		}
	}
}

// Incoming returns the channel of accepted connections.
func (l *Listener) Incoming() <-chan net.Conn {
	return l.incoming
}

// Shutdown stops accepting new connections.
func (l *Listener) Shutdown() {
	select {
	case <-l.closeCh:
		return
	default:
	}
	close(l.closeCh)
	l.listener.Close()
}

// Addr returns the listener's address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Port returns the bound TCP port.
func (l *Listener) Port() int {
	if a, ok := l.listener.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// Reject writes a single frame straight to conn, waits at most timeout for
// it to drain, then closes. conn never becomes a Conn.
//
// Whatever the peer already sent is read and discarded until it hangs up or
// the timeout passes: closing with unread input makes the kernel answer with
// a reset, which can destroy the rejection before the peer reads it.
func Reject(conn net.Conn, payload []byte, timeout time.Duration, log *zap.Logger) {
	defer conn.Close()
	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}
	if err := WriteFrame(conn, payload, 0); err != nil {
		log.Debug("reject write failed", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok && timeout > 0 {
		tc.CloseWrite()
		io.Copy(io.Discard, conn)
	}
}

// Dial opens an outbound TCP connection, giving up after timeout or when
// ctx is done, whichever comes first.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}
