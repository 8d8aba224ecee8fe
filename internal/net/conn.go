package net

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrClosed       = errors.New("net: connection closed")
	ErrOutQueueFull = errors.New("net: output queue full")
)

const defaultChunkSize = 4096

var nextConnID atomic.Uint64

// ConnOptions sizes the per-connection queues and timeouts.
type ConnOptions struct {
	InQueueSize  int
	OutQueueSize int
	ChunkSize    int
	WriteTimeout time.Duration
}

// Conn wraps one TCP connection. Socket I/O runs in dedicated goroutines;
// the bytes it reads are handed to the owner unparsed through InQueue, so
// framing and dispatch stay on the owner's goroutine.
type Conn struct {
	ID   uint64
	conn net.Conn

	InQueue  chan []byte // raw chunks, in arrival order
	OutQueue chan []byte // encoded frames for writeLoop

	RemoteAddr string

	writeTimeout time.Duration
	chunkSize    int

	drainCh   chan struct{}
	drainOnce sync.Once
	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	errMu     sync.Mutex
	err       error

	log *zap.Logger
}

func NewConn(conn net.Conn, opts ConnOptions, log *zap.Logger) *Conn {
	id := nextConnID.Add(1)
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	return &Conn{
		ID:           id,
		conn:         conn,
		InQueue:      make(chan []byte, opts.InQueueSize),
		OutQueue:     make(chan []byte, opts.OutQueueSize),
		RemoteAddr:   conn.RemoteAddr().String(),
		writeTimeout: opts.WriteTimeout,
		chunkSize:    chunk,
		drainCh:      make(chan struct{}),
		closeCh:      make(chan struct{}),
		log:          log.With(zap.Uint64("conn", id)),
	}
}

// Start launches the reader and writer goroutines.
func (c *Conn) Start() {
	go c.readLoop()
	go c.writeLoop()
}

// Send queues an encoded frame. A full queue means the peer stopped reading;
// the connection is dropped rather than blocking the caller.
func (c *Conn) Send(frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	select {
	case c.OutQueue <- frame:
		return nil
	default:
		c.log.Warn("output queue full, dropping connection")
		c.fail(ErrOutQueueFull)
		return ErrOutQueueFull
	}
}

// Done is closed once the connection is shut down for any reason.
func (c *Conn) Done() <-chan struct{} {
	return c.closeCh
}

// Err returns what ended the connection: io.EOF for an orderly remote close,
// nil for a local Close, or the transport error.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close shuts the connection down. Pending output is discarded.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)
		c.conn.Close()
	})
}

// Drain closes the connection once every frame already queued by Send has
// been written. Frames sent after Drain may be lost.
func (c *Conn) Drain() {
	c.drainOnce.Do(func() {
		close(c.drainCh)
	})
}

func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// fail records the first error and closes the connection.
func (c *Conn) fail(err error) {
	if c.closed.Load() {
		return
	}
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.Close()
}

// readLoop runs in its own goroutine and forwards every chunk read from the
// socket. It never interprets the bytes.
func (c *Conn) readLoop() {
	buf := make([]byte, c.chunkSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case c.InQueue <- chunk:
			case <-c.closeCh:
				return
			}
		}
		if err != nil {
			if !c.closed.Load() {
				c.log.Debug("read error", zap.Error(err))
			}
			c.fail(err)
			return
		}
	}
}

// writeLoop runs in its own goroutine and writes queued frames in order.
func (c *Conn) writeLoop() {
	for {
		select {
		case frame := <-c.OutQueue:
			if !c.writeOne(frame) {
				return
			}
		case <-c.drainCh:
			for {
				select {
				case frame := <-c.OutQueue:
					if !c.writeOne(frame) {
						return
					}
				default:
					c.Close()
					return
				}
			}
		case <-c.closeCh:
			return
		}
	}
}

// writeOne writes a single frame. It reports false once the connection is
// unusable.
func (c *Conn) writeOne(frame []byte) bool {
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(frame); err != nil {
		if !c.closed.Load() {
			c.log.Debug("write error", zap.Error(err))
		}
		c.fail(fmt.Errorf("write frame: %w", err))
		return false
	}
	return true
}
