package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	gonet "github.com/reversinet/link/internal/net"
	"github.com/reversinet/link/internal/persist"
	"github.com/reversinet/link/internal/protocol"
	"go.uber.org/zap"
)

var (
	ErrNotConnected     = errors.New("peer: not connected")
	ErrAlreadyConnected = errors.New("peer: already connected")
	ErrClosed           = errors.New("peer: closed")
	ErrHandshakeType    = errors.New("peer: connect messages are sent by the handshake only")
)

// maxEventBacklog bounds the events held for a slow consumer. Past it the
// connection is dropped; the remote side is outrunning the collaborator.
const maxEventBacklog = 4096

// Info is a snapshot of the session, safe to read from any goroutine.
type Info struct {
	Role       protocol.Role
	LocalName  string
	RemoteName string
	State      protocol.State
	Connected  bool
	NextSeq    int
	ExpectSeq  int
}

// reactor is the event loop shared by both roles. The loop goroutine owns
// the session, the frame assembler and the connection; the connection's own
// goroutines only move bytes. Everything a message causes, including the
// event it raises, happens on the loop goroutine before the next chunk is
// looked at.
type reactor struct {
	opts Options
	role protocol.Role

	sess *protocol.Session
	disp *protocol.Dispatcher
	conn *gonet.Conn
	asm  *gonet.Assembler

	events  chan protocol.Event
	pending []protocol.Event // raised but not yet taken from events
	cmds    chan func()
	info    atomic.Pointer[Info]

	closeOnce sync.Once
	closeCh   chan struct{}
	doneCh    chan struct{}

	log *zap.Logger
}

func newReactor(opts Options, role protocol.Role, log *zap.Logger) *reactor {
	opts.applyDefaults(role)
	log = log.With(zap.String("role", role.String()))
	r := &reactor{
		opts:    opts,
		role:    role,
		sess:    protocol.NewSession(role, opts.Name, opts.Sequence),
		disp:    protocol.NewDispatcher(log),
		asm:     gonet.NewAssembler(opts.MaxFrameSize),
		events:  make(chan protocol.Event, opts.EventQueueSize),
		cmds:    make(chan func()),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		log:     log,
	}
	r.publish()
	return r
}

// Events delivers every event in the order raised. It is closed when the
// loop exits.
func (r *reactor) Events() <-chan protocol.Event {
	return r.events
}

// Info returns the latest session snapshot.
func (r *reactor) Info() Info {
	return *r.info.Load()
}

// Close stops the loop and drops the connection. It does not send leave.
func (r *reactor) Close() {
	r.closeOnce.Do(func() {
		close(r.closeCh)
	})
}

// Done is closed once the loop has exited.
func (r *reactor) Done() <-chan struct{} {
	return r.doneCh
}

// loop runs until ctx is done or Close is called. incoming is nil for a
// client. Events wait in pending and are handed to the consumer from the
// same select, so a collaborator that stops reading never stalls commands
// or accepts.
func (r *reactor) loop(ctx context.Context, incoming <-chan net.Conn, onIncoming func(net.Conn)) error {
	defer r.finish()

	for {
		var in <-chan []byte
		var dead <-chan struct{}
		if r.conn != nil {
			in = r.conn.InQueue
			dead = r.conn.Done()
		}
		var out chan<- protocol.Event
		var head protocol.Event
		if len(r.pending) > 0 {
			out = r.events
			head = r.pending[0]
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.closeCh:
			return nil
		case out <- head:
			r.pending[0] = nil
			r.pending = r.pending[1:]
			continue
		case fn := <-r.cmds:
			fn()
		case chunk := <-in:
			r.handleChunk(chunk)
		case <-dead:
			r.handleClosed()
		case c := <-incoming:
			onIncoming(c)
		}
		r.publish()
	}
}

// do runs fn on the loop goroutine and waits for its result.
func (r *reactor) do(fn func() error) error {
	errCh := make(chan error, 1)
	cmd := func() { errCh <- fn() }
	select {
	case r.cmds <- cmd:
	case <-r.doneCh:
		return ErrClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-r.doneCh:
		return ErrClosed
	}
}

// attach makes c the session's connection and starts a fresh session.
func (r *reactor) attach(c net.Conn) {
	r.conn = gonet.NewConn(c, r.opts.Conn, r.log)
	r.asm.Reset()
	r.sess.Reset()
	r.sess.State = protocol.StateHandshaking
	r.conn.Start()
	r.log.Info("connection attached",
		zap.Uint64("conn", r.conn.ID),
		zap.String("remote", r.conn.RemoteAddr),
	)
}

// detach drops the connection and any partial frame.
func (r *reactor) detach() {
	if r.conn == nil {
		return
	}
	r.conn.Close()
	r.conn = nil
	r.asm.Reset()
}

// busy reports whether a live connection occupies the session slot.
func (r *reactor) busy() bool {
	if r.conn == nil {
		return false
	}
	if r.conn.IsClosed() {
		r.handleClosed()
		return false
	}
	return true
}

func (r *reactor) handleChunk(chunk []byte) {
	if r.conn == nil {
		return
	}
	r.asm.Write(chunk)
	for r.conn != nil {
		payload, ok, err := r.asm.Next()
		if err != nil {
			r.log.Warn("unreadable frame, dropping connection", zap.Error(err))
			r.emit(protocol.TransportError{Err: err})
			r.conn.Close()
			return
		}
		if !ok {
			return
		}
		r.handlePayload(payload)
	}
}

func (r *reactor) handlePayload(payload []byte) {
	m, err := protocol.Decode(payload)
	if err != nil {
		r.log.Debug("payload discarded", zap.Int("len", len(payload)), zap.Error(err))
		return
	}
	r.record(persist.DirIn, &m, nil)

	out := r.disp.Dispatch(r.sess, m)
	if out.Reply != nil {
		if err := r.write(*out.Reply); err != nil {
			r.log.Debug("handshake reply not sent", zap.Error(err))
		}
	}
	if out.Event != nil {
		r.emit(out.Event)
	}
	if out.Teardown {
		r.detach()
		r.sess.Reset()
	}
}

// handleClosed runs once the connection is gone. Bytes that arrived before
// the close are still processed.
func (r *reactor) handleClosed() {
	c := r.conn
	if c == nil {
		return
	}
drain:
	for r.conn == c {
		select {
		case chunk := <-c.InQueue:
			r.handleChunk(chunk)
		default:
			break drain
		}
	}
	if r.conn != c {
		return
	}

	err := c.Err()
	r.detach()
	r.sess.State = protocol.StateDisconnected
	r.log.Info("connection closed", zap.Uint64("conn", c.ID), zap.Error(err))
	if err != nil && !errors.Is(err, io.EOF) {
		r.emit(protocol.TransportError{Err: err})
	}
	r.emit(protocol.Disconnected{})
}

// write encodes, frames and queues m.
func (r *reactor) write(m protocol.Message) error {
	if r.conn == nil {
		return ErrNotConnected
	}
	payload, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	frame, err := gonet.EncodeFrame(payload, r.opts.MaxFrameSize)
	if err != nil {
		return err
	}
	if err := r.conn.Send(frame); err != nil {
		return fmt.Errorf("send %s: %w", m, err)
	}
	r.log.Debug("sent", zap.Stringer("msg", m))
	r.record(persist.DirOut, &m, nil)
	return nil
}

// send builds an in-game message for t and writes it. move, skip, yield and
// regret are stamped with the next sequence number; new and leave are not.
func (r *reactor) send(t protocol.Type, content string) error {
	if r.conn == nil {
		return ErrNotConnected
	}
	var m protocol.Message
	switch t {
	case protocol.TypeConnect:
		return ErrHandshakeType
	case protocol.TypeNew, protocol.TypeLeave:
		m = protocol.Unsequenced(t, content)
	default:
		m = r.sess.Sequenced(t, content)
	}
	return r.write(m)
}

// emit queues ev for the consumer. It never blocks.
func (r *reactor) emit(ev protocol.Event) {
	r.log.Debug("event", zap.String("kind", ev.Kind().String()))
	r.record(persist.DirEvent, nil, ev)
	if len(r.pending) >= maxEventBacklog && r.conn != nil && !r.conn.IsClosed() {
		r.log.Warn("event backlog full, dropping connection",
			zap.Uint64("conn", r.conn.ID),
			zap.Int("backlog", len(r.pending)),
		)
		r.conn.Close()
	}
	r.pending = append(r.pending, ev)
}

func (r *reactor) record(dir string, m *protocol.Message, ev protocol.Event) {
	if r.opts.Recorder == nil {
		return
	}
	e := persist.JournalEntry{
		Role:      r.role.String(),
		Local:     r.sess.LocalName,
		Remote:    r.sess.RemoteName,
		Direction: dir,
	}
	if r.conn != nil {
		e.ConnID = r.conn.ID
	}
	if m != nil {
		e.Type = m.Type.Str()
		e.Content = m.Content.Str()
		e.Syn = m.Syn.String()
	}
	if ev != nil {
		e.Event = ev.Kind().String()
	}
	r.opts.Recorder.Record(e)
}

func (r *reactor) publish() {
	seq := r.sess.Tracker()
	r.info.Store(&Info{
		Role:       r.role,
		LocalName:  r.sess.LocalName,
		RemoteName: r.sess.RemoteName,
		State:      r.sess.State,
		Connected:  r.conn != nil,
		NextSeq:    seq.Next(),
		ExpectSeq:  seq.Expected(),
	})
}

func (r *reactor) shutdown() {
	r.detach()
	r.sess.State = protocol.StateDisconnected
	r.publish()
}

// finish tears the reactor down and releases everyone waiting on it. It
// runs once, from the loop or from a Run that never reached it.
func (r *reactor) finish() {
	r.shutdown()
	r.pending = nil
	close(r.events)
	close(r.doneCh)
}

// Collaborator commands. Each runs on the loop goroutine.

// Send writes an in-game message of type t.
func (r *reactor) Send(t protocol.Type, content string) error {
	return r.do(func() error { return r.send(t, content) })
}

// Move announces a stone placed at x, y.
func (r *reactor) Move(x, y int) error {
	if x < 0 || x >= protocol.BoardSize || y < 0 || y >= protocol.BoardSize {
		return fmt.Errorf("move %d,%d outside the %dx%d board", x, y, protocol.BoardSize, protocol.BoardSize)
	}
	return r.Send(protocol.TypeMove, protocol.MoveContent(x, y))
}

func (r *reactor) Skip() error  { return r.Send(protocol.TypeSkip, "") }
func (r *reactor) Yield() error { return r.Send(protocol.TypeYield, "") }

// RequestRegret asks the peer to undo the last move.
func (r *reactor) RequestRegret() error { return r.Send(protocol.TypeRegret, "") }

// AnswerRegret replies to the peer's regret request.
func (r *reactor) AnswerRegret(accept bool) error {
	return r.Send(protocol.TypeRegret, answer(accept))
}

// Rematch agrees to or declines another game.
func (r *reactor) Rematch(accept bool) error {
	return r.Send(protocol.TypeNew, answer(accept))
}

// Leave tells the peer we are going and closes the connection once the
// message is flushed.
func (r *reactor) Leave() error {
	return r.do(func() error {
		if err := r.send(protocol.TypeLeave, ""); err != nil {
			return err
		}
		r.conn.Drain()
		r.sess.State = protocol.StateDisconnected
		return nil
	})
}

func answer(accept bool) string {
	if accept {
		return protocol.ContentAccepted
	}
	return protocol.ContentRejected
}
