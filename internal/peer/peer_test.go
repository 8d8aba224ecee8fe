package peer

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"reflect"
	"testing"
	"time"

	gonet "github.com/reversinet/link/internal/net"
	"github.com/reversinet/link/internal/protocol"
	"go.uber.org/zap/zaptest"
)

const waitTimeout = 3 * time.Second

type eventSource interface {
	Events() <-chan protocol.Event
}

func testOptions(name string) Options {
	return Options{
		Name:           name,
		BindAddress:    "127.0.0.1:0",
		ConnectTimeout: 2 * time.Second,
		RejectTimeout:  time.Second,
		Conn:           gonet.ConnOptions{WriteTimeout: time.Second},
	}
}

func startServer(t *testing.T, opts Options) *Server {
	t.Helper()
	s := NewServer(opts, zaptest.NewLogger(t))
	if _, err := s.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	if _, ok := nextEvent(t, s).(protocol.Listening); !ok {
		t.Fatal("first server event is not Listening")
	}
	return s
}

func startClient(t *testing.T, name string) *Client {
	t.Helper()
	c := NewClient(testOptions(name), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	return c
}

func nextEvent(t *testing.T, src eventSource) protocol.Event {
	t.Helper()
	select {
	case ev, ok := <-src.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for an event")
	}
	return nil
}

func expectEvent(t *testing.T, src eventSource, want protocol.Event) {
	t.Helper()
	if got := nextEvent(t, src); !reflect.DeepEqual(got, want) {
		t.Fatalf("event = %#v, want %#v", got, want)
	}
}

func expectNoEvent(t *testing.T, src eventSource, d time.Duration) {
	t.Helper()
	select {
	case ev := <-src.Events():
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(d):
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// handshake connects a client called name to s and consumes the handshake
// events on both sides.
func handshake(t *testing.T, s *Server, name string) *Client {
	t.Helper()
	c := startClient(t, name)
	if err := c.Connect(context.Background(), s.Addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	expectEvent(t, s, protocol.Connected{Role: protocol.RoleServer, RemoteName: name})
	expectEvent(t, c, protocol.Connected{Role: protocol.RoleClient, RemoteName: s.opts.Name})
	expectEvent(t, s, protocol.HandshakeComplete{})
	return c
}

func readMessage(t *testing.T, conn net.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	asm := gonet.NewAssembler(gonet.DefaultMaxFrameSize)
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		asm.Write(buf[:n])
		if p, ok, ferr := asm.Next(); ferr != nil {
			t.Fatalf("frame: %v", ferr)
		} else if ok {
			m, derr := protocol.Decode(p)
			if derr != nil {
				t.Fatalf("decode %q: %v", p, derr)
			}
			return m
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	}
}

func writeMessage(t *testing.T, conn net.Conn, m protocol.Message) {
	t.Helper()
	payload, err := protocol.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := gonet.WriteFrame(conn, payload, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestHandshake(t *testing.T) {
	s := startServer(t, testOptions("Bob"))
	c := handshake(t, s, "Alice")

	eventually(t, "both sides in session", func() bool {
		si, ci := s.Info(), c.Info()
		return si.State == protocol.StateInSession && ci.State == protocol.StateInSession
	})
	if got := s.Info().RemoteName; got != "Alice" {
		t.Fatalf("server recorded %q", got)
	}
	if got := c.Info().RemoteName; got != "Bob" {
		t.Fatalf("client recorded %q", got)
	}
}

func TestGameTraffic(t *testing.T) {
	s := startServer(t, testOptions("Bob"))
	c := handshake(t, s, "Alice")

	// The server plays first.
	if err := s.Move(3, 4); err != nil {
		t.Fatalf("server move: %v", err)
	}
	expectEvent(t, c, protocol.PeerMoved{X: 3, Y: 4})

	if err := c.Move(2, 2); err != nil {
		t.Fatalf("client move: %v", err)
	}
	expectEvent(t, s, protocol.PeerMoved{X: 2, Y: 2})

	// Two sends in a row from the same side.
	if err := s.Skip(); err != nil {
		t.Fatalf("skip: %v", err)
	}
	expectEvent(t, c, protocol.PeerSkipped{})
	if err := s.RequestRegret(); err != nil {
		t.Fatalf("regret: %v", err)
	}
	expectEvent(t, c, protocol.RegretRequested{})

	if err := c.AnswerRegret(true); err != nil {
		t.Fatalf("answer regret: %v", err)
	}
	expectEvent(t, s, protocol.RegretAccepted{})

	if err := s.Yield(); err != nil {
		t.Fatalf("yield: %v", err)
	}
	expectEvent(t, c, protocol.PeerYielded{})

	if err := c.Rematch(true); err != nil {
		t.Fatalf("rematch: %v", err)
	}
	expectEvent(t, s, protocol.PeerReady{})
}

func TestCommandErrors(t *testing.T) {
	c := startClient(t, "Alice")

	if err := c.Move(8, 0); err == nil {
		t.Fatal("off-board move accepted")
	}
	if err := c.Skip(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("skip while disconnected: %v", err)
	}

	s := startServer(t, testOptions("Bob"))
	c = handshake(t, s, "Carol")
	if err := c.Send(protocol.TypeConnect, protocol.ContentRequest); !errors.Is(err, ErrHandshakeType) {
		t.Fatalf("send connect: %v", err)
	}
	if err := c.Connect(context.Background(), s.Addr()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second connect: %v", err)
	}
}

func TestBusyServerRejects(t *testing.T) {
	s := startServer(t, testOptions("Bob"))
	c := handshake(t, s, "Alice")
	eventually(t, "server in session", func() bool {
		return s.Info().State == protocol.StateInSession
	})
	before := s.Info()

	intruder, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer intruder.Close()

	m := readMessage(t, intruder)
	if !m.Equal(protocol.Handshake(protocol.ContentRejected, "server already in use")) {
		t.Fatalf("intruder got %s", m)
	}
	intruder.SetReadDeadline(time.Now().Add(waitTimeout))
	if _, err := intruder.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected the rejected connection to be closed, got %v", err)
	}

	expectNoEvent(t, s, 100*time.Millisecond)
	if after := s.Info(); after != before {
		t.Fatalf("active session changed: %+v -> %+v", before, after)
	}

	// The original session still works.
	if err := s.Move(0, 0); err != nil {
		t.Fatalf("move: %v", err)
	}
	expectEvent(t, c, protocol.PeerMoved{X: 0, Y: 0})
}

func TestRejectedClient(t *testing.T) {
	opts := testOptions("Bob")
	opts.RejectReason = "table full"
	s := startServer(t, opts)
	handshake(t, s, "Alice")

	late := startClient(t, "Mallory")
	if err := late.Connect(context.Background(), s.Addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	expectEvent(t, late, protocol.ConnectionFailed{Reason: "table full"})
	eventually(t, "rejected client to drop the connection", func() bool {
		return !late.Info().Connected
	})
	expectNoEvent(t, s, 100*time.Millisecond)
}

func TestLeaveFreesServerSlot(t *testing.T) {
	s := startServer(t, testOptions("Bob"))
	c := handshake(t, s, "Alice")

	if err := c.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	expectEvent(t, s, protocol.PeerLeft{})
	expectEvent(t, s, protocol.Disconnected{})
	expectEvent(t, c, protocol.Disconnected{})

	eventually(t, "server slot to free", func() bool {
		return !s.Info().Connected
	})
	if got := s.Info().State; got != protocol.StateDisconnected {
		t.Fatalf("server state = %s", got)
	}

	// A new opponent can take the seat.
	c2 := handshake(t, s, "Carol")
	if err := s.Move(1, 1); err != nil {
		t.Fatalf("move: %v", err)
	}
	expectEvent(t, c2, protocol.PeerMoved{X: 1, Y: 1})
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := startClient(t, "Alice")
	if err := c.Connect(context.Background(), addr); err == nil {
		t.Fatal("connect to a closed port succeeded")
	}
	if _, ok := nextEvent(t, c).(protocol.TransportError); !ok {
		t.Fatal("dial failure did not raise TransportError")
	}
	eventually(t, "client to settle disconnected", func() bool {
		i := c.Info()
		return i.State == protocol.StateDisconnected && !i.Connected
	})
}

func TestServerIgnoresGarbageAndDropsOversizedFrames(t *testing.T) {
	opts := testOptions("Bob")
	opts.MaxFrameSize = 256
	s := startServer(t, opts)

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Undecodable payloads and out-of-order game messages are dropped
	// silently; the handshake after them still works.
	if err := gonet.WriteFrame(conn, []byte("not json"), 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	writeMessage(t, conn, protocol.Sequenced(protocol.TypeMove, "3_4", 41))
	writeMessage(t, conn, protocol.Handshake(protocol.ContentRequest, "Raw"))
	expectEvent(t, s, protocol.Connected{Role: protocol.RoleServer, RemoteName: "Raw"})
	if m := readMessage(t, conn); !m.Equal(protocol.Handshake(protocol.ContentAccepted, "Bob")) {
		t.Fatalf("reply = %s", m)
	}

	hdr := make([]byte, gonet.HeaderSize)
	binary.BigEndian.PutUint32(hdr, 4096)
	if _, err := conn.Write(hdr); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := nextEvent(t, s).(protocol.TransportError); !ok {
		t.Fatal("oversized frame did not raise TransportError")
	}
	expectEvent(t, s, protocol.Disconnected{})
}

func TestCommandsRunWhileConsumerLags(t *testing.T) {
	opts := testOptions("Bob")
	opts.EventQueueSize = 4
	s := startServer(t, opts)

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	const flood = 20
	writeMessage(t, conn, protocol.Handshake(protocol.ContentRequest, "Raw"))
	if m := readMessage(t, conn); !m.Equal(protocol.Handshake(protocol.ContentAccepted, "Bob")) {
		t.Fatalf("reply = %s", m)
	}
	writeMessage(t, conn, protocol.Handshake(protocol.ContentAccepted, protocol.FinalAcceptSyn))
	for i := 0; i < flood; i++ {
		writeMessage(t, conn, protocol.Unsequenced(protocol.TypeNew, protocol.ContentAccepted))
	}
	expectEvent(t, s, protocol.Connected{Role: protocol.RoleServer, RemoteName: "Raw"})

	// Let the loop work through the flood with the event queue full.
	time.Sleep(100 * time.Millisecond)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Rematch(true) }()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("rematch: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("command blocked behind undelivered events")
	}
	if m := readMessage(t, conn); !m.Equal(protocol.Unsequenced(protocol.TypeNew, protocol.ContentAccepted)) {
		t.Fatalf("peer got %s", m)
	}

	// Nothing was lost or reordered.
	expectEvent(t, s, protocol.HandshakeComplete{})
	for i := 0; i < flood; i++ {
		expectEvent(t, s, protocol.PeerReady{})
	}
}

func TestServerRunListenFailureReleasesWaiters(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	opts := testOptions("Bob")
	opts.BindAddress = ln.Addr().String()
	s := NewServer(opts, zaptest.NewLogger(t))
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("run on a taken port succeeded")
	}

	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatal("Done not closed")
	}
	if _, ok := <-s.Events(); ok {
		t.Fatal("event channel still open")
	}
	if err := s.Skip(); !errors.Is(err, ErrClosed) {
		t.Fatalf("command after failed run: %v", err)
	}
}
