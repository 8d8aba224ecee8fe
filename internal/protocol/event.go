package protocol

import "fmt"

// EventKind tags the concrete type behind an Event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventHandshakeComplete
	EventConnectionFailed
	EventPeerMoved
	EventPeerSkipped
	EventPeerYielded
	EventRegretRequested
	EventRegretAccepted
	EventRegretRejected
	EventPeerReady
	EventPeerLeft
	EventTransportError
	EventDisconnected
	EventListening
)

var eventNames = [...]string{
	EventConnected:         "connected",
	EventHandshakeComplete: "handshake_complete",
	EventConnectionFailed:  "connection_failed",
	EventPeerMoved:         "peer_moved",
	EventPeerSkipped:       "peer_skipped",
	EventPeerYielded:       "peer_yielded",
	EventRegretRequested:   "regret_requested",
	EventRegretAccepted:    "regret_accepted",
	EventRegretRejected:    "regret_rejected",
	EventPeerReady:         "peer_ready",
	EventPeerLeft:          "peer_left",
	EventTransportError:    "transport_error",
	EventDisconnected:      "disconnected",
	EventListening:         "listening",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("Unknown(%d)", int(k))
}

// Event is what the network layer tells the game logic. Switch on the
// concrete type, or on Kind.
type Event interface {
	Kind() EventKind
}

// Connected: the handshake reached this side. Role says which side we are.
type Connected struct {
	Role       Role
	RemoteName string
}

// HandshakeComplete: the server received the client's final accept.
type HandshakeComplete struct{}

// ConnectionFailed: the peer refused the connection; Reason is its syn text.
type ConnectionFailed struct {
	Reason string
}

type PeerMoved struct {
	X, Y int
}

type PeerSkipped struct{}
type PeerYielded struct{}
type RegretRequested struct{}
type RegretAccepted struct{}
type RegretRejected struct{}

// PeerReady: the peer agreed to a rematch.
type PeerReady struct{}

// PeerLeft: the peer announced it is leaving or declined a rematch.
type PeerLeft struct{}

// TransportError carries a socket-level failure. The session is not torn
// down; the receiver decides whether to reconnect or give up.
type TransportError struct {
	Err error
}

// Disconnected: the socket closed. Any partial frame was discarded.
type Disconnected struct{}

// Listening: a server is accepting connections at Addr.
type Listening struct {
	Addr string
}

func (Connected) Kind() EventKind         { return EventConnected }
func (HandshakeComplete) Kind() EventKind { return EventHandshakeComplete }
func (ConnectionFailed) Kind() EventKind  { return EventConnectionFailed }
func (PeerMoved) Kind() EventKind         { return EventPeerMoved }
func (PeerSkipped) Kind() EventKind       { return EventPeerSkipped }
func (PeerYielded) Kind() EventKind       { return EventPeerYielded }
func (RegretRequested) Kind() EventKind   { return EventRegretRequested }
func (RegretAccepted) Kind() EventKind    { return EventRegretAccepted }
func (RegretRejected) Kind() EventKind    { return EventRegretRejected }
func (PeerReady) Kind() EventKind         { return EventPeerReady }
func (PeerLeft) Kind() EventKind          { return EventPeerLeft }
func (TransportError) Kind() EventKind    { return EventTransportError }
func (Disconnected) Kind() EventKind      { return EventDisconnected }
func (Listening) Kind() EventKind         { return EventListening }

func (e TransportError) Error() string {
	if e.Err == nil {
		return "transport error"
	}
	return e.Err.Error()
}
