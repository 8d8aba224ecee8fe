package protocol

import "fmt"

// Role is which end of the connection a peer plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// State is the session's protocol phase.
type State int

const (
	StateDisconnected State = iota
	StateConnecting         // client: dialling
	StateHandshaking        // socket up, names not yet exchanged both ways
	StateInSession          // handshake done
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateInSession:
		return "InSession"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Session is the state of one connection: who is on each end, how far the
// handshake got, and the sequence counters. It is owned by a single
// goroutine and is not safe for concurrent use.
type Session struct {
	Role       Role
	LocalName  string
	RemoteName string
	State      State

	seq *Tracker
}

func NewSession(role Role, localName string, seq SequenceConfig) *Session {
	return &Session{
		Role:      role,
		LocalName: localName,
		State:     StateDisconnected,
		seq:       NewTracker(seq),
	}
}

// Tracker exposes the sequence state, mostly for inspection.
func (s *Session) Tracker() *Tracker { return s.seq }

// Sequenced builds an outgoing message and stamps it with the next number.
func (s *Session) Sequenced(t Type, content string) Message {
	return Sequenced(t, content, s.seq.Stamp())
}

// Reset forgets the remote peer and rewinds the counters. LocalName stays.
func (s *Session) Reset() {
	s.RemoteName = ""
	s.State = StateDisconnected
	s.seq.Reset()
}
