package protocol

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// BoardSize bounds move coordinates: both must be in [0, BoardSize).
const BoardSize = 8

// FinalAcceptSyn is the syn the client puts on the last handshake message.
const FinalAcceptSyn = "0"

// Outcome is the result of dispatching one message. A zero Outcome means
// the message was dropped.
type Outcome struct {
	Event    Event
	Reply    *Message // handshake reply to write back, if any
	Teardown bool     // the peer refused us; close the connection
}

// Dispatcher turns decoded messages into events. It runs an ordered list
// of checks and stops at the first that fails; a failed check drops the
// message and only logs.
type Dispatcher struct {
	log *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{log: log}
}

// Dispatch interprets m against s and mutates s (names, state, sequence
// counters) as the message dictates. A dropped message never moves the
// sequence counters.
func (d *Dispatcher) Dispatch(s *Session, m Message) Outcome {
	d.log.Debug("received", zap.Stringer("msg", m), zap.String("state", s.State.String()))

	if !m.Type.IsString() {
		d.drop(m, "expected a non-null string type")
		return Outcome{}
	}

	// leave needs nothing but its type, and nothing after this point can
	// raise a second event for it.
	if m.IsType(TypeLeave) {
		return Outcome{Event: PeerLeft{}}
	}

	if !m.Content.IsString() {
		d.drop(m, "expected a non-null string content")
		return Outcome{}
	}

	if m.IsType(TypeNew) {
		switch {
		case m.Content.Is(ContentAccepted):
			return Outcome{Event: PeerReady{}}
		case m.Content.Is(ContentRejected):
			return Outcome{Event: PeerLeft{}}
		}
		d.drop(m, "unknown rematch answer")
		return Outcome{}
	}

	if !m.Syn.Present() {
		d.drop(m, "syn field is empty")
		return Outcome{}
	}

	if m.IsType(TypeConnect) {
		if !m.Syn.IsString() {
			d.drop(m, "expected a string syn on connect")
			return Outcome{}
		}
		return d.connect(s, m)
	}

	seq, ok := m.Syn.Int()
	if !ok {
		d.drop(m, "syn is not an integer")
		return Outcome{}
	}
	if seq != s.seq.Expected() {
		d.log.Debug("sequence out of order, dropped",
			zap.Int("expected", s.seq.Expected()),
			zap.Int("got", seq),
		)
		return Outcome{}
	}

	ev := d.game(m)
	if ev == nil {
		return Outcome{}
	}
	s.seq.Accept(seq)
	return Outcome{Event: ev}
}

// connect handles the three-way handshake:
//
//	client -> server  connect/request/<client name>
//	server -> client  connect/accepted/<server name>
//	client -> server  connect/accepted/"0"
func (d *Dispatcher) connect(s *Session, m Message) Outcome {
	name := m.Syn.Str()
	switch {
	case m.Content.Is(ContentRejected):
		d.log.Info("connection rejected", zap.String("reason", name))
		return Outcome{Event: ConnectionFailed{Reason: name}, Teardown: true}

	case m.Content.Is(ContentRequest):
		if s.Role != RoleServer {
			d.drop(m, "connect request sent to a client")
			return Outcome{}
		}
		s.RemoteName = name
		s.State = StateHandshaking
		d.log.Info("connection requested", zap.String("peer", name))
		reply := Handshake(ContentAccepted, s.LocalName)
		return Outcome{Event: Connected{Role: RoleServer, RemoteName: name}, Reply: &reply}

	case m.Content.Is(ContentAccepted):
		if s.Role == RoleServer {
			s.State = StateInSession
			d.log.Info("handshake complete", zap.String("peer", s.RemoteName))
			return Outcome{Event: HandshakeComplete{}}
		}
		s.RemoteName = name
		s.State = StateInSession
		d.log.Info("connection accepted", zap.String("peer", name))
		reply := Handshake(ContentAccepted, FinalAcceptSyn)
		return Outcome{Event: Connected{Role: RoleClient, RemoteName: name}, Reply: &reply}
	}

	d.drop(m, "unknown connect content")
	return Outcome{}
}

// game handles the sequenced in-game messages. It returns nil when the
// content does not fit the type.
func (d *Dispatcher) game(m Message) Event {
	switch {
	case m.IsType(TypeSkip):
		return PeerSkipped{}
	case m.IsType(TypeYield):
		return PeerYielded{}
	}

	tokens := splitContent(m.Content.Str())
	switch {
	case m.IsType(TypeMove):
		x, y, ok := parseMove(tokens)
		if !ok {
			d.drop(m, "invalid move coordinates")
			return nil
		}
		return PeerMoved{X: x, Y: y}

	case m.IsType(TypeRegret):
		switch {
		case len(tokens) == 0:
			return RegretRequested{}
		case len(tokens) == 1 && String(tokens[0]).Is(ContentAccepted):
			return RegretAccepted{}
		case len(tokens) == 1 && String(tokens[0]).Is(ContentRejected):
			return RegretRejected{}
		}
		d.drop(m, "unknown regret content")
		return nil
	}

	d.drop(m, "unknown type")
	return nil
}

// splitContent splits on Sep. Empty content has no tokens.
func splitContent(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, Sep)
}

func parseMove(tokens []string) (x, y int, ok bool) {
	if len(tokens) != 2 {
		return 0, 0, false
	}
	ux, err := strconv.ParseUint(tokens[0], 10, 32)
	if err != nil || ux >= BoardSize {
		return 0, 0, false
	}
	uy, err := strconv.ParseUint(tokens[1], 10, 32)
	if err != nil || uy >= BoardSize {
		return 0, 0, false
	}
	return int(ux), int(uy), true
}

// MoveContent formats a move the way parseMove reads it.
func MoveContent(x, y int) string {
	return strconv.Itoa(x) + Sep + strconv.Itoa(y)
}

func (d *Dispatcher) drop(m Message, reason string) {
	d.log.Debug("message dropped", zap.String("reason", reason), zap.Stringer("msg", m))
}
