package protocol

// SequenceConfig sets where a role's sequence numbers start and how far
// each send advances them.
//
// With the defaults (client origin -1, server origin -2, stride 2) the two
// peers interleave: the server stamps 0, 2, 4... and the client 1, 3, 5...,
// each expecting the number right after the last one it sent.
type SequenceConfig struct {
	Origin int
	Stride int
}

// Tracker holds one session's sequence state. Outgoing stamping and
// incoming validation are kept in separate fields.
//
// Update rules:
//   - Stamp returns nextOutgoing, advances it by Stride, and sets
//     expectedIncoming to the stamped value + 1 (the peer's reply).
//   - Accept(n) succeeds only if n == expectedIncoming. On success the peer
//     may send again at n + Stride, and our reply is n + 1. On failure
//     nothing changes.
//
// Both peers stay in lockstep as long as they never send at the same time.
// Two messages crossing on the wire desynchronise the session for good;
// nothing here recovers from that.
type Tracker struct {
	cfg              SequenceConfig
	nextOutgoing     int
	expectedIncoming int
}

func NewTracker(cfg SequenceConfig) *Tracker {
	if cfg.Stride <= 0 {
		cfg.Stride = 2
	}
	t := &Tracker{cfg: cfg}
	t.Reset()
	return t
}

// Reset returns the tracker to its initial state.
func (t *Tracker) Reset() {
	t.nextOutgoing = t.cfg.Origin + t.cfg.Stride
	t.expectedIncoming = t.cfg.Origin + 1
}

// Stamp assigns the sequence number for the next outgoing message.
func (t *Tracker) Stamp() int {
	n := t.nextOutgoing
	t.nextOutgoing += t.cfg.Stride
	t.expectedIncoming = n + 1
	return n
}

// Accept validates an incoming sequence number.
func (t *Tracker) Accept(n int) bool {
	if n != t.expectedIncoming {
		return false
	}
	t.expectedIncoming = n + t.cfg.Stride
	t.nextOutgoing = n + 1
	return true
}

// Expected is the only incoming sequence number Accept will take.
func (t *Tracker) Expected() int { return t.expectedIncoming }

// Next is the number the next Stamp will return.
func (t *Tracker) Next() int { return t.nextOutgoing }

// Stock sequence settings. The one-apart origins are what let the first
// real message of either side validate against the other's state.
const (
	ClientOrigin  = -1
	ServerOrigin  = -2
	DefaultStride = 2
)

// DefaultSequence returns the stock settings for role.
func DefaultSequence(role Role) SequenceConfig {
	if role == RoleServer {
		return SequenceConfig{Origin: ServerOrigin, Stride: DefaultStride}
	}
	return SequenceConfig{Origin: ClientOrigin, Stride: DefaultStride}
}
