package peer

import (
	"time"

	"github.com/reversinet/link/internal/config"
	gonet "github.com/reversinet/link/internal/net"
	"github.com/reversinet/link/internal/persist"
	"github.com/reversinet/link/internal/protocol"
)

// Options configures either role.
type Options struct {
	Name           string
	Sequence       protocol.SequenceConfig
	BindAddress    string // server only
	AcceptBacklog  int    // server only
	RejectReason   string // server only
	RejectTimeout  time.Duration
	ConnectTimeout time.Duration // client only
	MaxFrameSize   int
	EventQueueSize int
	Conn           gonet.ConnOptions
	Recorder       Recorder // optional
}

// Recorder receives a copy of all traffic and events, e.g. a match journal.
// Record must not block.
type Recorder interface {
	Record(persist.JournalEntry)
}

// OptionsFromConfig derives the options of one role from the config file.
func OptionsFromConfig(cfg *config.Config, role protocol.Role) Options {
	return Options{
		Name:           cfg.Peer.Name,
		Sequence:       cfg.Sequence.For(role),
		BindAddress:    cfg.Network.BindAddress,
		AcceptBacklog:  cfg.Network.AcceptBacklog,
		RejectReason:   cfg.Peer.RejectReason,
		RejectTimeout:  cfg.Network.RejectTimeout,
		ConnectTimeout: cfg.Network.ConnectTimeout,
		MaxFrameSize:   cfg.Network.MaxFrameSize,
		EventQueueSize: cfg.Network.EventQueueSize,
		Conn: gonet.ConnOptions{
			InQueueSize:  cfg.Network.InQueueSize,
			OutQueueSize: cfg.Network.OutQueueSize,
			ChunkSize:    cfg.Network.ReadChunkSize,
			WriteTimeout: cfg.Network.WriteTimeout,
		},
	}
}

func (o *Options) applyDefaults(role protocol.Role) {
	if o.Sequence == (protocol.SequenceConfig{}) {
		o.Sequence = protocol.DefaultSequence(role)
	}
	if o.Sequence.Stride <= 0 {
		o.Sequence.Stride = protocol.DefaultStride
	}
	if o.RejectReason == "" {
		o.RejectReason = "server already in use"
	}
	if o.RejectTimeout <= 0 {
		o.RejectTimeout = 3 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 3 * time.Second
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = gonet.DefaultMaxFrameSize
	}
	if o.EventQueueSize <= 0 {
		o.EventQueueSize = 64
	}
	if o.AcceptBacklog <= 0 {
		o.AcceptBacklog = 8
	}
	if o.Conn.InQueueSize <= 0 {
		o.Conn.InQueueSize = 64
	}
	if o.Conn.OutQueueSize <= 0 {
		o.Conn.OutQueueSize = 64
	}
}
