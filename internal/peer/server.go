package peer

import (
	"context"
	"fmt"
	"net"

	gonet "github.com/reversinet/link/internal/net"
	"github.com/reversinet/link/internal/protocol"
	"go.uber.org/zap"
)

// Server is the listening side. It holds at most one session; a connection
// that arrives while the slot is taken is sent connect/rejected/<reason>
// and closed without ever touching the active session.
type Server struct {
	*reactor
	ln        *gonet.Listener
	advertise string
}

func NewServer(opts Options, log *zap.Logger) *Server {
	return &Server{reactor: newReactor(opts, protocol.RoleServer, log)}
}

// Listen binds the configured address and starts accepting. It returns
// the address the opponent should dial.
func (s *Server) Listen() (string, error) {
	if s.ln != nil {
		return s.advertise, nil
	}
	ln, err := gonet.Listen(s.opts.BindAddress, s.opts.AcceptBacklog, s.log)
	if err != nil {
		return "", err
	}
	s.ln = ln
	s.advertise = gonet.AdvertiseAddr(ln.Port())
	go ln.AcceptLoop()
	s.log.Info("server listening",
		zap.String("bind", ln.Addr().String()),
		zap.String("advertise", s.advertise),
		zap.String("name", s.opts.Name),
	)
	return s.advertise, nil
}

// Addr is the bound listener address, for dialling from this host.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Run is the event loop. It listens first if Listen was not called, raises
// Listening, and returns when ctx is done or Close is called.
func (s *Server) Run(ctx context.Context) error {
	if _, err := s.Listen(); err != nil {
		s.finish()
		return fmt.Errorf("server: %w", err)
	}
	defer s.ln.Shutdown()

	s.emit(protocol.Listening{Addr: s.advertise})
	return s.loop(ctx, s.ln.Incoming(), s.accept)
}

// accept runs on the loop goroutine, so the busy check and taking the slot
// cannot interleave with another accept.
func (s *Server) accept(c net.Conn) {
	if s.busy() {
		s.log.Info("rejecting connection, session in progress",
			zap.String("remote", c.RemoteAddr().String()),
			zap.String("peer", s.sess.RemoteName),
		)
		payload, err := protocol.Encode(protocol.Handshake(protocol.ContentRejected, s.opts.RejectReason))
		if err != nil {
			c.Close()
			return
		}
		go gonet.Reject(c, payload, s.opts.RejectTimeout, s.log)
		return
	}
	s.attach(c)
}
