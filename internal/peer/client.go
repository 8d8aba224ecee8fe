package peer

import (
	"context"
	"errors"
	"net"

	gonet "github.com/reversinet/link/internal/net"
	"github.com/reversinet/link/internal/protocol"
	"go.uber.org/zap"
)

// Client is the dialling side. It opens one connection and starts the
// handshake by sending connect/request/<name>.
type Client struct {
	*reactor
}

func NewClient(opts Options, log *zap.Logger) *Client {
	return &Client{reactor: newReactor(opts, protocol.RoleClient, log)}
}

// Run is the event loop. It returns when ctx is done or Close is called.
func (c *Client) Run(ctx context.Context) error {
	return c.loop(ctx, nil, nil)
}

// Connect dials addr, waiting at most the configured connect timeout, and
// sends the connection request. Dial failures are also raised as a
// TransportError event. Run must be running.
func (c *Client) Connect(ctx context.Context, addr string) error {
	err := c.do(func() error {
		if c.conn != nil {
			return ErrAlreadyConnected
		}
		c.sess.Reset()
		c.sess.State = protocol.StateConnecting
		return nil
	})
	if err != nil {
		return err
	}

	c.log.Info("connecting", zap.String("addr", addr), zap.String("name", c.opts.Name))
	conn, dialErr := gonet.Dial(ctx, addr, c.opts.ConnectTimeout)

	err = c.do(func() error {
		if dialErr != nil {
			c.sess.State = protocol.StateDisconnected
			c.log.Warn("connect failed", zap.Error(dialErr))
			c.emit(protocol.TransportError{Err: dialErr})
			return dialErr
		}
		return c.start(conn)
	})
	if errors.Is(err, ErrClosed) && conn != nil {
		conn.Close()
	}
	return err
}

func (c *Client) start(conn net.Conn) error {
	if c.conn != nil {
		conn.Close()
		return ErrAlreadyConnected
	}
	c.attach(conn)
	return c.write(protocol.Handshake(protocol.ContentRequest, c.opts.Name))
}
