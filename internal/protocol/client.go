package protocol

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/bryanchriswhite/renderview/internal/logger"
)

// Client is the connecting side of the control channel, run by the viewer.
// Losing the connection is terminal: Done closes and Err reports why.
type Client struct {
	conn    *Conn
	inbound *queue[Message]

	done    chan struct{}
	errMu   sync.Mutex
	err     error
	stopped sync.Once
}

// Dial connects to the host's control server.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control channel at %s: %w", addr, err)
	}

	c := &Client{
		conn:    newConn(1, nc, opts),
		inbound: newQueue[Message](),
		done:    make(chan struct{}),
	}

	logger.WithComponent("control-client").Info().
		Str("addr", addr).
		Msg("Connected to host")

	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	log := logger.WithComponent("control-client")

	for {
		m, err := c.conn.Receive()
		if err != nil {
			if IsDecodeError(err) {
				log.Warn().Err(err).Msg("Dropping malformed message")
				continue
			}
			c.finish(err)
			return
		}
		log.Debug().Interface("msg", m).Msg("Received")
		c.inbound.push(m)
	}
}

func (c *Client) finish(err error) {
	c.stopped.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		_ = c.conn.Close()
		c.inbound.close()
		close(c.done)
	})
}

// Inbound delivers every message from the host, in order.
func (c *Client) Inbound() <-chan Message {
	return c.inbound.out()
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Send writes one message to the host.
func (c *Client) Send(m Message) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: client closed", ErrConnectionLost)
	default:
	}
	if err := c.conn.Send(m); err != nil {
		c.finish(err)
		return err
	}
	return nil
}

// SendStatus is shorthand for Send(StatusMessage(s)).
func (c *Client) SendStatus(s Status) error {
	return c.Send(StatusMessage(s))
}

// Close ends the connection.
func (c *Client) Close() error {
	c.finish(fmt.Errorf("%w: closed locally", ErrConnectionLost))
	return nil
}
