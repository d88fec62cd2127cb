package protocol

import (
	"net"
	"sync"
	"time"
)

// Options tunes a control connection.
type Options struct {
	// ReadTimeout, when positive, turns a silent peer into ErrConnectionLost.
	ReadTimeout time.Duration
	// WriteTimeout bounds a single Send.
	WriteTimeout time.Duration
	// MaxMessageBytes bounds a single line.
	MaxMessageBytes int
}

// Conn is one framed control connection.
type Conn struct {
	id   uint64
	nc   net.Conn
	opts Options
	enc  *Encoder
	dec  *Decoder

	closeOnce sync.Once
}

func newConn(id uint64, nc net.Conn, opts Options) *Conn {
	return &Conn{
		id:   id,
		nc:   nc,
		opts: opts,
		enc:  NewEncoder(nc),
		dec:  NewDecoder(nc, opts.MaxMessageBytes),
	}
}

// ID identifies the connection within its server.
func (c *Conn) ID() uint64 {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

// Send writes one message.
func (c *Conn) Send(m Message) error {
	if c.opts.WriteTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	return c.enc.Encode(m)
}

// Receive reads the next message. See Decoder.Decode for error semantics.
func (c *Conn) Receive() (Message, error) {
	if c.opts.ReadTimeout > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
	return c.dec.Decode()
}

// Close closes the underlying connection. It is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.nc.Close()
	})
	return err
}
