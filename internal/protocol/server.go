package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/bryanchriswhite/renderview/internal/logger"
)

// Inbound is a message received by the server, tagged with its sender.
type Inbound struct {
	From uint64
	Msg  Message
}

// Server is the listening side of the control channel, run by the host.
// Any number of viewers may connect; status broadcasts reach all of them.
type Server struct {
	ln   net.Listener
	opts Options

	mu     sync.Mutex
	peers  map[uint64]*Conn
	nextID uint64

	inbound *queue[Inbound]
	events  *queue[PeerEvent]

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// PeerEvent reports a connection or disconnection.
type PeerEvent struct {
	ID        uint64
	Connected bool
	Err       error
}

// PortInUse reports whether something already accepts connections on addr.
func PortInUse(addr string) bool {
	c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen binds addr. A bind conflict is reported as ErrPortInUse.
func Listen(addr string, opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: %s", ErrPortInUse, addr)
		}
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	logger.WithComponent("control-server").Info().
		Str("addr", ln.Addr().String()).
		Msg("Control channel listening")

	return &Server{
		ln:      ln,
		opts:    opts,
		peers:   make(map[uint64]*Conn),
		inbound: newQueue[Inbound](),
		events:  newQueue[PeerEvent](),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Inbound delivers every received message in arrival order per peer.
func (s *Server) Inbound() <-chan Inbound {
	return s.inbound.out()
}

// Events delivers peer connect/disconnect notifications.
func (s *Server) Events() <-chan PeerEvent {
	return s.events.out()
}

// Serve accepts connections until ctx ends or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	log := logger.WithComponent("control-server")

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to accept control connection: %w", err)
		}

		s.mu.Lock()
		s.nextID++
		c := newConn(s.nextID, nc, s.opts)
		s.peers[c.id] = c
		count := len(s.peers)
		s.mu.Unlock()

		log.Info().
			Uint64("peer", c.id).
			Str("remote", c.RemoteAddr()).
			Int("peers", count).
			Msg("Viewer connected")
		s.events.push(PeerEvent{ID: c.id, Connected: true})

		s.wg.Add(1)
		go s.readLoop(c)
	}
}

func (s *Server) readLoop(c *Conn) {
	defer s.wg.Done()
	log := logger.WithComponent("control-server")

	for {
		m, err := c.Receive()
		if err != nil {
			if IsDecodeError(err) {
				log.Warn().Err(err).Uint64("peer", c.id).Msg("Dropping malformed message")
				continue
			}
			s.drop(c, err)
			return
		}
		log.Debug().Uint64("peer", c.id).Interface("msg", m).Msg("Received")
		s.inbound.push(Inbound{From: c.id, Msg: m})
	}
}

// drop removes a peer from the broadcast set.
func (s *Server) drop(c *Conn, cause error) {
	s.mu.Lock()
	_, present := s.peers[c.id]
	delete(s.peers, c.id)
	remaining := len(s.peers)
	s.mu.Unlock()

	_ = c.Close()
	if !present {
		return
	}

	logger.WithComponent("control-server").Info().
		Uint64("peer", c.id).
		Int("peers", remaining).
		AnErr("cause", cause).
		Msg("Viewer disconnected")
	s.events.push(PeerEvent{ID: c.id, Connected: false, Err: cause})
}

// Broadcast sends m to every peer. Peers that fail are removed. The number
// of peers reached is returned.
func (s *Server) Broadcast(m Message) int {
	s.mu.Lock()
	peers := make([]*Conn, 0, len(s.peers))
	for _, c := range s.peers {
		peers = append(peers, c)
	}
	s.mu.Unlock()

	sent := 0
	for _, c := range peers {
		if err := c.Send(m); err != nil {
			logger.WithComponent("control-server").Warn().
				Err(err).
				Uint64("peer", c.id).
				Msg("Failed to notify viewer")
			s.drop(c, err)
			continue
		}
		sent++
	}
	return sent
}

// Send writes m to a single peer.
func (s *Server) Send(id uint64, m Message) error {
	s.mu.Lock()
	c, ok := s.peers[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: peer %d", ErrConnectionLost, id)
	}
	if err := c.Send(m); err != nil {
		s.drop(c, err)
		return err
	}
	return nil
}

// Peers returns the number of connected viewers.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Close stops accepting, disconnects all peers and waits for readers.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ln.Close()

		s.mu.Lock()
		for _, c := range s.peers {
			_ = c.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		s.inbound.close()
		s.events.close()
	})
	return err
}
