package substrate

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/solarw/xstream/pkg/logging"
	"github.com/solarw/xstream/pkg/substrate/wire"
	"github.com/solarw/xstream/pkg/xstream"
)

// Transport abstracts dialing a remote peer down to handing back a raw
// byte-stream carrier; TCP and SSH transports both implement this.
type Transport interface {
	Dial(ctx context.Context, target string) (io.ReadWriteCloser, error)
}

// Listener abstracts accepting inbound carrier connections, mirroring
// net.Listener but over the minimal io.ReadWriteCloser carrier contract so
// that non-net.Conn transports (e.g. an SSH session's piped stdio) can
// still be listened on by a test harness without satisfying all of
// net.Conn.
type Listener interface {
	Accept() (io.ReadWriteCloser, error)
	Close() error
}

// netListener adapts a net.Listener to Listener, for the common case of a
// TCP-style transport.
type netListener struct {
	net.Listener
}

func (l netListener) Accept() (io.ReadWriteCloser, error) {
	conn, err := l.Listener.Accept()
	return conn, err
}

// NewNetListener adapts an ordinary net.Listener for use with Swarm.Listen.
func NewNetListener(l net.Listener) Listener {
	return netListener{l}
}

type peerConnection struct {
	id        ConnectionID
	peerID    xstream.PeerID
	direction xstream.Direction
	wireConn  *wire.Connection
}

// Swarm owns one wire.Connection per connected peer and is the concrete
// collaborator the Behaviour Glue is wired against. It is safe for
// concurrent use.
type Swarm struct {
	events chan Event
	logger *logging.Logger

	mu               sync.Mutex
	connections      map[xstream.PeerID]*peerConnection
	nextConnectionID uint64
}

// NewSwarm constructs an empty Swarm. events should be sized to absorb
// bursts of substrate activity without blocking accept loops.
func NewSwarm(events chan Event) *Swarm {
	return &Swarm{
		events:      events,
		logger:      logging.RootLogger.Sublogger("substrate"),
		connections: make(map[xstream.PeerID]*peerConnection),
	}
}

// SetLogger overrides the Swarm's logger, e.g. to attach a per-instance
// sublogger when running multiple Swarms in one process.
func (s *Swarm) SetLogger(logger *logging.Logger) {
	s.logger = logger
}

// Events returns the substrate event channel.
func (s *Swarm) Events() <-chan Event {
	return s.events
}

// Dial establishes an outbound carrier connection via transport, wraps it
// in a wire.Connection as the dialer (even=false), assigns it a PeerID and
// ConnectionID, and starts its accept loop.
func (s *Swarm) Dial(ctx context.Context, transport Transport, target string) (xstream.PeerID, error) {
	raw, err := transport.Dial(ctx, target)
	if err != nil {
		return "", errors.Wrap(err, "unable to dial transport")
	}
	peerID := s.register(raw, false, xstream.Outbound)
	return peerID, nil
}

// Listen accepts inbound carrier connections from listener in a background
// loop until the listener is closed; each accepted connection becomes a
// peer, wrapped as the acceptor (even=true).
func (s *Swarm) Listen(listener Listener) {
	go func() {
		for {
			raw, err := listener.Accept()
			if err != nil {
				return
			}
			s.register(raw, true, xstream.Inbound)
		}
	}()
}

func (s *Swarm) register(raw io.ReadWriteCloser, even bool, direction xstream.Direction) xstream.PeerID {
	carrier := wire.NewCarrierFromStream(raw)
	wireConn := wire.Connect(carrier, even, nil)

	peerID := newPeerID()
	connID := ConnectionID(atomic.AddUint64(&s.nextConnectionID, 1))
	pc := &peerConnection{id: connID, peerID: peerID, direction: direction, wireConn: wireConn}

	s.mu.Lock()
	s.connections[peerID] = pc
	s.mu.Unlock()

	s.logger.Debugf("established connection %s to peer %s (%s)", connID, peerID, direction)
	s.emit(&ConnectionEstablished{PeerID: peerID, ConnectionID: connID, Direction: direction})
	go s.acceptSubstreams(pc)
	return peerID
}

// acceptSubstreams runs the per-connection accept loop. Every accepted
// substream already carries its identifying header as the wire-level tag
// attached when the remote opened it, so the Swarm decodes that tag right
// here and surfaces the result as an IncomingStreamEstablished event; the
// Swarm does no pairing itself; that is the Behaviour Glue's job, feeding
// these events into the pairing manager.
func (s *Swarm) acceptSubstreams(pc *peerConnection) {
	for {
		sub, err := pc.wireConn.AcceptSubstream(context.Background())
		if err != nil {
			s.mu.Lock()
			delete(s.connections, pc.peerID)
			s.mu.Unlock()
			s.logger.Debugf("connection %s to peer %s closed: %v", pc.id, pc.peerID, err)
			s.emit(&ConnectionClosed{PeerID: pc.peerID, ConnectionID: pc.id, Err: err})
			return
		}

		header, err := xstream.DecodeHeader(sub.Tag())
		if err != nil {
			sub.Close()
			wrapped := errors.Wrap(err, "unable to decode substream tag")
			s.logger.Debugf("connection %s to peer %s: %v", pc.id, pc.peerID, wrapped)
			s.emit(&StreamError{PeerID: pc.peerID, ConnectionID: pc.id, Err: wrapped})
			continue
		}

		s.emit(&IncomingStreamEstablished{PeerID: pc.peerID, ConnectionID: pc.id, Header: header, Raw: sub})
	}
}

// OpenStreamWithRole opens one raw substream on peer's wire connection,
// attaching its 17-byte header as the substream's open tag so the accepting
// side has it immediately, with no separate header message required.
func (s *Swarm) OpenStreamWithRole(ctx context.Context, peer xstream.PeerID, id xstream.ID, role xstream.Role) (xstream.RawSubstream, error) {
	s.mu.Lock()
	pc, ok := s.connections[peer]
	s.mu.Unlock()
	if !ok {
		err := errors.Errorf("unknown peer %s", peer)
		s.emit(&StreamError{PeerID: peer, StreamID: id, Err: err})
		return nil, err
	}

	header := xstream.Header{ID: id, Role: role}
	sub, err := pc.wireConn.OpenSubstream(ctx, header.Bytes())
	if err != nil {
		wrapped := errors.Wrap(err, "unable to open substream")
		s.emit(&StreamError{PeerID: peer, ConnectionID: pc.id, StreamID: id, Err: wrapped})
		return nil, wrapped
	}

	s.logger.Debugf("opened %s substream %s to peer %s", role, id, peer)
	s.emit(&OutboundStreamEstablished{PeerID: peer, ConnectionID: pc.id, StreamID: id, Role: role, Raw: sub})
	return sub, nil
}

// Close tears down every peer connection this Swarm owns.
func (s *Swarm) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for peerID, pc := range s.connections {
		pc.wireConn.Close()
		delete(s.connections, peerID)
	}
	return nil
}

func (s *Swarm) emit(event Event) {
	s.events <- event
}
