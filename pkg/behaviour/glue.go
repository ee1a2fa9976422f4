package behaviour

import (
	"context"
	"sync"

	"github.com/solarw/xstream/pkg/logging"
	"github.com/solarw/xstream/pkg/substrate"
	"github.com/solarw/xstream/pkg/xstream"
	"github.com/solarw/xstream/pkg/xstream/pairing"
)

// pendingOpen tracks one in-flight OpenStream call waiting for its two raw
// substreams (main and error, same ID, same peer) to come back paired.
type pendingOpen struct {
	peerID PeerID
	result chan openResult
}

// PeerID is re-exported for callers that only need the behaviour package's
// public surface and don't want a direct xstream import for this one type.
type PeerID = xstream.PeerID

type openResult struct {
	stream *xstream.Stream
	err    error
}

// Glue owns a substrate.Swarm and an xstream/pairing.Manager, pumps raw
// substream events from the former into the latter, applies the configured
// inbound admission policy to completed pairs, and constructs the resulting
// *xstream.Stream values. It is the only piece of this module an
// application is expected to talk to directly.
type Glue struct {
	swarm   *substrate.Swarm
	manager *pairing.Manager
	config  xstream.Configuration
	logger  *logging.Logger

	events   chan Event
	closures chan xstream.ClosureNotification

	mu       sync.Mutex
	streams  map[xstream.ID]*xstream.Stream
	pending  map[xstream.ID]*pendingOpen
	shutdown chan struct{}
}

// New constructs a Glue over an already-constructed Swarm. Call Run once to
// start pumping events; Glue does no work until Run is called.
func New(swarm *substrate.Swarm, config xstream.Configuration) *Glue {
	config = config.Normalized()
	return &Glue{
		swarm:    swarm,
		manager:  pairing.NewManager(config, make(chan pairing.Event, 64)),
		config:   config,
		logger:   logging.RootLogger.Sublogger("behaviour"),
		events:   make(chan Event, 64),
		closures: make(chan xstream.ClosureNotification, 64),
		streams:  make(map[xstream.ID]*xstream.Stream),
		pending:  make(map[xstream.ID]*pendingOpen),
		shutdown: make(chan struct{}),
	}
}

// Events returns the channel on which Glue surfaces IncomingStreamRequest,
// StreamEstablished, IncomingStreamEstablished, StreamRejected, StreamError,
// and StreamClosed events.
func (g *Glue) Events() <-chan Event {
	return g.events
}

// Run starts the three pump goroutines (substrate -> pairing manager,
// pairing manager -> admission/construction, closures -> bookkeeping) and
// returns immediately.
func (g *Glue) Run(ctx context.Context) {
	go g.pumpSubstrate(ctx)
	go g.pumpPairing(ctx)
	go g.pumpClosures(ctx)
}

// Close stops the pump goroutines and closes the underlying Swarm.
func (g *Glue) Close() error {
	close(g.shutdown)
	return g.swarm.Close()
}

// pumpSubstrate feeds every substrate event that carries a raw substream
// into the pairing manager, translating substrate.IncomingStreamEstablished
// into an inbound HandleNewSubstream call and
// substrate.OutboundStreamEstablished into an outbound one. Both already
// carry their decoded header by the time they reach here, so neither path
// performs any I/O of its own.
func (g *Glue) pumpSubstrate(ctx context.Context) {
	for {
		select {
		case <-g.shutdown:
			return
		case ev, ok := <-g.swarm.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *substrate.IncomingStreamEstablished:
				g.manager.HandleNewSubstream(e.Raw, xstream.Inbound, e.PeerID, e.ConnectionID.String(), e.Header)
			case *substrate.OutboundStreamEstablished:
				header := xstream.Header{ID: e.StreamID, Role: e.Role}
				g.manager.HandleNewSubstream(e.Raw, xstream.Outbound, e.PeerID, e.ConnectionID.String(), header)
			case *substrate.StreamError:
				g.failPending(e.StreamID, e.Err)
				g.emit(&StreamError{PeerID: e.PeerID, Err: e.Err})
			case *substrate.ConnectionClosed:
				g.emit(&StreamError{PeerID: e.PeerID, Err: e.Err})
			}
		}
	}
}

// pumpPairing consumes pairing manager outcomes: on PairReady it either
// constructs the stream immediately (outbound, or inbound under
// AutoApprove) or surfaces an IncomingStreamRequest and waits for the
// caller's decision (inbound under ManualApprove); on any failure outcome it
// reports StreamError (or resolves a matching pending Open call with that
// error).
func (g *Glue) pumpPairing(ctx context.Context) {
	for {
		select {
		case <-g.shutdown:
			return
		case ev, ok := <-g.manager.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *pairing.PairReady:
				g.handlePairReady(e)
			case *pairing.TimeoutError:
				g.failPending(e.Key.StreamID, e)
			case *pairing.SameRoleError:
				g.failPending(e.Key.StreamID, e)
			}
		}
	}
}

func (g *Glue) handlePairReady(e *pairing.PairReady) {
	id := e.Key.StreamID
	peerID := e.Key.PeerID
	direction := e.Key.Direction

	if direction == xstream.Outbound {
		stream := g.construct(id, peerID, direction, e.Main, e.Error)
		g.resolvePending(id, stream, nil)
		g.logger.Debugf("outbound stream %s to peer %s paired", id, peerID)
		g.emit(&StreamEstablished{Stream: stream})
		return
	}

	approved, request, decision := g.applyPolicy(peerID, id)
	if approved {
		stream := g.construct(id, peerID, direction, e.Main, e.Error)
		g.logger.Debugf("inbound stream %s from peer %s auto-approved", id, peerID)
		g.emit(&IncomingStreamEstablished{Stream: stream})
		return
	}

	g.logger.Debugf("inbound stream %s from peer %s awaiting manual approval", id, peerID)
	g.emit(request)
	go func() {
		ok := <-decision
		if ok {
			stream := g.construct(id, peerID, direction, e.Main, e.Error)
			g.emit(&IncomingStreamEstablished{Stream: stream})
			return
		}
		e.Main.Close()
		e.Error.Close()
		g.emit(&StreamRejected{PeerID: peerID, ID: id})
	}()
}

func (g *Glue) construct(id xstream.ID, peerID xstream.PeerID, direction xstream.Direction, main, errorConn xstream.RawSubstream) *xstream.Stream {
	stream := xstream.NewStream(id, peerID, main, errorConn, direction, g.closures, g.config)
	g.mu.Lock()
	g.streams[id] = stream
	g.mu.Unlock()
	return stream
}

// pumpClosures drains the shared closure-notification channel every
// constructed Stream's state manager writes to at most once, removing the
// bookkeeping entry and surfacing StreamClosed.
func (g *Glue) pumpClosures(ctx context.Context) {
	for {
		select {
		case <-g.shutdown:
			return
		case n, ok := <-g.closures:
			if !ok {
				return
			}
			g.mu.Lock()
			delete(g.streams, n.ID)
			g.mu.Unlock()
			g.emit(&StreamClosed{ID: n.ID, Reason: n.Reason})
		}
	}
}

// OpenStream opens a fresh outbound XStream to peer: it allocates a new ID,
// opens both the main and error raw substreams via the Swarm, and waits for
// the pairing manager to reconcile them back into a single paired Stream.
func (g *Glue) OpenStream(ctx context.Context, peer xstream.PeerID) (*xstream.Stream, error) {
	id := xstream.NewID()
	result := make(chan openResult, 1)

	g.mu.Lock()
	g.pending[id] = &pendingOpen{peerID: peer, result: result}
	g.mu.Unlock()

	if _, err := g.swarm.OpenStreamWithRole(ctx, peer, id, xstream.RoleMain); err != nil {
		g.clearPending(id)
		return nil, err
	}
	if _, err := g.swarm.OpenStreamWithRole(ctx, peer, id, xstream.RoleError); err != nil {
		g.clearPending(id)
		return nil, err
	}

	select {
	case r := <-result:
		return r.stream, r.err
	case <-ctx.Done():
		g.clearPending(id)
		return nil, ctx.Err()
	}
}

func (g *Glue) resolvePending(id xstream.ID, stream *xstream.Stream, err error) {
	g.mu.Lock()
	p, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()
	if ok {
		p.result <- openResult{stream: stream, err: err}
	}
}

func (g *Glue) failPending(id xstream.ID, err error) {
	g.mu.Lock()
	p, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()
	if ok {
		p.result <- openResult{err: err}
	} else {
		g.emit(&StreamError{PeerID: p.safePeerID(), Err: err})
	}
}

func (p *pendingOpen) safePeerID() xstream.PeerID {
	if p == nil {
		return ""
	}
	return p.peerID
}

func (g *Glue) clearPending(id xstream.ID) {
	g.mu.Lock()
	delete(g.pending, id)
	g.mu.Unlock()
}

func (g *Glue) emit(event Event) {
	select {
	case g.events <- event:
	case <-g.shutdown:
	}
}
