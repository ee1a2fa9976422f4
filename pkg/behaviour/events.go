// Package behaviour implements the glue between a substrate.Swarm and the
// xstream/pairing manager, turning raw substream events into fully paired,
// application-visible *xstream.Stream values, and applying the configured
// inbound admission policy before a peer's stream is ever handed to
// application code.
package behaviour

import (
	"github.com/solarw/xstream/pkg/xstream"
)

// Event is the tagged union of outcomes the Glue emits on its own event
// channel, mirroring the substrate and pairing event conventions.
type Event interface {
	isBehaviourEvent()
}

// IncomingStreamRequest is emitted when a pair completes for an inbound
// stream and the configured policy is ManualApprove. The caller must send
// exactly one value on Decision; until it does, the raw substreams are held
// open but unread.
type IncomingStreamRequest struct {
	PeerID   xstream.PeerID
	ID       xstream.ID
	Decision chan<- bool
}

// StreamEstablished is emitted once an outbound OpenStream call's pair
// completes and the resulting stream is ready for use.
type StreamEstablished struct {
	Stream *xstream.Stream
}

// IncomingStreamEstablished is emitted once an inbound stream's pair
// completes and is admitted — either auto-approved or approved via a prior
// IncomingStreamRequest decision — and the resulting stream is ready for
// use. Stream.Direction() reports xstream.Inbound for every stream surfaced
// this way.
type IncomingStreamEstablished struct {
	Stream *xstream.Stream
}

// StreamRejected is emitted when an inbound request was declined by the
// configured policy, after both raw substreams have already been closed.
type StreamRejected struct {
	PeerID xstream.PeerID
	ID     xstream.ID
}

// StreamError is emitted when pairing failed for reasons other than policy
// rejection (a pair-match timeout, a malformed substream tag, or two
// arrivals with identical roles) and no pending OpenStream call took the
// error, when the substrate reports a failed substream open, and when a
// peer's connection closes.
type StreamError struct {
	PeerID xstream.PeerID
	Err    error
}

// StreamClosed is emitted exactly once per established stream, when its
// underlying state manager reports the stream has fully closed. Glue uses
// this internally to drop its bookkeeping entry; it is also surfaced so
// callers can react to peer-initiated teardown without polling
// Stream.IsClosed.
type StreamClosed struct {
	ID     xstream.ID
	Reason xstream.ClosureReason
}

func (*IncomingStreamRequest) isBehaviourEvent()     {}
func (*StreamEstablished) isBehaviourEvent()         {}
func (*IncomingStreamEstablished) isBehaviourEvent() {}
func (*StreamRejected) isBehaviourEvent()            {}
func (*StreamError) isBehaviourEvent()               {}
func (*StreamClosed) isBehaviourEvent()              {}
