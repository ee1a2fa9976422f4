// Package substrate is the concrete multi-peer substrate that the
// xstream/pairing layer runs on top of: it owns one wire.Connection per
// connected peer and translates raw carrier I/O into the substream events
// the pairing manager consumes, plus a small set of connection lifecycle
// events a Behaviour Glue can pump.
package substrate

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/solarw/xstream/pkg/encoding"
	"github.com/solarw/xstream/pkg/xstream"
)

// ConnectionID names one underlying wire.Connection for diagnostics. It is
// deliberately not part of any pairing key: it is tracked for diagnostics
// only.
type ConnectionID uint64

// String implements fmt.Stringer, rendering the counter as a compact Base62
// token rather than a raw decimal number, matching how the rest of the
// codebase renders opaque small-integer identifiers for logs.
func (id ConnectionID) String() string {
	var buffer [8]byte
	binary.BigEndian.PutUint64(buffer[:], uint64(id))
	return "conn-" + encoding.EncodeBase62(buffer[:])
}

// newPeerID mints a fresh, swarm-scoped PeerID for a newly established
// connection. The Swarm makes no claim about the remote's real-world
// identity; it only needs a stable, collision-resistant key to scope
// XStreamIDs and PairingKeys to a particular remote (peer discovery and
// authentication remain the transport's problem, named but not implemented
// here).
func newPeerID() xstream.PeerID {
	return xstream.PeerID(uuid.New().String())
}

// Event is the tagged union the Swarm emits on its event channel, covering
// every externally observable substrate occurrence (peer connected/lost,
// substream admitted, transport error).
type Event interface {
	isSubstrateEvent()
}

// ConnectionEstablished is emitted once a carrier connection (inbound or
// outbound) has been wrapped in a wire.Connection and is ready to open or
// accept raw substreams.
type ConnectionEstablished struct {
	PeerID       xstream.PeerID
	ConnectionID ConnectionID
	Direction    xstream.Direction
}

// ConnectionClosed is emitted when a peer's wire.Connection has torn down,
// whether due to an explicit Close or an underlying carrier failure.
type ConnectionClosed struct {
	PeerID       xstream.PeerID
	ConnectionID ConnectionID
	Err          error
}

// IncomingStreamEstablished is emitted for every raw substream the remote
// opens on an existing connection, with its identifying header already
// decoded from the wire-level open tag — the Swarm's translation of a
// substrate-level accept into the pairing manager's inbound input event.
type IncomingStreamEstablished struct {
	PeerID       xstream.PeerID
	ConnectionID ConnectionID
	Header       xstream.Header
	Raw          xstream.RawSubstream
}

// OutboundStreamEstablished is emitted when a locally requested
// OpenStreamWithRole call succeeds in obtaining the raw substream (the
// header has already been written by the time this fires).
type OutboundStreamEstablished struct {
	PeerID       xstream.PeerID
	ConnectionID ConnectionID
	StreamID     xstream.ID
	Role         xstream.Role
	Raw          xstream.RawSubstream
}

// StreamError is emitted when opening an outbound raw substream fails, or
// when an accepted inbound substream's open tag cannot be decoded as a
// header (StreamID is then the zero ID).
type StreamError struct {
	PeerID       xstream.PeerID
	ConnectionID ConnectionID
	StreamID     xstream.ID
	Err          error
}

func (*ConnectionEstablished) isSubstrateEvent()     {}
func (*ConnectionClosed) isSubstrateEvent()            {}
func (*IncomingStreamEstablished) isSubstrateEvent()   {}
func (*OutboundStreamEstablished) isSubstrateEvent()   {}
func (*StreamError) isSubstrateEvent()                 {}
