// Package pairing implements the substream pairing manager: it consumes
// newly established raw substreams, already tagged with their identifying
// header, from a substrate and matches each stream's two raw halves (main,
// error) into a single xstream.Stream.
package pairing

import (
	"github.com/solarw/xstream/pkg/xstream"
)

// Key identifies a single logical XStream's pairing slot. connection_id is
// deliberately excluded: the two halves of one logical stream always
// traverse the same connection, so it carries no disambiguating information
// and is tracked only for diagnostics on the events that reference it.
type Key struct {
	PeerID    xstream.PeerID
	StreamID  xstream.ID
	Direction xstream.Direction
}
