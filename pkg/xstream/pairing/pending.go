package pairing

import (
	"time"

	"github.com/solarw/xstream/pkg/xstream"
)

// pendingPair is the manager's bookkeeping record for a key that has seen
// exactly one arrival and is waiting for its complementary role, or for the
// pair-match timeout to fire.
type pendingPair struct {
	key         Key
	firstStream xstream.RawSubstream
	firstRole   xstream.Role
	connectionID string
	arrivalTime time.Time
	timer       *time.Timer
}
