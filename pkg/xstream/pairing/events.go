package pairing

import (
	"github.com/solarw/xstream/pkg/xstream"
)

// PairReady is emitted exactly once per successfully matched key, carrying
// both raw halves assigned to their roles.
type PairReady struct {
	Key          Key
	ConnectionID string
	Main         xstream.RawSubstream
	Error        xstream.RawSubstream
}

// TimeoutError is emitted when a pending pair's complementary half never
// arrived within the pair-match timeout.
type TimeoutError struct {
	Key  Key
	Role xstream.Role
}

func (e *TimeoutError) Error() string {
	return "xstream/pairing: pair match timed out for key with orphan role " + e.Role.String()
}

// SameRoleError is emitted when a second arrival for a key carries the same
// role as the first: a protocol violation that drops both substreams.
type SameRoleError struct {
	Key  Key
	Role xstream.Role
}

func (e *SameRoleError) Error() string {
	return "xstream/pairing: two substreams arrived with identical role " + e.Role.String()
}

// Event is the tagged union of outcomes the Manager emits, exactly one per
// pairing attempt, whether it succeeds or fails.
type Event interface {
	isPairingEvent()
}

func (*PairReady) isPairingEvent()    {}
func (*TimeoutError) isPairingEvent() {}
func (*SameRoleError) isPairingEvent() {}
