package xstream

import (
	"fmt"
)

// Role identifies which of the two raw substreams composing a paired
// XStream a given substream plays. Its wire encoding is a single byte and
// the values are fixed at 0x01/0x02 for interoperability.
type Role byte

const (
	// RoleMain identifies the substream carrying application data.
	RoleMain Role = 0x01
	// RoleError identifies the substream carrying at most one terminal
	// error payload.
	RoleError Role = 0x02
)

// IsValid reports whether r is one of the two defined roles. Any other byte
// value read off the wire must be rejected as a header error.
func (r Role) IsValid() bool {
	return r == RoleMain || r == RoleError
}

// Other returns the complementary role (Main <-> Error). It panics if r is
// not a valid role, since pairing logic should never call it otherwise.
func (r Role) Other() Role {
	switch r {
	case RoleMain:
		return RoleError
	case RoleError:
		return RoleMain
	default:
		panic(fmt.Sprintf("xstream: Other called on invalid role %#x", byte(r)))
	}
}

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleMain:
		return "main"
	case RoleError:
		return "error"
	default:
		return fmt.Sprintf("role(%#x)", byte(r))
	}
}
