package wire

import (
	"fmt"
)

// connectionAddress implements net.Addr for Connection.
type connectionAddress struct {
	// even indicates whether or not this is the even-valued connection.
	even bool
}

// Network implements net.Addr.Network.
func (a *connectionAddress) Network() string {
	return "multiplexed"
}

// String implements net.Addr.String.
func (a *connectionAddress) String() string {
	if a.even {
		return "connection:even"
	}
	return "connection:odd"
}

// substreamAddress implements net.Addr for Substream.
type substreamAddress struct {
	// remote indicates whether or not the address is remote.
	remote bool
	// identifier is the stream identifier.
	identifier uint64
}

// Network implements net.Addr.Network.
func (a *substreamAddress) Network() string {
	return "multiplexed"
}

// String implements net.Addr.String.
func (a *substreamAddress) String() string {
	if a.remote {
		return fmt.Sprintf("remote:%d", a.identifier)
	} else {
		return fmt.Sprintf("local:%d", a.identifier)
	}
}
