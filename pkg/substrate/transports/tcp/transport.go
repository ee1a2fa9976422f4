// Package tcp implements the simplest substrate.Transport: a plain TCP
// dial/listen pair, suitable for local testing and same-host demos.
package tcp

import (
	"context"
	"io"
	"net"

	"github.com/pkg/errors"

	"github.com/solarw/xstream/pkg/substrate"
)

var (
	_ substrate.Transport = (*Transport)(nil)
	_ substrate.Listener  = (*Listener)(nil)
)

// Transport dials target addresses over TCP.
type Transport struct {
	dialer net.Dialer
}

// New constructs a TCP Transport.
func New() *Transport {
	return &Transport{}
}

// Dial implements substrate.Transport.
func (t *Transport) Dial(ctx context.Context, target string) (io.ReadWriteCloser, error) {
	conn, err := t.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, errors.Wrap(err, "unable to dial tcp target")
	}
	return conn, nil
}

// Listener wraps a net.Listener as a substrate.Listener while still
// exposing the bound address, which callers need when address was "host:0"
// and the kernel chose the port.
type Listener struct {
	net.Listener
}

// Addr returns the listener's bound network address.
func (l *Listener) Addr() net.Addr {
	return l.Listener.Addr()
}

// Accept implements substrate.Listener by deferring to the wrapped
// net.Listener.
func (l *Listener) Accept() (io.ReadWriteCloser, error) {
	return l.Listener.Accept()
}

// Close implements substrate.Listener by deferring to the wrapped
// net.Listener.
func (l *Listener) Close() error {
	return l.Listener.Close()
}

// Listen wraps net.Listen("tcp", address) as a substrate.Listener.
func Listen(address string) (*Listener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "unable to listen on tcp address")
	}
	return &Listener{Listener: listener}, nil
}
