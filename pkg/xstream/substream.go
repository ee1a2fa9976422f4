package xstream

import (
	"io"
)

// RawSubstream is the contract a substrate must satisfy for a single raw
// substream handed to this package by the pairing manager. On successful
// pairing, ownership of both raw substreams transfers into the Stream. The
// interface is intentionally minimal and duck-typed against whatever the
// substrate provides — net.TCPConn already satisfies it, for example, since
// it has both CloseWrite and Close.
type RawSubstream interface {
	io.Reader
	io.Writer
	// CloseWrite half-closes the write direction only, signalling EOF to the
	// peer while leaving reads on this substream unaffected.
	CloseWrite() error
	io.Closer
}
