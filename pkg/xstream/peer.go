package xstream

// PeerID names the remote endpoint of a connection, as assigned by whatever
// substrate implementation is in use. The core treats it as an opaque,
// comparable value; it attaches no semantics to it beyond using it as part
// of a pairing key.
type PeerID string
