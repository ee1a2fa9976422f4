package xstream

import (
	"fmt"

	"github.com/pkg/errors"
)

// HeaderLength is the fixed length, in bytes, of the identifying header
// carried by every raw substream: 16 bytes of big-endian stream identifier
// followed by a single role byte. There is no length prefix and no version
// field, and the substrate in pkg/substrate exchanges no protocol identifier
// either, so the header format is not versioned anywhere.
const HeaderLength = IDLength + 1

// Header is the decoded form of the 17-byte record that identifies a raw
// substream to the pairing manager. It travels as the opaque tag attached to
// the substream when the substrate opens it, so both ends of a substream
// know it before any application data is read or written.
type Header struct {
	ID   ID
	Role Role
}

// Encode writes h's wire representation into buffer, which must be at least
// HeaderLength bytes long. It returns the number of bytes written.
func (h Header) Encode(buffer []byte) int {
	h.ID.PutBigEndian(buffer)
	buffer[IDLength] = byte(h.Role)
	return HeaderLength
}

// Bytes returns h's wire representation as a freshly allocated slice.
func (h Header) Bytes() []byte {
	buffer := make([]byte, HeaderLength)
	h.Encode(buffer)
	return buffer
}

// DecodeHeader parses a Header from exactly HeaderLength bytes. It fails if
// the role byte is not one of the two defined roles.
func DecodeHeader(buffer []byte) (Header, error) {
	if len(buffer) != HeaderLength {
		return Header{}, fmt.Errorf("incorrect header length: %d != %d", len(buffer), HeaderLength)
	}
	id, err := IDFromBigEndian(buffer[:IDLength])
	if err != nil {
		return Header{}, errors.Wrap(err, "unable to decode stream id")
	}
	role := Role(buffer[IDLength])
	if !role.IsValid() {
		return Header{}, fmt.Errorf("invalid role byte: %#x", buffer[IDLength])
	}
	return Header{ID: id, Role: role}, nil
}
