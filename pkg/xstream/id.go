package xstream

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/solarw/xstream/pkg/random"
)

// IDLength is the length, in bytes, of an XStreamID.
const IDLength = 16

// ID is a 128-bit identifier for a logical, paired XStream. It is monotonic
// per process: the upper eight bytes are a random per-process salt fixed at
// package initialization, and the lower eight bytes are a strictly
// increasing counter. Wrap of the counter is not a concern (2^64 allocations
// would exhaust any process's lifetime many times over).
//
// The zero ID is reserved to mean "unknown, to be determined by header" and
// is used internally on the inbound path before a substream's header has
// been read.
type ID [IDLength]byte

// processSalt is fixed once per process and forms the upper half of every
// allocated ID, so that IDs allocated by distinct processes are extremely
// unlikely to collide even though the counter portion always starts at one.
var processSalt = mustRandomSalt()

// nextCounter is the monotonic counter backing Allocator.Next.
var nextCounter uint64

func mustRandomSalt() [8]byte {
	data, err := random.New(8)
	if err != nil {
		// random.New only fails if the underlying OS source is unavailable,
		// which would make the rest of the process unusable anyway.
		panic(fmt.Sprintf("xstream: unable to seed id salt: %v", err))
	}
	var salt [8]byte
	copy(salt[:], data)
	return salt
}

// NewID allocates a fresh, never-before-used ID. It is safe for concurrent
// use from any number of goroutines.
func NewID() ID {
	counter := atomic.AddUint64(&nextCounter, 1)
	var id ID
	copy(id[:8], processSalt[:])
	binary.BigEndian.PutUint64(id[8:], counter)
	return id
}

// IsZero reports whether id is the reserved "unknown" value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// String returns a hexadecimal representation of the ID, suitable for
// diagnostics and log lines.
func (id ID) String() string {
	return fmt.Sprintf("%x", [IDLength]byte(id))
}

// PutBigEndian writes the big-endian wire representation of id into buffer,
// which must be at least IDLength bytes long.
func (id ID) PutBigEndian(buffer []byte) {
	copy(buffer, id[:])
}

// IDFromBigEndian parses the big-endian wire representation of an ID from
// buffer, which must be exactly IDLength bytes long.
func IDFromBigEndian(buffer []byte) (ID, error) {
	if len(buffer) != IDLength {
		return ID{}, fmt.Errorf("incorrect id length: %d != %d", len(buffer), IDLength)
	}
	var id ID
	copy(id[:], buffer)
	return id, nil
}
