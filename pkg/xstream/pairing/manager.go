package pairing

import (
	"sync"
	"time"

	"github.com/solarw/xstream/pkg/xstream"
)

// Manager pairs the two raw substreams (main and error) that make up a
// single logical XStream. Each substream arrives already carrying its
// identifying header — attached at the wire layer when the substream was
// opened, not read from its data stream — so the Manager's only job is
// matching the two halves by key and reporting orphans or protocol
// violations. It is safe for concurrent use from any number of goroutines
// handling substrate events.
type Manager struct {
	config xstream.Configuration
	events chan Event

	mu      sync.Mutex
	pending map[Key]*pendingPair
}

// NewManager constructs a Manager. events should be sized generously enough
// to absorb bursts of pairing outcomes; while the channel is full, the
// goroutine that HandleNewSubstream spawned for a substream blocks until the
// consumer drains a slot (HandleNewSubstream itself never blocks on it).
func NewManager(config xstream.Configuration, events chan Event) *Manager {
	return &Manager{
		config:  config.Normalized(),
		events:  events,
		pending: make(map[Key]*pendingPair),
	}
}

// Events returns the channel on which pairing outcomes (success and
// failure alike) are delivered, exactly one per pairing attempt.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// HandleNewSubstream processes one newly established raw substream, already
// carrying its decoded header, into the pairing bookkeeping. It returns
// immediately; reconciliation happens on a spawned goroutine so that one
// substream's arrival never blocks the processing of another.
func (m *Manager) HandleNewSubstream(raw xstream.RawSubstream, direction xstream.Direction, peerID xstream.PeerID, connectionID string, header xstream.Header) {
	key := Key{PeerID: peerID, StreamID: header.ID, Direction: direction}
	go m.reconcile(key, header.Role, raw, connectionID)
}

// reconcile performs key construction and pair matching. It holds m.mu only
// long enough to inspect and mutate the pending map, so that insertion for
// one key never blocks reconciliation of another.
func (m *Manager) reconcile(key Key, role xstream.Role, raw xstream.RawSubstream, connectionID string) {
	m.mu.Lock()

	existing, ok := m.pending[key]
	if !ok {
		entry := &pendingPair{
			key:          key,
			firstStream:  raw,
			firstRole:    role,
			connectionID: connectionID,
			arrivalTime:  time.Now(),
		}
		entry.timer = time.AfterFunc(m.config.PairMatchTimeout, func() {
			m.onTimeout(key, entry)
		})
		m.pending[key] = entry
		m.mu.Unlock()
		return
	}

	// A second arrival: the entry is resolved either way, so remove it and
	// stop its timer before releasing the lock.
	delete(m.pending, key)
	existing.timer.Stop()
	m.mu.Unlock()

	if role == existing.firstRole {
		existing.firstStream.Close()
		raw.Close()
		m.emit(&SameRoleError{Key: key, Role: role})
		return
	}

	pair := &PairReady{Key: key, ConnectionID: existing.connectionID}
	assignRole(pair, existing.firstRole, existing.firstStream)
	assignRole(pair, role, raw)
	m.emit(pair)
}

func assignRole(pair *PairReady, role xstream.Role, raw xstream.RawSubstream) {
	switch role {
	case xstream.RoleMain:
		pair.Main = raw
	case xstream.RoleError:
		pair.Error = raw
	}
}

// onTimeout fires when a pending pair's complementary half hasn't arrived
// within the pair-match timeout. It guards against the ordinary
// timer/arrival race by checking that the entry it was armed for
// is still the one registered under key: reconcile always removes the
// entry before stopping the timer, so if the timer has already fired
// concurrently with a late arrival, at most one of the two branches acts
// on the substream.
func (m *Manager) onTimeout(key Key, entry *pendingPair) {
	m.mu.Lock()
	current, ok := m.pending[key]
	if !ok || current != entry {
		m.mu.Unlock()
		return
	}
	delete(m.pending, key)
	m.mu.Unlock()

	entry.firstStream.Close()
	m.emit(&TimeoutError{Key: key, Role: entry.firstRole})
}

func (m *Manager) emit(event Event) {
	m.events <- event
}
