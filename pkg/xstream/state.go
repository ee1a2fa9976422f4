package xstream

import (
	"errors"
	"net"
	"sync"
)

// ClosureReason records why notify_state_change fired, for diagnostics on
// the closure-notifier channel.
type ClosureReason string

const (
	ReasonLocalClose    ClosureReason = "local-close"
	ReasonRemoteClose   ClosureReason = "remote-close"
	ReasonErrorWritten  ClosureReason = "error-written"
	ReasonLastCloneGone ClosureReason = "last-clone-dropped"
)

// ClosureNotification is sent exactly once per XStream on its owning
// behaviour's closure channel.
type ClosureNotification struct {
	ID     ID
	Reason ClosureReason
}

// stateManager is the thread-safe flag set backing a stream's closedness,
// shared by every clone of an XStream. Rather than a single discriminated
// enum, it holds independent boolean flags, guarded by a single mutex (the
// flag set is small and mutated rarely enough that a mutex, rather than
// individual atomics, keeps the "is_closed is a function of several flags"
// invariant easy to read and to keep correct).
type stateManager struct {
	mu sync.Mutex

	writeLocalClosed bool
	readRemoteClosed bool
	localClosed      bool
	remoteClosed     bool
	errorWritten     bool
	errored          bool

	id       ID
	notified bool
	notify   chan<- ClosureNotification
}

// newStateManager constructs a stateManager for the stream identified by
// id, wired to send at most one ClosureNotification on notify.
func newStateManager(id ID, notify chan<- ClosureNotification) *stateManager {
	return &stateManager{id: id, notify: notify}
}

func (s *stateManager) markWriteLocalClosed() {
	s.mu.Lock()
	s.writeLocalClosed = true
	s.mu.Unlock()
}

func (s *stateManager) markReadRemoteClosed() {
	s.mu.Lock()
	s.readRemoteClosed = true
	s.mu.Unlock()
}

func (s *stateManager) markLocalClosed() {
	s.mu.Lock()
	s.localClosed = true
	s.mu.Unlock()
	s.notifyStateChange(ReasonLocalClose)
}

func (s *stateManager) markRemoteClosed() {
	s.mu.Lock()
	s.remoteClosed = true
	s.mu.Unlock()
	s.notifyStateChange(ReasonRemoteClose)
}

func (s *stateManager) markErrorWritten() {
	s.mu.Lock()
	s.errorWritten = true
	s.errored = true
	s.mu.Unlock()
	s.notifyStateChange(ReasonErrorWritten)
}

// handleConnectionError inspects a transport error observed during a read or
// write. If isConnectionTeardownError treats it as "the peer is gone", it
// flips both localClosed and remoteClosed and reports true
// so the caller can treat the failing operation as a soft, expected failure
// during teardown rather than a hard error to surface.
func (s *stateManager) handleConnectionError(err error) bool {
	if !isConnectionTeardownError(err) {
		return false
	}
	s.mu.Lock()
	s.localClosed = true
	s.remoteClosed = true
	s.mu.Unlock()
	s.notifyStateChange(ReasonRemoteClose)
	return true
}

// isConnectionTeardownError reports whether err is treated as "the peer
// connection is gone". It matches net.ErrClosed (and errors wrapping it) and
// every *net.OpError. It does not tell connection reset, connection aborted,
// broken pipe and not connected apart from other network operation errors:
// any *net.OpError, a timeout included, counts as teardown.
func isConnectionTeardownError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// snapshot is an immutable view of the flag set, returned by read(), so
// callers never observe a torn combination of flags.
type snapshot struct {
	writeLocalClosed bool
	readRemoteClosed bool
	localClosed      bool
	remoteClosed     bool
	errorWritten     bool
	errored          bool
}

func (s *stateManager) read() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		writeLocalClosed: s.writeLocalClosed,
		readRemoteClosed: s.readRemoteClosed,
		localClosed:      s.localClosed,
		remoteClosed:     s.remoteClosed,
		errorWritten:     s.errorWritten,
		errored:          s.errored,
	}
}

// isClosed implements the closedness definition: local_closed ∨
// (remote_closed ∧ read_remote_closed).
func (s snapshot) isClosed() bool {
	return s.localClosed || (s.remoteClosed && s.readRemoteClosed)
}

// notifyStateChange sends (id, reason) on the closure-notifier channel
// exactly once; subsequent calls, for any reason, are no-ops. This is the Go
// rendering of the cyclic-feeling XStream <-> StateManager <-> owning-
// behaviour relationship: the state manager only ever holds the send side of
// a one-way channel, so there's no reference cycle to break.
func (s *stateManager) notifyStateChange(reason ClosureReason) {
	s.mu.Lock()
	if s.notified || s.notify == nil {
		s.mu.Unlock()
		return
	}
	s.notified = true
	s.mu.Unlock()

	select {
	case s.notify <- ClosureNotification{ID: s.id, Reason: reason}:
	default:
		// The owning behaviour's closure channel is expected to be large
		// enough to absorb bursts of closures without the swarm-driver task
		// blocking; if it's momentarily full we still must not block a
		// caller inside an XStream operation, so the notification is best
		// effort beyond the first successful send attempt below.
		go func() {
			s.notify <- ClosureNotification{ID: s.id, Reason: reason}
		}()
	}
}
