package xstream

import (
	"io"
	"sync"
	"sync/atomic"
)

// core holds everything shared by every clone of a paired XStream. A Stream
// value is a thin handle around a *core; cloning increments refCount and
// hands back a second handle to the same core, so a state mutation made
// through one handle is observable through every other handle the instant
// it happens.
type core struct {
	id        ID
	peerID    PeerID
	direction Direction
	config    Configuration

	main      RawSubstream
	errorConn RawSubstream

	mainReadMu  fifoMutex
	mainWriteMu fifoMutex
	errorMu     fifoMutex

	state    *stateManager
	errStore *errorDataStore // non-nil only for Outbound streams
	errTask  *errorReaderTask // non-nil only for Outbound streams

	// terminalReadErr sticks once a peer-sent error has won the dualRead
	// race, so later calls stop touching the main substream. Guarded by
	// mainReadMu.
	terminalReadErr error

	closeOnce sync.Once
	closed    chan struct{}

	refCount int32
}

// Stream is a paired logical XStream: a single bidirectional byte-stream
// abstraction over a main-channel pair, plus a one-shot error side-channel,
// with clone-safe shared state.
type Stream struct {
	c *core
}

// NewStream constructs a freshly paired XStream from its two constituent
// substream halves (main and error, both already paired and owned
// exclusively by the caller — ownership transfers here). If direction is
// Outbound, the error reader task is started immediately.
func NewStream(id ID, peerID PeerID, main, errorConn RawSubstream, direction Direction, notify chan<- ClosureNotification, config Configuration) *Stream {
	c := &core{
		id:          id,
		peerID:      peerID,
		direction:   direction,
		config:      config,
		main:        main,
		errorConn:   errorConn,
		mainReadMu:  newFIFOMutex(),
		mainWriteMu: newFIFOMutex(),
		errorMu:     newFIFOMutex(),
		closed:      make(chan struct{}),
		refCount:    1,
	}
	c.state = newStateManager(id, notify)
	if direction == Outbound {
		c.errStore = newErrorDataStore()
		c.errTask = startErrorReaderTask(errorConn, c.errStore)
	}
	return &Stream{c: c}
}

// ID returns the stream's stable 128-bit identifier.
func (s *Stream) ID() ID { return s.c.id }

// PeerID returns the identifier of the remote peer this stream is paired
// with.
func (s *Stream) PeerID() PeerID { return s.c.peerID }

// Direction reports whether this stream was locally initiated or accepted.
func (s *Stream) Direction() Direction { return s.c.direction }

// Clone returns a second handle sharing this stream's state, read/write
// halves, and error data store. Closing the stream through any clone closes
// it for all of them. Go has no destructor-driven Drop, so callers that
// discard a clone without an intervening Close should call Release so the
// reference count can still observe "last clone gone" and fire the closure
// notification; forgetting to do so only delays that notification; it leaks
// no resource, since the underlying halves are torn down by Close, not by
// Release.
func (s *Stream) Clone() *Stream {
	atomic.AddInt32(&s.c.refCount, 1)
	return &Stream{c: s.c}
}

// Release relinquishes this handle without closing the stream. If it was
// the last outstanding handle and the stream was never explicitly closed,
// a closure notification is emitted so the owning behaviour can clean up.
func (s *Stream) Release() {
	if atomic.AddInt32(&s.c.refCount, -1) == 0 {
		if !s.c.state.read().localClosed {
			s.c.state.notifyStateChange(ReasonLastCloneGone)
		}
	}
}

// IsClosed reports the stream's current closedness:
// local_closed ∨ (remote_closed ∧ read_remote_closed).
func (s *Stream) IsClosed() bool {
	return s.c.state.read().isClosed()
}

// HasErrorData reports, without blocking, whether error bytes from the peer
// have been cached. Valid only on outbound streams.
func (s *Stream) HasErrorData() bool {
	if s.c.direction != Outbound {
		return false
	}
	return s.c.errStore.hasError()
}

// HasPendingError is equivalent to HasErrorData in this design.
func (s *Stream) HasPendingError() bool {
	return s.HasErrorData()
}

// ErrorRead blocks until the peer's error bytes have arrived (or the error
// substream closed with none) and returns them. Valid only on outbound
// streams; subsequent calls return the same cached bytes without blocking.
func (s *Stream) ErrorRead() ([]byte, error) {
	if s.c.direction != Outbound {
		return nil, ErrPermissionDenied
	}
	return s.c.errStore.waitForError()
}

// ErrorWrite writes bytes on the error write half, then flushes and closes
// the error write half, then flushes and closes the main write half, all as
// a single atomic operation from the caller's perspective. Valid only on
// inbound streams, and only once per stream.
func (s *Stream) ErrorWrite(data []byte) error {
	if s.c.direction != Inbound {
		return ErrPermissionDenied
	}
	if !s.c.errorMu.lock(s.c.closed) {
		return ErrClosed
	}
	defer s.c.errorMu.unlock()

	if s.c.state.read().errorWritten {
		return ErrAlreadyExists
	}

	if _, err := s.c.errorConn.Write(data); err != nil {
		return err
	}
	if err := s.c.errorConn.CloseWrite(); err != nil {
		return err
	}
	s.c.errorConn.Close()
	if err := s.c.main.CloseWrite(); err != nil {
		return err
	}
	s.c.state.markWriteLocalClosed()
	s.c.state.markErrorWritten()
	return nil
}

// WriteAll writes the entirety of buf to the main channel, blocking until
// the substrate has accepted all of it. An empty buf is a no-op that still
// succeeds.
func (s *Stream) WriteAll(buf []byte) error {
	if !s.c.mainWriteMu.lock(s.c.closed) {
		return ErrBrokenPipe
	}
	defer s.c.mainWriteMu.unlock()

	snap := s.c.state.read()
	if snap.writeLocalClosed || snap.isClosed() {
		return ErrBrokenPipe
	}

	remaining := buf
	for len(remaining) > 0 {
		n, err := s.c.main.Write(remaining)
		if err != nil {
			s.c.state.handleConnectionError(err)
			return ErrBrokenPipe
		}
		remaining = remaining[n:]
	}
	return nil
}

// Flush reports that all previously written bytes have been handed to the
// substrate. Writes in this implementation are synchronous with the
// transport (WriteAll does not return until the substrate has accepted the
// data), so Flush has no buffered data to force out; it exists purely to
// surface the same write_local_closed precondition failure as WriteAll.
func (s *Stream) Flush() error {
	if s.c.state.read().writeLocalClosed {
		return ErrBrokenPipe
	}
	return nil
}

// WriteEOF raises the EOF flag on the main write half. It is idempotent: the
// second call fails with ErrBrokenPipe rather than panicking or silently
// succeeding.
func (s *Stream) WriteEOF() error {
	if !s.c.mainWriteMu.lock(s.c.closed) {
		return ErrBrokenPipe
	}
	defer s.c.mainWriteMu.unlock()

	if s.c.state.read().writeLocalClosed {
		return ErrBrokenPipe
	}
	err := s.c.main.CloseWrite()
	s.c.state.markWriteLocalClosed()
	return err
}

// Close is a best-effort, idempotent teardown. If the write half hasn't
// already been EOF'd, Close sends EOF first so that a peer blocked in
// read_to_end terminates. It then aborts the error reader task (if any),
// closes both underlying substreams, and notifies the owning behaviour
// exactly once. Errors encountered during teardown are swallowed.
func (s *Stream) Close() error {
	s.c.closeOnce.Do(func() {
		if !s.c.state.read().writeLocalClosed {
			s.c.main.CloseWrite()
			s.c.state.markWriteLocalClosed()
		}
		if s.c.errTask != nil {
			s.c.errTask.abort()
		}
		s.c.main.Close()
		if s.c.errorConn != nil {
			s.c.errorConn.Close()
		}
		close(s.c.closed)
		s.c.state.markLocalClosed()
	})
	return nil
}

// Read returns up to ReadChunkSize bytes, or an error. A clean remote EOF is
// reported as io.ErrUnexpectedEOF (read_to_end is the operation with a
// normal-termination path for EOF; a single read() always wants at least
// one byte). On outbound streams, a peer-sent error interrupting the read
// surfaces as *ErrorOnRead.
func (s *Stream) Read() ([]byte, error) {
	buf := make([]byte, s.c.config.ReadChunkSize)
	n, err := s.read1(buf)
	if err == nil {
		return buf[:n], nil
	}
	return nil, s.wrapTerminalReadError(nil, err)
}

// ReadExact returns exactly n bytes, or an error carrying whatever prefix of
// those n bytes was successfully read before the error. ReadExact(0)
// returns an empty slice immediately without blocking.
func (s *Stream) ReadExact(n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := s.read1(buf[read:])
		read += m
		if err == nil {
			continue
		}
		return nil, s.wrapTerminalReadError(append([]byte(nil), buf[:read]...), err)
	}
	return buf, nil
}

// ReadToEnd reads until EOF and returns everything read. Unlike Read, a
// clean EOF here is normal termination, not an error. A peer-sent error
// encountered mid-stream surfaces as *ErrorOnRead carrying whatever bytes
// preceded it.
func (s *Stream) ReadToEnd() ([]byte, error) {
	var all []byte
	buf := make([]byte, s.c.config.ReadChunkSize)
	for {
		n, err := s.read1(buf)
		if n > 0 {
			all = append(all, buf[:n]...)
		}
		if err == nil {
			continue
		}
		if err == io.EOF {
			return all, nil
		}
		return all, s.wrapTerminalReadError(all, err)
	}
}

// wrapTerminalReadError translates the internal outcome of read1 into the
// public error contract: io.EOF becomes io.ErrUnexpectedEOF wrapped as an
// I/O read error (callers that want clean-termination semantics, i.e.
// ReadToEnd, intercept io.EOF before calling this), ErrClosed is wrapped the
// same way, and any ReadError is carried through as the ErrorOnRead cause.
func (s *Stream) wrapTerminalReadError(partial []byte, err error) error {
	if err == io.EOF {
		return &ErrorOnRead{PartialData: partial, Cause: &IOReadError{Err: io.ErrUnexpectedEOF}}
	}
	if err == ErrClosed {
		return &ErrorOnRead{PartialData: partial, Cause: &IOReadError{Err: ErrClosed}}
	}
	if rerr, ok := err.(ReadError); ok {
		return &ErrorOnRead{PartialData: partial, Cause: rerr}
	}
	return err
}

// read1 performs a single underlying read attempt, racing the error channel
// on outbound streams. It returns (n, nil) for data, (0, io.EOF) for a clean
// remote close with no error pending, or (0, ReadError) for a transport or
// peer-sent failure. Once a peer-sent error has won that race, every
// subsequent call short-circuits to the same cached error rather than
// touching the main substream again.
func (s *Stream) read1(buf []byte) (int, error) {
	snap := s.c.state.read()
	if snap.isClosed() {
		return 0, ErrClosed
	}
	if snap.readRemoteClosed {
		return 0, io.EOF
	}
	if !s.c.mainReadMu.lock(s.c.closed) {
		return 0, ErrClosed
	}
	defer s.c.mainReadMu.unlock()

	if s.c.direction == Outbound {
		if s.c.terminalReadErr != nil {
			return 0, s.c.terminalReadErr
		}
		return s.dualRead(buf)
	}

	n, err := s.c.main.Read(buf)
	if err == nil {
		return n, nil
	}
	if err == io.EOF {
		s.c.state.markReadRemoteClosed()
		return 0, io.EOF
	}
	if s.c.state.handleConnectionError(err) {
		return 0, io.EOF
	}
	return 0, &IOReadError{Err: err}
}

// dualRead races a read on the main substream against the error data store
// becoming populated. Whichever completes first determines the result; a
// store closure with no error bytes (the peer's error substream closed
// clean) is not itself a result — it just means no error is coming, so the
// loop keeps waiting on the main read alone. Must be called with
// mainReadMu held.
//
// If the error side wins, the main read goroutine spawned below is left
// running: it's still blocked in s.c.main.Read(buf) with no way to cancel
// it short of closing the substream. Rather than spawn a second concurrent
// reader on the next call — which would race the orphaned one over the
// same substream — the resulting error is cached in s.c.terminalReadErr and
// read1 short-circuits to it from then on, so the main substream is never
// touched by more than one reader at a time.
func (s *Stream) dualRead(buf []byte) (int, error) {
	type outcome struct {
		n   int
		err error
	}
	main := make(chan outcome, 1)
	go func() {
		n, err := s.c.main.Read(buf)
		main <- outcome{n: n, err: err}
	}()

	errReady := s.c.errStore.ready
	for {
		select {
		case r := <-main:
			if r.err == nil {
				return r.n, nil
			}
			if r.err == io.EOF {
				s.c.state.markReadRemoteClosed()
				if data, ok := s.c.errStore.getCachedError(); ok {
					return 0, &XStreamReadError{Err: NewXStreamError(data)}
				}
				return 0, io.EOF
			}
			if s.c.state.handleConnectionError(r.err) {
				return 0, io.EOF
			}
			return 0, &IOReadError{Err: r.err}
		case <-errReady:
			if data, ok := s.c.errStore.getCachedError(); ok {
				err := &XStreamReadError{Err: NewXStreamError(data)}
				s.c.terminalReadErr = err
				return 0, err
			}
			// The error substream closed clean (no application error will
			// ever arrive); stop selecting on it and keep waiting on main.
			errReady = nil
		}
	}
}
