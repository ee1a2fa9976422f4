package xstream

import (
	"io"
	"testing"
	"time"
)

// fakeSubstream is an in-memory RawSubstream backed by a pair of io.Pipes,
// giving it real half-close semantics: CloseWrite on one side delivers EOF
// to the peer's Read without affecting the peer's own write direction.
type fakeSubstream struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newFakePair() (a, b *fakeSubstream) {
	r1, w1 := io.Pipe() // a -> b
	r2, w2 := io.Pipe() // b -> a
	a = &fakeSubstream{r: r2, w: w1}
	b = &fakeSubstream{r: r1, w: w2}
	return a, b
}

func (f *fakeSubstream) Read(p []byte) (int, error)  { return f.r.Read(p) }
func (f *fakeSubstream) Write(p []byte) (int, error) { return f.w.Write(p) }
func (f *fakeSubstream) CloseWrite() error            { return f.w.Close() }
func (f *fakeSubstream) Close() error {
	f.w.Close()
	f.r.Close()
	return nil
}

func newPairedStreams(t *testing.T) (outbound, inbound *Stream) {
	t.Helper()
	mainA, mainB := newFakePair()
	errA, errB := newFakePair()
	id := NewID()
	cfg := DefaultConfiguration()
	notify := make(chan ClosureNotification, 4)
	outbound = NewStream(id, PeerID("b"), mainA, errA, Outbound, notify, cfg)
	inbound = NewStream(id, PeerID("a"), mainB, errB, Inbound, notify, cfg)
	return outbound, inbound
}

// S1 — happy-path echo.
func TestStreamHappyPathEcho(t *testing.T) {
	a, b := newPairedStreams(t)

	go func() {
		if err := a.WriteAll([]byte("Hello")); err != nil {
			t.Errorf("a.WriteAll: %v", err)
		}
		if err := a.WriteEOF(); err != nil {
			t.Errorf("a.WriteEOF: %v", err)
		}
	}()

	got, err := b.ReadToEnd()
	if err != nil {
		t.Fatalf("b.ReadToEnd: %v", err)
	}
	if string(got) != "Hello" {
		t.Fatalf("b.ReadToEnd = %q, want %q", got, "Hello")
	}

	// The fake substreams are unbuffered pipes, so the echo must be written
	// concurrently with a's read.
	go func() {
		if err := b.WriteAll([]byte("Hello")); err != nil {
			t.Errorf("b.WriteAll: %v", err)
		}
		if err := b.WriteEOF(); err != nil {
			t.Errorf("b.WriteEOF: %v", err)
		}
		if err := b.Close(); err != nil {
			t.Errorf("b.Close: %v", err)
		}
	}()

	echoed, err := a.ReadToEnd()
	if err != nil {
		t.Fatalf("a.ReadToEnd: %v", err)
	}
	if string(echoed) != "Hello" {
		t.Fatalf("a.ReadToEnd = %q, want %q", echoed, "Hello")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("a.Close: %v", err)
	}
}

// S2 — server error mid-response.
func TestStreamErrorMidResponse(t *testing.T) {
	a, b := newPairedStreams(t)

	go func() {
		if err := b.WriteAll([]byte("PARTIAL")); err != nil {
			t.Errorf("b.WriteAll: %v", err)
		}
		if err := b.ErrorWrite([]byte("disk full")); err != nil {
			t.Errorf("b.ErrorWrite: %v", err)
		}
	}()

	first, err := a.Read()
	if err != nil {
		t.Fatalf("a.Read (first): %v", err)
	}
	if string(first) != "PARTIAL" {
		t.Fatalf("a.Read (first) = %q, want %q", first, "PARTIAL")
	}

	_, err = a.Read()
	if err == nil {
		t.Fatalf("a.Read (second): expected error, got nil")
	}
	onRead, ok := err.(*ErrorOnRead)
	if !ok {
		t.Fatalf("a.Read (second) error type = %T, want *ErrorOnRead", err)
	}
	if len(onRead.PartialData) != 0 {
		t.Fatalf("onRead.PartialData = %q, want empty", onRead.PartialData)
	}
	xsErr, ok := onRead.Cause.(*XStreamReadError)
	if !ok {
		t.Fatalf("onRead.Cause type = %T, want *XStreamReadError", onRead.Cause)
	}
	if string(xsErr.Err.Bytes) != "disk full" {
		t.Fatalf("xsErr.Bytes = %q, want %q", xsErr.Err.Bytes, "disk full")
	}
	if xsErr.Err.Message == nil || *xsErr.Err.Message != "disk full" {
		t.Fatalf("xsErr.Message = %v, want \"disk full\"", xsErr.Err.Message)
	}

	data1, err := a.ErrorRead()
	if err != nil {
		t.Fatalf("a.ErrorRead (first): %v", err)
	}
	if string(data1) != "disk full" {
		t.Fatalf("a.ErrorRead (first) = %q, want %q", data1, "disk full")
	}
	data2, err := a.ErrorRead()
	if err != nil {
		t.Fatalf("a.ErrorRead (second): %v", err)
	}
	if string(data2) != "disk full" {
		t.Fatalf("a.ErrorRead (second) = %q, want %q", data2, "disk full")
	}
}

// S3 — permission violations.
func TestStreamPermissionViolations(t *testing.T) {
	a, b := newPairedStreams(t)

	if err := a.ErrorWrite([]byte("x")); err != ErrPermissionDenied {
		t.Fatalf("outbound ErrorWrite = %v, want ErrPermissionDenied", err)
	}
	if _, err := b.ErrorRead(); err != ErrPermissionDenied {
		t.Fatalf("inbound ErrorRead = %v, want ErrPermissionDenied", err)
	}
}

// ErrorWrite succeeds exactly once on an inbound stream.
func TestStreamErrorWriteOnce(t *testing.T) {
	a, b := newPairedStreams(t)
	go a.ReadToEnd()

	if err := b.ErrorWrite([]byte("boom")); err != nil {
		t.Fatalf("first ErrorWrite: %v", err)
	}
	if err := b.ErrorWrite([]byte("again")); err != ErrAlreadyExists {
		t.Fatalf("second ErrorWrite = %v, want ErrAlreadyExists", err)
	}
}

// S6 — clone-shared close: one clone closing is observed by every clone,
// and a write through a different clone after close fails.
func TestStreamCloneSharedClose(t *testing.T) {
	a, b := newPairedStreams(t)
	go b.ReadToEnd()
	clone1 := a
	clone2 := a.Clone()

	if err := clone1.WriteAll([]byte("A")); err != nil {
		t.Fatalf("clone1.WriteAll: %v", err)
	}
	if err := clone2.Close(); err != nil {
		t.Fatalf("clone2.Close: %v", err)
	}

	if !clone1.IsClosed() {
		t.Fatalf("clone1.IsClosed() = false after clone2.Close()")
	}

	if err := clone1.WriteAll([]byte("B")); err != ErrBrokenPipe {
		t.Fatalf("clone1.WriteAll after close = %v, want ErrBrokenPipe", err)
	}
}

// ReadExact(0) returns immediately without blocking.
func TestStreamReadExactZero(t *testing.T) {
	a, _ := newPairedStreams(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf, err := a.ReadExact(0)
		if err != nil {
			t.Errorf("ReadExact(0): %v", err)
		}
		if len(buf) != 0 {
			t.Errorf("ReadExact(0) = %d bytes, want 0", len(buf))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReadExact(0) blocked")
	}
}

// WriteAll(empty) is a no-op that still succeeds.
func TestStreamWriteAllEmpty(t *testing.T) {
	a, _ := newPairedStreams(t)
	if err := a.WriteAll(nil); err != nil {
		t.Fatalf("WriteAll(nil): %v", err)
	}
}

// Close is idempotent.
func TestStreamCloseTwice(t *testing.T) {
	a, _ := newPairedStreams(t)
	if err := a.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
