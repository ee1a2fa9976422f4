package pairing

import (
	"io"
	"testing"
	"time"

	"github.com/solarw/xstream/pkg/xstream"
)

type fakeSubstream struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newFakePair() (a, b *fakeSubstream) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	a = &fakeSubstream{r: r2, w: w1}
	b = &fakeSubstream{r: r1, w: w2}
	return a, b
}

func (f *fakeSubstream) Read(p []byte) (int, error)  { return f.r.Read(p) }
func (f *fakeSubstream) Write(p []byte) (int, error) { return f.w.Write(p) }
func (f *fakeSubstream) CloseWrite() error           { return f.w.Close() }
func (f *fakeSubstream) Close() error {
	f.w.Close()
	f.r.Close()
	return nil
}

func testConfig() xstream.Configuration {
	cfg := xstream.DefaultConfiguration()
	cfg.PairMatchTimeout = 150 * time.Millisecond
	return cfg
}

// An inbound main substream and an inbound error substream carrying the
// same stream id pair successfully.
func TestManagerPairsComplementaryInbound(t *testing.T) {
	m := NewManager(testConfig(), make(chan Event, 8))
	id := xstream.NewID()

	mainA, mainB := newFakePair()
	errA, errB := newFakePair()
	defer mainA.Close()
	defer mainB.Close()
	defer errA.Close()
	defer errB.Close()

	m.HandleNewSubstream(mainA, xstream.Inbound, xstream.PeerID("peer"), "conn-1", xstream.Header{ID: id, Role: xstream.RoleMain})
	m.HandleNewSubstream(errA, xstream.Inbound, xstream.PeerID("peer"), "conn-1", xstream.Header{ID: id, Role: xstream.RoleError})

	select {
	case ev := <-m.Events():
		ready, ok := ev.(*PairReady)
		if !ok {
			t.Fatalf("event type = %T, want *PairReady", ev)
		}
		if ready.Key.StreamID != id {
			t.Fatalf("paired stream id = %v, want %v", ready.Key.StreamID, id)
		}
		if ready.Main == nil || ready.Error == nil {
			t.Fatalf("PairReady missing a role assignment: %+v", ready)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PairReady")
	}
}

// Two substreams with identical roles arriving for the same key is a
// protocol violation: both are dropped and a SameRoleError is emitted.
func TestManagerSameRoleClash(t *testing.T) {
	m := NewManager(testConfig(), make(chan Event, 8))
	id := xstream.NewID()

	mainA, mainB := newFakePair()
	mainC, mainD := newFakePair()
	defer mainA.Close()
	defer mainB.Close()
	defer mainC.Close()
	defer mainD.Close()

	m.HandleNewSubstream(mainA, xstream.Inbound, xstream.PeerID("peer"), "conn-1", xstream.Header{ID: id, Role: xstream.RoleMain})
	m.HandleNewSubstream(mainC, xstream.Inbound, xstream.PeerID("peer"), "conn-1", xstream.Header{ID: id, Role: xstream.RoleMain})

	select {
	case ev := <-m.Events():
		clash, ok := ev.(*SameRoleError)
		if !ok {
			t.Fatalf("event type = %T, want *SameRoleError", ev)
		}
		if clash.Role != xstream.RoleMain {
			t.Fatalf("clash.Role = %v, want RoleMain", clash.Role)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SameRoleError")
	}
}

// An orphan first arrival times out after the configured pair-match
// deadline.
func TestManagerPairMatchTimeout(t *testing.T) {
	m := NewManager(testConfig(), make(chan Event, 8))
	id := xstream.NewID()

	mainA, mainB := newFakePair()
	defer mainA.Close()
	defer mainB.Close()

	start := time.Now()
	m.HandleNewSubstream(mainA, xstream.Inbound, xstream.PeerID("peer"), "conn-1", xstream.Header{ID: id, Role: xstream.RoleMain})

	select {
	case ev := <-m.Events():
		timeout, ok := ev.(*TimeoutError)
		if !ok {
			t.Fatalf("event type = %T, want *TimeoutError", ev)
		}
		if timeout.Role != xstream.RoleMain {
			t.Fatalf("timeout.Role = %v, want RoleMain", timeout.Role)
		}
		elapsed := time.Since(start)
		if elapsed < 100*time.Millisecond {
			t.Fatalf("timeout fired too early: %v", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for TimeoutError")
	}
}

// Outbound and inbound substreams are handled identically once their header
// is known: both skip straight to key construction, with no wire read.
func TestManagerOutboundPairsComplementary(t *testing.T) {
	m := NewManager(testConfig(), make(chan Event, 8))
	id := xstream.NewID()

	mainA, _ := newFakePair()
	errA, _ := newFakePair()
	defer mainA.Close()
	defer errA.Close()

	m.HandleNewSubstream(mainA, xstream.Outbound, xstream.PeerID("peer"), "conn-1", xstream.Header{ID: id, Role: xstream.RoleMain})
	m.HandleNewSubstream(errA, xstream.Outbound, xstream.PeerID("peer"), "conn-1", xstream.Header{ID: id, Role: xstream.RoleError})

	select {
	case ev := <-m.Events():
		if _, ok := ev.(*PairReady); !ok {
			t.Fatalf("event type = %T, want *PairReady", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PairReady")
	}
}
