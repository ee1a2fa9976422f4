package substrate

import (
	"context"
	"testing"
	"time"

	"github.com/solarw/xstream/pkg/substrate/transports/tcp"
	"github.com/solarw/xstream/pkg/xstream"
)

func waitForEvent[T Event](t *testing.T, events <-chan Event) T {
	t.Helper()
	for {
		select {
		case ev := <-events:
			if match, ok := ev.(T); ok {
				return match
			}
		case <-time.After(2 * time.Second):
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestSwarmDialListenConnectionEstablished(t *testing.T) {
	listener, err := tcp.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("tcp.Listen: %v", err)
	}
	defer listener.Close()

	serverSwarm := NewSwarm(make(chan Event, 16))
	serverSwarm.Listen(listener)
	defer serverSwarm.Close()

	clientSwarm := NewSwarm(make(chan Event, 16))
	defer clientSwarm.Close()

	transport := tcp.New()
	netAddr := listener.Addr().String()

	peerID, err := clientSwarm.Dial(context.Background(), transport, netAddr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if peerID == "" {
		t.Fatal("Dial returned empty PeerID")
	}

	established := waitForEvent[*ConnectionEstablished](t, clientSwarm.Events())
	if established.PeerID != peerID {
		t.Fatalf("client ConnectionEstablished.PeerID = %v, want %v", established.PeerID, peerID)
	}
	if established.Direction != xstream.Outbound {
		t.Fatalf("client ConnectionEstablished.Direction = %v, want Outbound", established.Direction)
	}

	serverEstablished := waitForEvent[*ConnectionEstablished](t, serverSwarm.Events())
	if serverEstablished.Direction != xstream.Inbound {
		t.Fatalf("server ConnectionEstablished.Direction = %v, want Inbound", serverEstablished.Direction)
	}
}

func TestSwarmOpenStreamWithRoleSurfacesRawSubstream(t *testing.T) {
	listener, err := tcp.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("tcp.Listen: %v", err)
	}
	defer listener.Close()
	netAddr := listener.Addr().String()

	serverSwarm := NewSwarm(make(chan Event, 16))
	serverSwarm.Listen(listener)
	defer serverSwarm.Close()

	clientSwarm := NewSwarm(make(chan Event, 16))
	defer clientSwarm.Close()

	peerID, err := clientSwarm.Dial(context.Background(), tcp.New(), netAddr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitForEvent[*ConnectionEstablished](t, clientSwarm.Events())
	waitForEvent[*ConnectionEstablished](t, serverSwarm.Events())

	id := xstream.NewID()
	raw, err := clientSwarm.OpenStreamWithRole(context.Background(), peerID, id, xstream.RoleMain)
	if err != nil {
		t.Fatalf("OpenStreamWithRole: %v", err)
	}
	defer raw.Close()

	outboundEv := waitForEvent[*OutboundStreamEstablished](t, clientSwarm.Events())
	if outboundEv.StreamID != id || outboundEv.Role != xstream.RoleMain {
		t.Fatalf("OutboundStreamEstablished = %+v, want stream id %v role Main", outboundEv, id)
	}

	incomingEv := waitForEvent[*IncomingStreamEstablished](t, serverSwarm.Events())
	if incomingEv.Raw == nil {
		t.Fatal("IncomingStreamEstablished.Raw is nil")
	}
	defer incomingEv.Raw.Close()

	if incomingEv.Header.ID != id || incomingEv.Header.Role != xstream.RoleMain {
		t.Fatalf("header = %+v, want id %v role Main", incomingEv.Header, id)
	}
}
