package discovery

import (
	"testing"
	"time"

	"github.com/quartz-robotics/quartz-transport/ident"
	"github.com/quartz-robotics/quartz-transport/registry"
)

func TestBeaconAdvertiseDiscoverLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("binds real UDP sockets")
	}

	const port = 41317

	a := New[registry.PublisherRecord](port, "procA", nil)
	b := New[registry.PublisherRecord](port, "procB", nil)

	connected := make(chan registry.PublisherRecord, 1)
	b.OnNewConnection(func(r registry.PublisherRecord) { connected <- r })

	if err := a.Start(); err != nil {
		t.Fatalf("start a: %v", err)
	}
	defer a.Stop()
	if err := b.Start(); err != nil {
		t.Fatalf("start b: %v", err)
	}
	defer b.Stop()

	rec := registry.PublisherRecord{
		Topic:       "test0@/chatter",
		DataAddr:    "tcp://127.0.0.1:6000",
		ProcessID:   ident.NewProcessID(),
		NodeID:      ident.NewNodeID(),
		MsgTypeName: "I32",
	}
	a.Advertise(rec)

	select {
	case got := <-connected:
		if got.Topic != rec.Topic || got.DataAddr != rec.DataAddr {
			t.Fatalf("unexpected record: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for discovery")
	}
}

func TestBeaconKeyFormat(t *testing.T) {
	rec := registry.PublisherRecord{Topic: "test0@/chatter", NodeID: ident.NewNodeID()}
	topic, nodeID := rec.Key()
	if topic != rec.Topic || nodeID != rec.NodeID.String() {
		t.Fatalf("unexpected key: %q %q", topic, nodeID)
	}
}

func TestSplitKey(t *testing.T) {
	topic, nodeID, ok := splitKey("test0@/chatter|abc-123")
	if !ok || topic != "test0@/chatter" || nodeID != "abc-123" {
		t.Fatalf("got %q %q %v", topic, nodeID, ok)
	}
	if _, _, ok := splitKey("no-separator"); ok {
		t.Fatalf("expected failure on malformed key")
	}
}
