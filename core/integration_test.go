package core

import (
	"testing"
	"time"

	"github.com/quartz-robotics/quartz-transport/ident"
	"github.com/quartz-robotics/quartz-transport/registry"
	"github.com/quartz-robotics/quartz-transport/transport"
)

// twoCores builds two independent SharedCore instances in one process,
// each under its own Prometheus namespace so promauto doesn't panic on
// duplicate registration, and each with its own teardown registered on
// t.Cleanup.
func twoCores(t *testing.T) (a, b *SharedCore) {
	t.Helper()
	if testing.Short() {
		t.Skip("binds real zmq sockets and UDP discovery ports")
	}

	cfgA := transport.ConfigFromEnv()
	cfgA.HostAddr = "127.0.0.1"
	a, err := constructNamespaced(cfgA, "quartz_transport_integration_a")
	if err != nil {
		t.Fatalf("construct a: %v", err)
	}
	t.Cleanup(a.Close)

	cfgB := transport.ConfigFromEnv()
	cfgB.HostAddr = "127.0.0.1"
	b, err = constructNamespaced(cfgB, "quartz_transport_integration_b")
	if err != nil {
		t.Fatalf("construct b: %v", err)
	}
	t.Cleanup(b.Close)

	return a, b
}

// waitFor polls cond until it returns true or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// TestTwoCoresDeliverPublishOverRealSockets exercises the discovery and
// socket path the local fast-path tests in core_test.go never touch:
// core B's publisher beacon drives core A's onNewConnection, the control
// frame round trip drives recvControlUpdate, and the eventual publish
// travels over a real subscriber socket into recvMsgUpdate.
func TestTwoCoresDeliverPublishOverRealSockets(t *testing.T) {
	a, b := twoCores(t)

	node := ident.NewNodeID()
	received := make(chan registry.Message, 1)
	if err := a.Subscribe("/chatter-xproc", node, ident.NewHandlerID(), "I32", func(m registry.Message) {
		received <- m
	}, Options{}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	pubNode := ident.NewNodeID()
	name, _ := ident.FullyQualify(b.cfg.Partition, "", "/chatter-xproc")
	if _, err := b.AdvertiseMessage("/chatter-xproc", "I32", pubNode, Options{}); err != nil {
		t.Fatalf("advertise: %v", err)
	}

	// Discovery/ConnectSubscriber happens asynchronously off a's beacon
	// goroutine, so the first few publishes may leave before a's
	// subscriber socket has dialed b's publisher. Re-publish until one
	// lands or the deadline passes.
	waitFor(t, 5*time.Second, func() bool {
		_ = b.Publish(name, []byte{9}, "I32")
		return len(received) > 0
	})

	select {
	case msg := <-received:
		if msg.Data[0] != 9 {
			t.Fatalf("unexpected payload: %v", msg.Data)
		}
	default:
		t.Fatalf("timed out waiting for cross-process delivery")
	}
}

// TestTwoCoresRequestReplyOverRealSockets exercises recvSrvRequest and
// recvSrvResponse: core B advertises a service, core A's request_sync
// dials the real replier socket (onNewSrvConnection's flush path) and
// waits for the response delivered back through the response-receiver
// socket.
func TestTwoCoresRequestReplyOverRealSockets(t *testing.T) {
	a, b := twoCores(t)

	calls := 0
	cb := func(req []byte, reqType, repType string) ([]byte, bool) {
		calls++
		out := make([]byte, len(req))
		copy(out, req)
		return out, true
	}
	name, _ := ident.FullyQualify(b.cfg.Partition, "", "/echo-xproc")
	if err := b.AdvertiseService("/echo-xproc", ident.NewNodeID(), "Bytes", "Bytes", cb, Options{}); err != nil {
		t.Fatalf("advertise service: %v", err)
	}

	rep, ok, err := a.RequestSync(name, ident.NewNodeID(), []byte("ping"), "Bytes", "Bytes", 5*time.Second)
	if err != nil {
		t.Fatalf("request sync: %v", err)
	}
	if !ok || string(rep) != "ping" {
		t.Fatalf("unexpected response: %q ok=%v", rep, ok)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one remote invocation, got %d", calls)
	}
}
