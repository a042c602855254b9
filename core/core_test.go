package core

import (
	"sync"
	"testing"
	"time"

	"github.com/quartz-robotics/quartz-transport/ident"
	"github.com/quartz-robotics/quartz-transport/registry"
	"github.com/quartz-robotics/quartz-transport/transport"
	"github.com/quartz-robotics/quartz-transport/wire"
)

// The tests in this file share a single SharedCore: construct binds
// real sockets and registers Prometheus collectors process-globally via
// promauto, so a second construct in the same test binary would panic
// on duplicate registration. Each test picks its own topic names to
// stay independent despite the shared instance.
var (
	sharedTestCoreOnce sync.Once
	sharedTestCore     *SharedCore
	sharedTestCoreErr  error
)

func newTestCore(t *testing.T) *SharedCore {
	t.Helper()
	if testing.Short() {
		t.Skip("binds real zmq sockets and UDP discovery ports")
	}
	sharedTestCoreOnce.Do(func() {
		cfg := transport.ConfigFromEnv()
		cfg.HostAddr = "127.0.0.1"
		sharedTestCore, sharedTestCoreErr = construct(cfg)
	})
	if sharedTestCoreErr != nil {
		t.Fatalf("construct: %v", sharedTestCoreErr)
	}
	return sharedTestCore
}

// Property 3: local fast-path equivalence. A publish is observed by
// every matching local handler before Publish returns.
func TestPublishLocalFastPathEquivalence(t *testing.T) {
	sc := newTestCore(t)

	node := ident.NewNodeID()
	var mu sync.Mutex
	var got []registry.Message

	err := sc.Subscribe("/chatter-fastpath", node, ident.NewHandlerID(), "I32", func(m registry.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	}, Options{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	name, _ := ident.FullyQualify(sc.cfg.Partition, "", "/chatter-fastpath")
	if err := sc.Publish(name, []byte{7}, "I32"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Data[0] != 7 {
		t.Fatalf("expected exactly one delivery of {7}, got %+v", got)
	}
}

// Property 6: a subscriber declaring type X is not invoked for a publish
// of type Y != X.
func TestTypeMismatchSafety(t *testing.T) {
	sc := newTestCore(t)

	node := ident.NewNodeID()
	called := false
	if err := sc.Subscribe("/chatter-mismatch", node, ident.NewHandlerID(), "I32", func(registry.Message) {
		called = true
	}, Options{}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	name, _ := ident.FullyQualify(sc.cfg.Partition, "", "/chatter-mismatch")
	if err := sc.Publish(name, []byte{1}, "V3d"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if called {
		t.Fatalf("expected no callback for mismatched type")
	}
}

// Wildcard type subscribers accept any payload type.
func TestWildcardSubscriberReceivesAnyType(t *testing.T) {
	sc := newTestCore(t)

	node := ident.NewNodeID()
	called := false
	if err := sc.Subscribe("/chatter-wildcard", node, ident.NewHandlerID(), wire.WildcardType, func(registry.Message) {
		called = true
	}, Options{}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	name, _ := ident.FullyQualify(sc.cfg.Partition, "", "/chatter-wildcard")
	if err := sc.Publish(name, []byte{1}, "AnyType"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !called {
		t.Fatalf("expected wildcard subscriber to receive the message")
	}
}

// Property 4: at-most-once local service. A request with a local
// responder invokes the callback exactly once per request.
func TestRequestSyncLocalResponderAtMostOnce(t *testing.T) {
	sc := newTestCore(t)

	node := ident.NewNodeID()
	calls := 0
	cb := func(req []byte, reqType, repType string) ([]byte, bool) {
		calls++
		return req, true
	}
	if err := sc.AdvertiseService("/add-atmostonce", node, "I32", "I32", cb, Options{}); err != nil {
		t.Fatalf("advertise service: %v", err)
	}

	name, _ := ident.FullyQualify(sc.cfg.Partition, "", "/add-atmostonce")
	rep, ok, err := sc.RequestSync(name, ident.NewNodeID(), []byte{3}, "I32", "I32", time.Second)
	if err != nil {
		t.Fatalf("request sync: %v", err)
	}
	if !ok || len(rep) != 1 || rep[0] != 3 {
		t.Fatalf("unexpected response: %v %v", rep, ok)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one invocation, got %d", calls)
	}
}

// Scenario S3-like: a request whose declared rep type does not match
// anything local and has no known remote responder times out rather
// than hanging forever.
func TestRequestSyncNoResponderTimesOut(t *testing.T) {
	sc := newTestCore(t)

	name, _ := ident.FullyQualify(sc.cfg.Partition, "", "/add-noresponder")
	start := time.Now()
	_, ok, err := sc.RequestSync(name, ident.NewNodeID(), []byte{1}, "I32", "I32", 100*time.Millisecond)
	if err != ErrTimeout || ok {
		t.Fatalf("expected timeout error, got ok=%v err=%v", ok, err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatalf("returned before timeout elapsed")
	}
}

func TestAdvertiseMessageRejectsDuplicate(t *testing.T) {
	sc := newTestCore(t)

	node := ident.NewNodeID()
	if _, err := sc.AdvertiseMessage("/chatter", "I32", node, Options{}); err != nil {
		t.Fatalf("first advertise: %v", err)
	}
	if _, err := sc.AdvertiseMessage("/chatter", "I32", node, Options{}); err != ErrAlreadyAdvertised {
		t.Fatalf("expected ErrAlreadyAdvertised, got %v", err)
	}
}

func TestUnsubscribeOnlyAffectsItsOwnTopic(t *testing.T) {
	sc := newTestCore(t)

	node := ident.NewNodeID()
	if err := sc.Subscribe("/a", node, ident.NewHandlerID(), "I32", func(registry.Message) {}, Options{}); err != nil {
		t.Fatalf("subscribe /a: %v", err)
	}
	if err := sc.Subscribe("/b", node, ident.NewHandlerID(), "I32", func(registry.Message) {}, Options{}); err != nil {
		t.Fatalf("subscribe /b: %v", err)
	}

	nameA, _ := ident.FullyQualify(sc.cfg.Partition, "", "/a")
	nameB, _ := ident.FullyQualify(sc.cfg.Partition, "", "/b")

	if err := sc.Unsubscribe(nameA, node); err != nil {
		t.Fatalf("unsubscribe /a: %v", err)
	}
	if sc.subscribers.HasHandlersForTopic(nameA) {
		t.Fatalf("expected /a handlers gone")
	}
	if !sc.subscribers.HasHandlersForTopic(nameB) {
		t.Fatalf("expected /b handlers to survive")
	}
}

func TestInvalidTopicRejected(t *testing.T) {
	sc := newTestCore(t)
	if _, err := sc.AdvertiseMessage("", "I32", ident.NewNodeID(), Options{}); err != ErrInvalidTopic {
		t.Fatalf("expected ErrInvalidTopic, got %v", err)
	}
}
