package registry

import "testing"

func TestTableAddRemoveHandler(t *testing.T) {
	tbl := New[string]()

	prev, had := tbl.AddHandler("/chatter", "node1", "h1", "A")
	if had {
		t.Fatalf("expected no previous value, got %q", prev)
	}

	if !tbl.HasHandlersForTopic("/chatter") {
		t.Fatalf("expected handlers for topic")
	}

	v, ok := tbl.Get("/chatter", "node1", "h1")
	if !ok || v != "A" {
		t.Fatalf("got %q, %v", v, ok)
	}

	if !tbl.RemoveHandler("/chatter", "node1", "h1") {
		t.Fatalf("expected removal to succeed")
	}
	if tbl.HasHandlersForTopic("/chatter") {
		t.Fatalf("expected no handlers after removal")
	}
	if tbl.RemoveHandler("/chatter", "node1", "h1") {
		t.Fatalf("expected second removal to be a no-op")
	}
}

func TestTableRemoveByMid(t *testing.T) {
	tbl := New[string]()
	tbl.AddHandler("/a", "node1", "h1", "A")
	tbl.AddHandler("/a", "node1", "h2", "B")
	tbl.AddHandler("/b", "node1", "h3", "C")
	tbl.AddHandler("/b", "node2", "h4", "D")

	removed := tbl.RemoveByMid("node1")
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	if tbl.HasHandlersForTopic("/a") {
		t.Fatalf("expected /a empty")
	}
	if !tbl.HasHandlersForTopic("/b") {
		t.Fatalf("expected /b to retain node2's handler")
	}
	if _, ok := tbl.Get("/b", "node2", "h4"); !ok {
		t.Fatalf("expected node2's handler to survive")
	}
}

// Property: the set of live handlers equals add-ed minus removed for any
// sequence of operations.
func TestTableHandlerIsolationProperty(t *testing.T) {
	tbl := New[int]()
	live := map[[3]string]int{}

	add := func(topic, mid, hid string, v int) {
		tbl.AddHandler(topic, mid, hid, v)
		live[[3]string{topic, mid, hid}] = v
	}
	remove := func(topic, mid, hid string) {
		tbl.RemoveHandler(topic, mid, hid)
		delete(live, [3]string{topic, mid, hid})
	}
	removeByMid := func(mid string) {
		tbl.RemoveByMid(mid)
		for k := range live {
			if k[1] == mid {
				delete(live, k)
			}
		}
	}

	add("/t1", "n1", "h1", 1)
	add("/t1", "n1", "h2", 2)
	add("/t2", "n2", "h3", 3)
	remove("/t1", "n1", "h1")
	add("/t2", "n3", "h4", 4)
	removeByMid("n2")

	for k, want := range live {
		got, ok := tbl.Get(k[0], k[1], k[2])
		if !ok || got != want {
			t.Fatalf("expected %v at %v, got %v ok=%v", want, k, got, ok)
		}
	}

	for _, topic := range tbl.Topics() {
		for _, v := range tbl.Handlers(topic) {
			found := false
			for k, want := range live {
				if k[0] == topic && want == v {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("table has handler %v on %q not present in expected live set", v, topic)
			}
		}
	}
}

func TestFirstHandlerMatch(t *testing.T) {
	tbl := New[int]()
	tbl.AddHandler("/t", "n1", "h1", 7)
	tbl.AddHandler("/t", "n1", "h2", 9)

	v, ok := tbl.FirstHandler("/t", func(v int) bool { return v == 9 })
	if !ok || v != 9 {
		t.Fatalf("got %v, %v", v, ok)
	}

	_, ok = tbl.FirstHandler("/t", func(v int) bool { return v == 100 })
	if ok {
		t.Fatalf("expected no match")
	}

	_, ok = tbl.FirstHandler("/missing", nil)
	if ok {
		t.Fatalf("expected no match on missing topic")
	}
}

func TestConnectionsDedup(t *testing.T) {
	c := NewConnections()
	if !c.AddIfAbsent("/t", "tcp://1.2.3.4:1000") {
		t.Fatalf("expected first add to succeed")
	}
	if c.AddIfAbsent("/t", "tcp://1.2.3.4:1000") {
		t.Fatalf("expected duplicate add to be a no-op")
	}
	if !c.Has("/t", "tcp://1.2.3.4:1000") {
		t.Fatalf("expected Has to report true")
	}
	c.Remove("/t", "tcp://1.2.3.4:1000")
	if c.Has("/t", "tcp://1.2.3.4:1000") {
		t.Fatalf("expected removal to take effect")
	}
}
