// Package registry implements the handler tables of spec.md §4.2: typed
// containers for local subscribers, local repliers, pending requesters
// and remote subscribers, each keyed by (topic, mid, handlerID) where
// mid is a node id for local tables and a process id for the
// remote-subscribers table (whose last key is then a node id).
package registry

import "sync"

// Table is the two-level map shape shared by every handler table in
// spec.md §4.2: topic -> mid -> handlerID -> V. The teacher guards its
// own maps (engine.Mempool.pending, network.P2PManager.knownPeers) with a
// plain sync.RWMutex; Table does the same, generic over the stored
// record so the three/four tables spec.md describes don't need four
// hand-written copies of this logic.
type Table[V any] struct {
	mu   sync.RWMutex
	data map[string]map[string]map[string]V
}

// New returns an empty table.
func New[V any]() *Table[V] {
	return &Table[V]{data: make(map[string]map[string]map[string]V)}
}

// AddHandler inserts v under (topic, mid, handlerID), returning the
// previous value if one existed at that exact key.
func (t *Table[V]) AddHandler(topic, mid, handlerID string, v V) (prev V, hadPrev bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byMid, ok := t.data[topic]
	if !ok {
		byMid = make(map[string]map[string]V)
		t.data[topic] = byMid
	}
	byHandler, ok := byMid[mid]
	if !ok {
		byHandler = make(map[string]V)
		byMid[mid] = byHandler
	}
	prev, hadPrev = byHandler[handlerID]
	byHandler[handlerID] = v
	return prev, hadPrev
}

// RemoveHandler removes the handler at (topic, mid, handlerID), pruning
// any inner maps left empty, and reports whether anything was removed.
func (t *Table[V]) RemoveHandler(topic, mid, handlerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeHandlerLocked(topic, mid, handlerID)
}

func (t *Table[V]) removeHandlerLocked(topic, mid, handlerID string) bool {
	byMid, ok := t.data[topic]
	if !ok {
		return false
	}
	byHandler, ok := byMid[mid]
	if !ok {
		return false
	}
	if _, ok := byHandler[handlerID]; !ok {
		return false
	}
	delete(byHandler, handlerID)
	if len(byHandler) == 0 {
		delete(byMid, mid)
	}
	if len(byMid) == 0 {
		delete(t.data, topic)
	}
	return true
}

// RemoveByMid bulk-removes every handler owned by mid across every topic
// (spec.md's remove_by_node, generalized to "the middle key" since the
// remote-subscribers table uses a process id in that slot instead of a
// node id). Returns the number of handlers removed.
func (t *Table[V]) RemoveByMid(mid string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for topic, byMid := range t.data {
		byHandler, ok := byMid[mid]
		if !ok {
			continue
		}
		removed += len(byHandler)
		delete(byMid, mid)
		if len(byMid) == 0 {
			delete(t.data, topic)
		}
	}
	return removed
}

// FirstHandler returns any handler for topic satisfying match, or the
// zero value and false if none does. Iteration order over Go maps is
// unspecified, matching spec.md's "iteration order is unspecified but
// stable within a single call sequence" requirement loosely — a single
// call never mutates while iterating, so it is internally consistent.
func (t *Table[V]) FirstHandler(topic string, match func(V) bool) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byMid, ok := t.data[topic]
	if !ok {
		var zero V
		return zero, false
	}
	for _, byHandler := range byMid {
		for _, v := range byHandler {
			if match == nil || match(v) {
				return v, true
			}
		}
	}
	var zero V
	return zero, false
}

// Handlers returns a snapshot of every handler registered for topic.
func (t *Table[V]) Handlers(topic string) []V {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byMid, ok := t.data[topic]
	if !ok {
		return nil
	}
	out := make([]V, 0, len(byMid))
	for _, byHandler := range byMid {
		for _, v := range byHandler {
			out = append(out, v)
		}
	}
	return out
}

// HasHandlersForTopic reports whether any handler is registered for
// topic.
func (t *Table[V]) HasHandlersForTopic(topic string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	byMid, ok := t.data[topic]
	return ok && len(byMid) > 0
}

// Topics returns a snapshot of every topic with at least one handler.
func (t *Table[V]) Topics() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.data))
	for topic := range t.data {
		out = append(out, topic)
	}
	return out
}

// Get returns the handler at the exact key, if any.
func (t *Table[V]) Get(topic, mid, handlerID string) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	byMid, ok := t.data[topic]
	if !ok {
		var zero V
		return zero, false
	}
	byHandler, ok := byMid[mid]
	if !ok {
		var zero V
		return zero, false
	}
	v, ok := byHandler[handlerID]
	return v, ok
}

// RemoveByTopicAndMid removes every handler owned by mid on topic,
// leaving mid's handlers on other topics untouched, and returns the
// number removed. Used by unsubscribe/unadvertise-service operations
// that must not disturb the same node's other subscriptions.
func (t *Table[V]) RemoveByTopicAndMid(topic, mid string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	byMid, ok := t.data[topic]
	if !ok {
		return 0
	}
	byHandler, ok := byMid[mid]
	if !ok {
		return 0
	}
	removed := len(byHandler)
	delete(byMid, mid)
	if len(byMid) == 0 {
		delete(t.data, topic)
	}
	return removed
}

// TopicCount returns the number of distinct topics with at least one
// handler.
func (t *Table[V]) TopicCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data)
}

// RemoveTopic removes every handler registered for topic, returning how
// many were removed.
func (t *Table[V]) RemoveTopic(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	byMid, ok := t.data[topic]
	if !ok {
		return 0
	}
	removed := 0
	for _, byHandler := range byMid {
		removed += len(byHandler)
	}
	delete(t.data, topic)
	return removed
}
