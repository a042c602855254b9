package registry

import (
	"sync"
	"time"

	"github.com/quartz-robotics/quartz-transport/ident"
)

// MessageInfo accompanies every delivered message, per spec.md §4.5.
type MessageInfo struct {
	Topic      string // partition-stripped
	TypeName   string
	SenderAddr string
}

// Message is what a subscription callback receives: the core never
// deserializes payloads (spec.md §1 treats them as opaque byte strings),
// so callbacks get raw bytes plus metadata.
type Message struct {
	Data []byte
	Info MessageInfo
}

// SubscribeCallback is the canonical subscriber callback shape from
// spec.md §9.
type SubscribeCallback func(Message)

// ServiceCallback is the canonical replier callback shape from spec.md
// §9: given a request payload and its declared types, produce a
// response payload and an ok flag.
type ServiceCallback func(reqBytes []byte, reqType, repType string) (repBytes []byte, ok bool)

// ThrottleState tracks a subscriber's optional message-rate limiting.
// Options beyond a target rate are a facade-level concern; the core only
// needs to know whether a newly arrived message should be dropped.
type ThrottleState struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewThrottleState returns a throttle admitting at most one message per
// interval. A zero interval disables throttling.
func NewThrottleState(interval time.Duration) *ThrottleState {
	return &ThrottleState{interval: interval}
}

// Admit reports whether a message arriving now should be delivered.
func (ts *ThrottleState) Admit(now time.Time) bool {
	if ts == nil || ts.interval <= 0 {
		return true
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if now.Sub(ts.last) < ts.interval {
		return false
	}
	ts.last = now
	return true
}

// SubscriptionHandler is spec.md §3's subscription handler record.
type SubscriptionHandler struct {
	Topic        string
	NodeID       ident.NodeID
	HandlerID    ident.HandlerID
	ExpectedType string // may be the wildcard type, see wire.WildcardType
	Callback     SubscribeCallback
	Throttle     *ThrottleState
}

// MatchesType reports whether the handler accepts a payload tagged
// typeName, honoring the wildcard type.
func (h SubscriptionHandler) MatchesType(typeName, wildcard string) bool {
	return h.ExpectedType == wildcard || h.ExpectedType == typeName
}

// ReplierHandler is spec.md §3's replier handler record.
type ReplierHandler struct {
	Topic     string
	NodeID    ident.NodeID
	HandlerID ident.HandlerID
	ReqType   string
	RepType   string
	Callback  ServiceCallback
}

// Matches reports whether this replier declares exactly (reqType,
// repType), per spec.md §4.2's FirstHandler "declared types match".
func (h ReplierHandler) Matches(reqType, repType string) bool {
	return h.ReqType == reqType && h.RepType == repType
}

// RequestState is the three-state lifecycle of a PendingRequest from
// spec.md §3: unsent, sent, completed. Transitions are monotonic.
type RequestState int

const (
	RequestUnsent RequestState = iota
	RequestSent
	RequestCompleted
)

// PendingRequest is spec.md §3's pending request record. Completion is
// signaled by the reception loop calling Complete, which stores the
// result and wakes any blocked caller — there is no back-reference to
// the owning core (spec.md §9's "arena-indexed design": completion is by
// id lookup through the table, not a pointer back into the core).
type PendingRequest struct {
	Topic      string
	NodeID     ident.NodeID
	HandlerID  ident.HandlerID
	ReqType    string
	RepType    string
	ReqBytes   []byte
	OnResponse func(repBytes []byte, ok bool) // set for async requests; nil for sync

	mu        sync.Mutex
	cond      *sync.Cond
	state     RequestState
	repBytes  []byte
	repOK     bool
}

// NewPendingRequest creates a pending request in the unsent state.
func NewPendingRequest(topic string, node ident.NodeID, handler ident.HandlerID, reqType, repType string, reqBytes []byte) *PendingRequest {
	pr := &PendingRequest{
		Topic:     topic,
		NodeID:    node,
		HandlerID: handler,
		ReqType:   reqType,
		RepType:   repType,
		ReqBytes:  reqBytes,
		state:     RequestUnsent,
	}
	pr.cond = sync.NewCond(&pr.mu)
	return pr
}

// MarkSent transitions unsent -> sent. No-op if already sent/completed.
func (pr *PendingRequest) MarkSent() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.state == RequestUnsent {
		pr.state = RequestSent
	}
}

// Complete stores the response and wakes any waiter. Safe to call more
// than once; only the first call has effect, so a late duplicate
// response is dropped, per spec.md §4.5's recv_srv_response discussion.
func (pr *PendingRequest) Complete(repBytes []byte, ok bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.state == RequestCompleted {
		return
	}
	pr.repBytes = repBytes
	pr.repOK = ok
	pr.state = RequestCompleted
	pr.cond.Broadcast()
}

// Wait blocks until Complete is called or timeout elapses, returning the
// response bytes and ok flag. On timeout it returns (nil, false) but
// leaves the request's state untouched so a late response can still
// arrive and be observed by anyone still holding the pointer.
func (pr *PendingRequest) Wait(timeout time.Duration) (repBytes []byte, ok bool, timedOut bool) {
	done := make(chan struct{})
	go func() {
		pr.mu.Lock()
		for pr.state != RequestCompleted {
			pr.cond.Wait()
		}
		pr.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		pr.mu.Lock()
		defer pr.mu.Unlock()
		return pr.repBytes, pr.repOK, false
	case <-time.After(timeout):
		return nil, false, true
	}
}

// State returns the current lifecycle state.
func (pr *PendingRequest) State() RequestState {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.state
}

// WakeWithFailure forces a waiting caller to observe ok=false, as for a
// request whose owning node is destroyed while it is still in flight
// (spec.md §5 "Cancellation"). The core has no node-teardown path, so
// nothing in this module calls it.
func (pr *PendingRequest) WakeWithFailure() {
	pr.Complete(nil, false)
}

// PublisherRecord is spec.md §3's publisher record, produced by
// discovery and consumed when opening a connection.
type PublisherRecord struct {
	Topic       string
	DataAddr    string
	CtrlAddr    string
	ProcessID   ident.ProcessID
	NodeID      ident.NodeID
	MsgTypeName string
	Options     map[string]string
}

// ServicePublisherRecord additionally carries request/response types and
// the responder's router socket identity.
type ServicePublisherRecord struct {
	PublisherRecord
	ReqTypeName string
	RepTypeName string
	SocketID    ident.SocketID
}

// Key identifies a record by (topic, node id), the granularity discovery
// advertises and unadvertises at.
func (r PublisherRecord) Key() (topic, nodeID string) { return r.Topic, r.NodeID.String() }

// Key identifies a service record the same way a plain PublisherRecord
// does; the request/response types narrow matching once discovered.
func (r ServicePublisherRecord) Key() (topic, nodeID string) { return r.Topic, r.NodeID.String() }

// RemoteSubscriber is spec.md §3's remote subscriber record, maintained
// by a publisher to decide whether any remote interest exists.
type RemoteSubscriber struct {
	Topic     string
	ProcessID ident.ProcessID
	NodeID    ident.NodeID
	TypeName  string
}

// Connections is spec.md §3's connections table: topic -> set of
// publisher-record addresses the local process has actually connected a
// subscriber socket to, used to avoid reconnecting on duplicate
// discovery announcements, and srvConnections: the set of requester/
// replier addresses already dialed.
type Connections struct {
	mu   sync.Mutex
	byTopic map[string]map[string]struct{} // topic -> set of data addrs
	srv     map[string]struct{}            // set of dialed addrs (service path)
}

// NewConnections returns an empty connections table.
func NewConnections() *Connections {
	return &Connections{
		byTopic: make(map[string]map[string]struct{}),
		srv:     make(map[string]struct{}),
	}
}

// AddIfAbsent records addr as connected for topic and reports whether it
// was newly added (false means a duplicate discovery announcement, per
// spec.md §3's invariant that an address appears at most once).
func (c *Connections) AddIfAbsent(topic, addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.byTopic[topic]
	if !ok {
		set = make(map[string]struct{})
		c.byTopic[topic] = set
	}
	if _, exists := set[addr]; exists {
		return false
	}
	set[addr] = struct{}{}
	return true
}

// Has reports whether addr is already connected for topic.
func (c *Connections) Has(topic, addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.byTopic[topic]
	if !ok {
		return false
	}
	_, exists := set[addr]
	return exists
}

// Remove drops addr from topic's connection set.
func (c *Connections) Remove(topic, addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.byTopic[topic]; ok {
		delete(set, addr)
		if len(set) == 0 {
			delete(c.byTopic, topic)
		}
	}
}

// RemoveTopic drops every connection recorded for topic.
func (c *Connections) RemoveTopic(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byTopic, topic)
}

// SrvAddIfAbsent records addr as dialed on the service (requester/
// replier) path and reports whether it was newly added.
func (c *Connections) SrvAddIfAbsent(addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.srv[addr]; exists {
		return false
	}
	c.srv[addr] = struct{}{}
	return true
}

// SrvRemove drops addr from the service connections set.
func (c *Connections) SrvRemove(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.srv, addr)
}
