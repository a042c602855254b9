package core

import (
	"time"

	"github.com/quartz-robotics/quartz-transport/ident"
	"github.com/quartz-robotics/quartz-transport/registry"
	"github.com/quartz-robotics/quartz-transport/wire"
)

// Options are the per-advertise/subscribe options of spec.md §3's
// publisher record and subscription handler. Namespace (used when
// qualifying the topic) and Throttle are the options the core itself
// interprets; Extra travels opaquely for the out-of-scope typed facade
// (spec.md §1).
type Options struct {
	Namespace string
	Throttle  time.Duration
	Extra     map[string]string
}

// Core is the Node Facade Contract of spec.md §4.8: the surface the
// core presents to user-facing nodes.
//
// AdvertiseMessage, Subscribe and AdvertiseService take a raw topic and
// fully qualify it with the partition and opts.Namespace. The other
// methods take the fully qualified name (for example the Topic of the
// record AdvertiseMessage returns) and use it as given; they do not
// qualify a raw topic.
type Core interface {
	AdvertiseMessage(topic string, msgType string, node ident.NodeID, opts Options) (registry.PublisherRecord, error)
	UnadvertiseMessage(topic string, node ident.NodeID) error
	Publish(topic string, payload []byte, msgType string) error
	Subscribe(topic string, node ident.NodeID, handler ident.HandlerID, expectedType string, cb registry.SubscribeCallback, opts Options) error
	Unsubscribe(topic string, node ident.NodeID) error
	AdvertiseService(topic string, node ident.NodeID, reqType, repType string, cb registry.ServiceCallback, opts Options) error
	UnadvertiseService(topic string, node ident.NodeID) error
	RequestAsync(topic string, node ident.NodeID, reqBytes []byte, reqType, repType string, onResponse func([]byte, bool)) error
	RequestSync(topic string, node ident.NodeID, reqBytes []byte, reqType, repType string, timeout time.Duration) ([]byte, bool, error)
	TopicList() []string
	ServiceList() []string
}

var _ Core = (*SharedCore)(nil)

func fq(partition, namespace, raw string) (string, error) {
	name, ok := ident.FullyQualify(partition, namespace, raw)
	if !ok {
		return "", ErrInvalidTopic
	}
	return name, nil
}

// AdvertiseMessage implements spec.md §4.8's advertise_message.
func (sc *SharedCore) AdvertiseMessage(topic, msgType string, node ident.NodeID, opts Options) (registry.PublisherRecord, error) {
	name, err := fq(sc.cfg.Partition, opts.Namespace, topic)
	if err != nil {
		return registry.PublisherRecord{}, err
	}

	rec := registry.PublisherRecord{
		Topic:       name,
		DataAddr:    sc.sockets.PublisherAddr,
		CtrlAddr:    sc.sockets.ControlAddr,
		ProcessID:   sc.ProcessID,
		NodeID:      node,
		MsgTypeName: msgType,
		Options:     opts.Extra,
	}

	sc.mu.Lock()
	key := name + "|" + node.String()
	if _, exists := sc.localPublishers[key]; exists {
		sc.mu.Unlock()
		return registry.PublisherRecord{}, ErrAlreadyAdvertised
	}
	sc.localPublishers[key] = rec
	sc.mu.Unlock()

	sc.msgDiscovery.Advertise(rec)
	sc.Metrics.AdvertisedTopics.Set(float64(sc.countLocalTopics()))
	return rec, nil
}

func (sc *SharedCore) countLocalTopics() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	seen := map[string]struct{}{}
	for _, r := range sc.localPublishers {
		seen[r.Topic] = struct{}{}
	}
	return len(seen)
}

// UnadvertiseMessage implements spec.md §4.8's unadvertise_message.
func (sc *SharedCore) UnadvertiseMessage(topic string, node ident.NodeID) error {
	sc.mu.Lock()
	key := topic + "|" + node.String()
	rec, exists := sc.localPublishers[key]
	if !exists {
		sc.mu.Unlock()
		return ErrNotAdvertised
	}
	delete(sc.localPublishers, key)
	sc.mu.Unlock()

	_ = rec
	sc.msgDiscovery.Unadvertise(topic, node.String())
	return nil
}

// Publish implements spec.md §4.8's publish: local fast-path delivery
// under the lock (released before each callback), plus the remote
// socket path.
func (sc *SharedCore) Publish(topic string, payload []byte, msgType string) error {
	sc.mu.Lock()
	handlers := sc.subscribers.Handlers(topic)
	hasRemote := sc.remoteSubs.HasHandlersForTopic(topic)
	sc.mu.Unlock()

	matched := make([]*registry.SubscriptionHandler, 0, len(handlers))
	for _, h := range handlers {
		if h.MatchesType(msgType, wire.WildcardType) {
			matched = append(matched, h)
		}
	}

	info := registry.MessageInfo{Topic: ident.StripPartition(topic), TypeName: msgType, SenderAddr: sc.sockets.PublisherAddr}
	msg := registry.Message{Data: payload, Info: info}
	delivered := 0
	for _, h := range matched {
		if !h.Throttle.Admit(time.Now()) {
			continue
		}
		sc.invokeSubscriber(h, msg)
		delivered++
	}
	if delivered > 0 {
		sc.Metrics.LocalDeliveriesTotal.Add(float64(delivered))
	}

	sc.Metrics.PublishesTotal.Inc()
	if !hasRemote {
		return nil
	}

	frames := wire.PublishFrames{Topic: topic, SenderAddr: sc.sockets.PublisherAddr, Payload: payload, TypeName: msgType}
	sc.mu.Lock()
	err := sc.sockets.SendPublish(frames)
	sc.mu.Unlock()
	if err != nil {
		return ErrSocketError
	}
	return nil
}

// Subscribe implements spec.md §4.8's subscribe.
func (sc *SharedCore) Subscribe(topic string, node ident.NodeID, handler ident.HandlerID, expectedType string, cb registry.SubscribeCallback, opts Options) error {
	name, err := fq(sc.cfg.Partition, opts.Namespace, topic)
	if err != nil {
		return err
	}

	h := &registry.SubscriptionHandler{
		Topic:        name,
		NodeID:       node,
		HandlerID:    handler,
		ExpectedType: expectedType,
		Callback:     cb,
		Throttle:     registry.NewThrottleState(opts.Throttle),
	}

	sc.mu.Lock()
	sc.subscribers.AddHandler(name, node.String(), handler.String(), h)
	remote := make([]registry.PublisherRecord, 0)
	for _, r := range sc.remotePublishers {
		if r.Topic == name {
			remote = append(remote, r)
		}
	}
	sc.mu.Unlock()

	sc.Metrics.SubscribedTopics.Set(float64(sc.subscribers.TopicCount()))

	for _, r := range remote {
		sc.onNewConnection(r)
	}
	sc.msgDiscovery.Discover(name)
	return nil
}

// Unsubscribe implements spec.md §4.8's unsubscribe: removes every
// handler this node owns on the topic.
func (sc *SharedCore) Unsubscribe(topic string, node ident.NodeID) error {
	sc.mu.Lock()
	removed := sc.subscribers.RemoveByTopicAndMid(topic, node.String())
	sc.mu.Unlock()
	if removed == 0 {
		return ErrNotAdvertised
	}
	sc.Metrics.SubscribedTopics.Set(float64(sc.subscribers.TopicCount()))
	return nil
}

// AdvertiseService implements spec.md §4.8's advertise_service.
func (sc *SharedCore) AdvertiseService(topic string, node ident.NodeID, reqType, repType string, cb registry.ServiceCallback, opts Options) error {
	name, err := fq(sc.cfg.Partition, opts.Namespace, topic)
	if err != nil {
		return err
	}

	handlerID := ident.NewHandlerID()
	h := &registry.ReplierHandler{
		Topic:     name,
		NodeID:    node,
		HandlerID: handlerID,
		ReqType:   reqType,
		RepType:   repType,
		Callback:  cb,
	}

	rec := registry.ServicePublisherRecord{
		PublisherRecord: registry.PublisherRecord{
			Topic:       name,
			DataAddr:    sc.sockets.ReplierAddr,
			ProcessID:   sc.ProcessID,
			NodeID:      node,
			MsgTypeName: reqType,
		},
		ReqTypeName: reqType,
		RepTypeName: repType,
		SocketID:    sc.sockets.ReplierSocketID,
	}

	sc.mu.Lock()
	key := name + "|" + node.String()
	if _, exists := sc.localServicePublishers[key]; exists {
		sc.mu.Unlock()
		return ErrAlreadyAdvertised
	}
	sc.repliers.AddHandler(name, node.String(), handlerID.String(), h)
	sc.localServicePublishers[key] = rec
	sc.mu.Unlock()

	sc.srvDiscovery.Advertise(rec)
	return nil
}

// UnadvertiseService implements spec.md §4.8's unadvertise_service.
func (sc *SharedCore) UnadvertiseService(topic string, node ident.NodeID) error {
	sc.mu.Lock()
	key := topic + "|" + node.String()
	_, exists := sc.localServicePublishers[key]
	if !exists {
		sc.mu.Unlock()
		return ErrNotAdvertised
	}
	delete(sc.localServicePublishers, key)
	sc.repliers.RemoveByTopicAndMid(topic, node.String())
	sc.mu.Unlock()

	sc.srvDiscovery.Unadvertise(topic, node.String())
	return nil
}

// RequestAsync implements spec.md §4.8's request_async: inline local
// fast path, or a pending request flushed immediately or on discovery.
func (sc *SharedCore) RequestAsync(topic string, node ident.NodeID, reqBytes []byte, reqType, repType string, onResponse func([]byte, bool)) error {
	sc.mu.Lock()
	local, found := sc.repliers.FirstHandler(topic, func(h *registry.ReplierHandler) bool {
		return h.Matches(reqType, repType)
	})
	sc.mu.Unlock()

	if found {
		repBytes, ok := local.Callback(reqBytes, reqType, repType)
		sc.Metrics.LocalDeliveriesTotal.Inc()
		if onResponse != nil && repType != wire.WildcardType {
			onResponse(repBytes, ok)
		}
		return nil
	}

	handlerID := ident.NewHandlerID()
	pr := registry.NewPendingRequest(topic, node, handlerID, reqType, repType, reqBytes)
	pr.OnResponse = onResponse

	sc.mu.Lock()
	sc.pending.AddHandler(topic, node.String(), handlerID.String(), pr)
	sc.Metrics.PendingRequests.Inc()
	rec, known := sc.findKnownResponder(topic, reqType, repType)
	sc.mu.Unlock()

	if known {
		sc.sendRequest(pr, rec)
	} else {
		sc.srvDiscovery.Discover(topic)
	}
	return nil
}

// findKnownResponder must be called with sc.mu held.
func (sc *SharedCore) findKnownResponder(topic, reqType, repType string) (registry.ServicePublisherRecord, bool) {
	for _, r := range sc.remoteServicePublishers {
		if r.Topic == topic && r.ReqTypeName == reqType && r.RepTypeName == repType {
			return r, true
		}
	}
	return registry.ServicePublisherRecord{}, false
}

// sendRequest issues the wire-level request for pr against rec's
// responder, per spec.md §4.7's on_new_srv_connection flush path.
func (sc *SharedCore) sendRequest(pr *registry.PendingRequest, rec registry.ServicePublisherRecord) {
	pr.MarkSent()
	req := wire.RequestFrames{
		ResponderSocketID:        rec.SocketID.String(),
		Topic:                    pr.Topic,
		SenderAddr:               sc.sockets.ResponseReceiverAddr,
		ResponseReceiverSocketID: sc.sockets.ResponseReceiverSocketID.String(),
		NodeID:                   pr.NodeID.String(),
		RequestHandlerID:         pr.HandlerID.String(),
		ReqBytes:                 pr.ReqBytes,
		ReqTypeName:              pr.ReqType,
		RepTypeName:              pr.RepType,
	}
	sc.mu.Lock()
	err := sc.sockets.SendRequest(rec.DataAddr, rec.SocketID.String(), req)
	sc.mu.Unlock()
	if err != nil {
		sc.verbosef("send request for %s failed: %v", pr.Topic, err)
	}
}

// RequestSync implements spec.md §4.8's request_sync.
func (sc *SharedCore) RequestSync(topic string, node ident.NodeID, reqBytes []byte, reqType, repType string, timeout time.Duration) ([]byte, bool, error) {
	sc.mu.Lock()
	local, found := sc.repliers.FirstHandler(topic, func(h *registry.ReplierHandler) bool {
		return h.Matches(reqType, repType)
	})
	sc.mu.Unlock()

	if found {
		repBytes, ok := local.Callback(reqBytes, reqType, repType)
		sc.Metrics.LocalDeliveriesTotal.Inc()
		return repBytes, ok, nil
	}

	handlerID := ident.NewHandlerID()
	pr := registry.NewPendingRequest(topic, node, handlerID, reqType, repType, reqBytes)

	sc.mu.Lock()
	sc.pending.AddHandler(topic, node.String(), handlerID.String(), pr)
	sc.Metrics.PendingRequests.Inc()
	rec, known := sc.findKnownResponder(topic, reqType, repType)
	sc.mu.Unlock()

	if known {
		sc.sendRequest(pr, rec)
	} else {
		sc.srvDiscovery.Discover(topic)
	}

	start := time.Now()
	repBytes, ok, timedOut := pr.Wait(timeout)
	sc.Metrics.RecordRequest(time.Since(start), timedOut)
	sc.Metrics.PendingRequests.Dec()

	if timedOut {
		return nil, false, ErrTimeout
	}
	return repBytes, ok, nil
}

// TopicList implements spec.md §4.8's topic_list.
func (sc *SharedCore) TopicList() []string {
	time.Sleep(time.Millisecond) // allow in-flight discovery to be observed
	sc.mu.Lock()
	defer sc.mu.Unlock()
	seen := map[string]struct{}{}
	for _, t := range sc.subscribers.Topics() {
		seen[t] = struct{}{}
	}
	for _, r := range sc.localPublishers {
		seen[r.Topic] = struct{}{}
	}
	for _, r := range sc.remotePublishers {
		seen[r.Topic] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}

// ServiceList implements spec.md §4.8's service_list.
func (sc *SharedCore) ServiceList() []string {
	time.Sleep(time.Millisecond)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	seen := map[string]struct{}{}
	for _, t := range sc.repliers.Topics() {
		seen[t] = struct{}{}
	}
	for _, r := range sc.remoteServicePublishers {
		seen[r.Topic] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}
