package core

import (
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/quartz-robotics/quartz-transport/ident"
	"github.com/quartz-robotics/quartz-transport/registry"
	"github.com/quartz-robotics/quartz-transport/transport"
	"github.com/quartz-robotics/quartz-transport/wire"
)

// pollTimeout is spec.md §4.5's default 250ms poll timeout.
const pollTimeout = 250 * time.Millisecond

// settlePause is the 100ms post-connect settle of spec.md §4.5's
// recv_srv_request step.
const settlePause = 100 * time.Millisecond

// receptionLoop is spec.md §4.5's single background thread: it polls the
// four receiving sockets and dispatches to their handler routines. It is
// the only goroutine that ever calls Recv on these sockets.
func (sc *SharedCore) receptionLoop() {
	defer sc.recvWG.Done()

	poller := zmq4.NewPoller()
	poller.Add(sc.sockets.Subscriber, zmq4.POLLIN)
	poller.Add(sc.sockets.Control, zmq4.POLLIN)
	poller.Add(sc.sockets.Replier, zmq4.POLLIN)
	poller.Add(sc.sockets.ResponseReceiver, zmq4.POLLIN)

	for {
		select {
		case <-sc.done:
			return
		default:
		}

		polled, err := poller.Poll(pollTimeout)
		if err != nil {
			continue
		}

		for _, p := range polled {
			switch p.Socket {
			case sc.sockets.Subscriber:
				sc.recvMsgUpdate()
			case sc.sockets.Control:
				sc.recvControlUpdate()
			case sc.sockets.Replier:
				sc.recvSrvRequest()
			case sc.sockets.ResponseReceiver:
				sc.recvSrvResponse()
			}
		}

		sc.mu.Lock()
		exiting := sc.exiting
		sc.mu.Unlock()
		if exiting {
			return
		}
	}
}

// recvMsgUpdate implements spec.md §4.5's recv_msg_update.
func (sc *SharedCore) recvMsgUpdate() {
	msg, err := sc.sockets.Subscriber.Recv()
	if err != nil {
		return
	}
	pub, ok := wire.DecodePublish(msg.Frames)
	if !ok {
		sc.Metrics.DroppedFramesTotal.WithLabelValues("publish").Inc()
		return
	}

	sc.mu.Lock()
	handlers := sc.subscribers.Handlers(pub.Topic)
	matched := make([]*registry.SubscriptionHandler, 0, len(handlers))
	for _, h := range handlers {
		if h.MatchesType(pub.TypeName, wire.WildcardType) {
			matched = append(matched, h)
		}
	}
	sc.mu.Unlock()

	info := registry.MessageInfo{
		Topic:      ident.StripPartition(pub.Topic),
		TypeName:   pub.TypeName,
		SenderAddr: pub.SenderAddr,
	}
	message := registry.Message{Data: pub.Payload, Info: info}

	delivered := 0
	for _, h := range matched {
		if !h.Throttle.Admit(time.Now()) {
			continue
		}
		sc.invokeSubscriber(h, message)
		delivered++
	}
	if delivered > 0 {
		sc.Metrics.RemoteDeliveriesTotal.Add(float64(delivered))
	}
}

func (sc *SharedCore) invokeSubscriber(h *registry.SubscriptionHandler, msg registry.Message) {
	defer func() {
		if r := recover(); r != nil {
			sc.verbosef("subscriber callback panicked: %v", r)
		}
	}()
	h.Callback(msg)
}

// recvControlUpdate implements spec.md §4.5's recv_control_update.
func (sc *SharedCore) recvControlUpdate() {
	msg, err := sc.sockets.Control.Recv()
	if err != nil {
		return
	}
	ctrl, ok := wire.DecodeControl(msg.Frames)
	if !ok {
		sc.Metrics.DroppedFramesTotal.WithLabelValues("control").Inc()
		return
	}

	nodeID, err := ident.ParseNodeID(ctrl.NodeID)
	if err != nil {
		return
	}
	procID, err := ident.ParseProcessID(ctrl.ProcessID)
	if err != nil {
		return
	}

	sub := registry.RemoteSubscriber{
		Topic:     ctrl.Topic,
		ProcessID: procID,
		NodeID:    nodeID,
		TypeName:  ctrl.TypeName,
	}

	sc.mu.Lock()
	switch ctrl.Event {
	case wire.NewConnection:
		sc.remoteSubs.AddHandler(ctrl.Topic, ctrl.ProcessID, ctrl.NodeID, sub)
	case wire.EndConnection:
		sc.remoteSubs.RemoveHandler(ctrl.Topic, ctrl.ProcessID, ctrl.NodeID)
	}
	sc.mu.Unlock()
}

// recvSrvRequest implements spec.md §4.5's recv_srv_request.
func (sc *SharedCore) recvSrvRequest() {
	_, frames, err := transport.RecvStripID(sc.sockets.Replier)
	if err != nil {
		return
	}
	req, ok := wire.DecodeRequest(frames)
	if !ok {
		sc.Metrics.DroppedFramesTotal.WithLabelValues("request").Inc()
		return
	}

	sc.mu.Lock()
	handler, found := sc.repliers.FirstHandler(req.Topic, func(h *registry.ReplierHandler) bool {
		return h.Matches(req.ReqTypeName, req.RepTypeName)
	})
	sc.mu.Unlock()
	if !found {
		return
	}

	var repBytes []byte
	var success bool
	func() {
		defer func() {
			if r := recover(); r != nil {
				sc.verbosef("replier callback panicked: %v", r)
			}
		}()
		repBytes, success = handler.Callback(req.ReqBytes, req.ReqTypeName, req.RepTypeName)
	}()

	if req.RepTypeName == wire.WildcardType {
		return
	}

	sc.mu.Lock()
	isNew := sc.conns.SrvAddIfAbsent(req.SenderAddr)
	sc.mu.Unlock()
	if isNew {
		if err := sc.sockets.Replier.Dial(req.SenderAddr); err == nil {
			time.Sleep(settlePause)
		}
	}

	resp := wire.ResponseFrames{
		DestinationSocketID: req.ResponseReceiverSocketID,
		Topic:               req.Topic,
		NodeID:              req.NodeID,
		RequestHandlerID:    req.RequestHandlerID,
		RepBytes:            repBytes,
		Result:              success,
	}
	sc.mu.Lock()
	_ = sc.sockets.SendResponse(req.SenderAddr, req.ResponseReceiverSocketID, resp)
	sc.mu.Unlock()
}

// recvSrvResponse implements spec.md §4.5's recv_srv_response.
func (sc *SharedCore) recvSrvResponse() {
	_, frames, err := transport.RecvStripID(sc.sockets.ResponseReceiver)
	if err != nil {
		return
	}
	resp, ok := wire.DecodeResponse(frames)
	if !ok {
		sc.Metrics.DroppedFramesTotal.WithLabelValues("response").Inc()
		return
	}

	sc.mu.Lock()
	pr, found := sc.pending.Get(resp.Topic, resp.NodeID, resp.RequestHandlerID)
	if found {
		sc.pending.RemoveHandler(resp.Topic, resp.NodeID, resp.RequestHandlerID)
	}
	sc.mu.Unlock()
	if !found {
		return
	}

	pr.Complete(resp.RepBytes, resp.Result)
	if pr.OnResponse != nil {
		sc.invokeResponseCallback(pr, resp.RepBytes, resp.Result)
	}
}

func (sc *SharedCore) invokeResponseCallback(pr *registry.PendingRequest, repBytes []byte, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			sc.verbosef("response callback panicked: %v", r)
		}
	}()
	pr.OnResponse(repBytes, ok)
}
