package core

import (
	"time"

	"github.com/quartz-robotics/quartz-transport/registry"
	"github.com/quartz-robotics/quartz-transport/wire"
)

// onNewConnection implements spec.md §4.7's on_new_connection, invoked by
// the message-discovery beacon when a remote publisher record appears.
func (sc *SharedCore) onNewConnection(rec registry.PublisherRecord) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if rec.ProcessID == sc.ProcessID {
		return
	}
	if !sc.subscribers.HasHandlersForTopic(rec.Topic) {
		return
	}

	sc.Metrics.DiscoveryConnectionsTotal.WithLabelValues("message").Inc()
	sc.remotePublishers[rec.Topic+"|"+rec.NodeID.String()] = rec

	if sc.conns.AddIfAbsent(rec.Topic, rec.DataAddr) {
		if err := sc.sockets.ConnectSubscriber(rec.DataAddr, rec.Topic); err != nil {
			sc.verbosef("connect subscriber to %s failed: %v", rec.DataAddr, err)
			return
		}
	}

	for _, h := range sc.subscribers.Handlers(rec.Topic) {
		if !h.MatchesType(rec.MsgTypeName, wire.WildcardType) {
			continue
		}
		notice := wire.ControlFrames{
			Topic:     rec.Topic,
			ProcessID: sc.ProcessID.String(),
			NodeID:    h.NodeID.String(),
			TypeName:  h.ExpectedType,
			Event:     wire.NewConnection,
		}
		if err := sc.sockets.NotifyControl(rec.CtrlAddr, notice); err != nil {
			sc.verbosef("control notify to %s failed: %v", rec.CtrlAddr, err)
		}
	}
}

// onNewDisconnection implements spec.md §4.7's on_new_disconnection.
func (sc *SharedCore) onNewDisconnection(rec registry.PublisherRecord) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if rec.Topic == "" || rec.NodeID.String() == "" {
		for key, r := range sc.remotePublishers {
			if r.ProcessID == rec.ProcessID {
				delete(sc.remotePublishers, key)
				sc.conns.RemoveTopic(r.Topic)
				sc.Metrics.DiscoveryDisconnectionsTotal.WithLabelValues("message").Inc()
			}
		}
		return
	}

	delete(sc.remotePublishers, rec.Topic+"|"+rec.NodeID.String())
	sc.conns.Remove(rec.Topic, rec.DataAddr)
	sc.Metrics.DiscoveryDisconnectionsTotal.WithLabelValues("message").Inc()
}

// onNewSrvConnection implements spec.md §4.7's on_new_srv_connection.
func (sc *SharedCore) onNewSrvConnection(rec registry.ServicePublisherRecord) {
	sc.mu.Lock()

	if rec.ProcessID == sc.ProcessID {
		sc.mu.Unlock()
		return
	}

	isNew := sc.conns.SrvAddIfAbsent(rec.DataAddr)
	if isNew {
		sc.Metrics.DiscoveryConnectionsTotal.WithLabelValues("service").Inc()
	}
	sc.remoteServicePublishers[rec.Topic+"|"+rec.NodeID.String()] = rec

	var flush []*registry.PendingRequest
	for _, pr := range sc.pending.Handlers(rec.Topic) {
		if pr.ReqType == rec.ReqTypeName && pr.RepType == rec.RepTypeName && pr.State() == registry.RequestUnsent {
			flush = append(flush, pr)
		}
	}
	sc.mu.Unlock()

	if isNew {
		if err := sc.sockets.Requester.Dial(rec.DataAddr); err == nil {
			time.Sleep(settlePause)
		} else {
			sc.verbosef("connect requester to %s failed: %v", rec.DataAddr, err)
			return
		}
	}

	for _, pr := range flush {
		sc.sendRequest(pr, rec)
	}
}

// onNewSrvDisconnection implements spec.md §4.7's on_new_srv_disconnection.
func (sc *SharedCore) onNewSrvDisconnection(rec registry.ServicePublisherRecord) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	delete(sc.remoteServicePublishers, rec.Topic+"|"+rec.NodeID.String())
	sc.conns.SrvRemove(rec.DataAddr)
	sc.Metrics.DiscoveryDisconnectionsTotal.WithLabelValues("service").Inc()
}
