// Package core implements spec.md §4.6's shared core: the process-wide
// singleton that owns the six sockets, the handler tables, the two
// discovery beacons and the reception loop, and mediates every
// cross-thread interaction behind one lock.
package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/quartz-robotics/quartz-transport/discovery"
	"github.com/quartz-robotics/quartz-transport/ident"
	"github.com/quartz-robotics/quartz-transport/metrics"
	"github.com/quartz-robotics/quartz-transport/registry"
	"github.com/quartz-robotics/quartz-transport/transport"
)

// SharedCore is the process-wide aggregate of spec.md §2's component 6.
// Exactly one instance exists per process; obtain it with Instance.
//
// Lock discipline: mu guards every table below plus socket send
// operations. Spec.md §9's open question notes the source used a
// recursive lock; this implementation instead restructures call paths
// (see DESIGN.md) so mu is never acquired while already held, which is
// all Go's sync.Mutex supports.
type SharedCore struct {
	ProcessID ident.ProcessID
	cfg       transport.Config
	log       *zap.Logger
	Metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	sockets *transport.Sockets

	msgDiscovery *discovery.Beacon[registry.PublisherRecord]
	srvDiscovery *discovery.Beacon[registry.ServicePublisherRecord]

	mu sync.Mutex

	subscribers *registry.Table[*registry.SubscriptionHandler]
	repliers    *registry.Table[*registry.ReplierHandler]
	pending     *registry.Table[*registry.PendingRequest]
	remoteSubs  *registry.Table[registry.RemoteSubscriber]

	conns *registry.Connections

	localPublishers        map[string]registry.PublisherRecord
	localServicePublishers map[string]registry.ServicePublisherRecord
	remotePublishers       map[string]registry.PublisherRecord
	remoteServicePublishers map[string]registry.ServicePublisherRecord

	exiting bool
	recvWG  sync.WaitGroup
	done    chan struct{}
}

var (
	once     sync.Once
	instance *SharedCore
	instErr  error
)

// Instance returns the process-wide shared core, constructing it on
// first call and memoizing the result, per spec.md §9's "global
// singleton" design note.
func Instance() (*SharedCore, error) {
	once.Do(func() {
		instance, instErr = construct(transport.ConfigFromEnv())
	})
	return instance, instErr
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// construct performs spec.md §4.6's six-step construction under the
// default metrics namespace.
func construct(cfg transport.Config) (*SharedCore, error) {
	return constructNamespaced(cfg, "quartz_transport")
}

// constructNamespaced is construct with an explicit Prometheus
// namespace, so tests can build more than one SharedCore in the same
// process without a duplicate-collector panic from promauto (each
// SharedCore otherwise registers under the same fixed namespace).
func constructNamespaced(cfg transport.Config, namespace string) (*SharedCore, error) {
	log := newLogger(cfg.Verbose)

	sc := &SharedCore{
		ProcessID: ident.NewProcessID(),
		cfg:       cfg,
		log:       log,
		Metrics:   metrics.New(namespace),

		subscribers: registry.New[*registry.SubscriptionHandler](),
		repliers:    registry.New[*registry.ReplierHandler](),
		pending:     registry.New[*registry.PendingRequest](),
		remoteSubs:  registry.New[registry.RemoteSubscriber](),
		conns:       registry.NewConnections(),

		localPublishers:         make(map[string]registry.PublisherRecord),
		localServicePublishers:  make(map[string]registry.ServicePublisherRecord),
		remotePublishers:        make(map[string]registry.PublisherRecord),
		remoteServicePublishers: make(map[string]registry.ServicePublisherRecord),

		done: make(chan struct{}),
	}

	// Step 1: process id assigned above; socket identities assigned by
	// transport.Open below.
	sc.ctx, sc.cancel = context.WithCancel(context.Background())

	// Step 2: initialize both discovery services.
	sc.msgDiscovery = discovery.New[registry.PublisherRecord](discovery.MessagePort, sc.ProcessID.String(), log)
	sc.srvDiscovery = discovery.New[registry.ServicePublisherRecord](discovery.ServicePort, sc.ProcessID.String(), log)

	if cfg.AuthPartiallyConfigured() {
		return nil, ErrAuthConfigError
	}

	// Step 3: bind all six sockets to ephemeral ports. Publisher/
	// subscriber are PLAIN-secured here when cfg carries credentials
	// (transport.Open / auth.go).
	sockets, err := transport.Open(sc.ctx, cfg.HostAddr, cfg)
	if err != nil {
		return nil, fmt.Errorf("core: construct: %w", err)
	}
	sc.sockets = sockets

	// Step 4: start the reception thread.
	sc.recvWG.Add(1)
	go sc.receptionLoop()

	// Step 5: register discovery callbacks.
	sc.msgDiscovery.OnNewConnection(sc.onNewConnection)
	sc.msgDiscovery.OnNewDisconnection(sc.onNewDisconnection)
	sc.srvDiscovery.OnNewConnection(sc.onNewSrvConnection)
	sc.srvDiscovery.OnNewDisconnection(sc.onNewSrvDisconnection)

	// Step 6: start discovery.
	if err := sc.msgDiscovery.Start(); err != nil {
		return nil, fmt.Errorf("core: construct: %w", err)
	}
	if err := sc.srvDiscovery.Start(); err != nil {
		return nil, fmt.Errorf("core: construct: %w", err)
	}

	if cfg.Verbose {
		log.Sugar().Debugf("quartz-transport: host %s process %s publisher=%s control=%s replier=%s response-receiver=%s",
			cfg.HostAddr, sc.ProcessID, sockets.PublisherAddr, sockets.ControlAddr, sockets.ReplierAddr, sockets.ResponseReceiverAddr)
	}

	return sc, nil
}

// Close reverses construct, per spec.md §4.6's teardown order: signal
// exit, join the reception thread, stop discovery, close sockets.
func (sc *SharedCore) Close() {
	sc.mu.Lock()
	if sc.exiting {
		sc.mu.Unlock()
		return
	}
	sc.exiting = true
	sc.mu.Unlock()

	close(sc.done)
	sc.cancel()
	sc.recvWG.Wait()

	sc.msgDiscovery.Stop()
	sc.srvDiscovery.Stop()
	sc.sockets.Close()
}

func (sc *SharedCore) verbosef(format string, args ...any) {
	if sc.cfg.Verbose {
		sc.log.Sugar().Debugf(format, args...)
	}
}
