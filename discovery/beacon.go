// Package discovery implements spec.md §4.4's two independent UDP beacon
// services: periodic advertisement of local offerings, and
// connection/disconnection callbacks as remote offerings appear and go
// stale. One Beacon instance is one of spec.md §5's three long-lived
// threads; message discovery and service discovery each get their own
// instance, parameterized over the record type they carry.
package discovery

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default UDP ports, per spec.md §6.
const (
	MessagePort = 11317
	ServicePort = 11318
)

// HeartbeatInterval is the default re-announcement period of spec.md §6.
const HeartbeatInterval = time.Second

// MissedHeartbeats is the number of consecutive missed heartbeats after
// which a remote offering is considered gone, per spec.md §6.
const MissedHeartbeats = 3

const pollTimeout = 200 * time.Millisecond

// Keyed is implemented by both registry.PublisherRecord and
// registry.ServicePublisherRecord so one Beacon[R] implementation serves
// both the message-discovery and service-discovery beacon services.
type Keyed interface {
	Key() (topic, nodeID string)
}

type remoteEntry[R Keyed] struct {
	record   R
	lastSeen time.Time
}

// Beacon is spec.md §4.4's discovery interface for one of the two
// parallel beacon services.
type Beacon[R Keyed] struct {
	port      int
	processID string
	log       *zap.Logger

	conn *net.UDPConn

	mu         sync.Mutex
	advertised map[string]R // key = topic+"|"+nodeID
	remote     map[string]map[string]*remoteEntry[R] // key -> processID -> entry

	onNewConnection    func(R)
	onNewDisconnection func(R)

	lastHeartbeat time.Time

	shutdown chan struct{}
	done     chan struct{}
}

// New constructs a stopped beacon bound to port, identified by
// processID. Call Start to bind the socket and begin its goroutine.
func New[R Keyed](port int, processID string, log *zap.Logger) *Beacon[R] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Beacon[R]{
		port:       port,
		processID:  processID,
		log:        log,
		advertised: make(map[string]R),
		remote:     make(map[string]map[string]*remoteEntry[R]),
	}
}

// OnNewConnection registers the callback invoked when a remote offering
// is first seen or re-seen after having gone stale.
func (b *Beacon[R]) OnNewConnection(fn func(R)) { b.onNewConnection = fn }

// OnNewDisconnection registers the callback invoked when a remote
// offering is explicitly unadvertised or ages out past MissedHeartbeats.
func (b *Beacon[R]) OnNewDisconnection(fn func(R)) { b.onNewDisconnection = fn }

// Start binds the UDP socket and launches the single background
// goroutine that both sends heartbeats for advertised records and
// receives/dispatches incoming datagrams, per spec.md §5's "exactly
// three long-lived threads".
func (b *Beacon[R]) Start() error {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf(":%d", b.port))
	if err != nil {
		return fmt.Errorf("discovery: resolve: %w", err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("discovery: listen: %w", err)
	}
	_ = conn.SetWriteBuffer(1 << 16)

	b.conn = conn
	b.shutdown = make(chan struct{})
	b.done = make(chan struct{})
	b.lastHeartbeat = time.Now()

	go b.run()
	return nil
}

// Stop closes the socket and waits for the background goroutine to exit.
func (b *Beacon[R]) Stop() {
	if b.shutdown == nil {
		return
	}
	close(b.shutdown)
	_ = b.conn.Close()
	<-b.done
}

func (b *Beacon[R]) run() {
	defer close(b.done)

	buf := make([]byte, 65536)
	for {
		select {
		case <-b.shutdown:
			return
		default:
		}

		_ = b.conn.SetReadDeadline(time.Now().Add(pollTimeout))
		n, _, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
				select {
				case <-b.shutdown:
					return
				default:
				}
			}
		} else {
			b.dispatch(buf[:n])
		}

		if time.Since(b.lastHeartbeat) >= HeartbeatInterval {
			b.sendHeartbeats()
			b.reapStale()
			b.lastHeartbeat = time.Now()
		}
	}
}

func (b *Beacon[R]) dispatch(data []byte) {
	p, err := decodePacket(data)
	if err != nil {
		b.log.Debug("discovery: malformed packet", zap.Error(err))
		return
	}
	if p.ProcessID == b.processID {
		return
	}

	switch p.Kind {
	case kindAdvertise, kindHeartbeat:
		var rec R
		if len(p.Record) == 0 {
			return
		}
		if err := unmarshalRecord(p.Record, &rec); err != nil {
			b.log.Debug("discovery: malformed record", zap.Error(err))
			return
		}
		b.noteRemote(p.ProcessID, rec)
	case kindUnadvertise, kindBye:
		b.forgetRemote(p.ProcessID, p.Topic, p.NodeID)
	case kindDiscover:
		b.respondToDiscover(p.Topic)
	}
}

func (b *Beacon[R]) noteRemote(processID string, rec R) {
	topic, nodeID := rec.Key()
	key := topic + "|" + nodeID

	b.mu.Lock()
	byProc, ok := b.remote[key]
	if !ok {
		byProc = make(map[string]*remoteEntry[R])
		b.remote[key] = byProc
	}
	_, existed := byProc[processID]
	byProc[processID] = &remoteEntry[R]{record: rec, lastSeen: time.Now()}
	b.mu.Unlock()

	if !existed && b.onNewConnection != nil {
		b.onNewConnection(rec)
	}
}

func (b *Beacon[R]) forgetRemote(processID, topic, nodeID string) {
	key := topic + "|" + nodeID

	b.mu.Lock()
	byProc, ok := b.remote[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	entry, existed := byProc[processID]
	delete(byProc, processID)
	if len(byProc) == 0 {
		delete(b.remote, key)
	}
	b.mu.Unlock()

	if existed && b.onNewDisconnection != nil {
		b.onNewDisconnection(entry.record)
	}
}

func (b *Beacon[R]) reapStale() {
	deadline := time.Now().Add(-time.Duration(MissedHeartbeats) * HeartbeatInterval)

	type stale struct {
		processID string
		record    R
	}
	var gone []stale

	b.mu.Lock()
	for key, byProc := range b.remote {
		for processID, entry := range byProc {
			if entry.lastSeen.Before(deadline) {
				gone = append(gone, stale{processID, entry.record})
				delete(byProc, processID)
			}
		}
		if len(byProc) == 0 {
			delete(b.remote, key)
		}
	}
	b.mu.Unlock()

	if b.onNewDisconnection == nil {
		return
	}
	for _, g := range gone {
		b.onNewDisconnection(g.record)
	}
}

func (b *Beacon[R]) sendHeartbeats() {
	b.mu.Lock()
	records := make([]R, 0, len(b.advertised))
	for _, r := range b.advertised {
		records = append(records, r)
	}
	b.mu.Unlock()

	for _, r := range records {
		topic, nodeID := r.Key()
		b.send(kindHeartbeat, topic, nodeID, r)
	}
}

func (b *Beacon[R]) respondToDiscover(topic string) {
	b.mu.Lock()
	var matches []R
	for _, r := range b.advertised {
		if t, _ := r.Key(); t == topic {
			matches = append(matches, r)
		}
	}
	b.mu.Unlock()

	for _, r := range matches {
		t, n := r.Key()
		b.send(kindAdvertise, t, n, r)
	}
}

func (b *Beacon[R]) send(kind packetKind, topic, nodeID string, record any) {
	data, err := encodePacket(kind, b.processID, topic, nodeID, record)
	if err != nil {
		b.log.Debug("discovery: encode failed", zap.Error(err))
		return
	}
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: b.port}
	if _, err := b.conn.WriteToUDP(data, dst); err != nil {
		b.log.Debug("discovery: send failed", zap.Error(err))
	}
}

// Advertise begins periodic beaconing of rec and emits one immediate
// announcement, per spec.md §4.4.
func (b *Beacon[R]) Advertise(rec R) {
	topic, nodeID := rec.Key()
	key := topic + "|" + nodeID

	b.mu.Lock()
	b.advertised[key] = rec
	b.mu.Unlock()

	b.send(kindAdvertise, topic, nodeID, rec)
}

// Unadvertise stops beaconing the record identified by (topic, nodeID)
// and announces its withdrawal.
func (b *Beacon[R]) Unadvertise(topic, nodeID string) {
	key := topic + "|" + nodeID

	b.mu.Lock()
	_, existed := b.advertised[key]
	delete(b.advertised, key)
	b.mu.Unlock()

	if existed {
		b.send(kindUnadvertise, topic, nodeID, nil)
	}
}

// Discover sends an explicit discovery query for topic, used when a
// request finds no known responder.
func (b *Beacon[R]) Discover(topic string) {
	b.send(kindDiscover, topic, "", nil)
}

// Publishers returns every currently known remote record for topic,
// grouped by process id.
func (b *Beacon[R]) Publishers(topic string) map[string][]R {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string][]R)
	for key, byProc := range b.remote {
		t, _, ok := splitKey(key)
		if !ok || t != topic {
			continue
		}
		for processID, entry := range byProc {
			out[processID] = append(out[processID], entry.record)
		}
	}
	return out
}

func splitKey(key string) (topic, nodeID string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}
