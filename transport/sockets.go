package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/quartz-robotics/quartz-transport/ident"
	"github.com/quartz-robotics/quartz-transport/wire"
)

// linger is applied to every router/dealer socket, per spec.md §4.3.
const linger = 0

// Option names for zmq4.Socket.SetOption. Not exported as constants by
// github.com/go-zeromq/zmq4 v0.17.0, but accepted as opaque option keys
// by its SetOption, so defined locally with libzmq's own names.
const (
	optionRouterMandatory = "ROUTER_MANDATORY"
	optionLinger          = "LINGER"
)

// Sockets owns the six logical sockets of spec.md §4.3. Zero value is
// not usable; construct with Open.
type Sockets struct {
	ctx context.Context

	Publisher        zmq4.Socket
	Subscriber       zmq4.Socket
	Control          zmq4.Socket
	Replier          zmq4.Socket
	Requester        zmq4.Socket
	ResponseReceiver zmq4.Socket

	PublisherAddr        string
	ControlAddr          string
	ReplierAddr          string
	ResponseReceiverAddr string

	ReplierSocketID          ident.SocketID
	ResponseReceiverSocketID ident.SocketID
}

// Open binds the publisher, control, replier and response-receiver
// sockets to ephemeral ports on hostAddr, and constructs the subscriber
// and requester sockets (which only ever Dial, never Listen). Matching
// spec.md §4.6 step 3 ("bind all six sockets to ephemeral ports...
// reading back actual endpoints" — the subscriber and requester have no
// bound endpoint to read back since they are dial-only).
//
// When cfg configures PLAIN credentials, the publisher/subscriber pair
// is secured with zmq4's PLAIN mechanism (see auth.go): the publisher
// enforces serverSecurity and rejects a subscriber's handshake before a
// single publish frame reaches it, and the subscriber presents
// clientSecurity when dialing. The replier/requester/response-receiver
// routers are left unsecured — each of those sockets both binds and
// dials peers in the same socket (SendResponse dials out on the bound
// Replier), and ZMQ's PLAIN mechanism assigns a socket a single
// client-or-server role, so the same router cannot hold both ends of
// the handshake at once without a larger redesign. See DESIGN.md.
func Open(ctx context.Context, hostAddr string, cfg Config) (*Sockets, error) {
	s := &Sockets{ctx: ctx}

	replierID := ident.NewSocketID()
	responseReceiverID := ident.NewSocketID()
	s.ReplierSocketID = replierID
	s.ResponseReceiverSocketID = responseReceiverID

	var pubOpts, subOpts []zmq4.Option
	if cfg.AuthEnabled() {
		pubOpts = append(pubOpts, zmq4.WithSecurity(serverSecurity(cfg)))
		subOpts = append(subOpts, zmq4.WithSecurity(clientSecurity(cfg)))
	}

	s.Publisher = zmq4.NewPub(ctx, pubOpts...)
	s.Subscriber = zmq4.NewSub(ctx, subOpts...)
	s.Control = zmq4.NewDealer(ctx)
	s.Replier = zmq4.NewRouter(ctx, zmq4.WithID(zmq4.SocketIdentity(replierID.String())))
	s.Requester = zmq4.NewRouter(ctx)
	s.ResponseReceiver = zmq4.NewRouter(ctx, zmq4.WithID(zmq4.SocketIdentity(responseReceiverID.String())))

	applyRouterOptions(s.Replier)
	applyRouterOptions(s.Requester)
	applyRouterOptions(s.ResponseReceiver)
	_ = s.Control.SetOption(optionLinger, time.Duration(linger))

	var err error
	if s.PublisherAddr, err = bindEphemeral(s.Publisher, hostAddr); err != nil {
		s.closeAll()
		return nil, fmt.Errorf("transport: bind publisher: %w", err)
	}
	if s.ControlAddr, err = bindEphemeral(s.Control, hostAddr); err != nil {
		s.closeAll()
		return nil, fmt.Errorf("transport: bind control: %w", err)
	}
	if s.ReplierAddr, err = bindEphemeral(s.Replier, hostAddr); err != nil {
		s.closeAll()
		return nil, fmt.Errorf("transport: bind replier: %w", err)
	}
	if s.ResponseReceiverAddr, err = bindEphemeral(s.ResponseReceiver, hostAddr); err != nil {
		s.closeAll()
		return nil, fmt.Errorf("transport: bind response receiver: %w", err)
	}

	return s, nil
}

// applyRouterOptions sets linger and mandatory delivery, per spec.md
// §4.3's socket configuration rules.
func applyRouterOptions(sock zmq4.Socket) {
	_ = sock.SetOption(optionRouterMandatory, true)
	_ = sock.SetOption(optionLinger, time.Duration(linger))
}

// pickEphemeralPort asks the OS for a free TCP port on host and
// immediately releases it. zmq4 sockets are then bound to that specific
// port; this is more portable than depending on a particular zmq4
// mechanism for reading back an OS-chosen ephemeral port.
func pickEphemeralPort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func bindEphemeral(sock zmq4.Socket, host string) (string, error) {
	port, err := pickEphemeralPort(host)
	if err != nil {
		return "", err
	}
	addr := fmt.Sprintf("tcp://%s:%d", host, port)
	if err := sock.Listen(addr); err != nil {
		return "", err
	}
	return addr, nil
}

func (s *Sockets) closeAll() {
	for _, sock := range []zmq4.Socket{s.Publisher, s.Subscriber, s.Control, s.Replier, s.Requester, s.ResponseReceiver} {
		if sock != nil {
			_ = sock.Close()
		}
	}
}

// Close tears down every socket.
func (s *Sockets) Close() {
	s.closeAll()
}

// ConnectSubscriber dials the subscriber socket to a remote publisher's
// data address and installs a topic filter, per spec.md §4.7 step 1-2.
func (s *Sockets) ConnectSubscriber(addr, topic string) error {
	if err := s.Subscriber.Dial(addr); err != nil {
		return err
	}
	return s.Subscriber.SetOption(zmq4.OptionSubscribe, topic)
}

// NotifyControl opens a short-lived dealer to addr, sends one control
// frame sequence, and closes it, per spec.md §4.7 step 4.
func (s *Sockets) NotifyControl(addr string, f wire.ControlFrames) error {
	d := zmq4.NewDealer(s.ctx)
	defer func() { _ = d.Close() }()
	_ = d.SetOption(optionLinger, time.Duration(linger))

	if err := d.Dial(addr); err != nil {
		return err
	}
	return d.Send(zmq4.NewMsgFrom(f.Encode()...))
}

// SendPublish publishes a message on the publisher socket.
func (s *Sockets) SendPublish(f wire.PublishFrames) error {
	return s.Publisher.Send(zmq4.NewMsgFrom(f.Encode()...))
}

// SendRequest sends the 9-frame request on the requester socket,
// prefixed by the destination router identity. The caller is
// responsible for dialing replierAddr first — core's registry.Connections
// is the single source of truth for which addresses have already been
// dialed (see core/connections.go's onNewSrvConnection), so this method
// never dials on its own.
func (s *Sockets) SendRequest(replierAddr string, replierSocketID string, f wire.RequestFrames) error {
	frames := append([][]byte{[]byte(replierSocketID)}, f.Encode()...)
	return s.Requester.Send(zmq4.NewMsgFrom(frames...))
}

// SendResponse sends the 6-frame response on the replier socket,
// prefixed by the destination router identity. As with SendRequest, the
// caller dials destAddr first via registry.Connections (see
// core/reception.go's recvSrvRequest); this method never dials.
func (s *Sockets) SendResponse(destAddr, destSocketID string, f wire.ResponseFrames) error {
	frames := append([][]byte{[]byte(destSocketID)}, f.Encode()...)
	return s.Replier.Send(zmq4.NewMsgFrom(frames...))
}

// RecvStripID receives one message on sock and strips the ROUTER
// identity frame zmq4 prepends, per spec.md §4.3's note that "the router
// identity frame is prepended automatically by the transport."
func RecvStripID(sock zmq4.Socket) (identity string, frames [][]byte, err error) {
	msg, err := sock.Recv()
	if err != nil {
		return "", nil, err
	}
	if len(msg.Frames) == 0 {
		return "", nil, fmt.Errorf("transport: empty message")
	}
	return string(msg.Frames[0]), msg.Frames[1:], nil
}
