package transport

import (
	"crypto/subtle"
	"errors"

	"github.com/go-zeromq/zmq4"
	"github.com/go-zeromq/zmq4/security/plain"
)

// ErrAuthConfigError is returned when exactly one of
// IGN_TRANSPORT_USERNAME / IGN_TRANSPORT_PASSWORD is set, per spec.md
// §4.3 and §4.8's error code AuthConfigError.
var ErrAuthConfigError = errors.New("transport: exactly one of username/password is set")

// serverSecurity is the PLAIN mechanism enforced on the publisher
// socket (see Open in sockets.go), per original_source/src/NodeShared.cc:1148-1166's
// ZMQ_PLAIN_SERVER plus a ZAP handler on inproc://zeromq.zap.01. A
// connecting peer that doesn't present this pair is rejected by zmq4
// itself during the handshake, before a single application frame is
// exchanged — there is no separate in-process credential endpoint.
func serverSecurity(cfg Config) zmq4.Security {
	return plain.NewServer(func(user, pass string) bool {
		return constantTimeEquals(cfg.Username, user) && constantTimeEquals(cfg.Password, pass)
	})
}

// clientSecurity presents this process's credential pair when dialing a
// socket secured with serverSecurity.
func clientSecurity(cfg Config) zmq4.Security {
	return plain.NewClient(cfg.Username, cfg.Password)
}

func constantTimeEquals(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
