// Package transport owns the six logical ZMQ-like sockets of spec.md
// §4.3 (publisher, subscriber, control, replier, requester,
// response-receiver), their lifecycle, and the optional PLAIN security
// applied to the publisher/subscriber pair.
package transport

import (
	"net"
	"os"
)

// Config bundles the environment-derived settings of spec.md §6, the
// way the teacher's api.NewAuthenticatorFromEnv bundles its own env-var
// driven settings into one struct.
type Config struct {
	Partition string // IGN_PARTITION
	Verbose   bool   // IGN_VERBOSE == "1"
	HostAddr  string // IGN_IP, or first non-loopback address if unset
	Username  string // IGN_TRANSPORT_USERNAME
	Password  string // IGN_TRANSPORT_PASSWORD
}

// AuthEnabled reports whether both PLAIN credential env vars are set.
func (c Config) AuthEnabled() bool {
	return c.Username != "" && c.Password != ""
}

// AuthPartiallyConfigured reports whether exactly one of the two
// credential env vars is set, which spec.md §4.3 says is an
// AuthConfigError.
func (c Config) AuthPartiallyConfigured() bool {
	return (c.Username == "") != (c.Password == "")
}

// ConfigFromEnv reads IGN_PARTITION, IGN_VERBOSE, IGN_IP,
// IGN_TRANSPORT_USERNAME and IGN_TRANSPORT_PASSWORD.
func ConfigFromEnv() Config {
	cfg := Config{
		Partition: os.Getenv("IGN_PARTITION"),
		Verbose:   os.Getenv("IGN_VERBOSE") == "1",
		Username:  os.Getenv("IGN_TRANSPORT_USERNAME"),
		Password:  os.Getenv("IGN_TRANSPORT_PASSWORD"),
	}
	if ip := os.Getenv("IGN_IP"); ip != "" {
		cfg.HostAddr = ip
	} else {
		cfg.HostAddr = firstNonLoopbackAddr()
	}
	return cfg
}

// firstNonLoopbackAddr returns the first non-loopback IPv4 address found
// on the host, or "127.0.0.1" if none is found.
func firstNonLoopbackAddr() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
