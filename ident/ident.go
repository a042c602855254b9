// Package ident provides the process-, node-, handler- and socket-level
// identifiers used throughout the transport core, plus the naming rules
// that turn a user-supplied topic into a fully qualified one.
package ident

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ProcessID identifies a single running process for the lifetime of that
// process.
type ProcessID uuid.UUID

// NodeID identifies a user-facing node, created on node construction and
// destroyed on node destruction.
type NodeID uuid.UUID

// HandlerID identifies one subscription, replier or requester.
type HandlerID uuid.UUID

// SocketID is the routing identity of a router socket endpoint.
type SocketID uuid.UUID

// NewProcessID returns a fresh, random process identifier.
func NewProcessID() ProcessID { return ProcessID(uuid.New()) }

// NewNodeID returns a fresh, random node identifier.
func NewNodeID() NodeID { return NodeID(uuid.New()) }

// NewHandlerID returns a fresh, random handler identifier.
func NewHandlerID() HandlerID { return HandlerID(uuid.New()) }

// NewSocketID returns a fresh, random socket identity.
func NewSocketID() SocketID { return SocketID(uuid.New()) }

func (p ProcessID) String() string { return uuid.UUID(p).String() }
func (n NodeID) String() string    { return uuid.UUID(n).String() }
func (h HandlerID) String() string { return uuid.UUID(h).String() }
func (s SocketID) String() string  { return uuid.UUID(s).String() }

// Bytes returns the raw 16-byte encoding, used when an identifier has to
// travel as a wire frame.
func (p ProcessID) Bytes() []byte { b := uuid.UUID(p); return b[:] }
func (n NodeID) Bytes() []byte    { b := uuid.UUID(n); return b[:] }
func (h HandlerID) Bytes() []byte { b := uuid.UUID(h); return b[:] }
func (s SocketID) Bytes() []byte  { b := uuid.UUID(s); return b[:] }

// ParseProcessID parses the string form produced by ProcessID.String.
func ParseProcessID(s string) (ProcessID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ProcessID{}, err
	}
	return ProcessID(u), nil
}

// ParseNodeID parses the string form produced by NodeID.String.
func ParseNodeID(s string) (NodeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NodeID{}, err
	}
	return NodeID(u), nil
}

// ParseHandlerID parses the string form produced by HandlerID.String.
func ParseHandlerID(s string) (HandlerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return HandlerID{}, err
	}
	return HandlerID(u), nil
}

// ParseSocketID parses the string form produced by SocketID.String.
func ParseSocketID(s string) (SocketID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return SocketID{}, err
	}
	return SocketID(u), nil
}

// The identifiers travel as JSON strings in discovery beacon packets, so
// each gets its own Marshal/Unmarshal pair rather than relying on the
// default [16]byte array encoding.

func (p ProcessID) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }
func (n NodeID) MarshalJSON() ([]byte, error)    { return json.Marshal(n.String()) }
func (h HandlerID) MarshalJSON() ([]byte, error) { return json.Marshal(h.String()) }
func (s SocketID) MarshalJSON() ([]byte, error)  { return json.Marshal(s.String()) }

func (p *ProcessID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	id, err := ParseProcessID(s)
	if err != nil {
		return err
	}
	*p = id
	return nil
}

func (n *NodeID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	id, err := ParseNodeID(s)
	if err != nil {
		return err
	}
	*n = id
	return nil
}

func (h *HandlerID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	id, err := ParseHandlerID(s)
	if err != nil {
		return err
	}
	*h = id
	return nil
}

func (s *SocketID) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	id, err := ParseSocketID(str)
	if err != nil {
		return err
	}
	*s = id
	return nil
}
