// Package wire implements the bit-exact multi-frame wire layouts of
// spec.md §4.3: message publish (4 frames), control notification
// (5 frames), service request (9 frames) and service response
// (6 frames). This package only knows about byte frames; package
// transport is what actually sends/receives them over zmq4 sockets.
package wire

import (
	"fmt"
)

// WildcardType is spec.md §6's "ignition.msgs.Empty" marker: the request
// type for argumentless services, the response type for oneway
// services, and the wildcard subscription type for raw_subscribe.
const WildcardType = "ignition.msgs.Empty"

// ControlEvent is the fifth frame of a control notification.
type ControlEvent int

const (
	NewConnection ControlEvent = 0
	EndConnection ControlEvent = 1
)

func (e ControlEvent) String() string {
	if e == NewConnection {
		return "0"
	}
	return "1"
}

func parseControlEvent(s string) (ControlEvent, error) {
	switch s {
	case "0":
		return NewConnection, nil
	case "1":
		return EndConnection, nil
	default:
		return 0, fmt.Errorf("wire: malformed control event %q", s)
	}
}

// PublishFrames is the 4-frame message publish sequence.
type PublishFrames struct {
	Topic      string
	SenderAddr string
	Payload    []byte
	TypeName   string
}

// Encode returns the frame sequence in wire order.
func (f PublishFrames) Encode() [][]byte {
	return [][]byte{
		[]byte(f.Topic),
		[]byte(f.SenderAddr),
		f.Payload,
		[]byte(f.TypeName),
	}
}

// DecodePublish parses the 4-frame publish sequence. A frame count
// mismatch is a protocol error: per spec.md §7 the frame is dropped and
// the reception loop continues, so the caller gets ok=false rather than
// a panic.
func DecodePublish(frames [][]byte) (PublishFrames, bool) {
	if len(frames) != 4 {
		return PublishFrames{}, false
	}
	return PublishFrames{
		Topic:      string(frames[0]),
		SenderAddr: string(frames[1]),
		Payload:    frames[2],
		TypeName:   string(frames[3]),
	}, true
}

// ControlFrames is the 5-frame control notification sequence.
type ControlFrames struct {
	Topic     string
	ProcessID string
	NodeID    string
	TypeName  string
	Event     ControlEvent
}

func (f ControlFrames) Encode() [][]byte {
	return [][]byte{
		[]byte(f.Topic),
		[]byte(f.ProcessID),
		[]byte(f.NodeID),
		[]byte(f.TypeName),
		[]byte(f.Event.String()),
	}
}

func DecodeControl(frames [][]byte) (ControlFrames, bool) {
	if len(frames) != 5 {
		return ControlFrames{}, false
	}
	event, err := parseControlEvent(string(frames[4]))
	if err != nil {
		return ControlFrames{}, false
	}
	return ControlFrames{
		Topic:     string(frames[0]),
		ProcessID: string(frames[1]),
		NodeID:    string(frames[2]),
		TypeName:  string(frames[3]),
		Event:     event,
	}, true
}

// RequestFrames is the 9-frame service request sequence sent from
// requester to replier. The router identity frame ZMQ prepends on
// receipt is not part of this struct; package transport strips it
// before calling DecodeRequest.
type RequestFrames struct {
	ResponderSocketID       string
	Topic                   string
	SenderAddr              string
	ResponseReceiverSocketID string
	NodeID                  string
	RequestHandlerID        string
	ReqBytes                []byte
	ReqTypeName             string
	RepTypeName             string
}

func (f RequestFrames) Encode() [][]byte {
	return [][]byte{
		[]byte(f.ResponderSocketID),
		[]byte(f.Topic),
		[]byte(f.SenderAddr),
		[]byte(f.ResponseReceiverSocketID),
		[]byte(f.NodeID),
		[]byte(f.RequestHandlerID),
		f.ReqBytes,
		[]byte(f.ReqTypeName),
		[]byte(f.RepTypeName),
	}
}

func DecodeRequest(frames [][]byte) (RequestFrames, bool) {
	if len(frames) != 9 {
		return RequestFrames{}, false
	}
	return RequestFrames{
		ResponderSocketID:        string(frames[0]),
		Topic:                    string(frames[1]),
		SenderAddr:               string(frames[2]),
		ResponseReceiverSocketID: string(frames[3]),
		NodeID:                   string(frames[4]),
		RequestHandlerID:         string(frames[5]),
		ReqBytes:                 frames[6],
		ReqTypeName:              string(frames[7]),
		RepTypeName:              string(frames[8]),
	}, true
}

// ResponseFrames is the 6-frame service response sequence sent from
// replier back to the response-receiver.
type ResponseFrames struct {
	DestinationSocketID string
	Topic               string
	NodeID              string
	RequestHandlerID    string
	RepBytes            []byte
	Result              bool
}

func (f ResponseFrames) Encode() [][]byte {
	result := "0"
	if f.Result {
		result = "1"
	}
	return [][]byte{
		[]byte(f.DestinationSocketID),
		[]byte(f.Topic),
		[]byte(f.NodeID),
		[]byte(f.RequestHandlerID),
		f.RepBytes,
		[]byte(result),
	}
}

func DecodeResponse(frames [][]byte) (ResponseFrames, bool) {
	if len(frames) != 6 {
		return ResponseFrames{}, false
	}
	result := string(frames[5])
	if result != "0" && result != "1" {
		return ResponseFrames{}, false
	}
	return ResponseFrames{
		DestinationSocketID: string(frames[0]),
		Topic:               string(frames[1]),
		NodeID:              string(frames[2]),
		RequestHandlerID:    string(frames[3]),
		RepBytes:            frames[4],
		Result:              result == "1",
	}, true
}
